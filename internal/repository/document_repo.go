package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/doc-sync-engine/internal/database"
	"github.com/fyerfyer/doc-sync-engine/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRepository 基于GORM的仓储实现
// 同时实现FileRepository和BlockRepository
type GormRepository struct {
	db *gorm.DB
}

// NewRepository 创建使用全局数据库连接的仓储
func NewRepository() *GormRepository {
	return &GormRepository{db: database.DB}
}

// NewRepositoryWithDB 创建使用指定数据库连接的仓储
// 测试时传入内存数据库
func NewRepositoryWithDB(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// GetFile 根据路径获取文件记录
func (r *GormRepository) GetFile(ctx context.Context, path string) (*models.FileRecord, error) {
	var file models.FileRecord
	err := r.db.WithContext(ctx).Where("path = ?", path).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file record: %v", err)
	}
	return &file, nil
}

// ListFiles 列出文件记录，支持分页
func (r *GormRepository) ListFiles(ctx context.Context, offset, limit int) ([]*models.FileRecord, int64, error) {
	var files []*models.FileRecord
	var total int64

	db := r.db.WithContext(ctx).Model(&models.FileRecord{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count files: %v", err)
	}

	if limit <= 0 {
		limit = 20
	}
	err := db.Order("path").Offset(offset).Limit(limit).Find(&files).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list files: %v", err)
	}
	return files, total, nil
}

// UpdateFileStatus 更新文件处理状态
func (r *GormRepository) UpdateFileStatus(ctx context.Context, path string, status models.FileStatus, errorMsg string) error {
	result := r.db.WithContext(ctx).Model(&models.FileRecord{}).
		Where("path = ?", path).
		Updates(map[string]interface{}{
			"status": status,
			"error":  errorMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update file status: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrFileNotFound
	}
	return nil
}

// LoadTree 加载文件的哈希树记录
func (r *GormRepository) LoadTree(ctx context.Context, path string) (*models.MerkleTreeRecord, error) {
	var tree models.MerkleTreeRecord
	err := r.db.WithContext(ctx).Where("file_path = ?", path).First(&tree).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrTreeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load merkle tree: %v", err)
	}
	return &tree, nil
}

// ListEnrichedBlocks 获取文件的所有富化块记录
func (r *GormRepository) ListEnrichedBlocks(ctx context.Context, path string) ([]*models.EnrichedBlockRecord, error) {
	var blocks []*models.EnrichedBlockRecord
	err := r.db.WithContext(ctx).
		Where("file_path = ?", path).
		Order("block_index").
		Find(&blocks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list enriched blocks: %v", err)
	}
	return blocks, nil
}

// StoreDocument 在单个事务中持久化一次处理的全部结果
func (r *GormRepository) StoreDocument(ctx context.Context, state *DocumentState) error {
	if state == nil || state.File == nil {
		return errors.New("document state cannot be empty")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 写入首次出现的块内容（已存在则跳过，幂等）
		for _, block := range state.NewBlocks {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(block).Error; err != nil {
				return fmt.Errorf("failed to store block %s: %v", block.Hash, err)
			}
		}

		// 调整块引用计数
		for hash, delta := range state.RefDeltas {
			if delta == 0 {
				continue
			}
			if err := adjustRefCount(tx, hash, delta); err != nil {
				return err
			}
		}

		// 覆盖文件记录
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}},
			UpdateAll: true,
		}).Create(state.File).Error; err != nil {
			return fmt.Errorf("failed to store file record: %v", err)
		}

		// 覆盖哈希树
		if state.Tree != nil {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "file_path"}},
				UpdateAll: true,
			}).Create(state.Tree).Error; err != nil {
				return fmt.Errorf("failed to store merkle tree: %v", err)
			}
		}

		// 替换文件的富化块行：旧行整体删除后写入新行
		if err := tx.Where("file_path = ?", state.File.Path).
			Delete(&models.EnrichedBlockRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear enriched blocks: %v", err)
		}
		for _, enriched := range state.Enriched {
			if err := tx.Create(enriched).Error; err != nil {
				return fmt.Errorf("failed to store enriched block %d: %v", enriched.BlockIndex, err)
			}
		}

		// 写入新生成的嵌入，(哈希,提供者)冲突时保留旧记录
		for _, emb := range state.Embeddings {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(emb).Error; err != nil {
				return fmt.Errorf("failed to store embedding for %s: %v", emb.BlockHash, err)
			}
		}

		return nil
	})
}

// RemoveDocument 删除文件的全部记录并递减块引用
func (r *GormRepository) RemoveDocument(ctx context.Context, path string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 收集该文件引用的块哈希
		var enriched []*models.EnrichedBlockRecord
		if err := tx.Where("file_path = ?", path).Find(&enriched).Error; err != nil {
			return fmt.Errorf("failed to load enriched blocks: %v", err)
		}

		// 递减引用计数，归零的块连同嵌入一起清理
		refDeltas := make(map[string]int)
		for _, e := range enriched {
			refDeltas[e.BlockHash]--
		}
		for hash, delta := range refDeltas {
			if err := adjustRefCount(tx, hash, delta); err != nil {
				return err
			}
			if err := deleteIfUnreferenced(tx, hash); err != nil {
				return err
			}
		}

		if err := tx.Where("file_path = ?", path).Delete(&models.EnrichedBlockRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete enriched blocks: %v", err)
		}
		if err := tx.Where("file_path = ?", path).Delete(&models.MerkleTreeRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete merkle tree: %v", err)
		}
		if err := tx.Where("path = ?", path).Delete(&models.FileRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete file record: %v", err)
		}

		return nil
	})
}

// PutBlockIfAbsent 不存在则写入块内容，幂等
func (r *GormRepository) PutBlockIfAbsent(ctx context.Context, block *models.BlockRecord) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(block)
	if result.Error != nil {
		return false, fmt.Errorf("failed to put block: %v", result.Error)
	}
	// 没有写入行说明哈希已存在
	return result.RowsAffected == 0, nil
}

// GetBlock 根据哈希获取块内容
func (r *GormRepository) GetBlock(ctx context.Context, hash string) (*models.BlockRecord, error) {
	var block models.BlockRecord
	err := r.db.WithContext(ctx).Where("hash = ?", hash).First(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %v", err)
	}
	return &block, nil
}

// AddBlockRef 增加块的引用计数
func (r *GormRepository) AddBlockRef(ctx context.Context, hash string, delta int) error {
	return adjustRefCount(r.db.WithContext(ctx), hash, delta)
}

// ReleaseBlockRef 减少块的引用计数
func (r *GormRepository) ReleaseBlockRef(ctx context.Context, hash string, delta int) error {
	return adjustRefCount(r.db.WithContext(ctx), hash, -delta)
}

// DeleteBlockIfUnreferenced 引用计数归零时删除块及其嵌入
func (r *GormRepository) DeleteBlockIfUnreferenced(ctx context.Context, hash string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteIfUnreferenced(tx, hash); err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&models.BlockRecord{}).Where("hash = ?", hash).Count(&count).Error; err != nil {
			return err
		}
		deleted = count == 0
		return nil
	})
	return deleted, err
}

// PutEmbedding 写入嵌入记录，(哈希,提供者)已存在时不覆盖
func (r *GormRepository) PutEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to put embedding: %v", err)
	}
	return nil
}

// GetEmbedding 根据块哈希和提供者标识获取嵌入
func (r *GormRepository) GetEmbedding(ctx context.Context, hash string, provider string) (*models.EmbeddingRecord, error) {
	var rec models.EmbeddingRecord
	err := r.db.WithContext(ctx).
		Where("block_hash = ? AND provider = ?", hash, provider).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrEmbeddingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding: %v", err)
	}
	return &rec, nil
}

// HasEmbedding 判断块哈希在指定提供者下是否已有嵌入
func (r *GormRepository) HasEmbedding(ctx context.Context, hash string, provider string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.EmbeddingRecord{}).
		Where("block_hash = ? AND provider = ?", hash, provider).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check embedding: %v", err)
	}
	return count > 0, nil
}

// adjustRefCount 以SQL表达式原子调整引用计数
func adjustRefCount(tx *gorm.DB, hash string, delta int) error {
	err := tx.Model(&models.BlockRecord{}).
		Where("hash = ?", hash).
		UpdateColumn("ref_count", gorm.Expr("ref_count + ?", delta)).Error
	if err != nil {
		return fmt.Errorf("failed to adjust ref count for %s: %v", hash, err)
	}
	return nil
}

// deleteIfUnreferenced 删除引用归零的块及其嵌入
func deleteIfUnreferenced(tx *gorm.DB, hash string) error {
	result := tx.Where("hash = ? AND ref_count <= 0", hash).Delete(&models.BlockRecord{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete block %s: %v", hash, result.Error)
	}
	if result.RowsAffected > 0 {
		if err := tx.Where("block_hash = ?", hash).Delete(&models.EmbeddingRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete embeddings for %s: %v", hash, err)
		}
	}
	return nil
}
