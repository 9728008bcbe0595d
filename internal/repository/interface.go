package repository

import (
	"context"

	"github.com/fyerfyer/doc-sync-engine/internal/models"
)

// FileRepository 文件仓储接口
// 负责文件记录、哈希树和富化结果的存储和检索
type FileRepository interface {
	// GetFile 根据路径获取文件记录
	GetFile(ctx context.Context, path string) (*models.FileRecord, error)

	// ListFiles 列出文件记录，支持分页
	ListFiles(ctx context.Context, offset, limit int) ([]*models.FileRecord, int64, error)

	// UpdateFileStatus 更新文件处理状态
	UpdateFileStatus(ctx context.Context, path string, status models.FileStatus, errorMsg string) error

	// LoadTree 加载文件的哈希树记录
	LoadTree(ctx context.Context, path string) (*models.MerkleTreeRecord, error)

	// ListEnrichedBlocks 获取文件的所有富化块记录
	ListEnrichedBlocks(ctx context.Context, path string) ([]*models.EnrichedBlockRecord, error)

	// StoreDocument 在单个事务中持久化一次处理的全部结果
	// 文件记录、哈希树、富化块、新块内容、嵌入和引用计数变更
	// 任何一步失败整体回滚，不允许部分提交
	StoreDocument(ctx context.Context, state *DocumentState) error

	// RemoveDocument 删除文件的全部记录并递减块引用
	// 引用归零的块会被清理；仍被其他文件引用的块保留
	RemoveDocument(ctx context.Context, path string) error
}

// BlockRepository 内容寻址块仓储接口
// 以内容哈希为键的纯键值语义，带引用计数
type BlockRepository interface {
	// PutBlockIfAbsent 不存在则写入块内容，幂等
	// 返回该哈希此前是否已存在（缓存命中语义）
	PutBlockIfAbsent(ctx context.Context, block *models.BlockRecord) (existed bool, err error)

	// GetBlock 根据哈希获取块内容
	GetBlock(ctx context.Context, hash string) (*models.BlockRecord, error)

	// AddBlockRef 增加块的引用计数
	AddBlockRef(ctx context.Context, hash string, delta int) error

	// ReleaseBlockRef 减少块的引用计数
	ReleaseBlockRef(ctx context.Context, hash string, delta int) error

	// DeleteBlockIfUnreferenced 引用计数归零时删除块及其嵌入
	// 返回是否发生了删除
	DeleteBlockIfUnreferenced(ctx context.Context, hash string) (bool, error)

	// PutEmbedding 写入嵌入记录，(哈希,提供者)已存在时不覆盖
	PutEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error

	// GetEmbedding 根据块哈希和提供者标识获取嵌入
	GetEmbedding(ctx context.Context, hash string, provider string) (*models.EmbeddingRecord, error)

	// HasEmbedding 判断块哈希在指定提供者下是否已有嵌入
	HasEmbedding(ctx context.Context, hash string, provider string) (bool, error)
}

// DocumentState 一次处理运行待持久化的完整状态
// 作为单个原子单元交给StoreDocument
type DocumentState struct {
	File       *models.FileRecord          // 文件记录（含新的整文件哈希）
	Tree       *models.MerkleTreeRecord    // 新的哈希树
	Enriched   []*models.EnrichedBlockRecord // 文件的全量富化块行
	NewBlocks  []*models.BlockRecord       // 首次出现的块内容
	Embeddings []*models.EmbeddingRecord   // 新生成的嵌入
	RefDeltas  map[string]int              // 块哈希到引用计数变更量的映射
}
