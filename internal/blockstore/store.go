package blockstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/doc-sync-engine/internal/cache"
	"github.com/fyerfyer/doc-sync-engine/internal/document"
	"github.com/fyerfyer/doc-sync-engine/internal/hashing"
	"github.com/fyerfyer/doc-sync-engine/internal/models"
	"github.com/fyerfyer/doc-sync-engine/internal/repository"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Store 内容寻址的块存储
// 以块哈希为键的键值语义，带引用计数:
// 被N个文档共享的块只存储一次
// 实际持久化委托给仓储层，这里提供读穿缓存和去重查询
type Store struct {
	repo   repository.BlockRepository // 块仓储
	cache  cache.Cache                // 读穿缓存
	ttl    time.Duration              // 缓存过期时间
	logger *logrus.Logger             // 日志记录器
}

// Option 块存储配置选项
type Option func(*Store)

// WithCache 设置读穿缓存
func WithCache(c cache.Cache) Option {
	return func(s *Store) {
		s.cache = c
	}
}

// WithCacheTTL 设置缓存过期时间
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore 创建块存储
func NewStore(repo repository.BlockRepository, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		ttl:    time.Hour,
		logger: logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutIfAbsent 不存在则写入块内容
// 幂等：并发的首次写入者不会破坏状态，也不会重复占用存储
// 返回该哈希此前是否已存在
func (s *Store) PutIfAbsent(ctx context.Context, hash hashing.Digest, block *document.Block) (bool, error) {
	record := &models.BlockRecord{
		Hash:    hash.Hex(),
		Kind:    string(block.Kind),
		Content: block.Content,
		Words:   block.Words,
	}

	existed, err := s.repo.PutBlockIfAbsent(ctx, record)
	if err != nil {
		return false, fmt.Errorf("failed to put block %s: %v", hash.Hex(), err)
	}

	s.logger.WithFields(logrus.Fields{
		"hash":    hash.Hex(),
		"kind":    block.Kind,
		"existed": existed,
	}).Debug("Content-addressed block put")

	return existed, nil
}

// Get 根据哈希获取块内容
func (s *Store) Get(ctx context.Context, hash hashing.Digest) (*models.BlockRecord, error) {
	key := cache.BlockKey(hash.Hex())

	if s.cache != nil {
		if cached, found, err := s.cache.Get(key); err == nil && found {
			var record models.BlockRecord
			if err := json.Unmarshal([]byte(cached), &record); err == nil {
				return &record, nil
			}
		}
	}

	record, err := s.repo.GetBlock(ctx, hash.Hex())
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(record); err == nil {
			_ = s.cache.Set(key, string(data), s.ttl)
		}
	}

	return record, nil
}

// HasEmbedding 判断块哈希在指定提供者下是否已有嵌入
// 命中缓存的查询不落库，这是跨文档复用嵌入的去重入口
func (s *Store) HasEmbedding(ctx context.Context, hash hashing.Digest, provider string) (bool, error) {
	key := cache.EmbeddingKey(hash.Hex(), provider)

	if s.cache != nil {
		if _, found, err := s.cache.Get(key); err == nil && found {
			return true, nil
		}
	}

	has, err := s.repo.HasEmbedding(ctx, hash.Hex(), provider)
	if err != nil {
		return false, err
	}

	// 只缓存阳性结果：嵌入一旦写入就不会消失（除非块被回收）
	if has && s.cache != nil {
		_ = s.cache.Set(key, "1", s.ttl)
	}

	return has, nil
}

// GetEmbedding 根据块哈希和提供者标识获取嵌入向量
func (s *Store) GetEmbedding(ctx context.Context, hash hashing.Digest, provider string) ([]float32, error) {
	rec, err := s.repo.GetEmbedding(ctx, hash.Hex(), provider)
	if err != nil {
		return nil, err
	}

	var vector []float32
	if err := json.Unmarshal(rec.Vector, &vector); err != nil {
		return nil, fmt.Errorf("failed to decode embedding vector: %v", err)
	}
	return vector, nil
}

// PutEmbedding 写入嵌入向量
// (哈希,提供者)已存在时保留旧记录，不做原地更新
func (s *Store) PutEmbedding(ctx context.Context, hash hashing.Digest, provider string, vector []float32) error {
	if len(vector) == 0 {
		return errors.New("embedding vector cannot be empty")
	}

	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode embedding vector: %v", err)
	}

	rec := &models.EmbeddingRecord{
		BlockHash:  hash.Hex(),
		Provider:   provider,
		Vector:     datatypes.JSON(data),
		Dimensions: len(vector),
		CreatedAt:  time.Now(),
	}
	if err := s.repo.PutEmbedding(ctx, rec); err != nil {
		return err
	}

	if s.cache != nil {
		key := cache.EmbeddingKey(hash.Hex(), provider)
		_ = s.cache.Set(key, "1", s.ttl)
	}

	return nil
}

// Release 减少块的引用计数
func (s *Store) Release(ctx context.Context, hash hashing.Digest) error {
	return s.repo.ReleaseBlockRef(ctx, hash.Hex(), 1)
}

// DeleteIfUnreferenced 引用计数归零时删除块及其嵌入
func (s *Store) DeleteIfUnreferenced(ctx context.Context, hash hashing.Digest) (bool, error) {
	deleted, err := s.repo.DeleteBlockIfUnreferenced(ctx, hash.Hex())
	if err != nil {
		return false, err
	}

	if deleted && s.cache != nil {
		_ = s.cache.Delete(cache.BlockKey(hash.Hex()))
	}

	return deleted, nil
}
