package blockstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fyerfyer/doc-sync-engine/internal/cache"
	"github.com/fyerfyer/doc-sync-engine/internal/document"
	"github.com/fyerfyer/doc-sync-engine/internal/hashing"
	"github.com/fyerfyer/doc-sync-engine/internal/models"
	"github.com/fyerfyer/doc-sync-engine/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) (*Store, *repository.GormRepository) {
	dbName := fmt.Sprintf("file:blockstore_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.BlockRecord{}, &models.EmbeddingRecord{})
	require.NoError(t, err)

	repo := repository.NewRepositoryWithDB(db)
	memCache, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	return NewStore(repo, WithCache(memCache), WithCacheTTL(time.Minute)), repo
}

// TestPutIfAbsentIdempotent 测试并发首次写入的幂等性
func TestPutIfAbsentIdempotent(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	hasher := hashing.NewSHA256Hasher()

	block := &document.Block{
		Kind:    document.KindParagraph,
		Content: "identical paragraph appearing in two documents",
		Words:   6,
	}
	hash := block.Hash(hasher)

	// 两个文档先后引入同一个新块:
	// 首次未命中，之后全部命中；并发安全由SQL层的冲突跳过保证
	existed, err := store.PutIfAbsent(ctx, hash, block)
	require.NoError(t, err)
	assert.False(t, existed, "首次写入应是缓存未命中")

	for i := 0; i < 3; i++ {
		existed, err = store.PutIfAbsent(ctx, hash, block)
		require.NoError(t, err)
		assert.True(t, existed, "重复写入应是缓存命中")
	}

	stored, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, block.Content, stored.Content)
}

// TestEmbeddingDedup 测试嵌入的内容寻址去重
func TestEmbeddingDedup(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	hasher := hashing.NewSHA256Hasher()

	block := &document.Block{Kind: document.KindParagraph, Content: "shared across documents", Words: 3}
	hash := block.Hash(hasher)
	_, err := store.PutIfAbsent(ctx, hash, block)
	require.NoError(t, err)

	const provider = "mock/test-model"

	has, err := store.HasEmbedding(ctx, hash, provider)
	require.NoError(t, err)
	assert.False(t, has, "未生成嵌入前应查不到")

	require.NoError(t, store.PutEmbedding(ctx, hash, provider, []float32{0.1, 0.2, 0.3}))

	has, err = store.HasEmbedding(ctx, hash, provider)
	require.NoError(t, err)
	assert.True(t, has, "同哈希的第二个文档应复用已有嵌入")

	vector, err := store.GetEmbedding(ctx, hash, provider)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)

	// 不同提供者标识下没有嵌入
	has, err = store.HasEmbedding(ctx, hash, "other/model")
	require.NoError(t, err)
	assert.False(t, has)
}

// TestReleaseAndDelete 测试引用释放与条件删除
func TestReleaseAndDelete(t *testing.T) {
	store, repo := setupStore(t)
	ctx := context.Background()
	hasher := hashing.NewSHA256Hasher()

	block := &document.Block{Kind: document.KindParagraph, Content: "refcounted", Words: 1}
	hash := block.Hash(hasher)
	_, err := store.PutIfAbsent(ctx, hash, block)
	require.NoError(t, err)
	require.NoError(t, repo.AddBlockRef(ctx, hash.Hex(), 2))
	require.NoError(t, store.PutEmbedding(ctx, hash, "mock/m", []float32{1}))

	// 还有引用时不删除
	require.NoError(t, store.Release(ctx, hash))
	deleted, err := store.DeleteIfUnreferenced(ctx, hash)
	require.NoError(t, err)
	assert.False(t, deleted)

	// 最后一个引用释放后删除块和嵌入
	require.NoError(t, store.Release(ctx, hash))
	deleted, err = store.DeleteIfUnreferenced(ctx, hash)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.GetEmbedding(ctx, hash, "mock/m")
	assert.ErrorIs(t, err, models.ErrEmbeddingNotFound)
}
