package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fyerfyer/doc-sync-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	// 使用唯一的内存数据库标识符
	dbName := fmt.Sprintf("file:memdb_%d?mode=memory", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")

	// 运行迁移以创建所需的表
	err = db.AutoMigrate(
		&models.FileRecord{},
		&models.MerkleTreeRecord{},
		&models.BlockRecord{},
		&models.EmbeddingRecord{},
		&models.EnrichedBlockRecord{},
	)
	require.NoError(t, err, "Failed to run migrations")

	return db
}

// TestPutBlockIfAbsent 测试块写入的幂等性
func TestPutBlockIfAbsent(t *testing.T) {
	repo := NewRepositoryWithDB(setupTestDB(t))
	ctx := context.Background()

	block := &models.BlockRecord{
		Hash:    "hash-a",
		Kind:    "paragraph",
		Content: "some shared paragraph content",
		Words:   4,
	}

	existed, err := repo.PutBlockIfAbsent(ctx, block)
	require.NoError(t, err)
	assert.False(t, existed, "首次写入应是缓存未命中")

	// 重复写入不报错，也不覆盖
	again := &models.BlockRecord{
		Hash:    "hash-a",
		Kind:    "paragraph",
		Content: "different content should not overwrite",
	}
	existed, err = repo.PutBlockIfAbsent(ctx, again)
	require.NoError(t, err)
	assert.True(t, existed, "重复写入应是缓存命中")

	stored, err := repo.GetBlock(ctx, "hash-a")
	require.NoError(t, err)
	assert.Equal(t, "some shared paragraph content", stored.Content, "已有内容不应被覆盖")
}

// TestBlockRefCounting 测试块引用计数与清理
func TestBlockRefCounting(t *testing.T) {
	repo := NewRepositoryWithDB(setupTestDB(t))
	ctx := context.Background()

	block := &models.BlockRecord{Hash: "hash-ref", Kind: "paragraph", Content: "x"}
	_, err := repo.PutBlockIfAbsent(ctx, block)
	require.NoError(t, err)

	// 两个文档引用同一个块
	require.NoError(t, repo.AddBlockRef(ctx, "hash-ref", 2))

	// 释放一个引用后块仍在
	require.NoError(t, repo.ReleaseBlockRef(ctx, "hash-ref", 1))
	deleted, err := repo.DeleteBlockIfUnreferenced(ctx, "hash-ref")
	require.NoError(t, err)
	assert.False(t, deleted, "仍被引用的块不应删除")

	// 释放最后一个引用后块被清理
	require.NoError(t, repo.ReleaseBlockRef(ctx, "hash-ref", 1))
	deleted, err = repo.DeleteBlockIfUnreferenced(ctx, "hash-ref")
	require.NoError(t, err)
	assert.True(t, deleted, "引用归零的块应被删除")

	_, err = repo.GetBlock(ctx, "hash-ref")
	assert.ErrorIs(t, err, models.ErrBlockNotFound)
}

// TestEmbeddingKeyedByHashAndProvider 测试嵌入按(哈希,提供者)键存储
func TestEmbeddingKeyedByHashAndProvider(t *testing.T) {
	repo := NewRepositoryWithDB(setupTestDB(t))
	ctx := context.Background()

	rec := &models.EmbeddingRecord{
		BlockHash:  "hash-e",
		Provider:   "mock/模型A",
		Vector:     datatypes.JSON([]byte(`[0.1,0.2]`)),
		Dimensions: 2,
	}
	require.NoError(t, repo.PutEmbedding(ctx, rec))

	has, err := repo.HasEmbedding(ctx, "hash-e", "mock/模型A")
	require.NoError(t, err)
	assert.True(t, has)

	// 同哈希不同提供者是独立记录
	has, err = repo.HasEmbedding(ctx, "hash-e", "other/模型B")
	require.NoError(t, err)
	assert.False(t, has)

	// 重复写入不覆盖原记录
	dup := &models.EmbeddingRecord{
		BlockHash:  "hash-e",
		Provider:   "mock/模型A",
		Vector:     datatypes.JSON([]byte(`[9.9]`)),
		Dimensions: 1,
	}
	require.NoError(t, repo.PutEmbedding(ctx, dup))

	stored, err := repo.GetEmbedding(ctx, "hash-e", "mock/模型A")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Dimensions, "已有嵌入不应被覆盖")
}

// TestStoreDocumentTransaction 测试单事务持久化
func TestStoreDocumentTransaction(t *testing.T) {
	repo := NewRepositoryWithDB(setupTestDB(t))
	ctx := context.Background()

	now := time.Now()
	state := &DocumentState{
		File: &models.FileRecord{
			Path:       "notes/a.md",
			FileHash:   "filehash-1",
			ModTime:    now,
			Status:     models.FileStatusCompleted,
			BlockCount: 2,
		},
		Tree: &models.MerkleTreeRecord{
			FilePath:  "notes/a.md",
			Algorithm: "sha256",
			RootHash:  "root-1",
			Leaves:    datatypes.JSON([]byte(`["l0","l1"]`)),
			LeafCount: 2,
		},
		Enriched: []*models.EnrichedBlockRecord{
			{FilePath: "notes/a.md", BlockIndex: 0, BlockHash: "l0", Kind: "heading", Embedded: false},
			{FilePath: "notes/a.md", BlockIndex: 1, BlockHash: "l1", Kind: "paragraph", Embedded: true},
		},
		NewBlocks: []*models.BlockRecord{
			{Hash: "l0", Kind: "heading", Content: "Title"},
			{Hash: "l1", Kind: "paragraph", Content: "Body paragraph with enough words"},
		},
		RefDeltas: map[string]int{"l0": 1, "l1": 1},
	}

	require.NoError(t, repo.StoreDocument(ctx, state))

	file, err := repo.GetFile(ctx, "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "filehash-1", file.FileHash)

	tree, err := repo.LoadTree(ctx, "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "root-1", tree.RootHash)

	blocks, err := repo.ListEnrichedBlocks(ctx, "notes/a.md")
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, 0, blocks[0].BlockIndex)

	// 再次存储会整体替换富化行而不是追加
	state.Enriched = state.Enriched[:1]
	state.RefDeltas = map[string]int{}
	require.NoError(t, repo.StoreDocument(ctx, state))
	blocks, err = repo.ListEnrichedBlocks(ctx, "notes/a.md")
	require.NoError(t, err)
	assert.Len(t, blocks, 1)
}

// TestRemoveDocumentSharedBlocks 测试删除文档时共享块的保留
func TestRemoveDocumentSharedBlocks(t *testing.T) {
	repo := NewRepositoryWithDB(setupTestDB(t))
	ctx := context.Background()

	// 两个文档共享同一个块哈希
	shared := &models.BlockRecord{Hash: "shared", Kind: "paragraph", Content: "shared paragraph"}
	_, err := repo.PutBlockIfAbsent(ctx, shared)
	require.NoError(t, err)

	for _, path := range []string{"a.md", "b.md"} {
		state := &DocumentState{
			File: &models.FileRecord{Path: path, FileHash: "h-" + path, ModTime: time.Now(), Status: models.FileStatusCompleted},
			Tree: &models.MerkleTreeRecord{FilePath: path, Algorithm: "sha256", RootHash: "r-" + path, LeafCount: 1},
			Enriched: []*models.EnrichedBlockRecord{
				{FilePath: path, BlockIndex: 0, BlockHash: "shared", Kind: "paragraph"},
			},
			RefDeltas: map[string]int{"shared": 1},
		}
		require.NoError(t, repo.StoreDocument(ctx, state))
	}

	// 删除一个文档后共享块仍然存在
	require.NoError(t, repo.RemoveDocument(ctx, "a.md"))
	_, err = repo.GetBlock(ctx, "shared")
	assert.NoError(t, err, "仍被b.md引用的块不应删除")

	// 删除另一个文档后块被清理
	require.NoError(t, repo.RemoveDocument(ctx, "b.md"))
	_, err = repo.GetBlock(ctx, "shared")
	assert.ErrorIs(t, err, models.ErrBlockNotFound)

	_, err = repo.GetFile(ctx, "a.md")
	assert.ErrorIs(t, err, models.ErrFileNotFound)
	_, err = repo.LoadTree(ctx, "a.md")
	assert.ErrorIs(t, err, models.ErrTreeNotFound)
}
