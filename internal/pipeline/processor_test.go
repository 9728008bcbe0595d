package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fyerfyer/doc-sync-engine/internal/blockstore"
	"github.com/fyerfyer/doc-sync-engine/internal/embedding"
	"github.com/fyerfyer/doc-sync-engine/internal/enrich"
	"github.com/fyerfyer/doc-sync-engine/internal/models"
	"github.com/fyerfyer/doc-sync-engine/internal/repository"
	"github.com/fyerfyer/doc-sync-engine/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type pipelineEnv struct {
	root      string
	processor *Processor
	repo      *repository.GormRepository
	mock      *embedding.MockClient
}

func setupPipeline(t *testing.T) *pipelineEnv {
	root := t.TempDir()

	dbName := fmt.Sprintf("file:pipeline_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)
	err = db.AutoMigrate(
		&models.FileRecord{},
		&models.MerkleTreeRecord{},
		&models.BlockRecord{},
		&models.EmbeddingRecord{},
		&models.EnrichedBlockRecord{},
	)
	require.NoError(t, err)

	repo := repository.NewRepositoryWithDB(db)
	store := blockstore.NewStore(repo)
	mock := embedding.NewMockClient(4)
	orch := enrich.NewOrchestrator(mock, store, enrich.WithRetryDelay(time.Millisecond))

	source, err := storage.NewLocalSource(storage.LocalConfig{Root: root})
	require.NoError(t, err)

	processor, err := NewProcessor(source, repo, store, orch)
	require.NoError(t, err)

	return &pipelineEnv{root: root, processor: processor, repo: repo, mock: mock}
}

func (e *pipelineEnv) writeDoc(t *testing.T, rel, content string) {
	full := filepath.Join(e.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func paragraphs(texts ...string) string {
	return strings.Join(texts, "\n\n") + "\n"
}

func tenParagraphs() []string {
	out := make([]string, 10)
	for i := range out {
		out[i] = fmt.Sprintf("paragraph number %d with several more words inside it", i)
	}
	return out
}

// TestProcessNewFile 测试全新文件的首次处理
func TestProcessNewFile(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	env.writeDoc(t, "notes/new.md", paragraphs(
		"the first paragraph has enough words here",
		"the second paragraph has enough words here",
		"the third paragraph has enough words here",
	))

	outcome, err := env.processor.ProcessFile(ctx, "notes/new.md")
	require.NoError(t, err)

	// 没有历史版本：全部块视为变化，内容寻址全部未命中
	assert.False(t, outcome.Skipped)
	assert.Equal(t, 3, outcome.Changed)
	assert.Equal(t, 3, outcome.NewBlocks)
	assert.Equal(t, 0, outcome.Reused)
	assert.Equal(t, 0, outcome.Removed)
	assert.Empty(t, outcome.Failed)

	file, err := env.repo.GetFile(ctx, "notes/new.md")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusCompleted, file.Status)
	assert.Equal(t, 3, file.BlockCount)
	assert.NotNil(t, file.ProcessedAt)

	rows, err := env.repo.ListEnrichedBlocks(ctx, "notes/new.md")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.True(t, row.Embedded)
		assert.False(t, row.Failed)

		block, err := env.repo.GetBlock(ctx, row.BlockHash)
		require.NoError(t, err)
		assert.Equal(t, 1, block.RefCount)
	}
}

// TestProcessNoOpIdempotence 测试未变化文件的快速跳过
func TestProcessNoOpIdempotence(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	env.writeDoc(t, "doc.md", paragraphs("a document body with enough words to embed"))

	first, err := env.processor.ProcessFile(ctx, "doc.md")
	require.NoError(t, err)
	assert.False(t, first.Skipped)

	calls := env.mock.EmbedCalls

	// 文件未动，第二次处理在过滤阶段提前退出
	second, err := env.processor.ProcessFile(ctx, "doc.md")
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, 0, second.Changed)
	assert.Equal(t, calls, env.mock.EmbedCalls, "跳过的运行不应触碰提供者")
}

// TestProcessSingleEdit 测试十个块中修改一个的增量处理
func TestProcessSingleEdit(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	texts := tenParagraphs()
	env.writeDoc(t, "big.md", paragraphs(texts...))

	first, err := env.processor.ProcessFile(ctx, "big.md")
	require.NoError(t, err)
	assert.Equal(t, 10, first.Changed)

	firstTree, err := env.repo.LoadTree(ctx, "big.md")
	require.NoError(t, err)

	// 修改第5块的内容
	texts[4] = "this paragraph was edited and now says something different"
	env.writeDoc(t, "big.md", paragraphs(texts...))

	second, err := env.processor.ProcessFile(ctx, "big.md")
	require.NoError(t, err)

	assert.Equal(t, 1, second.Changed)
	assert.Equal(t, 9, second.Reused)
	assert.Equal(t, 0, second.Removed)
	assert.Equal(t, 1, second.NewBlocks)

	secondTree, err := env.repo.LoadTree(ctx, "big.md")
	require.NoError(t, err)
	assert.NotEqual(t, firstTree.RootHash, secondTree.RootHash, "根哈希应随内容变化")

	// 旧版本的第5块引用归零后被清理，现存块引用计数都是1
	rows, err := env.repo.ListEnrichedBlocks(ctx, "big.md")
	require.NoError(t, err)
	require.Len(t, rows, 10)
	for _, row := range rows {
		block, err := env.repo.GetBlock(ctx, row.BlockHash)
		require.NoError(t, err)
		assert.Equal(t, 1, block.RefCount)
	}
}

// TestProcessHeadInsertion 测试头部插入只引入一个新块
func TestProcessHeadInsertion(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	texts := tenParagraphs()
	env.writeDoc(t, "ins.md", paragraphs(texts...))
	_, err := env.processor.ProcessFile(ctx, "ins.md")
	require.NoError(t, err)

	inserted := append([]string{"a brand new opening paragraph with plenty of words"}, texts...)
	env.writeDoc(t, "ins.md", paragraphs(inserted...))

	outcome, err := env.processor.ProcessFile(ctx, "ins.md")
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Changed, "头部插入不应误报为全文变化")
	assert.Equal(t, 10, outcome.Reused)
	assert.Equal(t, 1, outcome.NewBlocks)
}

// TestProcessSharedBlocks 测试跨文档的块内容去重
func TestProcessSharedBlocks(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	shared := "an identical paragraph shared verbatim between two documents"
	env.writeDoc(t, "a.md", paragraphs(shared))
	env.writeDoc(t, "b.md", paragraphs(shared))

	outA, err := env.processor.ProcessFile(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, 1, outA.NewBlocks)

	// 第二个文档的同内容块不再入库，嵌入也被复用
	callsBefore := env.mock.EmbedCalls
	outB, err := env.processor.ProcessFile(ctx, "b.md")
	require.NoError(t, err)
	assert.Equal(t, 0, outB.NewBlocks, "同内容块应内容寻址命中")
	assert.Equal(t, callsBefore, env.mock.EmbedCalls, "同内容块的嵌入应复用")

	rowsA, err := env.repo.ListEnrichedBlocks(ctx, "a.md")
	require.NoError(t, err)
	block, err := env.repo.GetBlock(ctx, rowsA[0].BlockHash)
	require.NoError(t, err)
	assert.Equal(t, 2, block.RefCount, "共享块的引用计数应为2")

	// 删除一个文档后共享块保留
	_, err = env.processor.DeleteFile(ctx, "a.md")
	require.NoError(t, err)

	block, err = env.repo.GetBlock(ctx, block.Hash)
	require.NoError(t, err)
	assert.Equal(t, 1, block.RefCount)

	// 删除另一个文档后块彻底清理
	_, err = env.processor.DeleteFile(ctx, "b.md")
	require.NoError(t, err)
	_, err = env.repo.GetBlock(ctx, block.Hash)
	assert.ErrorIs(t, err, models.ErrBlockNotFound)
}

// TestDeleteFile 测试删除事件清理全部记录
func TestDeleteFile(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	env.writeDoc(t, "gone.md", paragraphs(
		"first paragraph with plenty of words in it",
		"second paragraph with plenty of words in it",
	))
	_, err := env.processor.ProcessFile(ctx, "gone.md")
	require.NoError(t, err)

	outcome, err := env.processor.DeleteFile(ctx, "gone.md")
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Removed)

	_, err = env.repo.GetFile(ctx, "gone.md")
	assert.ErrorIs(t, err, models.ErrFileNotFound)
	_, err = env.repo.LoadTree(ctx, "gone.md")
	assert.ErrorIs(t, err, models.ErrTreeNotFound)

	rows, err := env.repo.ListEnrichedBlocks(ctx, "gone.md")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// hijackClient 在首次批量调用前执行回调，用于在运行中途制造抢占
type hijackClient struct {
	inner *embedding.MockClient
	hook  func()
}

func (c *hijackClient) Name() string    { return c.inner.Name() }
func (c *hijackClient) Dimensions() int { return c.inner.Dimensions() }

func (c *hijackClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.inner.Embed(ctx, text)
}
func (c *hijackClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.hook != nil {
		c.hook()
		c.hook = nil
	}
	return c.inner.EmbedBatch(ctx, texts)
}

// TestProcessSuperseded 测试被新运行取代的处理在提交前放弃
func TestProcessSuperseded(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	env.writeDoc(t, "race.md", paragraphs("a paragraph with enough words to require embedding"))

	// 在富化阶段中途为同一文件签发新令牌，模拟更新的运行开始
	hijack := &hijackClient{inner: embedding.NewMockClient(4)}
	orch := enrich.NewOrchestrator(hijack, env.processor.store, enrich.WithRetryDelay(time.Millisecond))
	env.processor.orch = orch
	hijack.hook = func() {
		env.processor.versions.Begin("race.md")
	}

	_, err := env.processor.ProcessFile(ctx, "race.md")
	assert.ErrorIs(t, err, ErrSuperseded)

	// 被取代的运行不留下任何写入
	_, err = env.repo.GetFile(ctx, "race.md")
	assert.ErrorIs(t, err, models.ErrFileNotFound)
}

// TestProcessUnsupportedType 测试不支持的文档类型报解析错误
func TestProcessUnsupportedType(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	env.writeDoc(t, "image.png", "not really an image")

	_, err := env.processor.ProcessFile(ctx, "image.png")
	require.Error(t, err)
	assert.Equal(t, ErrKindParse, KindOf(err))
}

// TestProcessMissingFile 测试缺失文件报IO错误
func TestProcessMissingFile(t *testing.T) {
	env := setupPipeline(t)

	_, err := env.processor.ProcessFile(context.Background(), "absent.md")
	require.Error(t, err)
	assert.Equal(t, ErrKindIO, KindOf(err))
}

// TestRetryFailedBlocksOnNextRun 测试失败块在下一轮运行中重试
func TestRetryFailedBlocksOnNextRun(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	env.writeDoc(t, "flaky.md", paragraphs("a paragraph with enough words to require embedding"))

	// 第一轮：提供者整体失败，块被标记待重试
	env.mock.FailAll = embedding.NewEmbeddingError(embedding.ErrCodeServerError, embedding.ErrMsgServerError)
	first, err := env.processor.ProcessFile(ctx, "flaky.md")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, first.Failed)

	file, err := env.repo.GetFile(ctx, "flaky.md")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusPending, file.Status)

	// 第二轮：提供者恢复，同一个块（内容未变）被重新富化
	env.mock.FailAll = nil
	second, err := env.processor.ProcessFile(ctx, "flaky.md")
	require.NoError(t, err)
	assert.False(t, second.Skipped, "有失败块的文件不应快速跳过")
	assert.Equal(t, 1, second.Changed, "失败块应重新纳入变化集")
	assert.Empty(t, second.Failed)

	file, err = env.repo.GetFile(ctx, "flaky.md")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusCompleted, file.Status)

	rows, err := env.repo.ListEnrichedBlocks(ctx, "flaky.md")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Embedded)
	assert.False(t, rows[0].Failed)
}
