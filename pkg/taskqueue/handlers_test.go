package taskqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fyerfyer/doc-sync-engine/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProcessor 测试用文档处理器
type stubProcessor struct {
	mu        sync.Mutex
	processed []string
	deleted   []string
	err       error
}

func (p *stubProcessor) ProcessFile(ctx context.Context, path string) (*pipeline.ProcessingOutcome, error) {
	p.mu.Lock()
	p.processed = append(p.processed, path)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &pipeline.ProcessingOutcome{Path: path, Changed: 2, NewBlocks: 1, Reused: 3}, nil
}

func (p *stubProcessor) DeleteFile(ctx context.Context, path string) (*pipeline.ProcessingOutcome, error) {
	p.mu.Lock()
	p.deleted = append(p.deleted, path)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &pipeline.ProcessingOutcome{Path: path, Removed: 4}, nil
}

func setupWorker(t *testing.T, processor DocumentProcessor) (*MemoryQueue, *MemoryWorker) {
	queue := NewMemoryQueue(&Config{Concurrency: 2, RetryLimit: 1})
	worker := NewMemoryWorker(queue)

	handler := NewPipelineHandler(queue, processor, nil)
	RegisterPipelineHandlers(worker, handler)

	require.NoError(t, worker.Start())
	t.Cleanup(func() {
		worker.Stop()
		queue.Close()
	})

	return queue, worker
}

// TestPipelineHandlerProcess 测试处理任务的完整往返
func TestPipelineHandlerProcess(t *testing.T) {
	processor := &stubProcessor{}
	queue, _ := setupWorker(t, processor)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskDocumentProcess, "notes/a.md", &DocumentProcessPayload{Path: "notes/a.md"})
	require.NoError(t, err)

	task, err := queue.WaitForTask(ctx, taskID, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)

	var result DocumentProcessResult
	require.NoError(t, UnmarshalPayload(task.Result, &result))
	assert.Equal(t, "notes/a.md", result.Path)
	assert.Equal(t, 2, result.Changed)
	assert.Equal(t, 1, result.NewBlocks)
	assert.Equal(t, 3, result.Reused)

	processor.mu.Lock()
	defer processor.mu.Unlock()
	assert.Equal(t, []string{"notes/a.md"}, processor.processed)
}

// TestPipelineHandlerDelete 测试删除任务的完整往返
func TestPipelineHandlerDelete(t *testing.T) {
	processor := &stubProcessor{}
	queue, _ := setupWorker(t, processor)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskDocumentDelete, "old.md", &DocumentDeletePayload{Path: "old.md"})
	require.NoError(t, err)

	task, err := queue.WaitForTask(ctx, taskID, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)

	var result DocumentDeleteResult
	require.NoError(t, UnmarshalPayload(task.Result, &result))
	assert.Equal(t, 4, result.Removed)

	processor.mu.Lock()
	defer processor.mu.Unlock()
	assert.Equal(t, []string{"old.md"}, processor.deleted)
}

// TestPipelineHandlerFailure 测试处理失败的任务状态
func TestPipelineHandlerFailure(t *testing.T) {
	processor := &stubProcessor{err: assert.AnError}
	queue, _ := setupWorker(t, processor)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskDocumentProcess, "bad.md", &DocumentProcessPayload{Path: "bad.md"})
	require.NoError(t, err)

	task, err := queue.WaitForTask(ctx, taskID, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.NotEmpty(t, task.Error)
}

// TestPipelineHandlerSuperseded 测试被取代的运行不算任务失败
func TestPipelineHandlerSuperseded(t *testing.T) {
	processor := &stubProcessor{err: pipeline.ErrSuperseded}
	queue, _ := setupWorker(t, processor)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskDocumentProcess, "race.md", &DocumentProcessPayload{Path: "race.md"})
	require.NoError(t, err)

	task, err := queue.WaitForTask(ctx, taskID, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status, "被取代的运行应视为成功结束")
}

// TestMemoryQueueLifecycle 测试内存队列的基本操作
func TestMemoryQueueLifecycle(t *testing.T) {
	queue := NewMemoryQueue(nil)
	defer queue.Close()
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskDocumentProcess, "doc.md", &DocumentProcessPayload{Path: "doc.md"})
	require.NoError(t, err)

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)

	tasks, err := queue.GetTasksByPath(ctx, "doc.md")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	require.NoError(t, queue.DeleteTask(ctx, taskID))
	_, err = queue.GetTask(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
