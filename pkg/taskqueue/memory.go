package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemoryQueue 内存任务队列实现
// 单进程模式和测试使用，不依赖Redis
type MemoryQueue struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	byPath  map[string][]string
	pending chan string
	cfg     *Config
	closed  bool
	logger  *logrus.Logger
}

// NewMemoryQueue 创建内存任务队列实例
func NewMemoryQueue(cfg *Config) *MemoryQueue {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &MemoryQueue{
		tasks:   make(map[string]*Task),
		byPath:  make(map[string][]string),
		pending: make(chan string, 1024),
		cfg:     cfg,
		logger:  logrus.New(),
	}
}

// Enqueue 将任务加入队列
func (q *MemoryQueue) Enqueue(ctx context.Context, taskType TaskType, path string, payload interface{}) (string, error) {
	payloadBytes, err := MarshalPayload(payload)
	if err != nil {
		return "", err
	}

	task := &Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		Path:       path,
		Status:     StatusPending,
		Payload:    payloadBytes,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		MaxRetries: q.cfg.RetryLimit,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", TaskError("queue is closed")
	}
	q.tasks[task.ID] = task
	if path != "" {
		q.byPath[path] = append(q.byPath[path], task.ID)
	}
	q.mu.Unlock()

	select {
	case q.pending <- task.ID:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return task.ID, nil
}

// EnqueueAt 在指定时间将任务加入队列
func (q *MemoryQueue) EnqueueAt(ctx context.Context, taskType TaskType, path string, payload interface{}, processAt time.Time) (string, error) {
	return q.EnqueueIn(ctx, taskType, path, payload, time.Until(processAt))
}

// EnqueueIn 在指定延迟后将任务加入队列
// 延迟为正时在后台等待后入队
func (q *MemoryQueue) EnqueueIn(ctx context.Context, taskType TaskType, path string, payload interface{}, delay time.Duration) (string, error) {
	if delay <= 0 {
		return q.Enqueue(ctx, taskType, path, payload)
	}

	payloadBytes, err := MarshalPayload(payload)
	if err != nil {
		return "", err
	}

	task := &Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		Path:       path,
		Status:     StatusPending,
		Payload:    payloadBytes,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		MaxRetries: q.cfg.RetryLimit,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", TaskError("queue is closed")
	}
	q.tasks[task.ID] = task
	if path != "" {
		q.byPath[path] = append(q.byPath[path], task.ID)
	}
	q.mu.Unlock()

	time.AfterFunc(delay, func() {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if !closed {
			q.pending <- task.ID
		}
	})

	return task.ID, nil
}

// GetTask 获取任务信息
func (q *MemoryQueue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}

// GetTasksByPath 获取文档相关的所有任务
func (q *MemoryQueue) GetTasksByPath(ctx context.Context, path string) ([]*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.byPath[path]
	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		if task, ok := q.tasks[id]; ok {
			copied := *task
			tasks = append(tasks, &copied)
		}
	}
	return tasks, nil
}

// WaitForTask 等待任务完成并返回结果
func (q *MemoryQueue) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task.Status == StatusCompleted || task.Status == StatusFailed {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrTaskTimeout
		case <-ticker.C:
		}
	}
}

// DeleteTask 删除任务
func (q *MemoryQueue) DeleteTask(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	delete(q.tasks, taskID)

	if task.Path != "" {
		ids := q.byPath[task.Path]
		for i, id := range ids {
			if id == taskID {
				q.byPath[task.Path] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
	return nil
}

// UpdateTaskStatus 更新任务状态和结果
func (q *MemoryQueue) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	task.Status = status
	task.UpdatedAt = time.Now()

	if status == StatusProcessing && task.StartedAt == nil {
		now := time.Now()
		task.StartedAt = &now
	}
	if status == StatusCompleted || status == StatusFailed {
		now := time.Now()
		task.CompletedAt = &now
	}

	if result != nil {
		resultBytes, err := MarshalPayload(result)
		if err != nil {
			return err
		}
		task.Result = resultBytes
	}
	if errMsg != "" {
		task.Error = errMsg
	}
	return nil
}

// Close 关闭队列
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.pending)
	}
	return nil
}

// MemoryWorker 内存队列的工作者实现
type MemoryWorker struct {
	queue    *MemoryQueue
	handlers map[TaskType]Handler
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	logger   *logrus.Logger
}

// NewMemoryWorker 创建内存工作者
func NewMemoryWorker(queue *MemoryQueue) *MemoryWorker {
	return &MemoryWorker{
		queue:    queue,
		handlers: make(map[TaskType]Handler),
		logger:   queue.logger,
	}
}

// RegisterHandler 注册任务处理器
func (w *MemoryWorker) RegisterHandler(taskType TaskType, handler Handler) {
	w.handlers[taskType] = handler
}

// Start 启动工作者
func (w *MemoryWorker) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	concurrency := w.queue.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
	return nil
}

// Stop 停止工作者
func (w *MemoryWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *MemoryWorker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case taskID, ok := <-w.queue.pending:
			if !ok {
				return
			}
			w.process(ctx, taskID)
		}
	}
}

func (w *MemoryWorker) process(ctx context.Context, taskID string) {
	task, err := w.queue.GetTask(ctx, taskID)
	if err != nil {
		w.logger.WithError(err).WithField("task_id", taskID).Error("Failed to get task info")
		return
	}

	handler, ok := w.handlers[task.Type]
	if !ok {
		w.logger.WithField("task_type", task.Type).Warn("No handler registered for task type")
		_ = w.queue.UpdateTaskStatus(ctx, taskID, StatusFailed, nil, "no handler registered")
		return
	}

	_ = w.queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, "")

	if err := handler.ProcessTask(ctx, task); err != nil {
		_ = w.queue.UpdateTaskStatus(ctx, taskID, StatusFailed, nil, err.Error())
		return
	}
	_ = w.queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, nil, "")
}

func init() {
	RegisterQueueFactory("memory", func(cfg *Config) (Queue, error) {
		return NewMemoryQueue(cfg), nil
	})
}
