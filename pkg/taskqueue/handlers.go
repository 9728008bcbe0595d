package taskqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/doc-sync-engine/internal/pipeline"
	"github.com/sirupsen/logrus"
)

// DocumentProcessor 文档处理器接口
// 由流水线实现，任务处理器通过它触发实际处理
type DocumentProcessor interface {
	ProcessFile(ctx context.Context, path string) (*pipeline.ProcessingOutcome, error)
	DeleteFile(ctx context.Context, path string) (*pipeline.ProcessingOutcome, error)
}

// PipelineHandler 把队列任务桥接到文档处理流水线
// 处理结果写回任务记录，供调用方查询
type PipelineHandler struct {
	queue     Queue             // 任务队列
	processor DocumentProcessor // 文档处理流水线
	logger    *logrus.Logger    // 日志记录器
}

// NewPipelineHandler 创建流水线任务处理器
func NewPipelineHandler(queue Queue, processor DocumentProcessor, logger *logrus.Logger) *PipelineHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &PipelineHandler{
		queue:     queue,
		processor: processor,
		logger:    logger,
	}
}

// GetTaskTypes 返回此处理器支持的任务类型
func (h *PipelineHandler) GetTaskTypes() []TaskType {
	return []TaskType{TaskDocumentProcess, TaskDocumentDelete}
}

// ProcessTask 处理任务
func (h *PipelineHandler) ProcessTask(ctx context.Context, task *Task) error {
	switch task.Type {
	case TaskDocumentProcess:
		return h.handleProcess(ctx, task)
	case TaskDocumentDelete:
		return h.handleDelete(ctx, task)
	default:
		return fmt.Errorf("unsupported task type: %s", task.Type)
	}
}

func (h *PipelineHandler) handleProcess(ctx context.Context, task *Task) error {
	var payload DocumentProcessPayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return ErrInvalidPayload
	}
	path := payload.Path
	if path == "" {
		path = task.Path
	}

	outcome, err := h.processor.ProcessFile(ctx, path)
	if errors.Is(err, pipeline.ErrSuperseded) {
		// 被更新的运行取代不算失败，后续任务会覆盖本次结果
		h.logger.WithField("path", path).Info("Processing task superseded by a newer run")
		return nil
	}
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"path": path,
			"kind": pipeline.KindOf(err),
		}).Error("Document processing task failed")
		return err
	}

	result := &DocumentProcessResult{
		Path:       path,
		Skipped:    outcome.Skipped,
		Changed:    outcome.Changed,
		Reused:     outcome.Reused,
		NewBlocks:  outcome.NewBlocks,
		Removed:    outcome.Removed,
		Failed:     outcome.Failed,
		DurationMs: outcome.Duration.Milliseconds(),
	}
	if err := h.queue.UpdateTaskStatus(ctx, task.ID, StatusProcessing, result, ""); err != nil {
		h.logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to attach processing result")
	}
	return nil
}

func (h *PipelineHandler) handleDelete(ctx context.Context, task *Task) error {
	var payload DocumentDeletePayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return ErrInvalidPayload
	}
	path := payload.Path
	if path == "" {
		path = task.Path
	}

	outcome, err := h.processor.DeleteFile(ctx, path)
	if err != nil {
		h.logger.WithError(err).WithField("path", path).Error("Document delete task failed")
		return err
	}

	result := &DocumentDeleteResult{
		Path:    path,
		Removed: outcome.Removed,
	}
	if err := h.queue.UpdateTaskStatus(ctx, task.ID, StatusProcessing, result, ""); err != nil {
		h.logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to attach delete result")
	}
	return nil
}

// RegisterPipelineHandlers 在工作者上注册流水线任务处理器
func RegisterPipelineHandlers(worker Worker, handler *PipelineHandler) {
	for _, taskType := range handler.GetTaskTypes() {
		worker.RegisterHandler(taskType, handler)
	}
}
