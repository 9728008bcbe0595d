package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskDocumentProcess 文档处理任务（新建或修改）
	TaskDocumentProcess TaskType = "document:process"
	// TaskDocumentDelete 文档删除任务
	TaskDocumentDelete TaskType = "document:delete"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	Path        string          `json:"path"`         // 关联的文档路径
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷数据
	Result      json.RawMessage `json:"result"`       // 任务结果数据
	Error       string          `json:"error"`        // 错误信息（如果处理失败）
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 尝试次数
	MaxRetries  int             `json:"max_retries"`  // 最大重试次数
}

// DocumentProcessPayload 文档处理任务载荷
type DocumentProcessPayload struct {
	Path string `json:"path"` // 文档路径
}

// DocumentProcessResult 文档处理任务结果
type DocumentProcessResult struct {
	Path       string `json:"path"`        // 文档路径
	Skipped    bool   `json:"skipped"`     // 文件未变化，跳过处理
	Changed    int    `json:"changed"`     // 变化块数量
	Reused     int    `json:"reused"`      // 复用既有富化的块数量
	NewBlocks  int    `json:"new_blocks"`  // 首次入库的块数量
	Removed    int    `json:"removed"`     // 被删除的块位置数量
	Failed     []int  `json:"failed"`      // 富化失败待重试的块索引
	DurationMs int64  `json:"duration_ms"` // 处理耗时（毫秒）
}

// DocumentDeletePayload 文档删除任务载荷
type DocumentDeletePayload struct {
	Path string `json:"path"` // 文档路径
}

// DocumentDeleteResult 文档删除任务结果
type DocumentDeleteResult struct {
	Path    string `json:"path"`    // 文档路径
	Removed int    `json:"removed"` // 清理的块位置数量
}
