package pipeline

import (
	"errors"
	"fmt"
)

// ErrKind 流水线错误分类
type ErrKind string

const (
	// ErrKindIO 文件读取或元数据获取失败
	ErrKindIO ErrKind = "io"
	// ErrKindParse 文档解析失败
	ErrKindParse ErrKind = "parse"
	// ErrKindProvider 嵌入提供者失败
	ErrKindProvider ErrKind = "provider"
	// ErrKindStorage 持久化失败
	ErrKindStorage ErrKind = "storage"
	// ErrKindInconsistent 存储的哈希树与自身根哈希不一致
	ErrKindInconsistent ErrKind = "inconsistent"
)

// ErrSuperseded 本次处理在提交前被同一文件的更新运行取代
var ErrSuperseded = errors.New("processing run superseded by a newer run for the same file")

// PipelineError 带分类的流水线错误
// 错误只影响所属文件，批量处理中的其他文件不受波及
type PipelineError struct {
	Kind ErrKind // 错误分类
	Path string  // 所属文件路径
	Err  error   // 底层原因
}

// Error 实现error接口
func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s error for %s: %v", e.Kind, e.Path, e.Err)
}

// Unwrap 返回底层原因
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// newError 创建流水线错误
func newError(kind ErrKind, path string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Path: path, Err: err}
}

// KindOf 提取错误的流水线分类，非流水线错误返回空
func KindOf(err error) ErrKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
