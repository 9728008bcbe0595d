package embedding

import (
	"errors"
	"fmt"
	"strings"
)

// EmbeddingError 嵌入错误类型
type EmbeddingError struct {
	Code    int    // 错误码
	Message string // 错误消息
}

// Error 实现error接口
func (e EmbeddingError) Error() string {
	return fmt.Sprintf("embedding error (code=%d): %s", e.Code, e.Message)
}

// 错误码常量
const (
	ErrCodeInvalidAPIKey  = 1001 // 无效的API密钥
	ErrCodeInvalidRequest = 1002 // 无效的请求
	ErrCodeNetworkError   = 1003 // 网络连接错误
	ErrCodeRateLimited    = 1004 // 请求频率超限
	ErrCodeServerError    = 1005 // 服务器错误
	ErrCodeTimeout        = 1006 // 请求超时
	ErrCodeEmptyInput     = 1007 // 输入为空
)

// 错误消息常量
const (
	ErrMsgInvalidAPIKey  = "invalid API key"
	ErrMsgInvalidRequest = "invalid request parameters"
	ErrMsgRateLimited    = "too many requests, rate limit exceeded"
	ErrMsgServerError    = "server error occurred"
	ErrMsgTimeout        = "request timed out"
	ErrMsgEmptyInput     = "input text cannot be empty"
	ErrMsgNetworkError   = "network connection error"
)

// NewEmbeddingError 创建新的嵌入错误
func NewEmbeddingError(code int, message string) EmbeddingError {
	return EmbeddingError{
		Code:    code,
		Message: message,
	}
}

// IsRetryable 判断错误是否为瞬时错误
// 网络抖动、限流、超时和服务器错误值得重试；
// 无效密钥和非法输入是永久错误，重试没有意义
func IsRetryable(err error) bool {
	var embErr EmbeddingError
	if errors.As(err, &embErr) {
		switch embErr.Code {
		case ErrCodeNetworkError, ErrCodeRateLimited, ErrCodeServerError, ErrCodeTimeout:
			return true
		default:
			return false
		}
	}
	// 未分类的错误保守地视为瞬时错误
	return true
}

// BatchError 批量嵌入的部分失败
// 保留每个失败项的索引和原因，调用方据此区分部分失败与整体失败
type BatchError struct {
	ItemErrors map[int]error // 输入索引到失败原因的映射
}

// Error 实现error接口
func (e *BatchError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("embedding batch failed for %d item(s):", len(e.ItemErrors)))
	for idx, err := range e.ItemErrors {
		sb.WriteString(fmt.Sprintf(" [%d] %v;", idx, err))
	}
	return sb.String()
}

// NewBatchError 创建批量错误
func NewBatchError() *BatchError {
	return &BatchError{ItemErrors: make(map[int]error)}
}

// Add 记录单项失败
func (e *BatchError) Add(index int, err error) {
	e.ItemErrors[index] = err
}

// IsEmpty 判断是否没有任何失败项
func (e *BatchError) IsEmpty() bool {
	return len(e.ItemErrors) == 0
}

// AsBatchError 提取批量错误，用于区分部分失败与整体失败
func AsBatchError(err error) (*BatchError, bool) {
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr, true
	}
	return nil, false
}
