package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound 源文档不存在
var ErrNotFound = errors.New("source document not found")

// SourceInfo 源文档元数据结构
type SourceInfo struct {
	Path    string    // 存储内的文档路径
	Size    int64     // 文档大小(字节)
	ModTime time.Time // 最后修改时间
}

// Source 源文档存储接口
// 定义读取源文档的基本操作，可以有不同实现(本地文件系统、MinIO等)
type Source interface {
	// Read 读取文档的完整内容
	Read(ctx context.Context, path string) ([]byte, error)

	// Stat 获取文档的元数据
	Stat(ctx context.Context, path string) (SourceInfo, error)

	// List 列出指定前缀下的所有文档
	List(ctx context.Context, prefix string) ([]SourceInfo, error)

	// Exists 检查文档是否存在
	Exists(ctx context.Context, path string) (bool, error)
}

// Factory 存储实现的工厂函数
// 用于根据配置创建不同类型的存储实现
type Factory func(cfg interface{}) (Source, error)

var factories = make(map[string]Factory)

// RegisterSource 注册存储实现的工厂函数
func RegisterSource(name string, factory Factory) {
	factories[name] = factory
}

// NewSource 根据名称和配置创建存储实现
func NewSource(name string, cfg interface{}) (Source, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage type: %s", name)
	}
	return factory(cfg)
}
