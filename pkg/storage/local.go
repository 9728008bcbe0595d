package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalSource 本地文件系统的源文档存储实现
// 所有路径都相对于根目录解析，越界路径被拒绝
type LocalSource struct {
	root string // 根目录的绝对路径
}

// LocalConfig 本地存储配置
type LocalConfig struct {
	Root string // 文档根目录
}

// NewLocalSource 创建本地存储实例
func NewLocalSource(cfg LocalConfig) (*LocalSource, error) {
	root := cfg.Root
	if root == "" {
		root = "."
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %v", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %v", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", absRoot)
	}

	return &LocalSource{root: absRoot}, nil
}

// Root 返回根目录的绝对路径
func (s *LocalSource) Root() string {
	return s.root
}

// resolve 将存储内路径解析为根目录下的绝对路径
func (s *LocalSource) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	if cleaned == "/" {
		return "", fmt.Errorf("empty document path")
	}
	full := filepath.Join(s.root, cleaned)
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes storage root", path)
	}
	return full, nil
}

// Read 读取文档的完整内容
func (s *LocalSource) Read(ctx context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %v", err)
	}
	return data, nil
}

// Stat 获取文档的元数据
func (s *LocalSource) Stat(ctx context.Context, path string) (SourceInfo, error) {
	full, err := s.resolve(path)
	if err != nil {
		return SourceInfo{}, err
	}

	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return SourceInfo{}, ErrNotFound
	}
	if err != nil {
		return SourceInfo{}, fmt.Errorf("failed to stat document: %v", err)
	}
	if info.IsDir() {
		return SourceInfo{}, fmt.Errorf("path %s is a directory", path)
	}

	return SourceInfo{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// List 列出指定前缀下的所有文档
func (s *LocalSource) List(ctx context.Context, prefix string) ([]SourceInfo, error) {
	start := s.root
	if prefix != "" {
		resolved, err := s.resolve(prefix)
		if err != nil {
			return nil, err
		}
		start = resolved
	}

	var docs []SourceInfo
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// 跳过隐藏目录
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		docs = append(docs, SourceInfo{
			Path:    filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %v", err)
	}

	return docs, nil
}

// Exists 检查文档是否存在
func (s *LocalSource) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.Stat(ctx, path)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func init() {
	RegisterSource("local", func(cfg interface{}) (Source, error) {
		localCfg, ok := cfg.(LocalConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for local storage")
		}
		return NewLocalSource(localCfg)
	})
}
