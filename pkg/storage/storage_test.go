package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocal(t *testing.T) (*LocalSource, string) {
	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), []byte("# hello\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes", "todo.md"), []byte("- item\n"), 0644))

	source, err := NewLocalSource(LocalConfig{Root: root})
	require.NoError(t, err)
	return source, root
}

// TestLocalReadStat 测试本地存储的读取和元数据
func TestLocalReadStat(t *testing.T) {
	source, _ := setupLocal(t)
	ctx := context.Background()

	data, err := source.Read(ctx, "readme.md")
	require.NoError(t, err)
	assert.Equal(t, "# hello\n", string(data))

	info, err := source.Stat(ctx, "notes/todo.md")
	require.NoError(t, err)
	assert.Equal(t, "notes/todo.md", info.Path)
	assert.Equal(t, int64(len("- item\n")), info.Size)
	assert.False(t, info.ModTime.IsZero())
}

// TestLocalNotFound 测试不存在的文档
func TestLocalNotFound(t *testing.T) {
	source, _ := setupLocal(t)
	ctx := context.Background()

	_, err := source.Read(ctx, "missing.md")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := source.Exists(ctx, "missing.md")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = source.Exists(ctx, "readme.md")
	require.NoError(t, err)
	assert.True(t, exists)
}

// TestLocalEscapeRejected 测试越界路径被拒绝
func TestLocalEscapeRejected(t *testing.T) {
	source, root := setupLocal(t)
	ctx := context.Background()

	// 根目录之外放一个文件，确认无法穿越访问
	outside := filepath.Join(filepath.Dir(root), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0644))
	defer os.Remove(outside)

	data, err := source.Read(ctx, "../secret.txt")
	if err == nil {
		assert.NotEqual(t, "secret", string(data))
	}
}

// TestLocalList 测试文档列表
func TestLocalList(t *testing.T) {
	source, _ := setupLocal(t)
	ctx := context.Background()

	docs, err := source.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, docs, 2)

	paths := []string{docs[0].Path, docs[1].Path}
	assert.Contains(t, paths, "readme.md")
	assert.Contains(t, paths, "notes/todo.md")

	// 前缀过滤
	docs, err = source.List(ctx, "notes")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "notes/todo.md", docs[0].Path)
}

// TestSourceFactory 测试存储工厂
func TestSourceFactory(t *testing.T) {
	root := t.TempDir()

	source, err := NewSource("local", LocalConfig{Root: root})
	require.NoError(t, err)
	assert.NotNil(t, source)

	_, err = NewSource("unknown", nil)
	assert.Error(t, err)

	_, err = NewSource("local", "not a config")
	assert.Error(t, err)
}
