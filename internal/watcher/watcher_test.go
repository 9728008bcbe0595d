package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler 记录收到的事件，供测试断言
type recordingHandler struct {
	mu      sync.Mutex
	changes []string
	deletes []string
	notify  chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{notify: make(chan string, 16)}
}

func (h *recordingHandler) HandleChange(ctx context.Context, path string) {
	h.mu.Lock()
	h.changes = append(h.changes, path)
	h.mu.Unlock()
	h.notify <- "change:" + path
}

func (h *recordingHandler) HandleDelete(ctx context.Context, path string) {
	h.mu.Lock()
	h.deletes = append(h.deletes, path)
	h.mu.Unlock()
	h.notify <- "delete:" + path
}

func (h *recordingHandler) changeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.changes)
}

func waitFor(t *testing.T, ch chan string, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func setupWatcher(t *testing.T) (*Watcher, *recordingHandler, string) {
	root := t.TempDir()
	handler := newRecordingHandler()

	w, err := NewWatcher(root, handler, WithDebounce(30*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { w.Close() })

	return w, handler, root
}

// TestWatcherChangeEvents 测试新建和修改事件
func TestWatcherChangeEvents(t *testing.T) {
	_, handler, root := setupWatcher(t)

	path := filepath.Join(root, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("# hello\n"), 0644))
	waitFor(t, handler.notify, "change:note.md")

	require.NoError(t, os.WriteFile(path, []byte("# hello again\n"), 0644))
	waitFor(t, handler.notify, "change:note.md")
}

// TestWatcherDeleteEvents 测试删除事件
func TestWatcherDeleteEvents(t *testing.T) {
	_, handler, root := setupWatcher(t)

	path := filepath.Join(root, "gone.md")
	require.NoError(t, os.WriteFile(path, []byte("body\n"), 0644))
	waitFor(t, handler.notify, "change:gone.md")

	require.NoError(t, os.Remove(path))
	waitFor(t, handler.notify, "delete:gone.md")
}

// TestWatcherIgnoresOtherTypes 测试不关注的文件类型被忽略
func TestWatcherIgnoresOtherTypes(t *testing.T) {
	_, handler, root := setupWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "pic.png"), []byte("png"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.md"), []byte("md\n"), 0644))

	// 只有markdown文件产生事件
	waitFor(t, handler.notify, "change:real.md")
	assert.Equal(t, 1, handler.changeCount())
}

// TestWatcherDebounce 测试连续写入的抖动合并
func TestWatcherDebounce(t *testing.T) {
	_, handler, root := setupWatcher(t)

	path := filepath.Join(root, "burst.md")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("revision\n"), 0644))
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, handler.notify, "change:burst.md")

	// 合并窗口内的连续写入只触发一次处理
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, handler.changeCount(), 2)
}

// TestWatcherNewSubdirectory 测试新建子目录自动纳入监视
func TestWatcherNewSubdirectory(t *testing.T) {
	_, handler, root := setupWatcher(t)

	sub := filepath.Join(root, "deep")
	require.NoError(t, os.MkdirAll(sub, 0755))

	// 给监视器一点时间注册新目录
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "nested.md"), []byte("nested\n"), 0644))
	waitFor(t, handler.notify, "change:deep/nested.md")
}
