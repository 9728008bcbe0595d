package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Handler 文件事件处理器
// 新建和修改走HandleChange，删除走HandleDelete
// 路径都是相对于监视根目录的
type Handler interface {
	HandleChange(ctx context.Context, path string)
	HandleDelete(ctx context.Context, path string)
}

// Watcher 目录监视器
// 监视根目录下支持的文档类型，抖动合并后把事件交给处理器
type Watcher struct {
	root     string            // 监视根目录的绝对路径
	handler  Handler           // 事件处理器
	fw       *fsnotify.Watcher // 底层文件系统监视器
	debounce time.Duration     // 抖动合并窗口
	exts     map[string]bool   // 关注的扩展名
	logger   *logrus.Logger    // 日志记录器

	mu     sync.Mutex
	timers map[string]*time.Timer
	done   chan struct{}
}

// WatcherOption 监视器配置选项
type WatcherOption func(*Watcher)

// WithDebounce 设置抖动合并窗口
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithExtensions 设置关注的扩展名
func WithExtensions(exts ...string) WatcherOption {
	return func(w *Watcher) {
		w.exts = make(map[string]bool)
		for _, ext := range exts {
			w.exts[strings.ToLower(ext)] = true
		}
	}
}

// WithWatcherLogger 设置日志记录器
func WithWatcherLogger(logger *logrus.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher 创建目录监视器
func NewWatcher(root string, handler Handler, opts ...WatcherOption) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root: %v", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %v", err)
	}

	w := &Watcher{
		root:     absRoot,
		handler:  handler,
		fw:       fw,
		debounce: 200 * time.Millisecond,
		exts:     map[string]bool{".md": true, ".markdown": true, ".txt": true},
		logger:   logrus.New(),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start 开始监视并启动事件循环
// 事件循环在独立goroutine中运行，ctx取消或Close后退出
func (w *Watcher) Start(ctx context.Context) error {
	// 递归添加根目录下的所有子目录
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); path != w.root && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
	if err != nil {
		return fmt.Errorf("failed to watch directory tree: %v", err)
	}

	go w.loop(ctx)

	w.logger.WithField("root", w.root).Info("Watching for document changes")
	return nil
}

// Close 停止监视
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.dispatch(ctx, event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("File watcher error")
		}
	}
}

func (w *Watcher) dispatch(ctx context.Context, event fsnotify.Event) {
	// 新目录纳入监视
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(event.Name), ".") {
				if err := w.fw.Add(event.Name); err != nil {
					w.logger.WithError(err).WithField("dir", event.Name).Warn("Failed to watch new directory")
				}
			}
			return
		}
	}

	if !w.watched(event.Name) {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		w.cancelPending(rel)
		w.logger.WithField("path", rel).Debug("Document removed")
		w.handler.HandleDelete(ctx, rel)

	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		w.schedule(ctx, rel)
	}
}

// schedule 抖动合并：同一文件的连续写入只触发一次处理
func (w *Watcher) schedule(ctx context.Context, rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[rel]; ok {
		timer.Stop()
	}
	w.timers[rel] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, rel)
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		default:
		}
		w.logger.WithField("path", rel).Debug("Document changed")
		w.handler.HandleChange(ctx, rel)
	})
}

func (w *Watcher) cancelPending(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[rel]; ok {
		timer.Stop()
		delete(w.timers, rel)
	}
}

func (w *Watcher) watched(path string) bool {
	return w.exts[strings.ToLower(filepath.Ext(path))]
}
