package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	syncconfig "github.com/fyerfyer/doc-sync-engine/config"
	"github.com/fyerfyer/doc-sync-engine/internal/blockstore"
	"github.com/fyerfyer/doc-sync-engine/internal/cache"
	"github.com/fyerfyer/doc-sync-engine/internal/database"
	"github.com/fyerfyer/doc-sync-engine/internal/embedding"
	"github.com/fyerfyer/doc-sync-engine/internal/enrich"
	"github.com/fyerfyer/doc-sync-engine/internal/hashing"
	"github.com/fyerfyer/doc-sync-engine/internal/pipeline"
	"github.com/fyerfyer/doc-sync-engine/internal/repository"
	"github.com/fyerfyer/doc-sync-engine/internal/watcher"
	"github.com/fyerfyer/doc-sync-engine/pkg/storage"
	"github.com/fyerfyer/doc-sync-engine/pkg/taskqueue"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 命令行选项
type cliOptions struct {
	ConfigFile string // 配置文件路径
	LogLevel   string // 日志级别覆盖
	Root       string // 文档根目录覆盖
	ScanOnly   bool   // 只做一次全量扫描然后退出
	NoWatch    bool   // 禁用文件监控
}

func main() {
	// 加载.env文件（如果存在）
	_ = godotenv.Load()

	// 解析命令行参数
	opts := parseFlags()

	// 加载配置文件
	cfg, err := syncconfig.Load(opts.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyOverrides(cfg, opts)

	// 初始化日志
	logger := setupLogger(cfg)
	logger.Info("Starting document sync engine...")

	// 初始化数据库
	if err := setupDatabase(cfg, logger); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}

	// 创建文档来源
	source, err := setupSource(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize document source: %v", err)
	}

	// 创建缓存服务（可选）
	var cacheService cache.Cache
	if cfg.Cache.Enable {
		cacheService, err = setupCache(cfg)
		if err != nil {
			logger.Fatalf("Failed to initialize cache: %v", err)
		}
	}

	// 创建嵌入客户端
	embeddingClient, err := setupEmbedding(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize embedding client: %v", err)
	}

	// 创建哈希器
	hasher, err := hashing.NewHasher(cfg.Hashing.Algorithm)
	if err != nil {
		logger.Fatalf("Failed to initialize hasher: %v", err)
	}

	// 组装块存储与富集编排器
	repo := repository.NewRepository()
	storeOpts := []blockstore.Option{blockstore.WithLogger(logger)}
	if cacheService != nil {
		storeOpts = append(storeOpts,
			blockstore.WithCache(cacheService),
			blockstore.WithCacheTTL(time.Duration(cfg.Cache.TTL)*time.Second),
		)
	}
	store := blockstore.NewStore(repo, storeOpts...)

	orchestrator := enrich.NewOrchestrator(embeddingClient, store,
		enrich.WithMinWords(cfg.Document.MinWords),
		enrich.WithBatchSize(cfg.Embed.BatchSize),
		enrich.WithMaxRetries(cfg.Embed.MaxRetries),
		enrich.WithRetryDelay(time.Duration(cfg.Embed.RetryDelay)*time.Millisecond),
		enrich.WithLogger(logger),
	)

	// 创建文档处理器
	processor, err := pipeline.NewProcessor(source, repo, store, orchestrator,
		pipeline.WithHasher(hasher),
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithProcessorLogger(logger),
	)
	if err != nil {
		logger.Fatalf("Failed to initialize processor: %v", err)
	}
	defer processor.Stop()

	// 初始化任务队列（如果启用）
	var queue taskqueue.Queue
	var worker taskqueue.Worker
	if cfg.Queue.Enable {
		queue, worker, err = setupTaskQueue(cfg, processor, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer queue.Close()
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start task queue worker: %v", err)
		}
		defer worker.Stop()
		logger.Info("Task queue initialized successfully")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 文件事件的落地方式：有队列走异步，否则直接处理
	var handler watcher.Handler
	if queue != nil {
		handler = &enqueueHandler{queue: queue, logger: logger}
	} else {
		handler = &directHandler{processor: processor, logger: logger}
	}

	// 启动时做一次全量扫描，补上停机期间的变更
	if err := scanSource(ctx, source, cfg, handler, logger); err != nil {
		logger.Fatalf("Initial scan failed: %v", err)
	}

	if opts.ScanOnly {
		logger.Info("Scan-only mode, exiting")
		return
	}

	// 启动文件监控（仅本地存储支持）
	if cfg.Watcher.Enable && !opts.NoWatch {
		if cfg.Storage.Type != "local" {
			logger.Warnf("File watching is not supported for %s storage, skipping", cfg.Storage.Type)
		} else {
			w, err := watcher.NewWatcher(cfg.Storage.Root, handler,
				watcher.WithDebounce(time.Duration(cfg.Watcher.Debounce)*time.Millisecond),
				watcher.WithExtensions(cfg.Watcher.Extensions...),
				watcher.WithWatcherLogger(logger),
			)
			if err != nil {
				logger.Fatalf("Failed to initialize watcher: %v", err)
			}
			if err := w.Start(ctx); err != nil {
				logger.Fatalf("Failed to start watcher: %v", err)
			}
			defer w.Close()
			logger.Infof("Watching %s for changes", cfg.Storage.Root)
		}
	}

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")
	cancel()

	logger.Info("Sync engine exited")
}

// parseFlags 解析命令行参数
func parseFlags() cliOptions {
	opts := cliOptions{}

	flag.StringVar(&opts.ConfigFile, "config", "", "Path to config file")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level override (debug/info/warn/error)")
	flag.StringVar(&opts.Root, "root", "", "Document root directory override")
	flag.BoolVar(&opts.ScanOnly, "scan-only", false, "Run a single full scan and exit")
	flag.BoolVar(&opts.NoWatch, "no-watch", false, "Disable file watching")

	flag.Parse()
	return opts
}

// applyOverrides 将命令行覆盖项应用到配置
func applyOverrides(cfg *syncconfig.Config, opts cliOptions) {
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.Root != "" {
		cfg.Storage.Root = opts.Root
	}
}

// setupLogger 设置日志系统
func setupLogger(cfg *syncconfig.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// 设置日志级别
	switch cfg.Log.Level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	// 配置了日志文件则启用滚动输出
	if cfg.Log.File != "" {
		logger.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSize,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAge,
		})
	}

	return logger
}

// setupDatabase 设置数据库
func setupDatabase(cfg *syncconfig.Config, logger *logrus.Logger) error {
	dbConfig := &database.Config{
		Type: cfg.Database.Type,
		DSN:  cfg.Database.DSN,
	}
	return database.Setup(dbConfig, logger)
}

// setupSource 设置文档来源
func setupSource(cfg *syncconfig.Config) (storage.Source, error) {
	switch cfg.Storage.Type {
	case "local":
		// 确保文档根目录存在
		if err := os.MkdirAll(cfg.Storage.Root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create document root: %v", err)
		}
		return storage.NewSource("local", storage.LocalConfig{
			Root: cfg.Storage.Root,
		})
	case "minio":
		return storage.NewSource("minio", storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// setupCache 设置缓存服务
func setupCache(cfg *syncconfig.Config) (cache.Cache, error) {
	cacheConfig := cache.Config{
		Type:            cfg.Cache.Type,
		KeyPrefix:       "docsync",
		DefaultTTL:      time.Duration(cfg.Cache.TTL) * time.Second,
		CleanupInterval: 10 * time.Minute,
	}

	// 如果配置了Redis，添加Redis配置
	if cfg.Cache.Type == "redis" {
		cacheConfig.RedisAddr = cfg.Cache.Address
		cacheConfig.RedisPassword = cfg.Cache.Password
		cacheConfig.RedisDB = cfg.Cache.DB
	}

	return cache.NewCache(cacheConfig)
}

// setupEmbedding 设置嵌入模型客户端
func setupEmbedding(cfg *syncconfig.Config) (embedding.Client, error) {
	opts := []embedding.Option{
		embedding.WithModel(cfg.Embed.Model),
		embedding.WithBatchSize(cfg.Embed.BatchSize),
	}
	if cfg.Embed.APIKey != "" {
		opts = append(opts, embedding.WithAPIKey(cfg.Embed.APIKey))
	}
	if cfg.Embed.Endpoint != "" {
		opts = append(opts, embedding.WithBaseURL(cfg.Embed.Endpoint))
	}
	if cfg.Embed.Dimensions > 0 {
		opts = append(opts, embedding.WithDimensions(cfg.Embed.Dimensions))
	}

	return embedding.NewClient(cfg.Embed.Provider, opts...)
}

// setupTaskQueue 设置任务队列和工作者
func setupTaskQueue(cfg *syncconfig.Config, processor *pipeline.Processor, logger *logrus.Logger) (taskqueue.Queue, taskqueue.Worker, error) {
	queueConfig := &taskqueue.Config{
		RedisAddr:     cfg.Queue.RedisAddr,
		RedisPassword: cfg.Queue.RedisPassword,
		RedisDB:       cfg.Queue.RedisDB,
		Concurrency:   cfg.Queue.Concurrency,
		RetryLimit:    cfg.Queue.RetryLimit,
		RetryDelay:    time.Duration(cfg.Queue.RetryDelay) * time.Second,
	}

	logger.WithFields(logrus.Fields{
		"type":        cfg.Queue.Type,
		"concurrency": cfg.Queue.Concurrency,
		"retry_limit": cfg.Queue.RetryLimit,
	}).Info("Setting up task queue")

	queue, err := taskqueue.NewQueue(cfg.Queue.Type, queueConfig)
	if err != nil {
		return nil, nil, err
	}

	// 根据队列的具体实现创建匹配的工作者
	var worker taskqueue.Worker
	switch q := queue.(type) {
	case *taskqueue.RedisQueue:
		worker = taskqueue.NewRedisWorker(q, queueConfig)
	case *taskqueue.MemoryQueue:
		worker = taskqueue.NewMemoryWorker(q)
	default:
		queue.Close()
		return nil, nil, fmt.Errorf("no worker available for queue type: %s", cfg.Queue.Type)
	}

	handler := taskqueue.NewPipelineHandler(queue, processor, logger)
	taskqueue.RegisterPipelineHandlers(worker, handler)

	return queue, worker, nil
}

// scanSource 全量扫描文档来源，把每个支持的文件交给处理器
func scanSource(ctx context.Context, source storage.Source, cfg *syncconfig.Config, handler watcher.Handler, logger *logrus.Logger) error {
	infos, err := source.List(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list documents: %v", err)
	}

	exts := make(map[string]bool, len(cfg.Watcher.Extensions))
	for _, ext := range cfg.Watcher.Extensions {
		exts[strings.ToLower(ext)] = true
	}

	count := 0
	for _, info := range infos {
		if !exts[strings.ToLower(path.Ext(info.Path))] {
			continue
		}
		handler.HandleChange(ctx, info.Path)
		count++
	}

	logger.WithField("count", count).Info("Initial scan dispatched")
	return nil
}

// enqueueHandler 把文件事件转成任务队列里的任务
type enqueueHandler struct {
	queue  taskqueue.Queue
	logger *logrus.Logger
}

func (h *enqueueHandler) HandleChange(ctx context.Context, path string) {
	payload := taskqueue.DocumentProcessPayload{Path: path}
	taskID, err := h.queue.Enqueue(ctx, taskqueue.TaskDocumentProcess, path, payload)
	if err != nil {
		h.logger.WithField("path", path).WithError(err).Error("Failed to enqueue process task")
		return
	}
	h.logger.WithFields(logrus.Fields{"path": path, "task_id": taskID}).Debug("Enqueued process task")
}

func (h *enqueueHandler) HandleDelete(ctx context.Context, path string) {
	payload := taskqueue.DocumentDeletePayload{Path: path}
	taskID, err := h.queue.Enqueue(ctx, taskqueue.TaskDocumentDelete, path, payload)
	if err != nil {
		h.logger.WithField("path", path).WithError(err).Error("Failed to enqueue delete task")
		return
	}
	h.logger.WithFields(logrus.Fields{"path": path, "task_id": taskID}).Debug("Enqueued delete task")
}

// directHandler 不经过队列，直接同步处理文件事件
type directHandler struct {
	processor *pipeline.Processor
	logger    *logrus.Logger
}

func (h *directHandler) HandleChange(ctx context.Context, path string) {
	if _, err := h.processor.ProcessFile(ctx, path); err != nil {
		if errors.Is(err, pipeline.ErrSuperseded) {
			return
		}
		h.logger.WithField("path", path).WithError(err).Error("Failed to process file")
	}
}

func (h *directHandler) HandleDelete(ctx context.Context, path string) {
	if _, err := h.processor.DeleteFile(ctx, path); err != nil {
		h.logger.WithField("path", path).WithError(err).Error("Failed to delete file")
	}
}
