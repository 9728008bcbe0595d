package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Hashing  HashingConfig  `mapstructure:"hashing"`
	Embed    EmbedConfig    `mapstructure:"embed"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Database DatabaseConfig `mapstructure:"database"`
	Document DocumentConfig `mapstructure:"document"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Log      LogConfig      `mapstructure:"log"`
}

// StorageConfig 文档来源存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type"`     // 存储类型：local 或 minio
	Root      string `mapstructure:"root"`     // 本地文档根目录
	Bucket    string `mapstructure:"bucket"`   // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"` // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// HashingConfig 内容哈希配置
type HashingConfig struct {
	Algorithm string `mapstructure:"algorithm"` // 哈希算法：sha256 或 blake2b
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string `mapstructure:"provider"`    // 提供商：openai, mock, etc
	Model      string `mapstructure:"model"`       // 模型名称
	APIKey     string `mapstructure:"api_key"`     // API密钥（如果需要）
	Endpoint   string `mapstructure:"endpoint"`    // API端点
	BatchSize  int    `mapstructure:"batch_size"`  // 批处理大小
	Dimensions int    `mapstructure:"dimensions"`  // 向量维度
	MaxRetries int    `mapstructure:"max_retries"` // 批次最大重试次数
	RetryDelay int    `mapstructure:"retry_delay"` // 重试基础延迟(毫秒)
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable   bool   `mapstructure:"enable"`   // 是否启用缓存
	Type     string `mapstructure:"type"`     // 缓存类型：memory 或 redis
	Address  string `mapstructure:"address"`  // Redis地址
	Password string `mapstructure:"password"` // Redis密码
	DB       int    `mapstructure:"db"`       // Redis数据库
	TTL      int    `mapstructure:"ttl"`      // 缓存TTL（秒）
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable        bool   `mapstructure:"enable"`         // 是否启用任务队列
	Type          string `mapstructure:"type"`           // 队列类型：redis或memory
	RedisAddr     string `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string `mapstructure:"redis_password"` // Redis密码
	RedisDB       int    `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int    `mapstructure:"concurrency"`    // 任务处理并发数
	RetryLimit    int    `mapstructure:"retry_limit"`    // 任务最大重试次数
	RetryDelay    int    `mapstructure:"retry_delay"`    // 重试延迟(秒)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // 数据库类型: sqlite
	DSN  string `mapstructure:"dsn"`  // 数据源名称
}

// DocumentConfig 文档处理配置
type DocumentConfig struct {
	MinWords int `mapstructure:"min_words"` // 嵌入的最小词数阈值
}

// PipelineConfig 处理流水线配置
type PipelineConfig struct {
	Workers int `mapstructure:"workers"` // 树构建/对比工作协程数
}

// WatcherConfig 文件监控配置
type WatcherConfig struct {
	Enable     bool     `mapstructure:"enable"`     // 是否启用文件监控
	Debounce   int      `mapstructure:"debounce"`   // 去抖间隔(毫秒)
	Extensions []string `mapstructure:"extensions"` // 监控的文件扩展名
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // 日志级别
	File       string `mapstructure:"file"`        // 日志文件路径，为空则输出到stdout
	MaxSize    int    `mapstructure:"max_size"`    // 单个日志文件上限(MB)
	MaxBackups int    `mapstructure:"max_backups"` // 保留的旧日志文件数量
	MaxAge     int    `mapstructure:"max_age"`     // 旧日志保留天数
}

// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	var config Config

	// 设置默认配置路径
	if configPath == "" {
		configPath = "config.yaml" // 默认在当前目录寻找config.yaml
	}

	// 初始化viper
	v := viper.New()

	// 设置配置文件路径和类型
	v.SetConfigFile(configPath)

	// 尝试读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 如果找不到配置文件，创建一个默认配置文件
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found at %s, using defaults", configPath)
			setDefaults(v)
			// 创建默认配置文件
			dir := filepath.Dir(configPath)
			if err := os.MkdirAll(dir, 0755); err == nil {
				if err := v.WriteConfigAs(configPath); err != nil {
					log.Printf("Warning: Could not write default config to %s: %v", configPath, err)
				}
			}
		} else {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
	} else {
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	}

	// 设置默认值
	setDefaults(v)

	// 支持环境变量覆盖
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 解析配置到结构体
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	// 处理配置中的环境变量引用
	resConfig := processEnvironmentVariables(&config)

	return resConfig, nil
}

// processEnvironmentVariables 展开形如 ${VAR} 的配置值
func processEnvironmentVariables(cfg *Config) *Config {
	// 处理嵌入API密钥
	if strings.HasPrefix(cfg.Embed.APIKey, "${") && strings.HasSuffix(cfg.Embed.APIKey, "}") {
		envVar := cfg.Embed.APIKey[2 : len(cfg.Embed.APIKey)-1]
		if envVal := os.Getenv(envVar); envVal != "" {
			cfg.Embed.APIKey = envVal
		}
	}

	// 处理MinIO密钥
	if strings.HasPrefix(cfg.Storage.SecretKey, "${") && strings.HasSuffix(cfg.Storage.SecretKey, "}") {
		envVar := cfg.Storage.SecretKey[2 : len(cfg.Storage.SecretKey)-1]
		if envVal := os.Getenv(envVar); envVal != "" {
			cfg.Storage.SecretKey = envVal
		}
	}

	return cfg
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.root", "./docs")
	v.SetDefault("storage.bucket", "docsync")
	v.SetDefault("storage.use_ssl", false)

	// 哈希默认配置
	v.SetDefault("hashing.algorithm", "sha256")

	// Embedding默认配置
	v.SetDefault("embed.provider", "openai")
	v.SetDefault("embed.model", "text-embedding-3-small")
	v.SetDefault("embed.endpoint", "https://api.openai.com/v1")
	v.SetDefault("embed.batch_size", 16)
	v.SetDefault("embed.max_retries", 3)
	v.SetDefault("embed.retry_delay", 500) // 500毫秒

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", 3600) // 1小时

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.type", "memory")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.retry_limit", 3)
	v.SetDefault("queue.retry_delay", 60) // 60秒

	// 数据库默认配置
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/docsync.db")

	// 文档处理默认配置
	v.SetDefault("document.min_words", 5)

	// 流水线默认配置
	v.SetDefault("pipeline.workers", 4)

	// 文件监控默认配置
	v.SetDefault("watcher.enable", true)
	v.SetDefault("watcher.debounce", 200) // 200毫秒
	v.SetDefault("watcher.extensions", []string{".md", ".markdown", ".txt"})

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
}
