package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioSource MinIO对象存储的源文档实现
// 文档路径即桶内的对象键
type MinioSource struct {
	client *minio.Client // MinIO客户端
	bucket string        // 存储桶名称
}

// MinioConfig MinIO存储配置
type MinioConfig struct {
	Endpoint  string // MinIO服务端点
	AccessKey string // 访问密钥ID
	SecretKey string // 秘密访问密钥
	UseSSL    bool   // 是否使用SSL
	Bucket    string // 存储桶名称
}

// NewMinioSource 创建MinIO存储实例
func NewMinioSource(cfg MinioConfig) (*MinioSource, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %v", err)
	}

	// 检查存储桶是否存在
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %v", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	return &MinioSource{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Read 读取文档的完整内容
func (s *MinioSource) Read(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %v", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read object: %v", err)
	}
	return data, nil
}

// Stat 获取文档的元数据
func (s *MinioSource) Stat(ctx context.Context, path string) (SourceInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return SourceInfo{}, ErrNotFound
		}
		return SourceInfo{}, fmt.Errorf("failed to stat object: %v", err)
	}

	return SourceInfo{
		Path:    path,
		Size:    info.Size,
		ModTime: info.LastModified,
	}, nil
}

// List 列出指定前缀下的所有文档
func (s *MinioSource) List(ctx context.Context, prefix string) ([]SourceInfo, error) {
	var docs []SourceInfo

	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %v", object.Err)
		}
		docs = append(docs, SourceInfo{
			Path:    object.Key,
			Size:    object.Size,
			ModTime: object.LastModified,
		})
	}

	return docs, nil
}

// Exists 检查文档是否存在
func (s *MinioSource) Exists(ctx context.Context, path string) (bool, error) {
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
	RegisterSource("minio", func(cfg interface{}) (Source, error) {
		minioCfg, ok := cfg.(MinioConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for minio storage")
		}
		return NewMinioSource(minioCfg)
	})
}
