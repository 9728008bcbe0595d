package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient OpenAI兼容API的嵌入客户端
type OpenAIClient struct {
	client     *openai.Client // OpenAI API客户端
	model      string         // 使用的嵌入模型
	dimensions int            // 向量维度
	maxRetries int            // 最大重试次数
}

// NewOpenAIClient 创建一个新的OpenAI嵌入客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	model := cfg.Model
	if model == "" || model == "text-embedding-v1" {
		model = "text-embedding-3-small"
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	// 创建OpenAI客户端配置
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		dimensions: dimensions,
		maxRetries: cfg.MaxRetries,
	}, nil
}

// Name 返回提供者标识
func (c *OpenAIClient) Name() string {
	return "openai/" + c.model
}

// Dimensions 返回向量维度
func (c *OpenAIClient) Dimensions() int {
	return c.dimensions
}

// Embed 生成单条文本的向量表示
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || vectors[0] == nil {
		return nil, NewEmbeddingError(ErrCodeServerError, "no embedding vectors returned")
	}
	return vectors[0], nil
}

// EmbedBatch 批量生成文本的向量表示
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, NewEmbeddingError(ErrCodeServerError,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}

	// 按返回的索引还原输入顺序
	result := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index >= 0 && item.Index < len(result) {
			result[item.Index] = item.Embedding
		}
	}
	return result, nil
}

// classifyOpenAIError 将API错误映射到错误码
func classifyOpenAIError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"):
		return NewEmbeddingError(ErrCodeRateLimited, ErrMsgRateLimited)
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	case strings.Contains(msg, "context deadline exceeded"):
		return NewEmbeddingError(ErrCodeTimeout, ErrMsgTimeout)
	default:
		return NewEmbeddingError(ErrCodeNetworkError, fmt.Sprintf("%s: %v", ErrMsgNetworkError, err))
	}
}

// 注册OpenAI客户端
func init() {
	RegisterClient("openai", NewOpenAIClient)
}
