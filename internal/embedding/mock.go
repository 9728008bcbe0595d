package embedding

import (
	"context"
	"sync"
)

// MockClient 测试用嵌入客户端
// 记录调用并支持注入逐项或整体失败
type MockClient struct {
	mu         sync.Mutex
	dimensions int           // 向量维度
	FailIndex  map[int]error // 指定调用内失败的输入索引
	FailAll    error         // 整体失败
	EmbedCalls int           // Embed与EmbedBatch的累计调用次数
	SeenTexts  []string      // 收到过的全部文本
}

// NewMockClient 创建mock客户端
func NewMockClient(dimensions int) *MockClient {
	if dimensions <= 0 {
		dimensions = 4
	}
	return &MockClient{
		dimensions: dimensions,
		FailIndex:  make(map[int]error),
	}
}

// Name 返回提供者标识
func (c *MockClient) Name() string {
	return "mock/test-model"
}

// Dimensions 返回向量维度
func (c *MockClient) Dimensions() int {
	return c.dimensions
}

// Embed 生成单条文本的向量表示
func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量生成文本的向量表示
func (c *MockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.EmbedCalls++
	c.SeenTexts = append(c.SeenTexts, texts...)

	if c.FailAll != nil {
		return nil, c.FailAll
	}

	result := make([][]float32, len(texts))
	batchErr := NewBatchError()
	for i, text := range texts {
		if err, failed := c.FailIndex[i]; failed {
			batchErr.Add(i, err)
			continue
		}
		vec := make([]float32, c.dimensions)
		for j := range vec {
			vec[j] = float32(len(text)%7) + float32(j)
		}
		result[i] = vec
	}

	if !batchErr.IsEmpty() {
		return result, batchErr
	}
	return result, nil
}
