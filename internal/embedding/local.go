package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// LocalClient 本地确定性嵌入客户端
// 不依赖外部服务，基于文本内容的哈希投影生成单位向量
// 适合离线部署和流水线自测；不提供语义质量保证
type LocalClient struct {
	model      string // 模型名称
	dimensions int    // 向量维度
}

// NewLocalClient 创建本地嵌入客户端
func NewLocalClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = 256
	}

	model := cfg.Model
	if model == "" || model == "text-embedding-v1" {
		model = "hash-projection-v1"
	}

	return &LocalClient{
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Name 返回提供者标识
func (c *LocalClient) Name() string {
	return "local/" + c.model
}

// Dimensions 返回向量维度
func (c *LocalClient) Dimensions() int {
	return c.dimensions
}

// Embed 生成单条文本的向量表示
func (c *LocalClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, NewEmbeddingError(ErrCodeTimeout, err.Error())
	}
	return c.project(text), nil
}

// EmbedBatch 批量生成文本的向量表示
func (c *LocalClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	result := make([][]float32, len(texts))
	batchErr := NewBatchError()
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, NewEmbeddingError(ErrCodeTimeout, err.Error())
		}
		if text == "" {
			batchErr.Add(i, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput))
			continue
		}
		result[i] = c.project(text)
	}

	if !batchErr.IsEmpty() {
		return result, batchErr
	}
	return result, nil
}

// project 将文本哈希展开为归一化向量
// 同样的文本在任何机器上产生同样的向量
func (c *LocalClient) project(text string) []float32 {
	vec := make([]float32, c.dimensions)
	seed := sha256.Sum256([]byte(text))

	var norm float64
	counter := uint64(0)
	buf := make([]byte, len(seed)+8)
	copy(buf, seed[:])

	for i := 0; i < c.dimensions; i += 8 {
		binary.BigEndian.PutUint64(buf[len(seed):], counter)
		counter++
		block := sha256.Sum256(buf)
		for j := 0; j < 8 && i+j < c.dimensions; j++ {
			bits := binary.BigEndian.Uint32(block[j*4 : j*4+4])
			// 映射到[-1, 1)
			v := float32(int32(bits)) / float32(math.MaxInt32)
			vec[i+j] = v
			norm += float64(v) * float64(v)
		}
	}

	// 归一化为单位向量
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// 注册本地客户端
func init() {
	RegisterClient("local", NewLocalClient)
}
