package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConfigOptions 测试配置选项函数
func TestConfigOptions(t *testing.T) {
	cfg := NewConfig(
		WithAPIKey("test-key"),
		WithModel("test-model"),
		WithTimeout(10*time.Second),
		WithMaxRetries(5),
		WithDimensions(512),
		WithBatchSize(8),
	)

	assert.Equal(t, "test-key", cfg.APIKey)
	assert.Equal(t, "test-model", cfg.Model)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 512, cfg.Dimensions)
	assert.Equal(t, 8, cfg.BatchSize)
}

// TestClientRegistry 测试客户端工厂注册
func TestClientRegistry(t *testing.T) {
	t.Run("registered clients", func(t *testing.T) {
		client, err := NewClient("local", WithDimensions(64))
		require.NoError(t, err)
		assert.Equal(t, 64, client.Dimensions())
	})

	t.Run("unregistered client", func(t *testing.T) {
		_, err := NewClient("nonexistent")
		require.Error(t, err)
		assert.False(t, IsRetryable(err), "配置错误不应重试")
	})

	t.Run("missing api key", func(t *testing.T) {
		_, err := NewClient("tongyi")
		assert.Error(t, err)
		_, err = NewClient("openai")
		assert.Error(t, err)
	})
}

// TestLocalClientDeterminism 测试本地客户端的确定性
func TestLocalClientDeterminism(t *testing.T) {
	client, err := NewLocalClient(WithDimensions(128))
	require.NoError(t, err)
	ctx := context.Background()

	v1, err := client.Embed(ctx, "deterministic embedding input")
	require.NoError(t, err)
	v2, err := client.Embed(ctx, "deterministic embedding input")
	require.NoError(t, err)

	assert.Equal(t, v1, v2, "相同文本应产生相同向量")
	assert.Equal(t, 128, len(v1))

	// 不同文本产生不同向量
	v3, err := client.Embed(ctx, "another input")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v3)

	// 向量应是单位向量
	var norm float64
	for _, x := range v1 {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 0.01)
}

// TestLocalClientBatchOrder 测试批量输出顺序与输入一致
func TestLocalClientBatchOrder(t *testing.T) {
	client, err := NewLocalClient(WithDimensions(32))
	require.NoError(t, err)

	texts := []string{"alpha", "beta", "gamma"}
	vectors, err := client.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	for i, text := range texts {
		single, err := client.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, vectors[i], "批量结果第%d项应与单条结果一致", i)
	}
}

// TestLocalClientEmptyInput 测试空输入的错误分类
func TestLocalClientEmptyInput(t *testing.T) {
	client, err := NewLocalClient()
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "")
	require.Error(t, err)
	assert.False(t, IsRetryable(err), "空输入是永久错误")

	// 批量中的空输入报告为逐项失败
	vectors, err := client.EmbedBatch(context.Background(), []string{"ok", "", "also ok"})
	require.Error(t, err)

	batchErr, ok := AsBatchError(err)
	require.True(t, ok, "应返回批量错误")
	assert.Contains(t, batchErr.ItemErrors, 1)
	assert.NotNil(t, vectors[0], "成功项的向量仍然有效")
	assert.Nil(t, vectors[1])
	assert.NotNil(t, vectors[2])
}

// TestIsRetryable 测试错误的瞬时/永久分类
func TestIsRetryable(t *testing.T) {
	retryable := []int{ErrCodeNetworkError, ErrCodeRateLimited, ErrCodeServerError, ErrCodeTimeout}
	for _, code := range retryable {
		assert.True(t, IsRetryable(NewEmbeddingError(code, "x")), "code=%d", code)
	}

	permanent := []int{ErrCodeInvalidAPIKey, ErrCodeInvalidRequest, ErrCodeEmptyInput}
	for _, code := range permanent {
		assert.False(t, IsRetryable(NewEmbeddingError(code, "x")), "code=%d", code)
	}
}
