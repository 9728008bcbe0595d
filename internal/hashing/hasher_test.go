package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHasherDeterminism 测试哈希计算的确定性
func TestHasherDeterminism(t *testing.T) {
	for _, name := range []string{"sha256", "blake2b"} {
		t.Run(name, func(t *testing.T) {
			hasher, err := NewHasher(name)
			require.NoError(t, err)

			data := []byte("# Heading\n\nSome paragraph content here.")
			d1 := hasher.Sum(data)
			d2 := hasher.Sum(data)
			assert.True(t, d1.Equal(d2), "同样的输入应产生同样的摘要")
			assert.Equal(t, hasher.Size(), len(d1))

			// 不同输入应产生不同摘要
			d3 := hasher.Sum([]byte("different content"))
			assert.False(t, d1.Equal(d3))
		})
	}
}

// TestCombineDomainSeparation 测试叶子哈希与内部节点哈希的域分隔
func TestCombineDomainSeparation(t *testing.T) {
	hasher, err := NewHasher("sha256")
	require.NoError(t, err)

	left := hasher.Sum([]byte("left"))
	right := hasher.Sum([]byte("right"))

	parent := hasher.Combine(left, right)
	assert.Equal(t, hasher.Size(), len(parent))

	// 合并结果不等于直接对拼接字节做叶子哈希
	concat := append(append([]byte{}, left...), right...)
	assert.False(t, parent.Equal(hasher.Sum(concat)))

	// 交换左右子节点应产生不同的父哈希
	swapped := hasher.Combine(right, left)
	assert.False(t, parent.Equal(swapped))
}

// TestDigestHexRoundTrip 测试摘要的十六进制编解码
func TestDigestHexRoundTrip(t *testing.T) {
	hasher := NewSHA256Hasher()
	d := hasher.Sum([]byte("hello"))

	parsed, err := ParseHex(d.Hex())
	require.NoError(t, err)
	assert.True(t, d.Equal(parsed))

	_, err = ParseHex("")
	assert.Error(t, err)

	_, err = ParseHex("not-hex!")
	assert.Error(t, err)
}

// TestUnregisteredAlgorithm 测试未注册算法的错误处理
func TestUnregisteredAlgorithm(t *testing.T) {
	_, err := NewHasher("md5")
	assert.Error(t, err)
}
