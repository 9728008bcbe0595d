package hashing

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Digest 哈希摘要
// 以原始字节形式保存，存储时使用十六进制编码
type Digest []byte

// Hex 返回摘要的十六进制字符串表示
func (d Digest) Hex() string {
	return hex.EncodeToString(d)
}

// String 实现Stringer接口
func (d Digest) String() string {
	return d.Hex()
}

// Equal 比较两个摘要是否相同
func (d Digest) Equal(other Digest) bool {
	return bytes.Equal(d, other)
}

// IsZero 判断摘要是否为空
func (d Digest) IsZero() bool {
	return len(d) == 0
}

// ParseHex 从十六进制字符串解析摘要
func ParseHex(s string) (Digest, error) {
	if s == "" {
		return nil, fmt.Errorf("empty digest string")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode digest: %v", err)
	}
	return Digest(b), nil
}

// Hasher 哈希算法接口
// 负责块内容哈希和Merkle树节点哈希的计算
// 算法在部署时固定，混用不同算法的哈希值会导致数据损坏
type Hasher interface {
	// Sum 计算数据的内容哈希（叶子节点）
	Sum(data []byte) Digest

	// Combine 将两个子节点哈希合并为父节点哈希
	// 内部节点与叶子节点使用不同的域前缀，防止拼接攻击
	Combine(left, right Digest) Digest

	// Algorithm 返回算法名称
	Algorithm() string

	// Size 返回摘要长度（字节）
	Size() int
}

// 域分隔前缀
// 叶子哈希与内部节点哈希必须不可互换
const (
	leafPrefix     = 0x00
	interiorPrefix = 0x01
)

// Factory 哈希算法工厂函数类型
type Factory func() Hasher

// 全局注册的哈希算法工厂函数
var hasherFactories = make(map[string]Factory)

// RegisterHasher 注册哈希算法工厂函数
func RegisterHasher(name string, factory Factory) {
	hasherFactories[name] = factory
}

// NewHasher 根据名称创建哈希算法实例
func NewHasher(name string) (Hasher, error) {
	factory, exists := hasherFactories[name]
	if !exists {
		return nil, fmt.Errorf("hash algorithm not registered: %s", name)
	}
	return factory(), nil
}

// DefaultAlgorithm 默认哈希算法名称
const DefaultAlgorithm = "sha256"
