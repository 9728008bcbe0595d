package hashing

import "golang.org/x/crypto/blake2b"

// Blake2bHasher 基于BLAKE2b-256的哈希实现
// 速度优于SHA-256，适合大文档场景
type Blake2bHasher struct{}

// NewBlake2bHasher 创建BLAKE2b哈希实例
func NewBlake2bHasher() Hasher {
	return &Blake2bHasher{}
}

// Sum 计算数据的内容哈希
func (h *Blake2bHasher) Sum(data []byte) Digest {
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, leafPrefix)
	buf = append(buf, data...)
	sum := blake2b.Sum256(buf)
	return Digest(sum[:])
}

// Combine 合并两个子节点哈希
func (h *Blake2bHasher) Combine(left, right Digest) Digest {
	buf := make([]byte, 0, len(left)+len(right)+1)
	buf = append(buf, interiorPrefix)
	buf = append(buf, left...)
	buf = append(buf, right...)
	sum := blake2b.Sum256(buf)
	return Digest(sum[:])
}

// Algorithm 返回算法名称
func (h *Blake2bHasher) Algorithm() string {
	return "blake2b"
}

// Size 返回摘要长度
func (h *Blake2bHasher) Size() int {
	return blake2b.Size256
}

func init() {
	RegisterHasher("blake2b", NewBlake2bHasher)
}
