package hashing

import "crypto/sha256"

// SHA256Hasher 基于SHA-256的哈希实现
// 默认算法，哈希值同时用作跨文档去重键，因此需要抗碰撞强度
type SHA256Hasher struct{}

// NewSHA256Hasher 创建SHA-256哈希实例
func NewSHA256Hasher() Hasher {
	return &SHA256Hasher{}
}

// Sum 计算数据的内容哈希
func (h *SHA256Hasher) Sum(data []byte) Digest {
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, leafPrefix)
	buf = append(buf, data...)
	sum := sha256.Sum256(buf)
	return Digest(sum[:])
}

// Combine 合并两个子节点哈希
func (h *SHA256Hasher) Combine(left, right Digest) Digest {
	buf := make([]byte, 0, len(left)+len(right)+1)
	buf = append(buf, interiorPrefix)
	buf = append(buf, left...)
	buf = append(buf, right...)
	sum := sha256.Sum256(buf)
	return Digest(sum[:])
}

// Algorithm 返回算法名称
func (h *SHA256Hasher) Algorithm() string {
	return "sha256"
}

// Size 返回摘要长度
func (h *SHA256Hasher) Size() int {
	return sha256.Size
}

func init() {
	RegisterHasher("sha256", NewSHA256Hasher)
}
