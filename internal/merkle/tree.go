package merkle

import (
	"errors"
	"fmt"

	"github.com/fyerfyer/doc-sync-engine/internal/hashing"
)

// 常用错误定义
var (
	// ErrAlgorithmMismatch 树的哈希算法与当前部署不一致
	ErrAlgorithmMismatch = errors.New("merkle tree hash algorithm mismatch")
	// ErrCorruptTree 树的叶子序列无法复原存储的根哈希
	ErrCorruptTree = errors.New("merkle tree is corrupt")
)

// Tree 文档块哈希上的有序哈希树
// 根哈希概括整个文档的内容身份:
// 相同的块序列和内容必然产生相同的根，与进程和机器无关
type Tree struct {
	Algorithm string           // 构建时使用的哈希算法
	Leaves    []hashing.Digest // 有序的叶子哈希（每个块一个）
	Root      hashing.Digest   // 根哈希
}

// Build 从有序的块哈希序列构建哈希树
// 纯函数，确定性；任何块的内容、数量或顺序变化都会改变根哈希
func Build(hasher hashing.Hasher, leaves []hashing.Digest) *Tree {
	tree := &Tree{
		Algorithm: hasher.Algorithm(),
		Leaves:    leaves,
		Root:      computeRoot(hasher, leaves),
	}
	return tree
}

// computeRoot 自底向上逐层两两合并计算根哈希
// 奇数层的末尾节点直接晋级到上一层
func computeRoot(hasher hashing.Hasher, leaves []hashing.Digest) hashing.Digest {
	if len(leaves) == 0 {
		// 空文档的根定义为空字节序列的叶子哈希
		return hasher.Sum(nil)
	}

	level := make([]hashing.Digest, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([]hashing.Digest, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hasher.Combine(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}

	return level[0]
}

// LeafCount 返回叶子数量（即块数量）
func (t *Tree) LeafCount() int {
	if t == nil {
		return 0
	}
	return len(t.Leaves)
}

// Leaf 返回指定索引的叶子哈希
func (t *Tree) Leaf(i int) hashing.Digest {
	return t.Leaves[i]
}

// RootHex 返回根哈希的十六进制表示
func (t *Tree) RootHex() string {
	return t.Root.Hex()
}

// Verify 校验树的完整性
// 从叶子重建根哈希，与记录的根不一致说明数据损坏，
// 算法不一致说明部署中混用了哈希算法，两者都不允许静默修复
func (t *Tree) Verify(hasher hashing.Hasher) error {
	if t.Algorithm != hasher.Algorithm() {
		return fmt.Errorf("%w: stored=%s active=%s",
			ErrAlgorithmMismatch, t.Algorithm, hasher.Algorithm())
	}

	root := computeRoot(hasher, t.Leaves)
	if !root.Equal(t.Root) {
		return fmt.Errorf("%w: recomputed root %s does not match stored root %s",
			ErrCorruptTree, root.Hex(), t.Root.Hex())
	}

	return nil
}
