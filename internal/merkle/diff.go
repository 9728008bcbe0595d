package merkle

// ChangeSet 两棵哈希树的差异结果
// Changed与Unchanged是新树的索引，Removed是旧树的索引
// 三个集合互不相交，任何索引只出现在其中一个集合中
type ChangeSet struct {
	Changed   []int // 新增或修改的块索引（新树）
	Removed   []int // 被删除的块索引（旧树）
	Unchanged []int // 未变化的块索引（新树）
}

// IsEmpty 判断差异是否为空（没有任何变化）
func (c ChangeSet) IsEmpty() bool {
	return len(c.Changed) == 0 && len(c.Removed) == 0
}

// Diff 比较旧树与新树，产生最小的变化块集合
// 旧树为nil表示文档首次处理，所有块都视为变化
// 块的插入和删除通过叶子哈希序列对齐识别，
// 在文档开头插入一个段落只会产生一个变化块，而不是整体错位
func Diff(old, new *Tree) ChangeSet {
	// 首次处理：全部是新块
	if old == nil || old.LeafCount() == 0 {
		cs := ChangeSet{}
		for i := 0; i < new.LeafCount(); i++ {
			cs.Changed = append(cs.Changed, i)
		}
		if old != nil {
			for i := 0; i < old.LeafCount(); i++ {
				cs.Removed = append(cs.Removed, i)
			}
		}
		return cs
	}

	// 根哈希一致则整棵树一致，直接短路
	if old.Root.Equal(new.Root) {
		cs := ChangeSet{}
		for i := 0; i < new.LeafCount(); i++ {
			cs.Unchanged = append(cs.Unchanged, i)
		}
		return cs
	}

	return alignLeaves(old, new)
}

// alignLeaves 基于最长公共子序列对齐两棵树的叶子哈希
// 对齐的叶子视为未变化；新树中未对齐的是变化块，旧树中未对齐的是删除块
// 同一失配区间内的删除与变化两两配对为原地修改，只报告为变化，
// 因此编辑一个块产生 changed=[i] 而不是 changed=[i]+removed=[i]
func alignLeaves(old, new *Tree) ChangeSet {
	m, n := old.LeafCount(), new.LeafCount()

	// LCS动态规划表
	lcs := make([][]int, m+1)
	for i := range lcs {
		lcs[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if old.Leaf(i).Equal(new.Leaf(j)) {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	cs := ChangeSet{}
	var pendingRemoved, pendingChanged []int

	// flush 结算一个失配区间：配对的删除视为原地修改
	flush := func() {
		paired := len(pendingRemoved)
		if len(pendingChanged) < paired {
			paired = len(pendingChanged)
		}
		cs.Removed = append(cs.Removed, pendingRemoved[paired:]...)
		cs.Changed = append(cs.Changed, pendingChanged...)
		pendingRemoved = pendingRemoved[:0]
		pendingChanged = pendingChanged[:0]
	}

	i, j := 0, 0
	for i < m && j < n {
		if old.Leaf(i).Equal(new.Leaf(j)) {
			flush()
			cs.Unchanged = append(cs.Unchanged, j)
			i++
			j++
		} else if lcs[i+1][j] >= lcs[i][j+1] {
			pendingRemoved = append(pendingRemoved, i)
			i++
		} else {
			pendingChanged = append(pendingChanged, j)
			j++
		}
	}
	for ; i < m; i++ {
		pendingRemoved = append(pendingRemoved, i)
	}
	for ; j < n; j++ {
		pendingChanged = append(pendingChanged, j)
	}
	flush()

	return cs
}
