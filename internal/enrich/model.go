package enrich

import (
	"github.com/fyerfyer/doc-sync-engine/internal/document"
	"github.com/fyerfyer/doc-sync-engine/internal/hashing"
	"github.com/fyerfyer/doc-sync-engine/internal/merkle"
)

// Metadata 块的计算元数据
type Metadata struct {
	Words       int      `json:"words"`                  // 词数
	Chars       int      `json:"chars"`                  // 字符数
	HeadingPath []string `json:"heading_path,omitempty"` // 所处的标题路径
}

// Relations 块的推断关系
type Relations struct {
	Links     []string `json:"links,omitempty"`      // Markdown链接目标
	WikiLinks []string `json:"wiki_links,omitempty"` // 维基风格链接
	Tags      []string `json:"tags,omitempty"`       // 标签
}

// EnrichedBlock 富化后的块
// 在块之上附加嵌入向量、元数据和关系
// 下一次富化会产生新的实例取代本实例，不做原地修改
type EnrichedBlock struct {
	Block     document.Block // 原始块
	Hash      hashing.Digest // 块内容哈希
	Embedding []float32      // 嵌入向量（太短或失败时为nil）
	Embedded  bool           // 是否有可用嵌入（新生成或复用）
	Reused    bool           // 嵌入是否复用自内容寻址存储
	TooShort  bool           // 低于最小词数阈值，不参与嵌入
	Failed    bool           // 嵌入生成失败，待重试
	Metadata  Metadata       // 计算的元数据
	Relations Relations      // 推断的关系
}

// EnrichedDocument 一次富化的完整产物
// 包含解析结果、新哈希树、变化块的富化结果，
// 以及未变化块按哈希对既有富化的引用
// 作为单个原子单元交给存储层持久化
type EnrichedDocument struct {
	Parsed       *document.ParsedDocument // 解析结果
	Tree         *merkle.Tree             // 新的哈希树
	Blocks       []*EnrichedBlock         // 变化块的富化结果（按块索引排序）
	UnchangedRef []int                    // 未变化块的索引（复用既有富化）
	FailedBlocks []int                    // 失败待重试的块索引
	Provider     string                   // 使用的嵌入提供者标识
}
