package document

import (
	"strconv"
	"strings"

	"github.com/fyerfyer/doc-sync-engine/internal/hashing"
)

// BlockKind 块的结构类型
type BlockKind string

const (
	// KindHeading 标题块
	KindHeading BlockKind = "heading"
	// KindParagraph 段落块
	KindParagraph BlockKind = "paragraph"
	// KindList 列表块
	KindList BlockKind = "list"
	// KindCodeBlock 代码块
	KindCodeBlock BlockKind = "codeblock"
	// KindTable 表格块
	KindTable BlockKind = "table"
	// KindQuote 引用块
	KindQuote BlockKind = "quote"
	// KindThematicBreak 分隔线
	KindThematicBreak BlockKind = "break"
)

// Block 文档的语义单元
// 由解析阶段产生，一次解析内不可变
// 身份由位置索引确定，内容由哈希寻址
type Block struct {
	Index       int       // 在文档中的稳定索引
	Kind        BlockKind // 块类型
	Content     string    // 文本内容
	Level       int       // 标题层级（仅标题块）
	Language    string    // 代码语言（仅代码块）
	Links       []string  // 块内的链接目标
	StartOffset int       // 起始字节偏移
	EndOffset   int       // 结束字节偏移
	Words       int       // 词数
}

// 规范化序列化的字段分隔符
const canonicalSep = "\x1f"

// CanonicalBytes 返回块的规范化字节序列，用于哈希计算
// 格式: kind <sep> attr <sep> normalized-content
// 空白折叠后纯排版性的重排不会改变哈希
// 块类型和有语义的属性（标题层级、代码语言）参与哈希，
// 因而类型变化（如段落升级为标题）必然体现为哈希变化
func (b *Block) CanonicalBytes() []byte {
	var sb strings.Builder
	sb.WriteString(string(b.Kind))
	sb.WriteString(canonicalSep)
	sb.WriteString(b.attr())
	sb.WriteString(canonicalSep)
	sb.WriteString(normalizeContent(b.Content))
	return []byte(sb.String())
}

// attr 返回参与哈希的属性串
func (b *Block) attr() string {
	switch b.Kind {
	case KindHeading:
		return strconv.Itoa(b.Level)
	case KindCodeBlock:
		// 代码语言属于块身份的一部分:
		// 相同文本、不同语言的代码块哈希不同
		return b.Language
	default:
		return ""
	}
}

// normalizeContent 折叠连续空白为单个空格
func normalizeContent(content string) string {
	return strings.Join(strings.Fields(content), " ")
}

// Hash 计算块的内容哈希
func (b *Block) Hash(hasher hashing.Hasher) hashing.Digest {
	return hasher.Sum(b.CanonicalBytes())
}

// TooShort 判断块是否低于嵌入的最小词数阈值
// 词数大于minWords才参与嵌入；过短的块仍参与哈希、差异比较和存储
func (b *Block) TooShort(minWords int) bool {
	return b.Words <= minWords
}

// CountWords 统计文本的词数
func CountWords(text string) int {
	return len(strings.Fields(text))
}
