package enrich

import (
	"regexp"
	"strings"

	"github.com/fyerfyer/doc-sync-engine/internal/document"
)

// computeMetadata 计算每个块的元数据
// 标题路径基于全文的标题层级推导，与块是否变化无关
func computeMetadata(parsed *document.ParsedDocument) []Metadata {
	metas := make([]Metadata, len(parsed.Blocks))

	// 当前的标题栈，headingStack[i]是第i+1级标题
	var headingStack []string
	var levelStack []int

	for i, block := range parsed.Blocks {
		if block.Kind == document.KindHeading {
			// 弹出不低于当前层级的标题
			for len(levelStack) > 0 && levelStack[len(levelStack)-1] >= block.Level {
				levelStack = levelStack[:len(levelStack)-1]
				headingStack = headingStack[:len(headingStack)-1]
			}
			levelStack = append(levelStack, block.Level)
			headingStack = append(headingStack, block.Content)
		}

		metas[i] = Metadata{
			Words:       block.Words,
			Chars:       len(block.Content),
			HeadingPath: append([]string(nil), headingStack...),
		}
	}

	return metas
}

var (
	// 维基风格链接: [[target]] 或 [[target|label]]
	wikiLinkPattern = regexp.MustCompile(`\[\[([^\[\]|]+)(?:\|[^\[\]]*)?\]\]`)
	// 行内标签: #tag（跟在行首或空白后）
	tagPattern = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_/-]+)`)
)

// inferRelations 推断每个块的关系
// Markdown链接在解析阶段收集；维基链接和标签从文本推断
func inferRelations(parsed *document.ParsedDocument) []Relations {
	rels := make([]Relations, len(parsed.Blocks))

	for i, block := range parsed.Blocks {
		rel := Relations{}

		if len(block.Links) > 0 {
			rel.Links = append([]string(nil), block.Links...)
		}

		// 代码块中的#是注释而不是标签
		if block.Kind != document.KindCodeBlock {
			for _, m := range wikiLinkPattern.FindAllStringSubmatch(block.Content, -1) {
				rel.WikiLinks = append(rel.WikiLinks, strings.TrimSpace(m[1]))
			}
			for _, m := range tagPattern.FindAllStringSubmatch(block.Content, -1) {
				rel.Tags = append(rel.Tags, m[1])
			}
		}

		rels[i] = rel
	}

	return rels
}
