package document

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownParser Markdown文档解析器
// 将Markdown的顶层结构节点转换为有序的块序列
type MarkdownParser struct{}

// NewMarkdownParser 创建新的Markdown解析器
func NewMarkdownParser() Parser {
	return &MarkdownParser{}
}

// Parse 解析Markdown文件并提取块序列
func (p *MarkdownParser) Parse(filePath string) (*ParsedDocument, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open markdown file: %v", err)
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader解析Markdown内容
func (p *MarkdownParser) ParseReader(r io.Reader, filename string) (*ParsedDocument, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read markdown content: %v", err)
	}

	// 创建Markdown解析器
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	mdParser := parser.NewWithExtensions(extensions)

	// 解析Markdown内容
	doc := mdParser.Parse(content)

	// 遍历顶层结构节点，转换为块
	blocks := extractBlocks(doc, content)

	parsed := &ParsedDocument{
		Source: filename,
		Blocks: blocks,
		Meta:   map[string]string{},
	}
	parsed.finalize()

	return parsed, nil
}

// extractBlocks 将文档的顶层子节点转换为块序列
func extractBlocks(doc ast.Node, source []byte) []Block {
	var blocks []Block
	cursor := 0

	for _, child := range doc.GetChildren() {
		block, ok := convertNode(child)
		if !ok {
			continue
		}

		// 基于首个文本片段在源文件中定位字节偏移（尽力而为）
		start, end := locateBlock(source, cursor, child, block.Content)
		block.StartOffset = start
		block.EndOffset = end
		if end > cursor {
			cursor = end
		}

		blocks = append(blocks, block)
	}

	return blocks
}

// convertNode 将单个结构节点转换为块
// 返回false表示该节点不构成语义块
func convertNode(node ast.Node) (Block, bool) {
	switch n := node.(type) {
	case *ast.Heading:
		return Block{
			Kind:    KindHeading,
			Level:   n.Level,
			Content: collectText(n),
			Links:   collectLinks(n),
		}, true
	case *ast.Paragraph:
		return Block{
			Kind:    KindParagraph,
			Content: collectText(n),
			Links:   collectLinks(n),
		}, true
	case *ast.List:
		return Block{
			Kind:    KindList,
			Content: collectText(n),
			Links:   collectLinks(n),
		}, true
	case *ast.CodeBlock:
		return Block{
			Kind:     KindCodeBlock,
			Language: string(n.Info),
			Content:  strings.TrimRight(string(n.Literal), "\n"),
		}, true
	case *ast.Table:
		return Block{
			Kind:    KindTable,
			Content: collectText(n),
			Links:   collectLinks(n),
		}, true
	case *ast.BlockQuote:
		return Block{
			Kind:    KindQuote,
			Content: collectText(n),
			Links:   collectLinks(n),
		}, true
	case *ast.HorizontalRule:
		return Block{
			Kind: KindThematicBreak,
		}, true
	default:
		return Block{}, false
	}
}

// collectText 收集节点子树中的全部文本内容
func collectText(node ast.Node) string {
	var sb strings.Builder

	ast.WalkFunc(node, func(n ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		switch leaf := n.(type) {
		case *ast.Text:
			sb.Write(leaf.Literal)
		case *ast.Code:
			sb.Write(leaf.Literal)
		case *ast.CodeBlock:
			sb.Write(leaf.Literal)
		case *ast.ListItem:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
		case *ast.TableRow:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
		case *ast.TableCell:
			sb.WriteString(" ")
		}
		return ast.GoToNext
	})

	return strings.TrimSpace(sb.String())
}

// collectLinks 收集节点子树中的链接目标
func collectLinks(node ast.Node) []string {
	var links []string

	ast.WalkFunc(node, func(n ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		switch l := n.(type) {
		case *ast.Link:
			if len(l.Destination) > 0 {
				links = append(links, string(l.Destination))
			}
		case *ast.Image:
			if len(l.Destination) > 0 {
				links = append(links, string(l.Destination))
			}
		}
		return ast.GoToNext
	})

	return links
}

// locateBlock 在源文件中定位块的字节范围
// AST不携带源位置，这里基于内容片段从上一个块的末尾向后搜索
func locateBlock(source []byte, cursor int, node ast.Node, content string) (int, int) {
	probe := firstLiteral(node)
	if probe == "" {
		probe = content
	}
	if probe == "" {
		return cursor, cursor
	}

	idx := bytes.Index(source[cursor:], []byte(probe))
	if idx < 0 {
		return cursor, cursor + len(content)
	}

	start := cursor + idx
	end := start + len(content)
	if end > len(source) {
		end = len(source)
	}
	return start, end
}

// firstLiteral 返回子树中第一个非空文本片段
func firstLiteral(node ast.Node) string {
	var first string

	ast.WalkFunc(node, func(n ast.Node, entering bool) ast.WalkStatus {
		if !entering || first != "" {
			return ast.GoToNext
		}
		if leaf := n.AsLeaf(); leaf != nil && len(leaf.Literal) > 0 {
			s := strings.TrimSpace(string(leaf.Literal))
			if s != "" {
				first = s
				return ast.Terminate
			}
		}
		return ast.GoToNext
	})

	return first
}
