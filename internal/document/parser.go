package document

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// Parser 文档解析器接口
// 负责将不同格式的文档解析为有序的块序列
type Parser interface {
	// Parse 解析文档，返回解析结果
	Parse(filePath string) (*ParsedDocument, error)

	// ParseReader 从Reader解析文档
	// filename用于确定文档类型
	ParseReader(r io.Reader, filename string) (*ParsedDocument, error)
}

// ContentType 表示文档的内容类型
type ContentType string

const (
	// Markdown 文档类型
	Markdown ContentType = "markdown"
	// PlainText 纯文本类型
	PlainText ContentType = "plaintext"
	// Unknown 未知类型
	Unknown ContentType = "unknown"
)

// ParserFactory 解析器工厂函数，根据文件类型创建对应的解析器
func ParserFactory(filePath string) (Parser, error) {
	contentType := detectContentType(filePath)

	switch contentType {
	case Markdown:
		return NewMarkdownParser(), nil
	case PlainText:
		return NewPlainTextParser(), nil
	default:
		return nil, errors.New("unsupported document type")
	}
}

// detectContentType 根据文件扩展名检测内容类型
func detectContentType(filePath string) ContentType {
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".md", ".markdown":
		return Markdown
	case ".txt":
		return PlainText
	default:
		return Unknown
	}
}

// ParsedDocument 解析后的文档结构
// 结构元数据（词数、字符数）在解析阶段计算，不在富化阶段计算
type ParsedDocument struct {
	Source    string            // 源文件路径
	Blocks    []Block           // 有序的块序列
	WordCount int               // 全文词数
	CharCount int               // 全文字符数
	Meta      map[string]string // 元数据（可选）
}

// finalize 回填块索引并统计文档级的结构元数据
func (d *ParsedDocument) finalize() {
	d.WordCount = 0
	d.CharCount = 0
	for i := range d.Blocks {
		d.Blocks[i].Index = i
		d.Blocks[i].Words = CountWords(d.Blocks[i].Content)
		d.WordCount += d.Blocks[i].Words
		d.CharCount += len(d.Blocks[i].Content)
	}
}
