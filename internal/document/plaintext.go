package document

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// PlainTextParser 纯文本解析器
// 按空行分段，每个段落作为一个块
type PlainTextParser struct{}

// NewPlainTextParser 创建纯文本解析器
func NewPlainTextParser() Parser {
	return &PlainTextParser{}
}

// Parse 解析纯文本文件
func (p *PlainTextParser) Parse(filePath string) (*ParsedDocument, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open text file: %v", err)
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader解析纯文本内容
func (p *PlainTextParser) ParseReader(r io.Reader, filename string) (*ParsedDocument, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read text content: %v", err)
	}

	text := strings.ReplaceAll(string(content), "\r\n", "\n")

	var blocks []Block
	offset := 0
	for _, part := range strings.Split(text, "\n\n") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			start := offset + strings.Index(part, trimmed)
			blocks = append(blocks, Block{
				Kind:        KindParagraph,
				Content:     trimmed,
				StartOffset: start,
				EndOffset:   start + len(trimmed),
			})
		}
		offset += len(part) + 2
	}

	parsed := &ParsedDocument{
		Source: filename,
		Blocks: blocks,
		Meta:   map[string]string{},
	}
	parsed.finalize()

	return parsed, nil
}
