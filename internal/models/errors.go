package models

import "errors"

var (
	// ErrFileNotFound 文件记录不存在错误
	ErrFileNotFound = errors.New("file record not found")

	// ErrBlockNotFound 块记录不存在错误
	ErrBlockNotFound = errors.New("block not found")

	// ErrEmbeddingNotFound 嵌入记录不存在错误
	ErrEmbeddingNotFound = errors.New("embedding not found")

	// ErrTreeNotFound 哈希树记录不存在错误
	ErrTreeNotFound = errors.New("merkle tree not found")
)
