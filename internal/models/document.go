package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FileStatus 文件处理状态类型
type FileStatus string

const (
	// FileStatusPending 文件等待处理
	FileStatusPending FileStatus = "pending"
	// FileStatusProcessing 文件处理中
	FileStatusProcessing FileStatus = "processing"
	// FileStatusCompleted 文件处理完成
	FileStatusCompleted FileStatus = "completed"
	// FileStatusFailed 文件处理失败，需要人工检查
	FileStatusFailed FileStatus = "failed"
)

// FileRecord 文件数据模型
// 记录文件的整体哈希与处理状态，用于快速过滤阶段
type FileRecord struct {
	Path         string         `gorm:"primaryKey"`         // 文件路径，主键
	FileHash     string         `gorm:"not null;index"`     // 整文件内容哈希
	ModTime      time.Time      `gorm:"not null"`           // 文件修改时间
	FileSize     int64          `gorm:"not null;default:0"` // 文件大小（字节）
	Status       FileStatus     `gorm:"not null;index"`     // 处理状态
	BlockCount   int            `gorm:"not null;default:0"` // 块数量
	WordCount    int            `gorm:"not null;default:0"` // 全文词数
	ProcessedAt  *time.Time     `gorm:"index"`              // 最近处理完成时间
	UpdatedAt    time.Time      `gorm:"not null"`           // 更新时间
	Error        string         `gorm:"type:text"`          // 错误信息
	Metadata     datatypes.JSON `gorm:"type:json"`          // 元数据，JSON格式
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (f *FileRecord) BeforeCreate(tx *gorm.DB) (err error) {
	f.UpdatedAt = time.Now()
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (f *FileRecord) BeforeUpdate(tx *gorm.DB) (err error) {
	f.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (FileRecord) TableName() string {
	return "files"
}

// MerkleTreeRecord 哈希树数据模型
// 每个文件一棵树，叶子哈希序列以JSON数组存储
type MerkleTreeRecord struct {
	FilePath  string         `gorm:"primaryKey"`        // 文件路径，主键
	Algorithm string         `gorm:"not null;size:32"`  // 构建时使用的哈希算法
	RootHash  string         `gorm:"not null;index"`    // 根哈希（十六进制）
	Leaves    datatypes.JSON `gorm:"type:json"`         // 叶子哈希序列（十六进制数组）
	LeafCount int            `gorm:"not null;default:0"` // 叶子数量
	UpdatedAt time.Time      `gorm:"not null"`          // 更新时间
}

// BeforeCreate GORM的钩子函数
func (m *MerkleTreeRecord) BeforeCreate(tx *gorm.DB) (err error) {
	m.UpdatedAt = time.Now()
	return nil
}

// BeforeUpdate GORM的钩子函数
func (m *MerkleTreeRecord) BeforeUpdate(tx *gorm.DB) (err error) {
	m.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (MerkleTreeRecord) TableName() string {
	return "merkle_trees"
}

// BlockRecord 内容寻址的块数据模型
// 以内容哈希为主键，被N个文档共享的块只存储一次
// RefCount记录引用该块的文档位置数量，归零后才允许删除
type BlockRecord struct {
	Hash      string    `gorm:"primaryKey"`         // 块内容哈希（十六进制），主键
	Kind      string    `gorm:"not null;size:20"`   // 块类型
	Content   string    `gorm:"type:text;not null"` // 块文本内容
	Words     int       `gorm:"not null;default:0"` // 词数
	RefCount  int       `gorm:"not null;default:0"` // 引用计数
	CreatedAt time.Time `gorm:"not null"`           // 创建时间
	UpdatedAt time.Time `gorm:"not null"`           // 更新时间
}

// BeforeCreate GORM的钩子函数
func (b *BlockRecord) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

// BeforeUpdate GORM的钩子函数
func (b *BlockRecord) BeforeUpdate(tx *gorm.DB) (err error) {
	b.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (BlockRecord) TableName() string {
	return "blocks"
}

// EmbeddingRecord 嵌入向量数据模型
// 以(块哈希, 提供者标识)为键，创建后不做原地更新:
// 更换模型会产生新的记录而不是覆盖旧记录
type EmbeddingRecord struct {
	ID         uint           `gorm:"primaryKey;autoIncrement"`                   // 主键ID
	BlockHash  string         `gorm:"not null;index;uniqueIndex:idx_hash_provider"` // 块内容哈希
	Provider   string         `gorm:"not null;size:100;uniqueIndex:idx_hash_provider"` // 提供者/模型标识
	Vector     datatypes.JSON `gorm:"type:json;not null"`                         // 向量（JSON数组）
	Dimensions int            `gorm:"not null"`                                   // 向量维度
	CreatedAt  time.Time      `gorm:"not null"`                                   // 生成时间
}

// BeforeCreate GORM的钩子函数
func (e *EmbeddingRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (EmbeddingRecord) TableName() string {
	return "embeddings"
}

// EnrichedBlockRecord 富化结果数据模型
// 记录文件中每个位置的块引用及其富化产物
// 同一位置的下一次富化会取代（而不是修改）本条记录
type EnrichedBlockRecord struct {
	ID         uint           `gorm:"primaryKey;autoIncrement"`              // 主键ID
	FilePath   string         `gorm:"not null;index;uniqueIndex:idx_file_block"` // 所属文件路径
	BlockIndex int            `gorm:"not null;uniqueIndex:idx_file_block"`   // 块位置索引
	BlockHash  string         `gorm:"not null;index"`                        // 块内容哈希
	Kind       string         `gorm:"not null;size:20"`                      // 块类型
	Embedded   bool           `gorm:"not null;default:false"`                // 是否已生成嵌入
	Failed     bool           `gorm:"not null;default:false"`                // 富化失败待重试
	Metadata   datatypes.JSON `gorm:"type:json"`                             // 计算的元数据
	Relations  datatypes.JSON `gorm:"type:json"`                             // 推断的关系（链接、标签）
	CreatedAt  time.Time      `gorm:"not null"`                              // 创建时间
	UpdatedAt  time.Time      `gorm:"not null"`                              // 更新时间
}

// BeforeCreate GORM的钩子函数
func (e *EnrichedBlockRecord) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

// BeforeUpdate GORM的钩子函数
func (e *EnrichedBlockRecord) BeforeUpdate(tx *gorm.DB) (err error) {
	e.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (EnrichedBlockRecord) TableName() string {
	return "enriched_blocks"
}
