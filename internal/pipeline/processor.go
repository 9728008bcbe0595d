package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fyerfyer/doc-sync-engine/internal/blockstore"
	"github.com/fyerfyer/doc-sync-engine/internal/document"
	"github.com/fyerfyer/doc-sync-engine/internal/enrich"
	"github.com/fyerfyer/doc-sync-engine/internal/hashing"
	"github.com/fyerfyer/doc-sync-engine/internal/merkle"
	"github.com/fyerfyer/doc-sync-engine/internal/models"
	"github.com/fyerfyer/doc-sync-engine/internal/repository"
	"github.com/fyerfyer/doc-sync-engine/pkg/storage"
	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"
)

// Processor 文档处理流水线
// 按 过滤→解析→比对→富化→存储 五个阶段处理单个文件，
// 文件未变化时在过滤阶段提前退出
type Processor struct {
	source   storage.Source            // 源文档存储
	repo     repository.FileRepository // 文件仓储
	store    *blockstore.Store         // 内容寻址块存储
	orch     *enrich.Orchestrator      // 富化编排器
	hasher   hashing.Hasher            // 哈希算法
	versions *versionTable             // 每个文件的运行令牌
	pool     *workerpool.WorkerPool    // CPU密集任务的工作池
	logger   *logrus.Logger            // 日志记录器
}

// ProcessorOption 处理器配置选项
type ProcessorOption func(*Processor)

// WithHasher 设置哈希算法
func WithHasher(h hashing.Hasher) ProcessorOption {
	return func(p *Processor) {
		if h != nil {
			p.hasher = h
		}
	}
}

// WithWorkers 设置CPU工作池大小
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.pool = workerpool.New(n)
		}
	}
}

// WithProcessorLogger 设置日志记录器
func WithProcessorLogger(logger *logrus.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProcessor 创建文档处理流水线
func NewProcessor(source storage.Source, repo repository.FileRepository, store *blockstore.Store, orch *enrich.Orchestrator, opts ...ProcessorOption) (*Processor, error) {
	hasher, err := hashing.NewHasher(hashing.DefaultAlgorithm)
	if err != nil {
		return nil, err
	}

	p := &Processor{
		source:   source,
		repo:     repo,
		store:    store,
		orch:     orch,
		hasher:   hasher,
		versions: newVersionTable(),
		pool:     workerpool.New(4),
		logger:   logrus.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Stop 等待工作池排空并停止
func (p *Processor) Stop() {
	p.pool.StopWait()
}

// ProcessFile 处理单个文件
// 流水线错误只影响本文件，批量调用方可以继续处理其他文件
func (p *Processor) ProcessFile(ctx context.Context, path string) (*ProcessingOutcome, error) {
	start := time.Now()
	token := p.versions.Begin(path)
	outcome := &ProcessingOutcome{Path: path}

	log := p.logger.WithField("path", path)

	// 阶段一：快速过滤
	info, err := p.source.Stat(ctx, path)
	if err != nil {
		return nil, newError(ErrKindIO, path, err)
	}
	data, err := p.source.Read(ctx, path)
	if err != nil {
		return nil, newError(ErrKindIO, path, err)
	}
	fileHash := p.hasher.Sum(data).Hex()

	existing, err := p.repo.GetFile(ctx, path)
	if err != nil && !errors.Is(err, models.ErrFileNotFound) {
		return nil, newError(ErrKindStorage, path, err)
	}
	// 快速跳过要求修改时间和整文件哈希同时一致；
	// 上一轮失败的文件即使内容未变也重新走完整流水线
	if existing != nil && existing.Status == models.FileStatusCompleted &&
		existing.FileHash == fileHash && existing.ModTime.Equal(info.ModTime) {
		outcome.Skipped = true
		outcome.Duration = time.Since(start)
		log.Debug("File unchanged, skipping")
		return outcome, nil
	}

	if existing != nil {
		if err := p.repo.UpdateFileStatus(ctx, path, models.FileStatusProcessing, ""); err != nil {
			log.WithError(err).Warn("Failed to mark file as processing")
		}
	}

	// 阶段二：解析
	parser, err := document.ParserFactory(path)
	if err != nil {
		p.markFailed(ctx, path, existing, err)
		return nil, newError(ErrKindParse, path, err)
	}
	parsed, err := parser.ParseReader(bytes.NewReader(data), path)
	if err != nil {
		p.markFailed(ctx, path, existing, err)
		return nil, newError(ErrKindParse, path, err)
	}
	parsed.Source = path

	// 块哈希和树构建是CPU密集操作，放到有界工作池上执行
	var tree *merkle.Tree
	p.pool.SubmitWait(func() {
		leaves := make([]hashing.Digest, len(parsed.Blocks))
		for i := range parsed.Blocks {
			leaves[i] = parsed.Blocks[i].Hash(p.hasher)
		}
		tree = merkle.Build(p.hasher, leaves)
	})

	// 阶段三：比对
	oldTree, err := p.loadStoredTree(ctx, path)
	if err != nil {
		p.markFailed(ctx, path, existing, err)
		return nil, err
	}
	oldEnriched, err := p.repo.ListEnrichedBlocks(ctx, path)
	if err != nil {
		p.markFailed(ctx, path, existing, err)
		return nil, newError(ErrKindStorage, path, err)
	}

	var changeSet merkle.ChangeSet
	p.pool.SubmitWait(func() {
		changeSet = merkle.Diff(oldTree, tree)
	})
	changeSet = p.requeueFailedBlocks(changeSet, tree, oldEnriched)

	// 阶段四：富化
	doc, err := p.orch.Enrich(ctx, parsed, tree, changeSet)
	if err != nil {
		p.markFailed(ctx, path, existing, err)
		return nil, newError(ErrKindProvider, path, err)
	}

	outcome.Changed = len(changeSet.Changed)
	outcome.Reused = len(changeSet.Unchanged)
	outcome.Removed = len(changeSet.Removed)
	outcome.Failed = doc.FailedBlocks

	// 阶段五：存储
	// 提交前校验运行令牌，被更新的运行取代时放弃写入
	if !p.versions.IsCurrent(path, token) {
		log.Info("Processing run superseded, aborting before commit")
		return nil, ErrSuperseded
	}

	newBlocks, err := p.putNewBlocks(ctx, doc)
	if err != nil {
		p.markFailed(ctx, path, existing, err)
		return nil, newError(ErrKindStorage, path, err)
	}
	outcome.NewBlocks = newBlocks

	state, negatives, err := p.buildState(path, fileHash, info, parsed, tree, doc, oldEnriched)
	if err != nil {
		p.markFailed(ctx, path, existing, err)
		return nil, newError(ErrKindStorage, path, err)
	}
	if err := p.repo.StoreDocument(ctx, state); err != nil {
		p.markFailed(ctx, path, existing, err)
		return nil, newError(ErrKindStorage, path, err)
	}

	// 引用归零的旧块在提交后清理
	for _, hash := range negatives {
		if _, err := p.store.DeleteIfUnreferenced(ctx, hash); err != nil {
			log.WithError(err).WithField("hash", hash.Hex()).Warn("Failed to clean up unreferenced block")
		}
	}

	outcome.Duration = time.Since(start)
	log.WithFields(logrus.Fields{
		"changed":    outcome.Changed,
		"reused":     outcome.Reused,
		"new_blocks": outcome.NewBlocks,
		"removed":    outcome.Removed,
		"failed":     len(outcome.Failed),
		"duration":   outcome.Duration,
	}).Info("File processed")

	return outcome, nil
}

// DeleteFile 处理文件删除事件
// 递减块引用并删除文件的全部记录，不做重新处理
func (p *Processor) DeleteFile(ctx context.Context, path string) (*ProcessingOutcome, error) {
	start := time.Now()
	// 使同文件的在途运行失效
	p.versions.Begin(path)

	oldEnriched, err := p.repo.ListEnrichedBlocks(ctx, path)
	if err != nil {
		return nil, newError(ErrKindStorage, path, err)
	}

	if err := p.repo.RemoveDocument(ctx, path); err != nil {
		return nil, newError(ErrKindStorage, path, err)
	}
	p.versions.Forget(path)

	p.logger.WithFields(logrus.Fields{
		"path":    path,
		"removed": len(oldEnriched),
	}).Info("File removed")

	return &ProcessingOutcome{
		Path:     path,
		Removed:  len(oldEnriched),
		Duration: time.Since(start),
	}, nil
}

// loadStoredTree 加载并重建文件的既有哈希树
// 算法与当前配置不同的旧树视为没有历史（整文件重新处理），
// 自身不一致的树报告为损坏
func (p *Processor) loadStoredTree(ctx context.Context, path string) (*merkle.Tree, error) {
	record, err := p.repo.LoadTree(ctx, path)
	if errors.Is(err, models.ErrTreeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newError(ErrKindStorage, path, err)
	}
	if record.Algorithm != p.hasher.Algorithm() {
		return nil, nil
	}

	var hexLeaves []string
	if err := json.Unmarshal(record.Leaves, &hexLeaves); err != nil {
		return nil, newError(ErrKindInconsistent, path, fmt.Errorf("undecodable leaf list: %v", err))
	}

	leaves := make([]hashing.Digest, len(hexLeaves))
	for i, h := range hexLeaves {
		leaves[i], err = hashing.ParseHex(h)
		if err != nil {
			return nil, newError(ErrKindInconsistent, path, fmt.Errorf("undecodable leaf %d: %v", i, err))
		}
	}

	root, err := hashing.ParseHex(record.RootHash)
	if err != nil {
		return nil, newError(ErrKindInconsistent, path, fmt.Errorf("undecodable root hash: %v", err))
	}

	tree := &merkle.Tree{
		Algorithm: record.Algorithm,
		Leaves:    leaves,
		Root:      root,
	}
	if err := tree.Verify(p.hasher); err != nil {
		return nil, newError(ErrKindInconsistent, path, err)
	}
	return tree, nil
}

// requeueFailedBlocks 将上一轮富化失败且本轮未变化的块重新纳入变化集
// 不重新纳入的话这些块会一直停留在失败状态
func (p *Processor) requeueFailedBlocks(cs merkle.ChangeSet, tree *merkle.Tree, oldEnriched []*models.EnrichedBlockRecord) merkle.ChangeSet {
	failedHashes := make(map[string]bool)
	for _, row := range oldEnriched {
		if row.Failed {
			failedHashes[row.BlockHash] = true
		}
	}
	if len(failedHashes) == 0 {
		return cs
	}

	var unchanged []int
	for _, idx := range cs.Unchanged {
		if failedHashes[tree.Leaf(idx).Hex()] {
			cs.Changed = append(cs.Changed, idx)
			continue
		}
		unchanged = append(unchanged, idx)
	}
	cs.Unchanged = unchanged
	sort.Ints(cs.Changed)
	return cs
}

// putNewBlocks 以内容寻址语义写入变化块，返回首次入库的数量
func (p *Processor) putNewBlocks(ctx context.Context, doc *enrich.EnrichedDocument) (int, error) {
	newBlocks := 0
	for _, eb := range doc.Blocks {
		existed, err := p.store.PutIfAbsent(ctx, eb.Hash, &eb.Block)
		if err != nil {
			return newBlocks, err
		}
		if !existed {
			newBlocks++
		}
	}
	return newBlocks, nil
}

// buildState 组装一次处理待持久化的完整状态
// 返回状态和引用计数净减少的块哈希（提交后尝试清理）
func (p *Processor) buildState(path, fileHash string, info storage.SourceInfo, parsed *document.ParsedDocument, tree *merkle.Tree, doc *enrich.EnrichedDocument, oldEnriched []*models.EnrichedBlockRecord) (*repository.DocumentState, []hashing.Digest, error) {
	now := time.Now()

	// 有失败块的文件保持等待状态，下一轮运行会重试这些块
	status := models.FileStatusCompleted
	errMsg := ""
	if len(doc.FailedBlocks) > 0 {
		status = models.FileStatusPending
		errMsg = fmt.Sprintf("%d block(s) failed enrichment", len(doc.FailedBlocks))
	}

	file := &models.FileRecord{
		Path:        path,
		FileHash:    fileHash,
		ModTime:     info.ModTime,
		FileSize:    info.Size,
		Status:      status,
		BlockCount:  len(parsed.Blocks),
		WordCount:   parsed.WordCount,
		ProcessedAt: &now,
		Error:       errMsg,
	}

	treeRecord, err := encodeTree(path, tree)
	if err != nil {
		return nil, nil, err
	}

	// 旧富化行按哈希索引，未变化位置从中继承富化产物
	oldByHash := make(map[string]*models.EnrichedBlockRecord)
	for _, row := range oldEnriched {
		oldByHash[row.BlockHash] = row
	}

	enrichedByIndex := make(map[int]*enrich.EnrichedBlock)
	for _, eb := range doc.Blocks {
		enrichedByIndex[eb.Block.Index] = eb
	}

	rows := make([]*models.EnrichedBlockRecord, 0, len(parsed.Blocks))
	var embeddings []*models.EmbeddingRecord
	for i := range parsed.Blocks {
		hash := tree.Leaf(i).Hex()

		if eb, changed := enrichedByIndex[i]; changed {
			metaJSON, err := json.Marshal(eb.Metadata)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to encode metadata: %v", err)
			}
			relJSON, err := json.Marshal(eb.Relations)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to encode relations: %v", err)
			}
			rows = append(rows, &models.EnrichedBlockRecord{
				FilePath:   path,
				BlockIndex: i,
				BlockHash:  hash,
				Kind:       string(eb.Block.Kind),
				Embedded:   eb.Embedded,
				Failed:     eb.Failed,
				Metadata:   metaJSON,
				Relations:  relJSON,
			})

			if eb.Embedded && !eb.Reused && eb.Embedding != nil {
				vecJSON, err := json.Marshal(eb.Embedding)
				if err != nil {
					return nil, nil, fmt.Errorf("failed to encode embedding: %v", err)
				}
				embeddings = append(embeddings, &models.EmbeddingRecord{
					BlockHash:  hash,
					Provider:   doc.Provider,
					Vector:     vecJSON,
					Dimensions: len(eb.Embedding),
				})
			}
			continue
		}

		// 未变化位置继承上一轮的富化产物
		old, ok := oldByHash[hash]
		if !ok {
			return nil, nil, fmt.Errorf("no prior enrichment found for unchanged block %d", i)
		}
		rows = append(rows, &models.EnrichedBlockRecord{
			FilePath:   path,
			BlockIndex: i,
			BlockHash:  hash,
			Kind:       old.Kind,
			Embedded:   old.Embedded,
			Failed:     old.Failed,
			Metadata:   old.Metadata,
			Relations:  old.Relations,
		})
	}

	// 引用计数变更：新版本的引用数减去旧版本的引用数
	refDeltas := make(map[string]int)
	for i := 0; i < tree.LeafCount(); i++ {
		refDeltas[tree.Leaf(i).Hex()]++
	}
	for _, row := range oldEnriched {
		refDeltas[row.BlockHash]--
	}

	var negatives []hashing.Digest
	for hash, delta := range refDeltas {
		if delta >= 0 {
			continue
		}
		digest, err := hashing.ParseHex(hash)
		if err != nil {
			return nil, nil, fmt.Errorf("undecodable block hash %s: %v", hash, err)
		}
		negatives = append(negatives, digest)
	}

	return &repository.DocumentState{
		File:       file,
		Tree:       treeRecord,
		Enriched:   rows,
		Embeddings: embeddings,
		RefDeltas:  refDeltas,
	}, negatives, nil
}

// encodeTree 将哈希树编码为存储记录
func encodeTree(path string, tree *merkle.Tree) (*models.MerkleTreeRecord, error) {
	hexLeaves := make([]string, tree.LeafCount())
	for i := range hexLeaves {
		hexLeaves[i] = tree.Leaf(i).Hex()
	}
	leavesJSON, err := json.Marshal(hexLeaves)
	if err != nil {
		return nil, fmt.Errorf("failed to encode leaf list: %v", err)
	}

	return &models.MerkleTreeRecord{
		FilePath:  path,
		Algorithm: tree.Algorithm,
		RootHash:  tree.RootHex(),
		Leaves:    leavesJSON,
		LeafCount: tree.LeafCount(),
	}, nil
}

// markFailed 将文件标记为失败状态，尽力而为
func (p *Processor) markFailed(ctx context.Context, path string, existing *models.FileRecord, cause error) {
	if existing == nil {
		return
	}
	if err := p.repo.UpdateFileStatus(ctx, path, models.FileStatusFailed, cause.Error()); err != nil {
		p.logger.WithField("path", path).WithError(err).Warn("Failed to record failure status")
	}
}
