package enrich

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/fyerfyer/doc-sync-engine/internal/blockstore"
	"github.com/fyerfyer/doc-sync-engine/internal/document"
	"github.com/fyerfyer/doc-sync-engine/internal/embedding"
	"github.com/fyerfyer/doc-sync-engine/internal/merkle"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Orchestrator 富化编排器
// 对变化块并发执行嵌入生成、元数据计算和关系推断，
// 汇总为EnrichedDocument
// 嵌入生成跳过太短的块和哈希已有存储嵌入的块（内容寻址复用）
type Orchestrator struct {
	embedder   embedding.Client  // 嵌入模型客户端
	store      *blockstore.Store // 内容寻址块存储
	minWords   int               // 嵌入的最小词数阈值
	batchSize  int               // 批处理大小
	maxRetries int               // 瞬时错误的最大重试次数
	retryDelay time.Duration     // 重试基础延迟
	logger     *logrus.Logger    // 日志记录器
}

// OrchestratorOption 编排器配置选项
type OrchestratorOption func(*Orchestrator)

// WithMinWords 设置嵌入的最小词数阈值
func WithMinWords(minWords int) OrchestratorOption {
	return func(o *Orchestrator) {
		if minWords >= 0 {
			o.minWords = minWords
		}
	}
}

// WithBatchSize 设置批处理大小
func WithBatchSize(size int) OrchestratorOption {
	return func(o *Orchestrator) {
		if size > 0 {
			o.batchSize = size
		}
	}
}

// WithMaxRetries 设置瞬时错误的最大重试次数
func WithMaxRetries(retries int) OrchestratorOption {
	return func(o *Orchestrator) {
		if retries >= 0 {
			o.maxRetries = retries
		}
	}
}

// WithRetryDelay 设置重试基础延迟
func WithRetryDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if delay > 0 {
			o.retryDelay = delay
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator 创建富化编排器
func NewOrchestrator(embedder embedding.Client, store *blockstore.Store, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		embedder:   embedder,
		store:      store,
		minWords:   5,
		batchSize:  16,
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
		logger:     logrus.New(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enrich 富化变化块并汇总结果
// 提供者对部分块失败时仍返回成功块的富化结果，
// 失败的块索引记入FailedBlocks等待重试，而不是丢弃整个文档
func (o *Orchestrator) Enrich(ctx context.Context, parsed *document.ParsedDocument, tree *merkle.Tree, changeSet merkle.ChangeSet) (*EnrichedDocument, error) {
	if parsed == nil || tree == nil {
		return nil, errors.New("parsed document and tree cannot be nil")
	}

	enriched := make([]*EnrichedBlock, 0, len(changeSet.Changed))
	for _, idx := range changeSet.Changed {
		block := parsed.Blocks[idx]
		enriched = append(enriched, &EnrichedBlock{
			Block:    block,
			Hash:     tree.Leaf(idx),
			TooShort: block.TooShort(o.minWords),
		})
	}

	var metas []Metadata
	var rels []Relations

	// 嵌入生成、元数据计算和关系推断并发执行，汇合后组装
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return o.embedChanged(gctx, enriched)
	})
	g.Go(func() error {
		metas = computeMetadata(parsed)
		return nil
	})
	g.Go(func() error {
		rels = inferRelations(parsed)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	doc := &EnrichedDocument{
		Parsed:       parsed,
		Tree:         tree,
		Blocks:       enriched,
		UnchangedRef: append([]int(nil), changeSet.Unchanged...),
		Provider:     o.embedder.Name(),
	}

	for _, eb := range enriched {
		eb.Metadata = metas[eb.Block.Index]
		eb.Relations = rels[eb.Block.Index]
		if eb.Failed {
			doc.FailedBlocks = append(doc.FailedBlocks, eb.Block.Index)
		}
	}
	sort.Ints(doc.FailedBlocks)

	o.logger.WithFields(logrus.Fields{
		"source":   parsed.Source,
		"changed":  len(changeSet.Changed),
		"failed":   len(doc.FailedBlocks),
		"provider": doc.Provider,
	}).Info("Document enrichment assembled")

	return doc, nil
}

// embedChanged 为变化块生成嵌入
// 跳过太短的块；哈希已有存储嵌入的块标记为复用，不再调用提供者
func (o *Orchestrator) embedChanged(ctx context.Context, enriched []*EnrichedBlock) error {
	provider := o.embedder.Name()

	// 去重查询：内容寻址复用已有嵌入
	var pending []*EnrichedBlock
	for _, eb := range enriched {
		if eb.TooShort {
			continue
		}

		has, err := o.store.HasEmbedding(ctx, eb.Hash, provider)
		if err != nil {
			return err
		}
		if has {
			eb.Embedded = true
			eb.Reused = true
			continue
		}
		pending = append(pending, eb)
	}

	if len(pending) == 0 {
		return nil
	}

	texts := make([]string, len(pending))
	for i, eb := range pending {
		texts[i] = eb.Block.Content
	}

	vectors, itemErrs := o.embedWithRetry(ctx, texts)
	for i, eb := range pending {
		if itemErr, failed := itemErrs[i]; failed {
			eb.Failed = true
			o.logger.WithFields(logrus.Fields{
				"block_index": eb.Block.Index,
				"hash":        eb.Hash.Hex(),
			}).WithError(itemErr).Warn("Embedding failed for block, flagged for retry")
			continue
		}
		eb.Embedding = vectors[i]
		eb.Embedded = true
	}

	return nil
}

// embedWithRetry 带退避重试的批量嵌入
// 只重试瞬时错误；永久错误立即定格为该项的失败
func (o *Orchestrator) embedWithRetry(ctx context.Context, texts []string) ([][]float32, map[int]error) {
	processor := embedding.NewBatchProcessor(o.embedder, o.batchSize, 4)

	results := make([][]float32, len(texts))
	failed := make(map[int]error)

	// remaining保存待处理项的原始索引
	remaining := make([]int, len(texts))
	for i := range texts {
		remaining[i] = i
	}

	for attempt := 0; attempt <= o.maxRetries && len(remaining) > 0; attempt++ {
		if attempt > 0 {
			// 指数退避
			select {
			case <-ctx.Done():
				for _, origin := range remaining {
					failed[origin] = ctx.Err()
				}
				return results, failed
			case <-time.After(o.retryDelay * time.Duration(1<<(attempt-1))):
			}
		}

		batch := make([]string, len(remaining))
		for i, origin := range remaining {
			batch[i] = texts[origin]
		}

		vectors, err := processor.Process(ctx, batch)

		var retry []int
		if err == nil {
			for i, origin := range remaining {
				results[origin] = vectors[i]
				delete(failed, origin)
			}
			remaining = nil
			break
		}

		batchErr, ok := embedding.AsBatchError(err)
		if !ok {
			// 未分类的整体失败，全部项按瞬时错误处理
			for _, origin := range remaining {
				failed[origin] = err
				retry = append(retry, origin)
			}
			remaining = retry
			continue
		}

		for i, origin := range remaining {
			itemErr, failedItem := batchErr.ItemErrors[i]
			if !failedItem {
				results[origin] = vectors[i]
				delete(failed, origin)
				continue
			}
			failed[origin] = itemErr
			if embedding.IsRetryable(itemErr) {
				retry = append(retry, origin)
			}
		}
		remaining = retry
	}

	return results, failed
}
