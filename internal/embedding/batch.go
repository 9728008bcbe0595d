package embedding

import (
	"context"
	"sync"

	"github.com/gammazero/workerpool"
)

// DefaultBatchProcessor 默认批处理器
// 将大量文本分批并行提交给嵌入客户端
// 某个批次失败不会丢弃其他批次的结果，失败项以BatchError报告
type DefaultBatchProcessor struct {
	client     Client // 嵌入客户端
	batchSize  int    // 每批处理的文本数量
	maxWorkers int    // 最大并行工作线程数
	skipEmpty  bool   // 是否跳过空文本
}

// NewBatchProcessor 创建新的批处理器
func NewBatchProcessor(client Client, batchSize int, maxWorkers int) *DefaultBatchProcessor {
	if batchSize <= 0 {
		batchSize = 16 // 默认批量大小
	}

	if maxWorkers <= 0 {
		maxWorkers = 4 // 默认工作线程数
	}

	return &DefaultBatchProcessor{
		client:     client,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
		skipEmpty:  true,
	}
}

// Process 处理一批文本，将它们分成多个小批次并行处理
// 返回与输入等长的向量列表；失败项的位置为nil，
// 且错误（若有）是*BatchError，按输入索引记录失败原因
func (p *DefaultBatchProcessor) Process(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	batchErr := NewBatchError()

	// 过滤空文本（如果需要），记录原始索引
	var indices []int
	var filtered []string
	for i, text := range texts {
		if p.skipEmpty && text == "" {
			continue
		}
		indices = append(indices, i)
		filtered = append(filtered, text)
	}

	if len(filtered) == 0 {
		return results, nil
	}

	// 分割成批次
	batches := splitIntoBatches(filtered, p.batchSize)

	// 创建工作池并行处理批次
	wp := workerpool.New(p.maxWorkers)
	var mu sync.Mutex

	offset := 0
	for _, batch := range batches {
		batch := batch
		batchStart := offset
		offset += len(batch)

		wp.Submit(func() {
			// 上下文取消后不再发起新请求
			select {
			case <-ctx.Done():
				mu.Lock()
				for k := range batch {
					batchErr.Add(indices[batchStart+k], ctx.Err())
				}
				mu.Unlock()
				return
			default:
			}

			vectors, err := p.client.EmbedBatch(ctx, batch)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				// 客户端报告的逐项失败保留索引；整体失败记到批次内所有项
				if itemErr, ok := AsBatchError(err); ok {
					for k := range batch {
						origin := indices[batchStart+k]
						if ie, failed := itemErr.ItemErrors[k]; failed {
							batchErr.Add(origin, ie)
						} else if k < len(vectors) {
							results[origin] = vectors[k]
						}
					}
				} else {
					for k := range batch {
						batchErr.Add(indices[batchStart+k], err)
					}
				}
				return
			}

			for k, vec := range vectors {
				results[indices[batchStart+k]] = vec
			}
		})
	}

	// 等待所有任务完成
	wp.StopWait()

	if !batchErr.IsEmpty() {
		return results, batchErr
	}
	return results, nil
}

// splitIntoBatches 将文本列表分割成多个批次
func splitIntoBatches(texts []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = 1
	}

	batches := make([][]string, 0, (len(texts)+batchSize-1)/batchSize)

	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[i:end])
	}

	return batches
}
