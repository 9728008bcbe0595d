package pipeline

import "time"

// Phase 处理阶段
type Phase string

const (
	PhaseFiltering Phase = "filtering"
	PhaseParsing   Phase = "parsing"
	PhaseDiffing   Phase = "diffing"
	PhaseEnriching Phase = "enriching"
	PhaseStoring   Phase = "storing"
	PhaseDone      Phase = "done"
)

// ProcessingOutcome 一次文件处理的结果汇总
type ProcessingOutcome struct {
	Path      string        // 文件路径
	Skipped   bool          // 快速过滤阶段提前退出（文件未变化）
	Changed   int           // 变化块数量（新增或修改）
	Reused    int           // 未变化块数量（复用既有富化）
	NewBlocks int           // 首次入库的块数量（内容寻址未命中）
	Removed   int           // 旧版本中被删除的块位置数量
	Failed    []int         // 富化失败待重试的块索引
	Duration  time.Duration // 处理耗时
}

// Processed 判断本次运行是否执行了完整处理
func (o *ProcessingOutcome) Processed() bool {
	return !o.Skipped
}
