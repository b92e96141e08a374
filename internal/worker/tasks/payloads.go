package tasks

// 任务类型
const (
	TypeExecuteRun      = "run:execute"
	TypePurgeSweep      = "retention:purge_sweep"
	TypePurgeRetrySweep = "retention:purge_retry_sweep"
)

// ExecuteRunPayload 运行执行任务载荷
type ExecuteRunPayload struct {
	RunID    string `json:"run_id"`
	TenantID string `json:"tenant_id"`
}

// PurgeSweepPayload 保留期清理扫描任务载荷
type PurgeSweepPayload struct {
	BatchSize  int  `json:"batch_size"`
	MaxBatches int  `json:"max_batches"`
	DryRun     bool `json:"dry_run"`
}

// PurgeRetrySweepPayload 清理重试扫描任务载荷
type PurgeRetrySweepPayload struct {
	BatchSize int `json:"batch_size"`
}
