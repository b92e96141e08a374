package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validibot_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "validibot_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 运行执行指标
var (
	// RunsTotal 校验运行总数，按终态与工作流分类
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validibot_runs_total",
			Help: "校验运行总数",
		},
		[]string{"status", "workflow_id"},
	)

	// RunsRunning 正在执行的运行数量
	RunsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "validibot_runs_running",
			Help: "正在执行的运行数量",
		},
	)

	// StepDuration 单步执行耗时（秒）
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "validibot_step_duration_seconds",
			Help:    "单步执行耗时分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300},
		},
		[]string{"validator_kind", "backend"},
	)

	// StepFailuresTotal 步骤硬失败总数
	StepFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validibot_step_failures_total",
			Help: "步骤硬失败总数",
		},
		[]string{"validator_kind", "backend"},
	)
)

// 幂等指标
var (
	// IdempotencyResultsTotal 幂等键裁决结果总数
	IdempotencyResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validibot_idempotency_results_total",
			Help: "幂等键裁决结果总数",
		},
		[]string{"result"}, // created, replayed, in_flight, mismatch
	)
)

// 保留期清理指标
var (
	// PurgeResultsTotal 清理尝试总数
	PurgeResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validibot_purge_results_total",
			Help: "提交内容清理尝试总数",
		},
		[]string{"result"}, // purged, skipped, failed, parked
	)

	// PurgeRetryBacklog 待重试的清理任务数
	PurgeRetryBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "validibot_purge_retry_backlog",
			Help: "待重试的清理任务数",
		},
	)
)
