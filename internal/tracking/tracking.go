package tracking

import (
	"context"

	"validibot/internal/logger"

	"go.uber.org/zap"
)

// 运行生命周期事件名
const (
	EventRunStarted     = "run_started"
	EventRunSucceeded   = "run_succeeded"
	EventRunFailed      = "run_failed"
	EventRunCanceled    = "run_canceled"
	EventActionExecuted = "action_executed"
)

// Tracker 业务事件上报接口
// 运行编排器在生命周期节点上发事件，宿主方可接入自己的分析管道
type Tracker interface {
	Emit(ctx context.Context, event string, props map[string]any)
}

// LogTracker 把事件写入结构化日志的默认实现
type LogTracker struct{}

// NewLogTracker 创建日志上报实现
func NewLogTracker() *LogTracker {
	return &LogTracker{}
}

// Emit 实现 Tracker 接口
func (t *LogTracker) Emit(ctx context.Context, event string, props map[string]any) {
	fields := make([]zap.Field, 0, len(props)+1)
	fields = append(fields, zap.String("event", event))
	for k, v := range props {
		fields = append(fields, zap.Any(k, v))
	}
	logger.WithContext(ctx).Info("业务事件", fields...)
}

// NopTracker 丢弃一切事件，测试用
type NopTracker struct{}

// Emit 实现 Tracker 接口
func (NopTracker) Emit(ctx context.Context, event string, props map[string]any) {}
