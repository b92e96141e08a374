package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"validibot/internal/validation/run"
	"validibot/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// RunHandler 运行执行任务处理器
type RunHandler struct {
	orchestrator *run.Orchestrator
	logger       *zap.Logger
}

// NewRunHandler 创建运行执行处理器
func NewRunHandler(orchestrator *run.Orchestrator, logger *zap.Logger) *RunHandler {
	return &RunHandler{orchestrator: orchestrator, logger: logger}
}

// HandleExecuteRun 处理运行执行任务
func (h *RunHandler) HandleExecuteRun(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ExecuteRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload failed: %w", err)
	}

	h.logger.Info("开始执行运行任务",
		zap.String("run_id", payload.RunID),
		zap.String("tenant_id", payload.TenantID),
	)

	if err := h.orchestrator.Execute(ctx, payload.RunID); err != nil {
		h.logger.Error("运行任务执行失败",
			zap.String("run_id", payload.RunID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
