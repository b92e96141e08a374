package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"validibot/internal/retention"
	"validibot/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// RetentionHandler 保留期清理任务处理器
type RetentionHandler struct {
	purger *retention.Purger
	logger *zap.Logger
}

// NewRetentionHandler 创建保留期清理处理器
func NewRetentionHandler(purger *retention.Purger, logger *zap.Logger) *RetentionHandler {
	return &RetentionHandler{purger: purger, logger: logger}
}

// HandlePurgeSweep 处理保留期清理扫描任务
func (h *RetentionHandler) HandlePurgeSweep(ctx context.Context, t *asynq.Task) error {
	var payload tasks.PurgeSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload failed: %w", err)
	}

	report, err := h.purger.Sweep(ctx, payload.BatchSize, payload.MaxBatches, payload.DryRun)
	if err != nil {
		h.logger.Error("保留期清理扫描失败", zap.Error(err))
		return err
	}

	h.logger.Info("保留期清理扫描完成",
		zap.Int("purged", report.Purged),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Bool("reached_max", report.ReachedMax),
	)
	return nil
}

// HandlePurgeRetrySweep 处理清理重试扫描任务
func (h *RetentionHandler) HandlePurgeRetrySweep(ctx context.Context, t *asynq.Task) error {
	var payload tasks.PurgeRetrySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload failed: %w", err)
	}

	report, err := h.purger.RetrySweep(ctx, payload.BatchSize)
	if err != nil {
		h.logger.Error("清理重试扫描失败", zap.Error(err))
		return err
	}

	h.logger.Info("清理重试扫描完成",
		zap.Int("purged", report.Purged),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return nil
}
