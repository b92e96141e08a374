package run

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"validibot/internal/authz"
	"validibot/internal/cache"
	"validibot/internal/common"
	"validibot/internal/logger"
	"validibot/internal/metrics"
	"validibot/internal/tracking"
	"validibot/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Enqueuer 异步执行队列的最小接口，由 queue.Client 实现
type Enqueuer interface {
	EnqueueExecuteRun(ctx context.Context, runID, tenantID string) error
}

// LaunchParams 发起运行的参数
type LaunchParams struct {
	TenantID     string
	UserID       string
	WorkflowID   string
	SubmissionID string
	// Async 为真时只入队不等待执行
	Async bool
}

// Orchestrator 运行编排器
// 负责运行的发起、状态机推进、逐步执行与终态汇总
type Orchestrator struct {
	db        *gorm.DB
	processor *StepProcessor
	capable   authz.Capability
	tracker   tracking.Tracker
	wfCache   *cache.WorkflowCache
	enqueuer  Enqueuer
}

// NewOrchestrator 创建运行编排器
func NewOrchestrator(db *gorm.DB, processor *StepProcessor, capable authz.Capability, tracker tracking.Tracker, wfCache *cache.WorkflowCache, enqueuer Enqueuer) *Orchestrator {
	if capable == nil {
		capable = authz.NewAllowAll()
	}
	if tracker == nil {
		tracker = tracking.NopTracker{}
	}
	return &Orchestrator{
		db:        db,
		processor: processor,
		capable:   capable,
		tracker:   tracker,
		wfCache:   wfCache,
		enqueuer:  enqueuer,
	}
}

// loadWorkflow 加载工作流定义（含有序步骤），优先走缓存
func (o *Orchestrator) loadWorkflow(ctx context.Context, tenantID, workflowID string) (*validation.Workflow, *common.BusinessError) {
	if o.wfCache != nil {
		if workflow, ok := o.wfCache.Get(ctx, tenantID, workflowID); ok {
			return workflow, nil
		}
	}

	var workflow validation.Workflow
	err := o.db.WithContext(ctx).
		Scopes(common.NotDeleted()).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&workflow, "id = ? AND tenant_id = ?", workflowID, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewBusinessErrorWithCode(common.CodeWorkflowNotFound)
		}
		return nil, common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("加载工作流失败: %v", err))
	}

	if o.wfCache != nil {
		o.wfCache.Set(ctx, &workflow)
	}
	return &workflow, nil
}

// Launch 发起一次校验运行
// PENDING 状态的运行记录先落库，之后才开始（或入队）执行，
// 保证轮询方任何时刻都能看到这条运行
func (o *Orchestrator) Launch(ctx context.Context, params LaunchParams) (*validation.ValidationRun, *common.BusinessError) {
	workflow, bizErr := o.loadWorkflow(ctx, params.TenantID, params.WorkflowID)
	if bizErr != nil {
		return nil, bizErr
	}

	if !workflow.IsActive || !workflow.HasSteps() {
		return nil, common.NewBusinessErrorWithCode(common.CodeWorkflowNotExecutable)
	}

	var submissionID *string
	if params.SubmissionID != "" {
		var submission validation.Submission
		err := o.db.WithContext(ctx).First(&submission, "id = ? AND tenant_id = ?", params.SubmissionID, params.TenantID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, common.NewBusinessErrorWithCode(common.CodeSubmissionNotFound)
			}
			return nil, common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("加载提交内容失败: %v", err))
		}
		if !workflow.AcceptsContentType(submission.ContentType) {
			return nil, common.NewBusinessError(common.CodeUnsupportedContentType,
				fmt.Sprintf("workflow does not accept content type %s", submission.ContentType))
		}
		submissionID = &submission.ID
	}

	allowed, reason, err := o.capable.CanLaunch(ctx, params.TenantID, params.UserID, params.WorkflowID)
	if err != nil {
		return nil, common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("权限裁决失败: %v", err))
	}
	if !allowed {
		if reason == "" {
			reason = common.ErrorMessages[common.CodeForbidden]
		}
		return nil, common.NewBusinessError(common.CodeForbidden, reason)
	}

	run := &validation.ValidationRun{
		ID:           uuid.NewString(),
		TenantID:     params.TenantID,
		WorkflowID:   params.WorkflowID,
		SubmissionID: submissionID,
		Status:       validation.RunStatusPending,
		TriggeredBy:  params.UserID,
	}
	if err := o.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("创建运行记录失败: %v", err))
	}

	if params.Async && o.enqueuer != nil {
		if err := o.enqueuer.EnqueueExecuteRun(ctx, run.ID, run.TenantID); err != nil {
			// 入队失败时立刻置为失败，避免运行永远停留在 PENDING
			now := time.Now()
			o.db.WithContext(ctx).Model(run).
				Where("status = ?", validation.RunStatusPending).
				Updates(map[string]any{
					"status":   validation.RunStatusFailed,
					"ended_at": &now,
					"error":    fmt.Sprintf("failed to enqueue run: %v", err),
				})
			return nil, common.NewBusinessError(common.CodeRunExecutionFailed, fmt.Sprintf("入队执行任务失败: %v", err))
		}
		return run, nil
	}

	if err := o.Execute(ctx, run.ID); err != nil {
		return nil, common.NewBusinessError(common.CodeRunExecutionFailed, err.Error())
	}

	// 返回执行后的最新状态
	refreshed, bizErr := o.GetRun(ctx, params.TenantID, run.ID)
	if bizErr != nil {
		return run, nil
	}
	return refreshed, nil
}

// Execute 执行一次运行的全部步骤
// 可以被同步路径和队列 worker 重复调用：已经不处于 PENDING 的运行是空操作
func (o *Orchestrator) Execute(ctx context.Context, runID string) error {
	var run validation.ValidationRun
	if err := o.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		return fmt.Errorf("加载运行记录失败: %w", err)
	}
	if run.Status.IsTerminal() {
		return nil
	}

	// 条件更新承担并发仲裁：只有一个执行方能把 PENDING 推进到 RUNNING
	now := time.Now()
	res := o.db.WithContext(ctx).Model(&validation.ValidationRun{}).
		Where("id = ? AND status = ?", runID, validation.RunStatusPending).
		Updates(map[string]any{
			"status":     validation.RunStatusRunning,
			"started_at": &now,
		})
	if res.Error != nil {
		return fmt.Errorf("推进运行状态失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	metrics.RunsRunning.Inc()
	defer metrics.RunsRunning.Dec()

	o.tracker.Emit(ctx, tracking.EventRunStarted, map[string]any{
		"run_id":      run.ID,
		"workflow_id": run.WorkflowID,
		"tenant_id":   run.TenantID,
	})

	workflow, bizErr := o.loadWorkflow(ctx, run.TenantID, run.WorkflowID)
	if bizErr != nil {
		return o.finalizeWithError(ctx, &run, bizErr.Message)
	}

	var submission *validation.Submission
	if run.SubmissionID != nil {
		var s validation.Submission
		err := o.db.WithContext(ctx).First(&s, "id = ?", *run.SubmissionID).Error
		if err == nil {
			submission = &s
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return o.finalizeWithError(ctx, &run, fmt.Sprintf("加载提交内容失败: %v", err))
		}
		// 提交内容在运行前被删除：submission 保持 nil，
		// 步骤处理器会为每个校验器步骤产出对应的失败问题
	}

	steps := make([]validation.WorkflowStep, len(workflow.Steps))
	copy(steps, workflow.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })

	runCtx := &validation.RunContext{
		RunID:    run.ID,
		TenantID: run.TenantID,
		Signals:  make(map[string]any),
	}

	var (
		stepRuns      []validation.StepRun
		findings      []validation.Finding
		failingStepID string
		canceled      bool
	)

	for i := range steps {
		step := &steps[i]

		// 每步执行前检查取消标记，让取消尽快生效
		var current validation.ValidationRun
		if err := o.db.WithContext(ctx).Select("status").First(&current, "id = ?", run.ID).Error; err == nil {
			if current.Status == validation.RunStatusCanceled {
				canceled = true
				break
			}
		}

		outcome := o.processor.Process(ctx, step, &run, submission, runCtx)

		stepRun := validation.StepRun{
			ID:            uuid.NewString(),
			RunID:         run.ID,
			StepID:        step.ID,
			Position:      step.Position,
			ValidatorName: outcome.ValidatorName,
			BackendName:   outcome.BackendName,
			Status:        outcome.Status,
			Output:        outcome.Output,
			Error:         outcome.Error,
			StartedAt:     &outcome.StartedAt,
			CompletedAt:   &outcome.CompletedAt,
		}
		if err := o.db.WithContext(ctx).Create(&stepRun).Error; err != nil {
			logger.WithContext(ctx).Error("持久化步骤运行失败", zap.String("run_id", run.ID), zap.Error(err))
		}

		for _, fd := range outcome.Findings {
			finding := validation.Finding{
				ID:        uuid.NewString(),
				RunID:     run.ID,
				StepRunID: stepRun.ID,
				Path:      fd.Path,
				Message:   fd.Message,
				Severity:  fd.Severity,
				RuleID:    fd.RuleID,
			}
			if err := o.db.WithContext(ctx).Create(&finding).Error; err != nil {
				logger.WithContext(ctx).Error("持久化问题失败", zap.String("run_id", run.ID), zap.Error(err))
				continue
			}
			findings = append(findings, finding)
		}

		stepRuns = append(stepRuns, stepRun)
		if outcome.Status == validation.RunStatusFailed && failingStepID == "" {
			failingStepID = step.ID
		}

		// 后续步骤可见的上游信号
		if outcome.Output != nil {
			runCtx.Signals[step.ID] = outcome.Output
		}
	}

	if canceled {
		endedAt := time.Now()
		o.db.WithContext(ctx).Model(&validation.ValidationRun{}).
			Where("id = ? AND ended_at IS NULL", run.ID).
			Update("ended_at", &endedAt)
		o.tracker.Emit(ctx, tracking.EventRunCanceled, map[string]any{
			"run_id":     run.ID,
			"step_count": len(stepRuns),
		})
		metrics.RunsTotal.WithLabelValues(string(validation.RunStatusCanceled), run.WorkflowID).Inc()
		return nil
	}

	summary := validation.ComputeRunSummary(stepRuns, findings)
	finalStatus := validation.RunStatusSucceeded
	if summary.ErrorCount > 0 || summary.FailedStepCount > 0 {
		finalStatus = validation.RunStatusFailed
	}

	// 终态写入同样是条件更新：运行若已被并发取消则保持 CANCELED
	endedAt := time.Now()
	res = o.db.WithContext(ctx).Model(&validation.ValidationRun{}).
		Where("id = ? AND status = ?", run.ID, validation.RunStatusRunning).
		Select("status", "ended_at", "summary").
		Updates(&validation.ValidationRun{
			Status:  finalStatus,
			EndedAt: &endedAt,
			Summary: summary,
		})
	if res.Error != nil {
		return fmt.Errorf("写入运行终态失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		logger.WithContext(ctx).Info("运行在执行期间被取消", zap.String("run_id", run.ID))
		return nil
	}

	metrics.RunsTotal.WithLabelValues(string(finalStatus), run.WorkflowID).Inc()

	event := tracking.EventRunSucceeded
	props := map[string]any{
		"run_id":     run.ID,
		"step_count": len(stepRuns),
	}
	if finalStatus == validation.RunStatusFailed {
		event = tracking.EventRunFailed
		props["failing_step_id"] = failingStepID
		props["error_count"] = summary.ErrorCount
	}
	o.tracker.Emit(ctx, event, props)

	return nil
}

// finalizeWithError 把运行推进到 FAILED 并记录顶层错误
func (o *Orchestrator) finalizeWithError(ctx context.Context, run *validation.ValidationRun, message string) error {
	endedAt := time.Now()
	err := o.db.WithContext(ctx).Model(&validation.ValidationRun{}).
		Where("id = ? AND status = ?", run.ID, validation.RunStatusRunning).
		Updates(map[string]any{
			"status":   validation.RunStatusFailed,
			"ended_at": &endedAt,
			"error":    message,
		}).Error
	if err != nil {
		return fmt.Errorf("写入运行失败状态出错: %w", err)
	}
	metrics.RunsTotal.WithLabelValues(string(validation.RunStatusFailed), run.WorkflowID).Inc()
	o.tracker.Emit(ctx, tracking.EventRunFailed, map[string]any{
		"run_id": run.ID,
		"error":  message,
	})
	return nil
}

// Cancel 取消一次运行
// 终态运行不可取消；返回值指示本次调用是否真正完成了取消
func (o *Orchestrator) Cancel(ctx context.Context, tenantID, runID string) (*validation.ValidationRun, bool, *common.BusinessError) {
	endedAt := time.Now()
	res := o.db.WithContext(ctx).Model(&validation.ValidationRun{}).
		Where("id = ? AND tenant_id = ? AND status IN ?", runID, tenantID,
			[]validation.RunStatus{validation.RunStatusPending, validation.RunStatusRunning}).
		Updates(map[string]any{
			"status":   validation.RunStatusCanceled,
			"ended_at": &endedAt,
		})
	if res.Error != nil {
		return nil, false, common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("取消运行失败: %v", res.Error))
	}

	run, bizErr := o.GetRun(ctx, tenantID, runID)
	if bizErr != nil {
		return nil, false, bizErr
	}

	canceled := res.RowsAffected > 0
	if canceled {
		o.tracker.Emit(ctx, tracking.EventRunCanceled, map[string]any{"run_id": runID})
	}
	return run, canceled, nil
}

// GetRun 查询单次运行及其步骤与问题
func (o *Orchestrator) GetRun(ctx context.Context, tenantID, runID string) (*validation.ValidationRun, *common.BusinessError) {
	var run validation.ValidationRun
	err := o.db.WithContext(ctx).
		Preload("StepRuns", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("Findings").
		First(&run, "id = ? AND tenant_id = ?", runID, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewBusinessErrorWithCode(common.CodeRunNotFound)
		}
		return nil, common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("加载运行记录失败: %v", err))
	}
	return &run, nil
}

// ListRuns 分页查询运行记录，workflowID 与 status 为可选过滤条件
func (o *Orchestrator) ListRuns(ctx context.Context, tenantID, workflowID string, status validation.RunStatus, page *common.PaginationRequest) ([]validation.ValidationRun, int64, *common.BusinessError) {
	query := o.db.WithContext(ctx).Model(&validation.ValidationRun{}).Where("tenant_id = ?", tenantID)
	if workflowID != "" {
		query = query.Where("workflow_id = ?", workflowID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("统计运行记录失败: %v", err))
	}

	var runs []validation.ValidationRun
	err := query.Order("created_at DESC").
		Offset(page.GetOffset()).
		Limit(page.GetPageSize()).
		Find(&runs).Error
	if err != nil {
		return nil, 0, common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("查询运行记录失败: %v", err))
	}
	return runs, total, nil
}

// AdminOverrideStatus 管理员强制覆盖运行状态
// 绕过状态机校验，仅用于人工修复卡死的运行，必须留痕
func (o *Orchestrator) AdminOverrideStatus(ctx context.Context, runID string, status validation.RunStatus, operator string) error {
	logger.WithContext(ctx).Warn("管理员强制覆盖运行状态",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.String("operator", operator),
	)
	updates := map[string]any{"status": status}
	if status.IsTerminal() {
		now := time.Now()
		updates["ended_at"] = &now
	}
	return o.db.WithContext(ctx).Model(&validation.ValidationRun{}).
		Where("id = ?", runID).
		Updates(updates).Error
}
