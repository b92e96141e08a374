package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"validibot/internal/logger"
	"validibot/internal/metrics"
	"validibot/internal/tracking"
	"validibot/internal/validation"
	"validibot/internal/validation/backends"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StepOutcome 单个步骤的处理结果
// 步骤级失败在这里被吸收为 FAILED 结果，永远不会以 error 形态向上传播
type StepOutcome struct {
	Status        validation.RunStatus
	Findings      []validation.FindingData
	Output        map[string]any
	Error         string
	ValidatorName string
	BackendName   string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// StepProcessor 步骤处理器
// 负责单个步骤的解析、前置检查与执行；不触碰运行级状态
type StepProcessor struct {
	db                *gorm.DB
	registry          *backends.Registry
	tracker           tracking.Tracker
	runTimeout        time.Duration
	simulationTimeout time.Duration
}

// NewStepProcessor 创建步骤处理器
func NewStepProcessor(db *gorm.DB, registry *backends.Registry, tracker tracking.Tracker, runTimeout, simulationTimeout time.Duration) *StepProcessor {
	if runTimeout <= 0 {
		runTimeout = 5 * time.Second
	}
	if simulationTimeout <= 0 {
		simulationTimeout = 300 * time.Second
	}
	if tracker == nil {
		tracker = tracking.NopTracker{}
	}
	return &StepProcessor{
		db:                db,
		registry:          registry,
		tracker:           tracker,
		runTimeout:        runTimeout,
		simulationTimeout: simulationTimeout,
	}
}

// Process 处理单个步骤
// 所有失败路径都归一化为 FAILED 结果加一条合成的 ERROR 问题，
// 保证编排器可以无条件继续执行后续步骤
func (p *StepProcessor) Process(ctx context.Context, step *validation.WorkflowStep, run *validation.ValidationRun, submission *validation.Submission, runCtx *validation.RunContext) *StepOutcome {
	started := time.Now()

	ref, err := step.Ref()
	if err != nil {
		return p.failed(started, "", "", fmt.Sprintf("step reference is invalid: %v", err))
	}

	// 动作步骤：当前只做事件上报，不产生问题
	if ref.Kind == validation.StepKindAction {
		p.tracker.Emit(ctx, tracking.EventActionExecuted, map[string]any{
			"run_id":    run.ID,
			"step_id":   step.ID,
			"action_id": ref.ID,
		})
		return &StepOutcome{
			Status:      validation.RunStatusSucceeded,
			Output:      map[string]any{"action_id": ref.ID},
			StartedAt:   started,
			CompletedAt: time.Now(),
		}
	}

	var validator validation.Validator
	if err := p.db.WithContext(ctx).First(&validator, "id = ?", ref.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return p.failed(started, "", "", fmt.Sprintf("validator failed to load: %s", ref.ID))
		}
		return p.failed(started, "", "", fmt.Sprintf("validator failed to load: %v", err))
	}

	if !validator.Ready() {
		return p.failed(started, validator.Name, "", fmt.Sprintf("validator %s is missing its required asset", validator.Name))
	}

	if submission == nil || submission.IsPurged() {
		return p.failed(started, validator.Name, "", "submission content no longer available")
	}

	if len(validator.AcceptedContentTypes) > 0 && !validator.AcceptsContentType(submission.ContentType) {
		return p.failed(started, validator.Name, "", fmt.Sprintf("content type not supported by this validator: %s", submission.ContentType))
	}

	if validator.RequiresRunContext && runCtx == nil {
		return p.failed(started, validator.Name, "", "missing run context")
	}

	backend, err := p.registry.Resolve(validator.Kind)
	if err != nil {
		return p.failed(started, validator.Name, "", fmt.Sprintf("execution backend not available for validator kind %s", validator.Kind))
	}

	if !backend.IsAvailable(ctx) {
		metrics.StepFailuresTotal.WithLabelValues(string(validator.Kind), backend.BackendName()).Inc()
		return p.failed(started, validator.Name, backend.BackendName(), fmt.Sprintf("execution backend not available: %s", backend.BackendName()))
	}

	timeout := p.runTimeout
	if validator.Kind == validation.KindEnergySimulation {
		timeout = p.simulationTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	in := &validation.ExecInput{
		Validator:  &validator,
		Submission: submission,
		Config:     step.Config,
		RunContext: runCtx,
	}

	result, err := backend.Run(execCtx, in)
	metrics.StepDuration.WithLabelValues(string(validator.Kind), backend.BackendName()).Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.StepFailuresTotal.WithLabelValues(string(validator.Kind), backend.BackendName()).Inc()
		logger.WithContext(ctx).Warn("步骤执行失败",
			zap.String("run_id", run.ID),
			zap.String("step_id", step.ID),
			zap.String("validator", validator.Name),
			zap.Error(err),
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return p.failed(started, validator.Name, backend.BackendName(), fmt.Sprintf("validator execution timed out after %s", timeout))
		}
		return p.failed(started, validator.Name, backend.BackendName(), fmt.Sprintf("validator execution failed: %v", err))
	}

	status := validation.RunStatusSucceeded
	if result.HasErrorFinding() {
		status = validation.RunStatusFailed
	}

	return &StepOutcome{
		Status:        status,
		Findings:      result.Findings,
		Output:        result.Output,
		ValidatorName: validator.Name,
		BackendName:   backend.BackendName(),
		StartedAt:     started,
		CompletedAt:   time.Now(),
	}
}

// failed 构造带合成 ERROR 问题的失败结果
func (p *StepProcessor) failed(started time.Time, validatorName, backendName, message string) *StepOutcome {
	return &StepOutcome{
		Status: validation.RunStatusFailed,
		Findings: []validation.FindingData{{
			Path:     "/",
			Message:  message,
			Severity: validation.SeverityError,
		}},
		Error:         message,
		ValidatorName: validatorName,
		BackendName:   backendName,
		StartedAt:     started,
		CompletedAt:   time.Now(),
	}
}
