package runs

import (
	"time"

	"validibot/internal/validation"
)

// StartRunRequest 发起运行请求
type StartRunRequest struct {
	WorkflowID   string `json:"workflow_id" binding:"required,uuid"`
	SubmissionID string `json:"submission_id" binding:"omitempty,uuid"`
}

// FindingView 问题视图
type FindingView struct {
	Path     string `json:"path"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	RuleID   string `json:"rule_id,omitempty"`
}

// StepRunView 步骤运行视图
type StepRunView struct {
	ID            string         `json:"id"`
	StepID        string         `json:"step_id"`
	Position      int            `json:"position"`
	ValidatorName string         `json:"validator_name,omitempty"`
	BackendName   string         `json:"backend_name,omitempty"`
	Status        string         `json:"status"`
	Output        map[string]any `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	Findings      []FindingView  `json:"findings"`
}

// RunView 运行详情视图，问题按步骤归组
// 非终态的运行携带 PollURL，客户端轮询该地址获取最终结果
type RunView struct {
	ID           string                `json:"id"`
	WorkflowID   string                `json:"workflow_id"`
	SubmissionID *string               `json:"submission_id,omitempty"`
	Status       string                `json:"status"`
	PollURL      string                `json:"poll_url,omitempty"`
	Error        string                `json:"error,omitempty"`
	Summary      validation.RunSummary `json:"summary"`
	StartedAt    *time.Time            `json:"started_at,omitempty"`
	EndedAt      *time.Time            `json:"ended_at,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	Steps        []StepRunView         `json:"steps"`
}

// NewRunView 组装运行详情视图
func NewRunView(run *validation.ValidationRun) RunView {
	findingsByStep := make(map[string][]FindingView)
	for _, f := range run.Findings {
		findingsByStep[f.StepRunID] = append(findingsByStep[f.StepRunID], FindingView{
			Path:     f.Path,
			Message:  f.Message,
			Severity: string(f.Severity),
			RuleID:   f.RuleID,
		})
	}

	steps := make([]StepRunView, 0, len(run.StepRuns))
	for _, sr := range run.StepRuns {
		findings := findingsByStep[sr.ID]
		if findings == nil {
			findings = []FindingView{}
		}
		steps = append(steps, StepRunView{
			ID:            sr.ID,
			StepID:        sr.StepID,
			Position:      sr.Position,
			ValidatorName: sr.ValidatorName,
			BackendName:   sr.BackendName,
			Status:        string(sr.Status),
			Output:        sr.Output,
			Error:         sr.Error,
			Findings:      findings,
		})
	}

	view := RunView{
		ID:           run.ID,
		WorkflowID:   run.WorkflowID,
		SubmissionID: run.SubmissionID,
		Status:       string(run.Status),
		Error:        run.Error,
		Summary:      run.Summary,
		StartedAt:    run.StartedAt,
		EndedAt:      run.EndedAt,
		CreatedAt:    run.CreatedAt,
		Steps:        steps,
	}
	if !run.Status.IsTerminal() {
		view.PollURL = "/api/v1/runs/" + run.ID
	}
	return view
}

// RunListItem 运行列表项
type RunListItem struct {
	ID         string                `json:"id"`
	WorkflowID string                `json:"workflow_id"`
	Status     string                `json:"status"`
	Summary    validation.RunSummary `json:"summary"`
	CreatedAt  time.Time             `json:"created_at"`
	EndedAt    *time.Time            `json:"ended_at,omitempty"`
}
