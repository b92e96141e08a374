package validation

import (
	"fmt"
	"time"

	"validibot/internal/common"
)

// RunStatus 运行状态枚举
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCanceled  RunStatus = "CANCELED"
)

// IsTerminal 是否为终态
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	}
	return false
}

// CanTransitionTo 状态迁移是否合法（单调：PENDING→RUNNING→终态）
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case RunStatusPending:
		return next == RunStatusRunning || next == RunStatusCanceled || next == RunStatusFailed
	case RunStatusRunning:
		return next.IsTerminal()
	}
	return false
}

// Severity 问题严重级别
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// RetentionPolicy 提交内容保留策略
type RetentionPolicy string

const (
	RetentionDoNotStore RetentionPolicy = "DO_NOT_STORE"
	RetentionStoreNDays RetentionPolicy = "STORE_N_DAYS"
)

// ValidatorKind 校验器类型
type ValidatorKind string

const (
	KindSchemaCheck      ValidatorKind = "schema_check"
	KindXMLCheck         ValidatorKind = "xml_check"
	KindEnergySimulation ValidatorKind = "energy_simulation"
	KindCustom           ValidatorKind = "custom"
)

// StepKind 步骤类型：校验器步骤或动作步骤，二者互斥
type StepKind string

const (
	StepKindValidator StepKind = "validator"
	StepKindAction    StepKind = "action"
)

// StepRef 步骤引用的归一化视图，保证"恰好其一"的不变量在使用侧成立
type StepRef struct {
	Kind StepKind
	ID   string
}

// Workflow 校验工作流定义
type Workflow struct {
	ID          string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID    string `json:"tenantId" gorm:"type:uuid;not null;index"`
	Name        string `json:"name" gorm:"size:255;not null"`
	Description string `json:"description" gorm:"type:text"`

	// 激活标志，未激活的工作流不可执行
	IsActive bool `json:"isActive" gorm:"not null;default:true"`

	// 允许的提交内容类型，如 ["application/json", "application/xml"]
	AcceptedContentTypes []string `json:"acceptedContentTypes" gorm:"type:jsonb;serializer:json"`

	// 有序步骤列表
	Steps []WorkflowStep `json:"steps,omitempty" gorm:"foreignKey:WorkflowID"`

	CreatedBy string `json:"createdBy" gorm:"size:100"`

	common.TimestampModel
	common.SoftDeleteModel
}

// HasSteps 是否有可执行步骤
func (w *Workflow) HasSteps() bool {
	return len(w.Steps) > 0
}

// AcceptsContentType 工作流是否接受指定内容类型
// 空列表表示不限制
func (w *Workflow) AcceptsContentType(contentType string) bool {
	if len(w.AcceptedContentTypes) == 0 {
		return true
	}
	for _, ct := range w.AcceptedContentTypes {
		if ct == contentType {
			return true
		}
	}
	return false
}

// WorkflowStep 工作流中的一个步骤
// ValidatorID 与 ActionID 互斥：恰好设置其一（Ref() 在使用侧强制该不变量）
type WorkflowStep struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	WorkflowID string `json:"workflowId" gorm:"type:uuid;not null;index"`

	// 排序位置，允许留空隙便于插入
	Position int `json:"position" gorm:"not null;index"`

	ValidatorID *string `json:"validatorId,omitempty" gorm:"type:uuid"`
	ActionID    *string `json:"actionId,omitempty" gorm:"type:uuid"`

	// 步骤级自由配置（如 jsonschema 的 schema 内容）
	Config map[string]any `json:"config" gorm:"type:jsonb;serializer:json"`

	common.TimestampModel
}

// Ref 返回步骤引用的归一化视图
// 两者都设置或都未设置视为数据损坏
func (s *WorkflowStep) Ref() (StepRef, error) {
	switch {
	case s.ValidatorID != nil && s.ActionID != nil:
		return StepRef{}, fmt.Errorf("步骤 %s 同时引用了校验器和动作", s.ID)
	case s.ValidatorID != nil:
		return StepRef{Kind: StepKindValidator, ID: *s.ValidatorID}, nil
	case s.ActionID != nil:
		return StepRef{Kind: StepKindAction, ID: *s.ActionID}, nil
	default:
		return StepRef{}, fmt.Errorf("步骤 %s 未引用校验器或动作", s.ID)
	}
}

// NewValidatorStep 构造校验器步骤
func NewValidatorStep(id, workflowID, validatorID string, position int, config map[string]any) WorkflowStep {
	return WorkflowStep{
		ID:          id,
		WorkflowID:  workflowID,
		Position:    position,
		ValidatorID: &validatorID,
		Config:      config,
	}
}

// NewActionStep 构造动作步骤
func NewActionStep(id, workflowID, actionID string, position int, config map[string]any) WorkflowStep {
	return WorkflowStep{
		ID:         id,
		WorkflowID: workflowID,
		Position:   position,
		ActionID:   &actionID,
		Config:     config,
	}
}

// Validator 校验器元数据
type Validator struct {
	ID   string        `json:"id" gorm:"primaryKey;type:uuid"`
	Name string        `json:"name" gorm:"size:255;not null"`
	Kind ValidatorKind `json:"kind" gorm:"size:50;not null;index"`

	// 接受的提交内容类型
	AcceptedContentTypes []string `json:"acceptedContentTypes" gorm:"type:jsonb;serializer:json"`

	// 是否需要附加二进制资产（如仿真模型文件）方可运行
	RequiresAsset bool   `json:"requiresAsset" gorm:"not null;default:false"`
	AssetRef      string `json:"assetRef,omitempty" gorm:"size:512"`

	// 是否需要运行上下文（上游步骤的信号值）
	RequiresRunContext bool `json:"requiresRunContext" gorm:"not null;default:false"`

	common.TimestampModel
}

// AcceptsContentType 校验器是否声明支持指定内容类型
func (v *Validator) AcceptsContentType(contentType string) bool {
	for _, ct := range v.AcceptedContentTypes {
		if ct == contentType {
			return true
		}
	}
	return false
}

// Ready 校验器是否具备运行条件（所需资产已就位）
func (v *Validator) Ready() bool {
	return !v.RequiresAsset || v.AssetRef != ""
}

// Submission 被校验的提交内容
// 内容被清理后审计元数据（校验和、文件名、大小）永久保留
type Submission struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index"`

	Filename    string `json:"filename" gorm:"size:512"`
	ContentType string `json:"contentType" gorm:"size:100;not null"`

	// 内联文本内容；大文件走 FileRef（对象存储键）
	Content string `json:"content,omitempty" gorm:"type:text"`
	FileRef string `json:"fileRef,omitempty" gorm:"size:512"`

	Checksum  string `json:"checksum" gorm:"size:64;not null"`
	SizeBytes int64  `json:"sizeBytes" gorm:"not null"`

	RetentionPolicy RetentionPolicy `json:"retentionPolicy" gorm:"size:50;not null;default:STORE_N_DAYS"`
	RetentionDays   int             `json:"retentionDays" gorm:"not null;default:30"`

	// 内容清理时间戳，非空表示已清理
	ContentPurgedAt *time.Time `json:"contentPurgedAt,omitempty" gorm:"index"`

	common.TimestampModel
}

// IsPurged 内容是否已被清理
func (s *Submission) IsPurged() bool {
	return s.ContentPurgedAt != nil
}

// RetentionExpiry 计算内容保留到期时间
// DO_NOT_STORE 的提交在创建后即到期（运行结束即可清理）
func (s *Submission) RetentionExpiry() time.Time {
	if s.RetentionPolicy == RetentionDoNotStore {
		return s.CreatedAt
	}
	return s.CreatedAt.AddDate(0, 0, s.RetentionDays)
}

// RunSummary 运行级汇总统计，在运行结束时一次性计算，不做惰性重算
type RunSummary struct {
	TotalFindings    int `json:"total_findings"`
	ErrorCount       int `json:"error_count"`
	WarningCount     int `json:"warning_count"`
	InfoCount        int `json:"info_count"`
	StepCount        int `json:"step_count"`
	FailedStepCount  int `json:"failed_step_count"`
	AssertionsPassed int `json:"assertions_passed"`
	AssertionsFailed int `json:"assertions_failed"`
}

// ComputeRunSummary 根据步骤运行与问题列表计算汇总
func ComputeRunSummary(stepRuns []StepRun, findings []Finding) RunSummary {
	summary := RunSummary{
		StepCount:     len(stepRuns),
		TotalFindings: len(findings),
	}
	for _, sr := range stepRuns {
		if sr.Status == RunStatusFailed {
			summary.FailedStepCount++
		}
		summary.AssertionsPassed += intFromOutput(sr.Output, "assertions_passed")
	}
	for _, f := range findings {
		switch f.Severity {
		case SeverityError:
			summary.ErrorCount++
		case SeverityWarning:
			summary.WarningCount++
		case SeverityInfo:
			summary.InfoCount++
		}
		if f.RuleID != "" {
			summary.AssertionsFailed++
		}
	}
	return summary
}

// intFromOutput 从后端输出中提取整数计数
// JSON 反序列化后数字是 float64，两种类型都要处理
func intFromOutput(output map[string]any, key string) int {
	if output == nil {
		return 0
	}
	switch v := output[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// ValidationRun 一次工作流校验运行（根聚合）
// StepRun 与 Finding 随运行级联删除；Submission 独立存在，可先于或晚于运行被删除
type ValidationRun struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID   string `json:"tenantId" gorm:"type:uuid;not null;index"`
	WorkflowID string `json:"workflowId" gorm:"type:uuid;not null;index"`

	// 可空引用：提交内容被删除时此处置空，历史运行不受影响
	SubmissionID *string `json:"submissionId,omitempty" gorm:"type:uuid;index"`

	Status RunStatus `json:"status" gorm:"size:50;not null;default:PENDING;index"`

	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	// 顶层错误说明（失败运行至少有一条 Finding 或此字段非空）
	Error string `json:"error,omitempty" gorm:"type:text"`

	Summary RunSummary `json:"summary" gorm:"type:jsonb;serializer:json"`

	TriggeredBy string `json:"triggeredBy" gorm:"size:100"`

	StepRuns []StepRun `json:"stepRuns,omitempty" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	Findings []Finding `json:"findings,omitempty" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// StepRun 单次运行中一个步骤的执行记录
type StepRun struct {
	ID     string `json:"id" gorm:"primaryKey;type:uuid"`
	RunID  string `json:"runId" gorm:"type:uuid;not null;index"`
	StepID string `json:"stepId" gorm:"type:uuid;not null"`

	Position      int    `json:"position" gorm:"not null"`
	ValidatorName string `json:"validatorName" gorm:"size:255"`
	BackendName   string `json:"backendName" gorm:"size:100"`

	Status RunStatus `json:"status" gorm:"size:50;not null;default:PENDING"`

	// 后端返回的结构化结果
	Output map[string]any `json:"output,omitempty" gorm:"type:jsonb;serializer:json"`
	Error  string         `json:"error,omitempty" gorm:"type:text"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// Finding 步骤报告的单个问题
type Finding struct {
	ID        string `json:"id" gorm:"primaryKey;type:uuid"`
	RunID     string `json:"runId" gorm:"type:uuid;not null;index"`
	StepRunID string `json:"stepRunId" gorm:"type:uuid;not null;index"`

	Path     string   `json:"path" gorm:"size:512"`
	Message  string   `json:"message" gorm:"type:text;not null"`
	Severity Severity `json:"severity" gorm:"size:20;not null"`

	// 产生该问题的断言/规则 ID（可选）
	RuleID string `json:"ruleId,omitempty" gorm:"size:100"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}
