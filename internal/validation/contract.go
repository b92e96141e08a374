package validation

// RunContext 运行上下文：步骤执行时可见的运行引用与上游信号值
// 仿真类校验器消费前序步骤的输出时依赖它
type RunContext struct {
	RunID    string         `json:"run_id"`
	TenantID string         `json:"tenant_id"`
	Signals  map[string]any `json:"signals,omitempty"`
}

// ExecInput 执行后端的统一输入
type ExecInput struct {
	Validator  *Validator     `json:"validator"`
	Submission *Submission    `json:"submission"`
	Config     map[string]any `json:"config,omitempty"`
	RunContext *RunContext    `json:"run_context,omitempty"`
}

// FindingData 执行产生的单个问题（未落库形态）
type FindingData struct {
	Path     string   `json:"path"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	RuleID   string   `json:"rule_id,omitempty"`
}

// ExecResult 执行后端的统一输出
// 后端特有的结果对象在返回给编排器之前必须归一化为该形态
type ExecResult struct {
	Findings []FindingData  `json:"findings"`
	Output   map[string]any `json:"output,omitempty"`
}

// HasErrorFinding 结果中是否存在 ERROR 级别的问题
func (r *ExecResult) HasErrorFinding() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}
