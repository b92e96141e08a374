package validators

import (
	"context"
	"fmt"

	"validibot/internal/validation"

	"github.com/xeipuuv/gojsonschema"
)

// JSONSchemaEngine 基于 JSON Schema 的校验器
// schema 内容来自步骤配置的 "schema" 字段（对象或 JSON 字符串）
type JSONSchemaEngine struct{}

// NewJSONSchemaEngine 创建 JSONSchemaEngine 实例
func NewJSONSchemaEngine() *JSONSchemaEngine {
	return &JSONSchemaEngine{}
}

// Kind 实现 Engine 接口
func (e *JSONSchemaEngine) Kind() validation.ValidatorKind {
	return validation.KindSchemaCheck
}

// Run 实现 Engine 接口
func (e *JSONSchemaEngine) Run(ctx context.Context, in *validation.ExecInput) (*validation.ExecResult, error) {
	schemaLoader, err := e.schemaLoader(in.Config)
	if err != nil {
		return nil, err
	}

	docLoader := gojsonschema.NewStringLoader(in.Submission.Content)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		// schema 本身非法或文档不是合法 JSON：作为单条 ERROR 问题返回，
		// 而不是让步骤硬失败
		return &validation.ExecResult{
			Findings: []validation.FindingData{{
				Path:     "$",
				Message:  fmt.Sprintf("document could not be validated: %v", err),
				Severity: validation.SeverityError,
			}},
			Output: map[string]any{"valid": false},
		}, nil
	}

	res := &validation.ExecResult{
		Output: map[string]any{
			"valid": result.Valid(),
		},
	}

	for _, verr := range result.Errors() {
		// String() 带字段前缀，如 "rating: Must be less than or equal to 100"，
		// 问题信息单独可读，不依赖 Path
		res.Findings = append(res.Findings, validation.FindingData{
			Path:     verr.Field(),
			Message:  verr.String(),
			Severity: validation.SeverityError,
			RuleID:   verr.Type(),
		})
	}

	if result.Valid() {
		res.Output["assertions_passed"] = 1
	} else {
		res.Output["assertions_failed"] = len(result.Errors())
	}

	return res, nil
}

// schemaLoader 从步骤配置构造 schema 加载器
func (e *JSONSchemaEngine) schemaLoader(config map[string]any) (gojsonschema.JSONLoader, error) {
	raw, ok := config["schema"]
	if !ok {
		return nil, fmt.Errorf("步骤配置缺少 schema 字段")
	}

	switch schema := raw.(type) {
	case string:
		return gojsonschema.NewStringLoader(schema), nil
	case map[string]any:
		return gojsonschema.NewGoLoader(schema), nil
	default:
		return nil, fmt.Errorf("schema 字段类型不支持: %T", raw)
	}
}
