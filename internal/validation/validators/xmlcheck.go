package validators

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"validibot/internal/validation"
)

// XMLCheckEngine XML 良构性检查校验器
// 仅检查文档是否为良构 XML；XSD 级别的结构校验由外部仿真器承担
type XMLCheckEngine struct{}

// NewXMLCheckEngine 创建 XMLCheckEngine 实例
func NewXMLCheckEngine() *XMLCheckEngine {
	return &XMLCheckEngine{}
}

// Kind 实现 Engine 接口
func (e *XMLCheckEngine) Kind() validation.ValidatorKind {
	return validation.KindXMLCheck
}

// Run 实现 Engine 接口
func (e *XMLCheckEngine) Run(ctx context.Context, in *validation.ExecInput) (*validation.ExecResult, error) {
	decoder := xml.NewDecoder(strings.NewReader(in.Submission.Content))

	var elements int
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			finding := validation.FindingData{
				Path:     "/",
				Message:  fmt.Sprintf("document is not well-formed XML: %v", err),
				Severity: validation.SeverityError,
			}
			if syntaxErr, ok := err.(*xml.SyntaxError); ok {
				finding.Path = fmt.Sprintf("line %d", syntaxErr.Line)
			}
			return &validation.ExecResult{
				Findings: []validation.FindingData{finding},
				Output:   map[string]any{"valid": false},
			}, nil
		}
		if _, ok := tok.(xml.StartElement); ok {
			elements++
		}
	}

	if elements == 0 {
		return &validation.ExecResult{
			Findings: []validation.FindingData{{
				Path:     "/",
				Message:  "document contains no XML elements",
				Severity: validation.SeverityError,
			}},
			Output: map[string]any{"valid": false},
		}, nil
	}

	return &validation.ExecResult{
		Output: map[string]any{
			"valid":             true,
			"element_count":     elements,
			"assertions_passed": 1,
		},
	}, nil
}
