package validators

import (
	"context"
	"strings"
	"testing"

	"validibot/internal/validation"
)

func xmlInput(content string) *validation.ExecInput {
	return &validation.ExecInput{
		Validator: &validation.Validator{
			Name: "xml-wellformed",
			Kind: validation.KindXMLCheck,
		},
		Submission: &validation.Submission{
			ContentType: "application/xml",
			Content:     content,
		},
	}
}

func TestXMLCheckWellFormed(t *testing.T) {
	engine := NewXMLCheckEngine()

	result, err := engine.Run(context.Background(), xmlInput(`<root><item id="1">ok</item></root>`))
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if len(result.Findings) != 0 {
		t.Fatalf("良构文档不应产生问题: %+v", result.Findings)
	}
	if count, ok := result.Output["element_count"].(int); !ok || count != 2 {
		t.Fatalf("元素计数不正确: %+v", result.Output)
	}
}

func TestXMLCheckMalformed(t *testing.T) {
	engine := NewXMLCheckEngine()

	result, err := engine.Run(context.Background(), xmlInput(`<root><item></root>`))
	if err != nil {
		t.Fatalf("非良构文档不应让执行硬失败: %v", err)
	}
	if len(result.Findings) != 1 {
		t.Fatalf("应当产生恰好一条问题: %+v", result.Findings)
	}
	f := result.Findings[0]
	if f.Severity != validation.SeverityError {
		t.Fatalf("问题级别应为 ERROR: %+v", f)
	}
	if !strings.Contains(f.Message, "not well-formed") {
		t.Fatalf("问题信息不正确: %s", f.Message)
	}
}

func TestXMLCheckEmptyDocument(t *testing.T) {
	engine := NewXMLCheckEngine()

	result, err := engine.Run(context.Background(), xmlInput(`   `))
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if len(result.Findings) != 1 || !strings.Contains(result.Findings[0].Message, "no XML elements") {
		t.Fatalf("空文档应产生无元素问题: %+v", result.Findings)
	}
}
