package validators

import (
	"context"

	"validibot/internal/validation"
)

// Engine 进程内校验器实现
// 每种校验器类型对应一个实现，在进程启动时注册到显式的映射表中
type Engine interface {
	// Kind 返回该实现对应的校验器类型
	Kind() validation.ValidatorKind
	// Run 执行校验并返回归一化结果
	// 校验逻辑本身的失败（断言不通过）通过 Findings 表达，不是 error
	Run(ctx context.Context, in *validation.ExecInput) (*validation.ExecResult, error)
}

// BuiltinEngines 返回内建的进程内校验器映射表
// 仿真类校验器不在其中，它们由容器化后端执行
func BuiltinEngines() map[validation.ValidatorKind]Engine {
	engines := make(map[validation.ValidatorKind]Engine)
	for _, e := range []Engine{
		NewJSONSchemaEngine(),
		NewXMLCheckEngine(),
	} {
		engines[e.Kind()] = e
	}
	return engines
}
