package backends

import (
	"context"
	"fmt"

	"validibot/internal/validation"
	"validibot/internal/validation/validators"
)

// InProcessBackend 进程内执行后端
// 纯函数调用，无隔离，亚秒级，用于 schema/文本类校验器
type InProcessBackend struct {
	engines map[validation.ValidatorKind]validators.Engine
}

// NewInProcessBackend 创建进程内后端
func NewInProcessBackend(engines map[validation.ValidatorKind]validators.Engine) *InProcessBackend {
	if engines == nil {
		engines = validators.BuiltinEngines()
	}
	return &InProcessBackend{engines: engines}
}

// BackendName 实现 ExecutionBackend 接口
func (b *InProcessBackend) BackendName() string {
	return "in-process"
}

// IsAvailable 进程内后端总是可用
func (b *InProcessBackend) IsAvailable(ctx context.Context) bool {
	return true
}

// Run 实现 ExecutionBackend 接口
func (b *InProcessBackend) Run(ctx context.Context, in *validation.ExecInput) (*validation.ExecResult, error) {
	engine, ok := b.engines[in.Validator.Kind]
	if !ok {
		return nil, fmt.Errorf("进程内后端没有 %s 类型的校验器实现", in.Validator.Kind)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return engine.Run(ctx, in)
}
