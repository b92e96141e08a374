package backends

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"validibot/internal/validation"
)

// ErrUnavailable 执行后端不可用（守护进程不可达等）
// 与校验器执行失败（超时、断言不通过）是两类不同的失败
var ErrUnavailable = errors.New("execution backend unavailable")

// ExecutionBackend 校验器执行后端
// 每种校验器类型在启动时被映射到恰好一个后端实现
type ExecutionBackend interface {
	// IsAvailable 执行前的存活探测
	IsAvailable(ctx context.Context) bool
	// Run 执行校验器；必须尊重 ctx 的截止时间
	Run(ctx context.Context, in *validation.ExecInput) (*validation.ExecResult, error)
	// BackendName 后端名称，用于诊断与日志
	BackendName() string
}

// Registry 校验器类型到执行后端的映射表
// 注册只发生在进程启动阶段，稳态下只读，查找无需加锁；
// Reset 仅供测试重建映射使用
type Registry struct {
	mu     sync.Mutex
	byKind map[validation.ValidatorKind]ExecutionBackend
	byName map[string]ExecutionBackend
}

// NewRegistry 创建空的后端注册表
func NewRegistry() *Registry {
	return &Registry{
		byKind: make(map[validation.ValidatorKind]ExecutionBackend),
		byName: make(map[string]ExecutionBackend),
	}
}

// Register 注册校验器类型对应的后端
func (r *Registry) Register(kind validation.ValidatorKind, backend ExecutionBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = backend
	r.byName[backend.BackendName()] = backend
}

// Resolve 查找校验器类型对应的后端
func (r *Registry) Resolve(kind validation.ValidatorKind) (ExecutionBackend, error) {
	backend, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("校验器类型 %s 没有注册执行后端", kind)
	}
	return backend, nil
}

// Lookup 按后端名称查找，用于诊断接口
func (r *Registry) Lookup(name string) (ExecutionBackend, bool) {
	backend, ok := r.byName[name]
	return backend, ok
}

// Names 返回已注册后端名称列表
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// Reset 清空注册表（测试隔离用）
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind = make(map[validation.ValidatorKind]ExecutionBackend)
	r.byName = make(map[string]ExecutionBackend)
}
