package authz

import (
	"context"
)

// Capability 运行发起前的权限裁决接口
// 核心引擎不感知计费或配额细节，宿主方通过实现该接口注入策略
type Capability interface {
	// CanLaunch 判断主体是否可以在指定工作流上发起运行
	// 返回 false 时附带面向用户的原因说明
	CanLaunch(ctx context.Context, tenantID, userID, workflowID string) (bool, string, error)
	// ResolveOrg 解析主体归属的租户
	ResolveOrg(ctx context.Context, userID string) (string, error)
}

// AllowAll 放行一切的默认实现，用于单租户部署与测试
type AllowAll struct{}

// NewAllowAll 创建放行实现
func NewAllowAll() *AllowAll {
	return &AllowAll{}
}

// CanLaunch 实现 Capability 接口
func (a *AllowAll) CanLaunch(ctx context.Context, tenantID, userID, workflowID string) (bool, string, error) {
	return true, "", nil
}

// ResolveOrg 实现 Capability 接口
func (a *AllowAll) ResolveOrg(ctx context.Context, userID string) (string, error) {
	return "", nil
}
