package validation

import (
	"context"
	"errors"
	"fmt"

	"validibot/internal/common"

	"gorm.io/gorm"
)

// WorkflowService 工作流定义服务
type WorkflowService struct {
	db *gorm.DB
}

// NewWorkflowService 创建工作流定义服务
func NewWorkflowService(db *gorm.DB) *WorkflowService {
	return &WorkflowService{db: db}
}

// GetWorkflow 查询工作流定义（含有序步骤）
func (s *WorkflowService) GetWorkflow(ctx context.Context, tenantID, id string) (*Workflow, *common.BusinessError) {
	var workflow Workflow
	err := s.db.WithContext(ctx).
		Scopes(common.NotDeleted()).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&workflow, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewBusinessErrorWithCode(common.CodeWorkflowNotFound)
		}
		return nil, common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("查询工作流失败: %v", err))
	}
	return &workflow, nil
}

// ListWorkflows 分页查询工作流定义
func (s *WorkflowService) ListWorkflows(ctx context.Context, tenantID string, activeOnly bool, page *common.PaginationRequest) ([]Workflow, int64, *common.BusinessError) {
	query := s.db.WithContext(ctx).Model(&Workflow{}).
		Scopes(common.NotDeleted()).
		Where("tenant_id = ?", tenantID)
	if activeOnly {
		query = query.Scopes(common.ActiveOnly())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("统计工作流失败: %v", err))
	}

	var workflows []Workflow
	err := query.Order("created_at DESC").
		Offset(page.GetOffset()).
		Limit(page.GetPageSize()).
		Find(&workflows).Error
	if err != nil {
		return nil, 0, common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("查询工作流失败: %v", err))
	}
	return workflows, total, nil
}

// SetActive 切换工作流激活状态
func (s *WorkflowService) SetActive(ctx context.Context, tenantID, id string, active bool) (*Workflow, *common.BusinessError) {
	res := s.db.WithContext(ctx).Model(&Workflow{}).
		Scopes(common.NotDeleted()).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Update("is_active", active)
	if res.Error != nil {
		return nil, common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("更新工作流失败: %v", res.Error))
	}
	if res.RowsAffected == 0 {
		return nil, common.NewBusinessErrorWithCode(common.CodeWorkflowNotFound)
	}
	return s.GetWorkflow(ctx, tenantID, id)
}
