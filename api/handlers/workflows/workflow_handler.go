package workflows

import (
	"validibot/internal/cache"
	"validibot/internal/common"
	"validibot/internal/validation"

	"github.com/gin-gonic/gin"
)

// WorkflowHandler 工作流定义 Handler
type WorkflowHandler struct {
	service *validation.WorkflowService
	wfCache *cache.WorkflowCache
}

// NewWorkflowHandler 创建 WorkflowHandler 实例
func NewWorkflowHandler(service *validation.WorkflowService, wfCache *cache.WorkflowCache) *WorkflowHandler {
	return &WorkflowHandler{service: service, wfCache: wfCache}
}

// ListWorkflows 分页查询工作流列表
// @Summary 分页查询工作流列表
// @Tags Workflows
// @Produce json
// @Param active_only query bool false "仅返回激活的工作流"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/workflows [get]
func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var page common.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		common.ResponseBadRequest(c, "分页参数错误")
		return
	}
	activeOnly := c.Query("active_only") == "true"

	items, total, bizErr := h.service.ListWorkflows(c.Request.Context(), tenantID, activeOnly, &page)
	if bizErr != nil {
		common.ResponseBusinessError(c, bizErr)
		return
	}
	common.ResponseList(c, items, total, &page)
}

// GetWorkflow 查询工作流详情
// @Summary 查询工作流详情
// @Description 返回工作流定义与有序步骤列表
// @Tags Workflows
// @Produce json
// @Param id path string true "工作流ID"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/workflows/{id} [get]
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	workflowID := c.Param("id")

	workflow, bizErr := h.service.GetWorkflow(c.Request.Context(), tenantID, workflowID)
	if bizErr != nil {
		common.ResponseBusinessError(c, bizErr)
		return
	}
	common.ResponseSuccess(c, workflow)
}

// SetActiveRequest 切换激活状态请求
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive 切换工作流激活状态
// @Summary 切换工作流激活状态
// @Description 停用后的工作流不可发起新运行，在途运行不受影响
// @Tags Workflows
// @Accept json
// @Produce json
// @Param id path string true "工作流ID"
// @Param request body SetActiveRequest true "激活状态"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/workflows/{id}/active [put]
func (h *WorkflowHandler) SetActive(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	workflowID := c.Param("id")

	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	workflow, bizErr := h.service.SetActive(c.Request.Context(), tenantID, workflowID, *req.Active)
	if bizErr != nil {
		common.ResponseBusinessError(c, bizErr)
		return
	}

	// 定义变更后使缓存失效，发起路径读到的是最新状态
	if h.wfCache != nil {
		h.wfCache.Invalidate(c.Request.Context(), tenantID, workflowID)
	}
	common.ResponseSuccess(c, workflow)
}
