package runs

import (
	"validibot/internal/common"
	"validibot/internal/validation"
	"validibot/internal/validation/run"

	"github.com/gin-gonic/gin"
)

// RunHandler 校验运行 Handler
type RunHandler struct {
	orchestrator *run.Orchestrator
	asyncRuns    bool
}

// NewRunHandler 创建 RunHandler 实例
func NewRunHandler(orchestrator *run.Orchestrator, asyncRuns bool) *RunHandler {
	return &RunHandler{orchestrator: orchestrator, asyncRuns: asyncRuns}
}

// StartRun 发起校验运行
// @Summary 发起校验运行
// @Description 在指定工作流上发起一次校验运行，支持 Idempotency-Key 去重
// @Tags Runs
// @Accept json
// @Produce json
// @Param request body StartRunRequest true "运行参数"
// @Success 201 {object} common.APIResponse "同步执行完成"
// @Success 202 {object} common.APIResponse "已受理异步执行"
// @Failure 409 {object} common.APIResponse
// @Router /api/v1/runs [post]
func (h *RunHandler) StartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	params := run.LaunchParams{
		TenantID:     c.GetString("tenant_id"),
		UserID:       c.GetString("user_id"),
		WorkflowID:   req.WorkflowID,
		SubmissionID: req.SubmissionID,
		Async:        h.asyncRuns,
	}

	result, bizErr := h.orchestrator.Launch(c.Request.Context(), params)
	if bizErr != nil {
		common.ResponseBusinessError(c, bizErr)
		return
	}

	if h.asyncRuns {
		common.ResponseAccepted(c, NewRunView(result))
		return
	}
	common.ResponseCreated(c, NewRunView(result))
}

// GetRun 查询运行详情
// @Summary 查询运行详情
// @Description 查询单次运行的状态、各步骤结果与问题列表，用于客户端轮询
// @Tags Runs
// @Produce json
// @Param id path string true "运行ID"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/runs/{id} [get]
func (h *RunHandler) GetRun(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	runID := c.Param("id")

	result, bizErr := h.orchestrator.GetRun(c.Request.Context(), tenantID, runID)
	if bizErr != nil {
		common.ResponseBusinessError(c, bizErr)
		return
	}
	common.ResponseSuccess(c, NewRunView(result))
}

// ListRuns 分页查询运行列表
// @Summary 分页查询运行列表
// @Tags Runs
// @Produce json
// @Param workflow_id query string false "工作流ID过滤"
// @Param status query string false "状态过滤"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/runs [get]
func (h *RunHandler) ListRuns(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var page common.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		common.ResponseBadRequest(c, "分页参数错误")
		return
	}

	items, total, bizErr := h.orchestrator.ListRuns(
		c.Request.Context(),
		tenantID,
		c.Query("workflow_id"),
		validation.RunStatus(c.Query("status")),
		&page,
	)
	if bizErr != nil {
		common.ResponseBusinessError(c, bizErr)
		return
	}

	views := make([]RunListItem, 0, len(items))
	for _, r := range items {
		views = append(views, RunListItem{
			ID:         r.ID,
			WorkflowID: r.WorkflowID,
			Status:     string(r.Status),
			Summary:    r.Summary,
			CreatedAt:  r.CreatedAt,
			EndedAt:    r.EndedAt,
		})
	}
	common.ResponseList(c, views, total, &page)
}

// CancelRun 取消运行
// @Summary 取消运行
// @Description 取消 PENDING 或 RUNNING 状态的运行，终态运行返回冲突
// @Tags Runs
// @Produce json
// @Param id path string true "运行ID"
// @Success 200 {object} common.APIResponse
// @Failure 409 {object} common.APIResponse
// @Router /api/v1/runs/{id}/cancel [post]
func (h *RunHandler) CancelRun(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	runID := c.Param("id")

	result, canceled, bizErr := h.orchestrator.Cancel(c.Request.Context(), tenantID, runID)
	if bizErr != nil {
		common.ResponseBusinessError(c, bizErr)
		return
	}
	if !canceled {
		common.ResponseError(c, common.CodeRunAlreadyTerminal,
			"run is already in a terminal state: "+string(result.Status))
		return
	}
	common.ResponseSuccess(c, NewRunView(result))
}
