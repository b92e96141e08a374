package submissions

import (
	"validibot/internal/common"
	"validibot/internal/validation"

	"github.com/gin-gonic/gin"
)

// SubmissionHandler 提交内容 Handler
type SubmissionHandler struct {
	service *validation.SubmissionService
}

// NewSubmissionHandler 创建 SubmissionHandler 实例
func NewSubmissionHandler(service *validation.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{service: service}
}

// CreateSubmissionRequest 创建提交内容请求
type CreateSubmissionRequest struct {
	Filename        string `json:"filename"`
	ContentType     string `json:"content_type" binding:"required"`
	Content         string `json:"content"`
	FileRef         string `json:"file_ref"`
	RetentionPolicy string `json:"retention_policy" binding:"omitempty,oneof=DO_NOT_STORE STORE_N_DAYS"`
	RetentionDays   int    `json:"retention_days" binding:"omitempty,min=1,max=3650"`
}

// CreateSubmission 创建提交内容
// @Summary 创建提交内容
// @Description 上传待校验的文档内容，校验和与大小在创建时固化
// @Tags Submissions
// @Accept json
// @Produce json
// @Param request body CreateSubmissionRequest true "提交内容"
// @Success 201 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/submissions [post]
func (h *SubmissionHandler) CreateSubmission(c *gin.Context) {
	var req CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	submission, bizErr := h.service.CreateSubmission(c.Request.Context(), validation.CreateSubmissionParams{
		TenantID:        c.GetString("tenant_id"),
		Filename:        req.Filename,
		ContentType:     req.ContentType,
		Content:         req.Content,
		FileRef:         req.FileRef,
		RetentionPolicy: validation.RetentionPolicy(req.RetentionPolicy),
		RetentionDays:   req.RetentionDays,
	})
	if bizErr != nil {
		common.ResponseBusinessError(c, bizErr)
		return
	}
	common.ResponseCreated(c, submission)
}

// GetSubmission 查询提交内容
// @Summary 查询提交内容
// @Tags Submissions
// @Produce json
// @Param id path string true "提交ID"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/submissions/{id} [get]
func (h *SubmissionHandler) GetSubmission(c *gin.Context) {
	submission, bizErr := h.service.GetSubmission(c.Request.Context(), c.GetString("tenant_id"), c.Param("id"))
	if bizErr != nil {
		common.ResponseBusinessError(c, bizErr)
		return
	}
	common.ResponseSuccess(c, submission)
}

// DeleteSubmission 删除提交内容
// @Summary 删除提交内容
// @Description 删除提交并解除历史运行对它的引用
// @Tags Submissions
// @Produce json
// @Param id path string true "提交ID"
// @Success 204
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/submissions/{id} [delete]
func (h *SubmissionHandler) DeleteSubmission(c *gin.Context) {
	if bizErr := h.service.DeleteSubmission(c.Request.Context(), c.GetString("tenant_id"), c.Param("id")); bizErr != nil {
		common.ResponseBusinessError(c, bizErr)
		return
	}
	common.ResponseNoContent(c)
}
