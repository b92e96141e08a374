package api

import (
	"validibot/api/handlers/runs"
	"validibot/api/handlers/submissions"
	"validibot/api/handlers/workflows"

	"github.com/gin-gonic/gin"
)

// Handlers API Handler 集合
type Handlers struct {
	Runs        *runs.RunHandler
	Workflows   *workflows.WorkflowHandler
	Submissions *submissions.SubmissionHandler

	// IdempotencyGate 幂等门中间件，套在产生副作用的发起路由上
	IdempotencyGate gin.HandlerFunc
}

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, h *Handlers) {
	apiV1 := router.Group("/api/v1")
	apiV1.Use(TenantContext())

	workflowGroup := apiV1.Group("/workflows")
	{
		workflowGroup.GET("", h.Workflows.ListWorkflows)
		workflowGroup.GET("/:id", h.Workflows.GetWorkflow)
		workflowGroup.PUT("/:id/active", h.Workflows.SetActive)
	}

	runGroup := apiV1.Group("/runs")
	{
		runGroup.POST("", h.IdempotencyGate, h.Runs.StartRun)
		runGroup.GET("", h.Runs.ListRuns)
		runGroup.GET("/:id", h.Runs.GetRun)
		runGroup.POST("/:id/cancel", h.Runs.CancelRun)
	}

	submissionGroup := apiV1.Group("/submissions")
	{
		submissionGroup.POST("", h.IdempotencyGate, h.Submissions.CreateSubmission)
		submissionGroup.GET("/:id", h.Submissions.GetSubmission)
		submissionGroup.DELETE("/:id", h.Submissions.DeleteSubmission)
	}
}
