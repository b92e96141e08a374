package runs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"validibot/internal/authz"
	"validibot/internal/common"
	"validibot/internal/logger"
	"validibot/internal/tracking"
	"validibot/internal/validation"
	"validibot/internal/validation/backends"
	"validibot/internal/validation/run"
	"validibot/internal/validation/validators"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const testTenantID = "33333333-3333-3333-3333-333333333333"

func TestMain(m *testing.M) {
	logger.Init("error", "console", "stderr")
	os.Exit(m.Run())
}

func setupHandlerTest(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:handler_%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	if err := db.AutoMigrate(
		&validation.Workflow{},
		&validation.WorkflowStep{},
		&validation.Validator{},
		&validation.Submission{},
		&validation.ValidationRun{},
		&validation.StepRun{},
		&validation.Finding{},
	); err != nil {
		t.Fatalf("迁移 schema 失败: %v", err)
	}

	registry := backends.NewRegistry()
	inprocess := backends.NewInProcessBackend(validators.BuiltinEngines())
	registry.Register(validation.KindSchemaCheck, inprocess)
	registry.Register(validation.KindXMLCheck, inprocess)

	processor := run.NewStepProcessor(db, registry, tracking.NopTracker{}, 5*time.Second, 30*time.Second)
	orchestrator := run.NewOrchestrator(db, processor, authz.NewAllowAll(), tracking.NopTracker{}, nil, nil)
	handler := NewRunHandler(orchestrator, false)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("tenant_id", testTenantID)
		c.Set("user_id", "user-1")
		c.Next()
	})
	router.POST("/runs", handler.StartRun)
	router.GET("/runs/:id", handler.GetRun)
	router.GET("/runs", handler.ListRuns)
	router.POST("/runs/:id/cancel", handler.CancelRun)

	return router, db
}

func seedWorkflow(t *testing.T, db *gorm.DB) (string, string) {
	t.Helper()

	v := &validation.Validator{
		ID:                   uuid.NewString(),
		Name:                 "product-schema",
		Kind:                 validation.KindSchemaCheck,
		AcceptedContentTypes: []string{"application/json"},
	}
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("创建校验器失败: %v", err)
	}

	workflow := &validation.Workflow{
		ID:                   uuid.NewString(),
		TenantID:             testTenantID,
		Name:                 "商品校验",
		IsActive:             true,
		AcceptedContentTypes: []string{"application/json"},
	}
	if err := db.Create(workflow).Error; err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}
	step := validation.NewValidatorStep(uuid.NewString(), workflow.ID, v.ID, 10, map[string]any{
		"schema": `{"type":"object","required":["sku"]}`,
	})
	if err := db.Create(&step).Error; err != nil {
		t.Fatalf("创建步骤失败: %v", err)
	}

	sub := &validation.Submission{
		ID:          uuid.NewString(),
		TenantID:    testTenantID,
		ContentType: "application/json",
		Content:     `{"sku":"ABCD1234"}`,
		Checksum:    "cafe",
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("创建提交失败: %v", err)
	}
	return workflow.ID, sub.ID
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStartRunReturnsCreated(t *testing.T) {
	router, db := setupHandlerTest(t)
	workflowID, submissionID := seedWorkflow(t, db)

	resp := doJSON(router, http.MethodPost, "/runs", StartRunRequest{
		WorkflowID:   workflowID,
		SubmissionID: submissionID,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("同步运行应返回 201: %d %s", resp.Code, resp.Body.String())
	}

	var envelope common.APIResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if !envelope.Success {
		t.Fatalf("响应应标记成功: %+v", envelope)
	}

	data, _ := json.Marshal(envelope.Data)
	var view RunView
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("解析运行视图失败: %v", err)
	}
	if view.Status != string(validation.RunStatusSucceeded) {
		t.Fatalf("运行状态不正确: %s", view.Status)
	}
	if len(view.Steps) != 1 {
		t.Fatalf("步骤数量不正确: %d", len(view.Steps))
	}
}

func TestStartRunWorkflowNotFound(t *testing.T) {
	router, _ := setupHandlerTest(t)

	resp := doJSON(router, http.MethodPost, "/runs", StartRunRequest{WorkflowID: uuid.NewString()})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("不存在的工作流应返回 404: %d", resp.Code)
	}
}

func TestGetRunWithFindings(t *testing.T) {
	router, db := setupHandlerTest(t)
	workflowID, _ := seedWorkflow(t, db)

	// 缺少必填 sku 的提交
	bad := &validation.Submission{
		ID:          uuid.NewString(),
		TenantID:    testTenantID,
		ContentType: "application/json",
		Content:     `{"price":1}`,
		Checksum:    "beef",
	}
	if err := db.Create(bad).Error; err != nil {
		t.Fatalf("创建提交失败: %v", err)
	}

	started := doJSON(router, http.MethodPost, "/runs", StartRunRequest{
		WorkflowID:   workflowID,
		SubmissionID: bad.ID,
	})
	if started.Code != http.StatusCreated {
		t.Fatalf("发起运行失败: %d %s", started.Code, started.Body.String())
	}

	var envelope common.APIResponse
	json.Unmarshal(started.Body.Bytes(), &envelope)
	data, _ := json.Marshal(envelope.Data)
	var view RunView
	json.Unmarshal(data, &view)

	resp := doJSON(router, http.MethodGet, "/runs/"+view.ID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("查询运行失败: %d", resp.Code)
	}

	json.Unmarshal(resp.Body.Bytes(), &envelope)
	data, _ = json.Marshal(envelope.Data)
	var detail RunView
	json.Unmarshal(data, &detail)

	if detail.Status != string(validation.RunStatusFailed) {
		t.Fatalf("缺少必填字段的运行应当失败: %s", detail.Status)
	}
	if len(detail.Steps) != 1 || len(detail.Steps[0].Findings) == 0 {
		t.Fatalf("步骤问题应当随详情返回: %+v", detail.Steps)
	}
}

func TestRunViewPollURLOnlyWhileActive(t *testing.T) {
	pending := &validation.ValidationRun{
		ID:     uuid.NewString(),
		Status: validation.RunStatusPending,
	}
	view := NewRunView(pending)
	if view.PollURL != "/api/v1/runs/"+pending.ID {
		t.Fatalf("非终态运行应携带轮询地址: %s", view.PollURL)
	}

	done := &validation.ValidationRun{
		ID:     uuid.NewString(),
		Status: validation.RunStatusSucceeded,
	}
	if got := NewRunView(done).PollURL; got != "" {
		t.Fatalf("终态运行不应携带轮询地址: %s", got)
	}
}

func TestCancelTerminalRunConflicts(t *testing.T) {
	router, db := setupHandlerTest(t)

	done := &validation.ValidationRun{
		ID:         uuid.NewString(),
		TenantID:   testTenantID,
		WorkflowID: uuid.NewString(),
		Status:     validation.RunStatusSucceeded,
	}
	if err := db.Create(done).Error; err != nil {
		t.Fatalf("创建运行失败: %v", err)
	}

	resp := doJSON(router, http.MethodPost, "/runs/"+done.ID+"/cancel", nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("取消终态运行应返回 409: %d", resp.Code)
	}
}
