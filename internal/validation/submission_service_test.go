package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"testing"
	"time"

	"validibot/internal/common"
	"validibot/internal/logger"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	logger.Init("error", "console", "stderr")
	os.Exit(m.Run())
}

func setupValidationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:validation_%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	if err := db.AutoMigrate(
		&Workflow{},
		&WorkflowStep{},
		&Validator{},
		&Submission{},
		&ValidationRun{},
		&StepRun{},
		&Finding{},
	); err != nil {
		t.Fatalf("迁移 schema 失败: %v", err)
	}
	return db
}

func TestCreateSubmissionComputesChecksum(t *testing.T) {
	db := setupValidationTestDB(t)
	svc := NewSubmissionService(db)
	ctx := context.Background()

	content := `{"sku":"ABCD1234"}`
	sub, bizErr := svc.CreateSubmission(ctx, CreateSubmissionParams{
		TenantID:    uuid.NewString(),
		Filename:    "product.json",
		ContentType: "application/json",
		Content:     content,
	})
	if bizErr != nil {
		t.Fatalf("创建提交失败: %+v", bizErr)
	}

	sum := sha256.Sum256([]byte(content))
	if sub.Checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("校验和不正确: %s", sub.Checksum)
	}
	if sub.SizeBytes != int64(len(content)) {
		t.Fatalf("大小不正确: %d", sub.SizeBytes)
	}
	if sub.RetentionPolicy != RetentionStoreNDays || sub.RetentionDays != 30 {
		t.Fatalf("默认保留策略不正确: %s/%d", sub.RetentionPolicy, sub.RetentionDays)
	}
}

func TestCreateSubmissionTooLarge(t *testing.T) {
	db := setupValidationTestDB(t)
	svc := NewSubmissionService(db)

	big := make([]byte, MaxSubmissionBytes+1)
	_, bizErr := svc.CreateSubmission(context.Background(), CreateSubmissionParams{
		TenantID:    uuid.NewString(),
		ContentType: "application/json",
		Content:     string(big),
	})
	if bizErr == nil || bizErr.Code != common.CodeSubmissionTooLarge {
		t.Fatalf("超限内容应当被拒绝: %+v", bizErr)
	}
}

func TestDeleteSubmissionDetachesRuns(t *testing.T) {
	db := setupValidationTestDB(t)
	svc := NewSubmissionService(db)
	ctx := context.Background()
	tenantID := uuid.NewString()

	sub, bizErr := svc.CreateSubmission(ctx, CreateSubmissionParams{
		TenantID:    tenantID,
		ContentType: "application/json",
		Content:     `{}`,
	})
	if bizErr != nil {
		t.Fatalf("创建提交失败: %+v", bizErr)
	}

	run := &ValidationRun{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		WorkflowID:   uuid.NewString(),
		SubmissionID: &sub.ID,
		Status:       RunStatusSucceeded,
	}
	if err := db.Create(run).Error; err != nil {
		t.Fatalf("创建运行失败: %v", err)
	}

	if bizErr := svc.DeleteSubmission(ctx, tenantID, sub.ID); bizErr != nil {
		t.Fatalf("删除提交失败: %+v", bizErr)
	}

	// 历史运行保留，只是引用被置空
	var reloaded ValidationRun
	if err := db.First(&reloaded, "id = ?", run.ID).Error; err != nil {
		t.Fatalf("历史运行不应被删除: %v", err)
	}
	if reloaded.SubmissionID != nil {
		t.Fatalf("运行对提交的引用应当被置空: %v", *reloaded.SubmissionID)
	}

	var count int64
	db.Model(&Submission{}).Where("id = ?", sub.ID).Count(&count)
	if count != 0 {
		t.Fatal("提交应当被删除")
	}
}

func TestDeleteSubmissionNotFound(t *testing.T) {
	db := setupValidationTestDB(t)
	svc := NewSubmissionService(db)

	bizErr := svc.DeleteSubmission(context.Background(), uuid.NewString(), uuid.NewString())
	if bizErr == nil || bizErr.Code != common.CodeSubmissionNotFound {
		t.Fatalf("不存在的提交应当返回 NotFound: %+v", bizErr)
	}
}
