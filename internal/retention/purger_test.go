package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"validibot/internal/logger"
	"validibot/internal/validation"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	logger.Init("error", "console", "stderr")
	os.Exit(m.Run())
}

func setupRetentionTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:retention_%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	if err := db.AutoMigrate(&validation.Submission{}, &PurgeRetryRecord{}); err != nil {
		t.Fatalf("迁移 schema 失败: %v", err)
	}
	return db
}

func createExpiredSubmission(t *testing.T, db *gorm.DB, fileRef string) *validation.Submission {
	t.Helper()
	sub := &validation.Submission{
		ID:              uuid.NewString(),
		TenantID:        uuid.NewString(),
		ContentType:     "application/json",
		Content:         `{"sku":"A"}`,
		FileRef:         fileRef,
		Checksum:        "cafe",
		SizeBytes:       11,
		RetentionPolicy: validation.RetentionStoreNDays,
		RetentionDays:   30,
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("创建提交失败: %v", err)
	}
	// 把创建时间拨回保留期之前
	past := time.Now().AddDate(0, 0, -60)
	if err := db.Model(sub).Update("created_at", past).Error; err != nil {
		t.Fatalf("回拨创建时间失败: %v", err)
	}
	sub.CreatedAt = past
	return sub
}

func TestRetryDelaySchedule(t *testing.T) {
	expected := []time.Duration{
		60 * time.Second,
		300 * time.Second,
		1500 * time.Second,
		7500 * time.Second,
		37500 * time.Second,
	}
	for i, want := range expected {
		if got := RetryDelay(i + 1); got != want {
			t.Errorf("第 %d 次重试间隔不正确: %v != %v", i+1, got, want)
		}
	}
}

func TestPurgeIsIdempotent(t *testing.T) {
	db := setupRetentionTestDB(t)
	purger := NewPurger(db, nil, 5)
	ctx := context.Background()

	sub := createExpiredSubmission(t, db, "")

	if err := purger.Purge(ctx, sub); err != nil {
		t.Fatalf("清理失败: %v", err)
	}

	var reloaded validation.Submission
	if err := db.First(&reloaded, "id = ?", sub.ID).Error; err != nil {
		t.Fatalf("加载提交失败: %v", err)
	}
	if !reloaded.IsPurged() || reloaded.Content != "" {
		t.Fatalf("内容应当被清空: %+v", reloaded)
	}
	if reloaded.Checksum != "cafe" || reloaded.SizeBytes != 11 {
		t.Fatal("审计元数据应当保留")
	}
	firstPurgedAt := *reloaded.ContentPurgedAt

	// 二次清理是空操作，时间戳不变
	time.Sleep(10 * time.Millisecond)
	if err := purger.Purge(ctx, &reloaded); err != nil {
		t.Fatalf("二次清理失败: %v", err)
	}
	var again validation.Submission
	db.First(&again, "id = ?", sub.ID)
	if !again.ContentPurgedAt.Equal(firstPurgedAt) {
		t.Fatalf("清理时间戳不应改变: %v != %v", again.ContentPurgedAt, firstPurgedAt)
	}
}

func TestSweepPurgesExpiredOnly(t *testing.T) {
	db := setupRetentionTestDB(t)
	purger := NewPurger(db, nil, 5)
	ctx := context.Background()

	createExpiredSubmission(t, db, "")
	createExpiredSubmission(t, db, "")

	// 保留期未到的提交不应被清理
	fresh := &validation.Submission{
		ID:              uuid.NewString(),
		TenantID:        uuid.NewString(),
		ContentType:     "application/json",
		Content:         `{}`,
		Checksum:        "beef",
		RetentionPolicy: validation.RetentionStoreNDays,
		RetentionDays:   30,
	}
	if err := db.Create(fresh).Error; err != nil {
		t.Fatalf("创建提交失败: %v", err)
	}

	report, err := purger.Sweep(ctx, 100, 10, false)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if report.Purged != 2 || report.Failed != 0 {
		t.Fatalf("扫描结果不正确: %+v", report)
	}

	var reloaded validation.Submission
	db.First(&reloaded, "id = ?", fresh.ID)
	if reloaded.IsPurged() {
		t.Fatal("保留期未到的提交不应被清理")
	}

	if report.ReachedMax {
		t.Fatal("单批扫完不应报告批数上限")
	}

	lines := strings.Join(report.Lines(), "\n")
	if !strings.Contains(lines, "Purged: 2") {
		t.Fatalf("报告行不正确: %s", lines)
	}
}

func TestSweepCountsAlreadyPurged(t *testing.T) {
	db := setupRetentionTestDB(t)
	purger := NewPurger(db, nil, 5)
	ctx := context.Background()

	done := createExpiredSubmission(t, db, "")
	if err := purger.Purge(ctx, done); err != nil {
		t.Fatalf("预清理失败: %v", err)
	}
	createExpiredSubmission(t, db, "")

	report, err := purger.Sweep(ctx, 100, 10, false)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if report.Purged != 1 || report.Skipped != 1 {
		t.Fatalf("扫描结果不正确: %+v", report)
	}
	lines := strings.Join(report.Lines(), "\n")
	if !strings.Contains(lines, "Skipped (already purged): 1") {
		t.Fatalf("报告行不正确: %s", lines)
	}
}

func TestSweepReachedMaxBatchLimit(t *testing.T) {
	db := setupRetentionTestDB(t)
	purger := NewPurger(db, nil, 5)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		createExpiredSubmission(t, db, "")
	}

	report, err := purger.Sweep(ctx, 1, 2, false)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if report.Batches != 2 || report.Purged != 2 {
		t.Fatalf("扫描结果不正确: %+v", report)
	}
	if !report.ReachedMax {
		t.Fatal("批数用完且最后一批是满批时应报告上限")
	}
	if !strings.Contains(strings.Join(report.Lines(), "\n"), "Reached max batch limit") {
		t.Fatalf("报告行不正确: %+v", report.Lines())
	}

	// 下一轮扫描接手剩余部分
	report, err = purger.Sweep(ctx, 100, 10, false)
	if err != nil {
		t.Fatalf("二次扫描失败: %v", err)
	}
	if report.Purged != 1 || report.Skipped != 2 || report.ReachedMax {
		t.Fatalf("二次扫描结果不正确: %+v", report)
	}
}

func TestSweepDryRun(t *testing.T) {
	db := setupRetentionTestDB(t)
	purger := NewPurger(db, nil, 5)

	sub := createExpiredSubmission(t, db, "")

	report, err := purger.Sweep(context.Background(), 100, 10, true)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if report.Purged != 1 {
		t.Fatalf("dry-run 应当统计候选: %+v", report)
	}

	var reloaded validation.Submission
	db.First(&reloaded, "id = ?", sub.ID)
	if reloaded.IsPurged() {
		t.Fatal("dry-run 不应修改数据")
	}
}

func TestSweepRecordsFailureWithBackoff(t *testing.T) {
	db := setupRetentionTestDB(t)
	failingDelete := func(ctx context.Context, fileRef string) error {
		return errors.New("object storage unreachable")
	}
	purger := NewPurger(db, failingDelete, 5)

	sub := createExpiredSubmission(t, db, "s3://bucket/doc.json")

	before := time.Now()
	report, err := purger.Sweep(context.Background(), 100, 10, false)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("失败统计不正确: %+v", report)
	}

	var record PurgeRetryRecord
	if err := db.First(&record, "submission_id = ?", sub.ID).Error; err != nil {
		t.Fatalf("应当创建重试记录: %v", err)
	}
	if record.AttemptCount != 1 {
		t.Fatalf("尝试次数不正确: %d", record.AttemptCount)
	}
	wantRetry := before.Add(60 * time.Second)
	if record.NextRetryAt.Before(wantRetry.Add(-5*time.Second)) || record.NextRetryAt.After(wantRetry.Add(5*time.Second)) {
		t.Fatalf("首次重试时间应约为 60s 后: %v", record.NextRetryAt)
	}
	if !strings.Contains(record.LastError, "object storage unreachable") {
		t.Fatalf("失败原因不正确: %s", record.LastError)
	}
}

func TestRetrySweepSuccessDeletesRecord(t *testing.T) {
	db := setupRetentionTestDB(t)
	purger := NewPurger(db, nil, 5)
	ctx := context.Background()

	sub := createExpiredSubmission(t, db, "")
	record := PurgeRetryRecord{
		ID:           uuid.NewString(),
		SubmissionID: sub.ID,
		AttemptCount: 1,
		NextRetryAt:  time.Now().Add(-time.Minute),
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("创建重试记录失败: %v", err)
	}

	report, err := purger.RetrySweep(ctx, 100)
	if err != nil {
		t.Fatalf("重试扫描失败: %v", err)
	}
	if report.Purged != 1 {
		t.Fatalf("重试扫描结果不正确: %+v", report)
	}

	var count int64
	db.Model(&PurgeRetryRecord{}).Count(&count)
	if count != 0 {
		t.Fatal("成功后应删除重试记录")
	}
}

func TestRetrySweepParksAfterMaxAttempts(t *testing.T) {
	db := setupRetentionTestDB(t)
	failingDelete := func(ctx context.Context, fileRef string) error {
		return errors.New("still unreachable")
	}
	purger := NewPurger(db, failingDelete, 3)
	ctx := context.Background()

	sub := createExpiredSubmission(t, db, "s3://bucket/doc.json")
	record := PurgeRetryRecord{
		ID:           uuid.NewString(),
		SubmissionID: sub.ID,
		AttemptCount: 2,
		NextRetryAt:  time.Now().Add(-time.Minute),
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("创建重试记录失败: %v", err)
	}

	if _, err := purger.RetrySweep(ctx, 100); err != nil {
		t.Fatalf("重试扫描失败: %v", err)
	}

	var reloaded PurgeRetryRecord
	if err := db.First(&reloaded, "id = ?", record.ID).Error; err != nil {
		t.Fatalf("加载重试记录失败: %v", err)
	}
	if reloaded.AttemptCount != 3 {
		t.Fatalf("尝试次数不正确: %d", reloaded.AttemptCount)
	}
	// 停放约 1 年
	if reloaded.NextRetryAt.Before(time.Now().Add(360 * 24 * time.Hour)) {
		t.Fatalf("达到上限后应长时间停放: %v", reloaded.NextRetryAt)
	}

	// 停放的记录不再被重试扫描处理
	report, err := purger.RetrySweep(ctx, 100)
	if err != nil {
		t.Fatalf("二次重试扫描失败: %v", err)
	}
	if report.Purged != 0 || report.Failed != 0 {
		t.Fatalf("停放记录不应被处理: %+v", report)
	}
}

func TestErrorTruncation(t *testing.T) {
	long := strings.Repeat("x", 3000)
	if got := truncateError(long); len(got) != maxErrorLength {
		t.Fatalf("错误信息应截断到 %d: %d", maxErrorLength, len(got))
	}
	if got := truncateError("short"); got != "short" {
		t.Fatalf("短错误不应截断: %s", got)
	}
}
