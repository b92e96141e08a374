package idempotency

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"validibot/internal/logger"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	logger.Init("error", "console", "stderr")
	os.Exit(m.Run())
}

func setupIdempotencyTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:idem_%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("迁移 schema 失败: %v", err)
	}
	return db
}

const (
	testTenant   = "11111111-1111-1111-1111-111111111111"
	testEndpoint = "POST /api/v1/runs"
)

func TestClaimFirstRequest(t *testing.T) {
	db := setupIdempotencyTestDB(t)
	store := NewStore(db, time.Hour)
	ctx := context.Background()

	record, created, err := store.Claim(ctx, testTenant, testEndpoint, "key-1", "hash-a")
	if err != nil {
		t.Fatalf("认领失败: %v", err)
	}
	if !created {
		t.Fatal("首个请求应当成功认领")
	}
	if record.Status != StatusProcessing {
		t.Fatalf("新记录状态不正确: %s", record.Status)
	}
}

func TestClaimDuplicateReturnsExisting(t *testing.T) {
	db := setupIdempotencyTestDB(t)
	store := NewStore(db, time.Hour)
	ctx := context.Background()

	first, created, err := store.Claim(ctx, testTenant, testEndpoint, "key-1", "hash-a")
	if err != nil || !created {
		t.Fatalf("首次认领失败: %v", err)
	}

	second, created, err := store.Claim(ctx, testTenant, testEndpoint, "key-1", "hash-b")
	if err != nil {
		t.Fatalf("二次认领失败: %v", err)
	}
	if created {
		t.Fatal("同键的二次请求不应新建记录")
	}
	if second.ID != first.ID {
		t.Fatalf("应当返回首个请求的记录: %s != %s", second.ID, first.ID)
	}
	// 请求哈希保持首个请求的值，由调用方比对
	if second.RequestHash != "hash-a" {
		t.Fatalf("请求哈希不应被覆盖: %s", second.RequestHash)
	}
}

func TestClaimDifferentKeysIndependent(t *testing.T) {
	db := setupIdempotencyTestDB(t)
	store := NewStore(db, time.Hour)
	ctx := context.Background()

	if _, created, err := store.Claim(ctx, testTenant, testEndpoint, "key-1", "hash-a"); err != nil || !created {
		t.Fatalf("认领 key-1 失败: %v", err)
	}
	if _, created, err := store.Claim(ctx, testTenant, testEndpoint, "key-2", "hash-a"); err != nil || !created {
		t.Fatalf("不同键应当独立认领: %v", err)
	}
	// 相同键不同端点也独立
	if _, created, err := store.Claim(ctx, testTenant, "POST /api/v1/submissions", "key-1", "hash-a"); err != nil || !created {
		t.Fatalf("不同端点应当独立认领: %v", err)
	}
}

func TestClaimExpiredRecordIsReclaimed(t *testing.T) {
	db := setupIdempotencyTestDB(t)
	store := NewStore(db, time.Hour)
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base }

	first, created, err := store.Claim(ctx, testTenant, testEndpoint, "key-1", "hash-a")
	if err != nil || !created {
		t.Fatalf("首次认领失败: %v", err)
	}

	// 时间推进到过期之后
	store.now = func() time.Time { return base.Add(2 * time.Hour) }

	second, created, err := store.Claim(ctx, testTenant, testEndpoint, "key-1", "hash-b")
	if err != nil {
		t.Fatalf("过期后认领失败: %v", err)
	}
	if !created {
		t.Fatal("过期记录应当被惰性删除后重新认领")
	}
	if second.ID == first.ID {
		t.Fatal("重新认领应当是新记录")
	}
	if second.RequestHash != "hash-b" {
		t.Fatalf("新记录应当携带新请求哈希: %s", second.RequestHash)
	}
}

func TestClaimConcurrentSameKeyExactlyOnce(t *testing.T) {
	db := setupIdempotencyTestDB(t)
	// sqlite 单连接串行化写入，认领裁决仍由唯一约束完成
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取底层连接池失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	store := NewStore(db, time.Hour)
	ctx := context.Background()

	const n = 8
	var created int32
	errCh := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.Claim(ctx, testTenant, testEndpoint, "key-1", "hash-a")
			if err != nil {
				errCh <- err
				return
			}
			if ok {
				atomic.AddInt32(&created, 1)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("并发认领报错: %v", err)
	}

	if created != 1 {
		t.Fatalf("并发同键认领应当恰好一次成功: %d", created)
	}
	var count int64
	db.Model(&Record{}).Count(&count)
	if count != 1 {
		t.Fatalf("同键只应存在一条记录: %d", count)
	}
}

func TestCompleteAndRelease(t *testing.T) {
	db := setupIdempotencyTestDB(t)
	store := NewStore(db, time.Hour)
	ctx := context.Background()

	record, _, err := store.Claim(ctx, testTenant, testEndpoint, "key-1", "hash-a")
	if err != nil {
		t.Fatalf("认领失败: %v", err)
	}

	if err := store.Complete(ctx, record.ID, 201, []byte(`{"id":"r1"}`)); err != nil {
		t.Fatalf("落库响应失败: %v", err)
	}

	reloaded, created, err := store.Claim(ctx, testTenant, testEndpoint, "key-1", "hash-a")
	if err != nil || created {
		t.Fatalf("完成后的记录应当被复用: %v", err)
	}
	if reloaded.Status != StatusCompleted || reloaded.ResponseStatus != 201 {
		t.Fatalf("完成状态不正确: %+v", reloaded)
	}
	if string(reloaded.ResponseBody) != `{"id":"r1"}` {
		t.Fatalf("响应体不正确: %s", reloaded.ResponseBody)
	}

	// Release 后键可以重新认领
	other, _, err := store.Claim(ctx, testTenant, testEndpoint, "key-2", "hash-a")
	if err != nil {
		t.Fatalf("认领失败: %v", err)
	}
	if err := store.Release(ctx, other.ID); err != nil {
		t.Fatalf("释放失败: %v", err)
	}
	if _, created, err := store.Claim(ctx, testTenant, testEndpoint, "key-2", "hash-c"); err != nil || !created {
		t.Fatalf("释放后应当可以重新认领: %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	db := setupIdempotencyTestDB(t)
	store := NewStore(db, time.Hour)
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base }
	for i := 0; i < 3; i++ {
		if _, _, err := store.Claim(ctx, testTenant, testEndpoint, fmt.Sprintf("key-%d", i), "hash"); err != nil {
			t.Fatalf("认领失败: %v", err)
		}
	}

	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	deleted, err := store.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("清理过期记录失败: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("清理数量不正确: %d", deleted)
	}
}
