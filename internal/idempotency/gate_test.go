package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func setupGateRouter(t *testing.T, handler gin.HandlerFunc) (*gin.Engine, *Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := setupIdempotencyTestDB(t)
	store := NewStore(db, time.Hour)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("tenant_id", testTenant)
		c.Next()
	})
	router.POST("/runs", Gate(store, 255), handler)
	return router, store
}

func postRuns(router *gin.Engine, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGateNoKeyPassThrough(t *testing.T) {
	calls := 0
	router, _ := setupGateRouter(t, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"id": "r1"})
	})

	postRuns(router, "", `{"workflow_id":"w1"}`)
	postRuns(router, "", `{"workflow_id":"w1"}`)

	if calls != 2 {
		t.Fatalf("无幂等键的请求应当直接透传: %d", calls)
	}
}

func TestGateReplaysCompletedResponse(t *testing.T) {
	calls := 0
	router, _ := setupGateRouter(t, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"id": "r1"})
	})

	first := postRuns(router, "key-1", `{"workflow_id":"w1"}`)
	if first.Code != http.StatusCreated {
		t.Fatalf("首个请求状态不正确: %d", first.Code)
	}
	if first.Header().Get(HeaderReplayed) != "" {
		t.Fatal("首个请求不应标记为重放")
	}

	second := postRuns(router, "key-1", `{"workflow_id":"w1"}`)
	if second.Code != http.StatusCreated {
		t.Fatalf("重放请求状态不正确: %d", second.Code)
	}
	if second.Header().Get(HeaderReplayed) != "true" {
		t.Fatal("二次请求应标记为重放")
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("重放响应体应当一致: %s != %s", second.Body.String(), first.Body.String())
	}
	if calls != 1 {
		t.Fatalf("业务处理只应执行一次: %d", calls)
	}
}

func TestGateRejectsReusedKeyWithDifferentBody(t *testing.T) {
	router, _ := setupGateRouter(t, func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"id": "r1"})
	})

	postRuns(router, "key-1", `{"workflow_id":"w1"}`)
	resp := postRuns(router, "key-1", `{"workflow_id":"w2"}`)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("同键不同体应返回 422: %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "different request body") {
		t.Fatalf("错误信息不正确: %s", resp.Body.String())
	}
}

func TestGateRejectsInFlightKey(t *testing.T) {
	router, store := setupGateRouter(t, func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"id": "r1"})
	})

	// 预置一条 PROCESSING 记录模拟在途请求
	body := `{"workflow_id":"w1"}`
	if _, _, err := store.Claim(context.Background(), testTenant, "POST /runs", "key-1", sha256Hex(body)); err != nil {
		t.Fatalf("预置记录失败: %v", err)
	}

	resp := postRuns(router, "key-1", body)
	if resp.Code != http.StatusConflict {
		t.Fatalf("在途请求应返回 409: %d", resp.Code)
	}
}

func TestGateInFlightWinsOverBodyMismatch(t *testing.T) {
	router, store := setupGateRouter(t, func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"id": "r1"})
	})

	// 在途记录携带首个请求体的哈希
	if _, _, err := store.Claim(context.Background(), testTenant, "POST /runs", "key-1", sha256Hex(`{"workflow_id":"w1"}`)); err != nil {
		t.Fatalf("预置记录失败: %v", err)
	}

	// 请求体哈希比对只对已完成的记录生效，在途期间不同体也是 409
	resp := postRuns(router, "key-1", `{"workflow_id":"w2"}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("在途请求应返回 409 而非请求体冲突: %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "still being processed") {
		t.Fatalf("错误信息不正确: %s", resp.Body.String())
	}
}

func TestGateRejectsTooLongKey(t *testing.T) {
	router, _ := setupGateRouter(t, func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"id": "r1"})
	})

	resp := postRuns(router, strings.Repeat("k", 256), `{}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("超长幂等键应返回 400: %d", resp.Code)
	}
}

func TestGateReleasesOnHandlerError(t *testing.T) {
	calls := 0
	router, _ := setupGateRouter(t, func(c *gin.Context) {
		calls++
		if calls == 1 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": "r1"})
	})

	first := postRuns(router, "key-1", `{"workflow_id":"w1"}`)
	if first.Code != http.StatusInternalServerError {
		t.Fatalf("首个请求应返回 500: %d", first.Code)
	}

	// 失败请求释放了认领，重试应当重新执行业务
	second := postRuns(router, "key-1", `{"workflow_id":"w1"}`)
	if second.Code != http.StatusCreated {
		t.Fatalf("重试请求应当成功: %d", second.Code)
	}
	if calls != 2 {
		t.Fatalf("失败后的重试应当重新执行业务: %d", calls)
	}
}
