package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"validibot/internal/common"
	"validibot/internal/logger"
	"validibot/internal/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HeaderKey 幂等键请求头
const HeaderKey = "Idempotency-Key"

// HeaderReplayed 标记响应来自重放的响应头
const HeaderReplayed = "Idempotency-Replayed"

// bodyWriter 捕获响应体，供 Complete 落库重放
type bodyWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}

func (w *bodyWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Gate 幂等门中间件
// 携带 Idempotency-Key 的请求恰好产生一次业务副作用：
// 首个请求正常执行并落库响应，后续同键同体请求重放该响应
func Gate(store *Store, maxKeyLength int) gin.HandlerFunc {
	if maxKeyLength <= 0 {
		maxKeyLength = 255
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderKey)
		if key == "" {
			c.Next()
			return
		}

		if len(key) > maxKeyLength {
			common.AbortWithError(c, common.CodeIdempotencyKeyTooLong,
				fmt.Sprintf("idempotency key exceeds maximum length of %d", maxKeyLength))
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			common.AbortWithError(c, common.CodeInvalidRequest, "读取请求体失败")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		sum := sha256.Sum256(body)
		requestHash := hex.EncodeToString(sum[:])

		tenantID := c.GetString("tenant_id")
		endpoint := c.Request.Method + " " + c.FullPath()

		record, created, err := store.Claim(c.Request.Context(), tenantID, endpoint, key, requestHash)
		if err != nil {
			logger.WithContext(c.Request.Context()).Error("幂等键认领失败", zap.Error(err))
			common.AbortWithError(c, common.CodeInternalError, "幂等检查失败")
			return
		}

		if !created {
			// 在途记录先于哈希比对：首个请求尚未收场时一律 409，
			// 请求体比对只对 COMPLETED 记录有意义
			switch {
			case record.Status == StatusProcessing:
				metrics.IdempotencyResultsTotal.WithLabelValues("in_flight").Inc()
				common.AbortWithError(c, common.CodeIdempotencyInFlight,
					"a request with this idempotency key is still being processed")
			case record.RequestHash != requestHash:
				metrics.IdempotencyResultsTotal.WithLabelValues("mismatch").Inc()
				common.AbortWithError(c, common.CodeIdempotencyKeyReused,
					"idempotency key was already used with a different request body")
			default:
				metrics.IdempotencyResultsTotal.WithLabelValues("replayed").Inc()
				c.Header(HeaderReplayed, "true")
				c.Data(record.ResponseStatus, "application/json", record.ResponseBody)
				c.Abort()
			}
			return
		}

		metrics.IdempotencyResultsTotal.WithLabelValues("created").Inc()

		writer := &bodyWriter{ResponseWriter: c.Writer}
		c.Writer = writer

		// 处理 panic 时释放认领再继续向上抛，避免键被永久占用
		defer func() {
			if r := recover(); r != nil {
				if err := store.Release(c.Request.Context(), record.ID); err != nil {
					logger.Error("释放幂等键失败", zap.Error(err))
				}
				panic(r)
			}
		}()

		c.Next()

		status := writer.Status()
		if status >= http.StatusOK && status < http.StatusBadRequest {
			if err := store.Complete(c.Request.Context(), record.ID, status, writer.buf.Bytes()); err != nil {
				logger.WithContext(c.Request.Context()).Error("落库幂等响应失败", zap.Error(err))
			}
		} else {
			if err := store.Release(c.Request.Context(), record.ID); err != nil {
				logger.WithContext(c.Request.Context()).Error("释放幂等键失败", zap.Error(err))
			}
		}
	}
}
