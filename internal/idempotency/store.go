package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"validibot/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store 幂等记录的持久化存储
type Store struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewStore 创建幂等存储
func NewStore(db *gorm.DB, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{db: db, ttl: ttl, now: time.Now}
}

// isDuplicateKeyErr 唯一约束冲突判定
// TranslateError 开启后优先命中 gorm.ErrDuplicatedKey，字符串匹配兜底
func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "duplicate")
}

// Claim 认领幂等键
// created 为真表示本请求是该键的首个请求，调用方执行完后必须 Complete 或 Release；
// created 为假时返回已存在的记录，由调用方按状态与请求哈希裁决
func (s *Store) Claim(ctx context.Context, tenantID, endpoint, key, requestHash string) (*Record, bool, error) {
	return s.claim(ctx, tenantID, endpoint, key, requestHash, true)
}

func (s *Store) claim(ctx context.Context, tenantID, endpoint, key, requestHash string, retryExpired bool) (*Record, bool, error) {
	now := s.now()
	record := &Record{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Endpoint:    endpoint,
		Key:         key,
		RequestHash: requestHash,
		Status:      StatusProcessing,
		FirstSeenAt: now,
		ExpiresAt:   now.Add(s.ttl),
	}

	err := s.db.WithContext(ctx).Create(record).Error
	if err == nil {
		return record, true, nil
	}
	if !isDuplicateKeyErr(err) {
		return nil, false, fmt.Errorf("写入幂等记录失败: %w", err)
	}

	var existing Record
	err = s.db.WithContext(ctx).
		First(&existing, "tenant_id = ? AND endpoint = ? AND key = ?", tenantID, endpoint, key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) && retryExpired {
			// 与惰性删除竞态：记录刚被清掉，重试一次插入
			return s.claim(ctx, tenantID, endpoint, key, requestHash, false)
		}
		return nil, false, fmt.Errorf("加载幂等记录失败: %w", err)
	}

	// 过期记录惰性删除后重新认领
	if existing.IsExpired(now) && retryExpired {
		if err := s.db.WithContext(ctx).Delete(&Record{}, "id = ?", existing.ID).Error; err != nil {
			logger.Warn("删除过期幂等记录失败", zap.String("key", key), zap.Error(err))
		}
		return s.claim(ctx, tenantID, endpoint, key, requestHash, false)
	}

	return &existing, false, nil
}

// Complete 记录首个请求的最终响应
func (s *Store) Complete(ctx context.Context, id string, responseStatus int, responseBody []byte) error {
	now := s.now()
	return s.db.WithContext(ctx).Model(&Record{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          StatusCompleted,
			"response_status": responseStatus,
			"response_body":   responseBody,
			"completed_at":    &now,
		}).Error
}

// Release 释放认领
// 首个请求以错误收场时调用，让后续同键请求可以重新尝试
func (s *Store) Release(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&Record{}, "id = ?", id).Error
}

// PurgeExpired 批量清理过期记录，由后台任务周期调用
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&Record{}, "expires_at < ?", s.now())
	return res.RowsAffected, res.Error
}
