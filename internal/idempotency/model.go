package idempotency

import "time"

// 幂等记录状态
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
)

// Record 幂等键记录
// (tenant_id, endpoint, key) 上的唯一索引是并发仲裁的根基：
// 同键并发请求中恰好一个 INSERT 成功，其余撞唯一约束后走复用裁决
type Record struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;uniqueIndex:idx_idem_scope,priority:1"`
	Endpoint string `json:"endpoint" gorm:"size:255;not null;uniqueIndex:idx_idem_scope,priority:2"`
	Key      string `json:"key" gorm:"size:255;not null;uniqueIndex:idx_idem_scope,priority:3"`

	// 请求体的 SHA-256，用于识别同键不同体的误用
	RequestHash string `json:"requestHash" gorm:"size:64;not null"`

	Status string `json:"status" gorm:"size:20;not null;default:PROCESSING"`

	// 首个请求的最终响应，键复用时原样重放
	ResponseStatus int    `json:"responseStatus" gorm:"default:0"`
	ResponseBody   []byte `json:"-" gorm:"type:bytea"`

	FirstSeenAt time.Time  `json:"firstSeenAt" gorm:"not null"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ExpiresAt   time.Time  `json:"expiresAt" gorm:"not null;index"`
}

// IsExpired 记录是否已过期
func (r *Record) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
