package retention

import "time"

// PurgeRetryRecord 清理失败后的重试记录
// 每个提交内容至多一条，失败时递增尝试次数并按指数退避重排
type PurgeRetryRecord struct {
	ID           string `json:"id" gorm:"primaryKey;type:uuid"`
	SubmissionID string `json:"submissionId" gorm:"type:uuid;not null;uniqueIndex"`

	AttemptCount int `json:"attemptCount" gorm:"not null;default:0"`

	// 最近一次失败原因，截断保存
	LastError string `json:"lastError" gorm:"size:2000"`

	NextRetryAt   time.Time  `json:"nextRetryAt" gorm:"not null;index"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}
