package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"validibot/internal/common"
	"validibot/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaxSubmissionBytes 内联提交内容的大小上限
const MaxSubmissionBytes = 10 << 20

// SubmissionService 提交内容服务
type SubmissionService struct {
	db *gorm.DB
}

// NewSubmissionService 创建提交内容服务
func NewSubmissionService(db *gorm.DB) *SubmissionService {
	return &SubmissionService{db: db}
}

// CreateSubmissionParams 创建提交内容的参数
type CreateSubmissionParams struct {
	TenantID        string
	Filename        string
	ContentType     string
	Content         string
	FileRef         string
	RetentionPolicy RetentionPolicy
	RetentionDays   int
}

// CreateSubmission 创建提交内容
// 校验和与大小在创建时计算并永久保留，内容清理后仍可审计
func (s *SubmissionService) CreateSubmission(ctx context.Context, params CreateSubmissionParams) (*Submission, *common.BusinessError) {
	if len(params.Content) > MaxSubmissionBytes {
		return nil, common.NewBusinessErrorWithCode(common.CodeSubmissionTooLarge)
	}

	sum := sha256.Sum256([]byte(params.Content))

	policy := params.RetentionPolicy
	if policy == "" {
		policy = RetentionStoreNDays
	}
	days := params.RetentionDays
	if policy == RetentionStoreNDays && days <= 0 {
		days = 30
	}

	submission := &Submission{
		ID:              uuid.NewString(),
		TenantID:        params.TenantID,
		Filename:        params.Filename,
		ContentType:     params.ContentType,
		Content:         params.Content,
		FileRef:         params.FileRef,
		Checksum:        hex.EncodeToString(sum[:]),
		SizeBytes:       int64(len(params.Content)),
		RetentionPolicy: policy,
		RetentionDays:   days,
	}
	if err := s.db.WithContext(ctx).Create(submission).Error; err != nil {
		return nil, common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("创建提交内容失败: %v", err))
	}
	return submission, nil
}

// GetSubmission 查询提交内容
func (s *SubmissionService) GetSubmission(ctx context.Context, tenantID, id string) (*Submission, *common.BusinessError) {
	var submission Submission
	err := s.db.WithContext(ctx).First(&submission, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewBusinessErrorWithCode(common.CodeSubmissionNotFound)
		}
		return nil, common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("查询提交内容失败: %v", err))
	}
	return &submission, nil
}

// DeleteSubmission 删除提交内容
// 先把引用它的运行记录的 submission_id 置空，历史运行保持可见；
// 数据库层没有 SET NULL 约束，置空在应用侧显式完成
func (s *SubmissionService) DeleteSubmission(ctx context.Context, tenantID, id string) *common.BusinessError {
	var submission Submission
	err := s.db.WithContext(ctx).First(&submission, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return common.NewBusinessErrorWithCode(common.CodeSubmissionNotFound)
		}
		return common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("查询提交内容失败: %v", err))
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ValidationRun{}).
			Where("submission_id = ?", id).
			Update("submission_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&Submission{}, "id = ?", id).Error
	})
	if err != nil {
		return common.NewBusinessError(common.CodeInternalError, fmt.Sprintf("删除提交内容失败: %v", err))
	}

	logger.WithContext(ctx).Info("提交内容已删除",
		zap.String("submission_id", id),
		zap.String("checksum", submission.Checksum),
	)
	return nil
}
