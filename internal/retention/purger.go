package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"validibot/internal/logger"
	"validibot/internal/metrics"
	"validibot/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ObjectDeleter 对象存储删除钩子
// 内联内容的清理只涉及数据库，走 FileRef 的大文件还需要删除对象存储中的副本
type ObjectDeleter func(ctx context.Context, fileRef string) error

// Purger 提交内容清理器
type Purger struct {
	db           *gorm.DB
	deleteObject ObjectDeleter
	maxAttempts  int
	now          func() time.Time
}

// NewPurger 创建清理器
func NewPurger(db *gorm.DB, deleteObject ObjectDeleter, maxAttempts int) *Purger {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Purger{
		db:           db,
		deleteObject: deleteObject,
		maxAttempts:  maxAttempts,
		now:          time.Now,
	}
}

// Purge 清理单个提交的内容
// 幂等：已清理的提交直接返回；校验和等审计元数据永久保留
func (p *Purger) Purge(ctx context.Context, submission *validation.Submission) error {
	if submission.IsPurged() {
		return nil
	}

	if submission.FileRef != "" && p.deleteObject != nil {
		if err := p.deleteObject(ctx, submission.FileRef); err != nil {
			return fmt.Errorf("删除对象存储副本失败: %w", err)
		}
	}

	now := p.now()
	err := p.db.WithContext(ctx).Model(&validation.Submission{}).
		Where("id = ? AND content_purged_at IS NULL", submission.ID).
		Updates(map[string]any{
			"content":           "",
			"file_ref":          "",
			"content_purged_at": &now,
		}).Error
	if err != nil {
		return fmt.Errorf("清空提交内容失败: %w", err)
	}

	submission.ContentPurgedAt = &now
	return nil
}

// SweepReport 一次扫描的统计结果
type SweepReport struct {
	Purged     int
	Skipped    int
	Failed     int
	Batches    int
	ReachedMax bool
	DryRun     bool
}

// Lines 面向运维输出的报告行
func (r *SweepReport) Lines() []string {
	lines := []string{
		fmt.Sprintf("Purged: %d", r.Purged),
		fmt.Sprintf("Skipped (already purged): %d", r.Skipped),
		fmt.Sprintf("Failed: %d", r.Failed),
	}
	if r.ReachedMax {
		lines = append(lines, "Reached max batch limit")
	}
	if r.DryRun {
		lines = append(lines, "Dry run: no content was modified")
	}
	return lines
}

// Sweep 扫描并清理所有保留期已到的提交内容
// 保留期依赖策略与天数，在应用侧逐行判定；已清理的行计入 Skipped。
// 分批处理限制单次扫描的工作量，剩余部分留给下一轮
func (p *Purger) Sweep(ctx context.Context, batchSize, maxBatches int, dryRun bool) (*SweepReport, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxBatches <= 0 {
		maxBatches = 10
	}

	report := &SweepReport{DryRun: dryRun}
	now := p.now()
	var lastID string

	for batch := 0; batch < maxBatches; batch++ {
		var candidates []validation.Submission
		query := p.db.WithContext(ctx).
			Order("id ASC").
			Limit(batchSize)
		if lastID != "" {
			query = query.Where("id > ?", lastID)
		}
		if err := query.Find(&candidates).Error; err != nil {
			return report, fmt.Errorf("扫描待清理提交失败: %w", err)
		}
		if len(candidates) == 0 {
			return report, nil
		}
		report.Batches++
		lastID = candidates[len(candidates)-1].ID

		for i := range candidates {
			submission := &candidates[i]
			if submission.IsPurged() {
				report.Skipped++
				metrics.PurgeResultsTotal.WithLabelValues("skipped").Inc()
				continue
			}
			if submission.RetentionExpiry().After(now) {
				continue
			}
			if dryRun {
				report.Purged++
				continue
			}

			if err := p.Purge(ctx, submission); err != nil {
				report.Failed++
				metrics.PurgeResultsTotal.WithLabelValues("failed").Inc()
				p.recordFailure(ctx, submission.ID, err)
				continue
			}
			report.Purged++
			metrics.PurgeResultsTotal.WithLabelValues("purged").Inc()
		}

		if len(candidates) < batchSize {
			return report, nil
		}
	}

	// 批数用完且最后一批是满的，后面可能还有未扫到的行
	report.ReachedMax = true
	return report, nil
}

// recordFailure 登记清理失败，首次失败创建重试记录，后续失败递增退避
func (p *Purger) recordFailure(ctx context.Context, submissionID string, cause error) {
	now := p.now()

	var record PurgeRetryRecord
	err := p.db.WithContext(ctx).First(&record, "submission_id = ?", submissionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record = PurgeRetryRecord{
			ID:            uuid.NewString(),
			SubmissionID:  submissionID,
			AttemptCount:  1,
			LastError:     truncateError(cause.Error()),
			NextRetryAt:   now.Add(RetryDelay(1)),
			LastAttemptAt: &now,
		}
		if err := p.db.WithContext(ctx).Create(&record).Error; err != nil {
			logger.Error("创建清理重试记录失败", zap.String("submission_id", submissionID), zap.Error(err))
		}
		return
	}
	if err != nil {
		logger.Error("查询清理重试记录失败", zap.String("submission_id", submissionID), zap.Error(err))
		return
	}

	p.bumpRetry(ctx, &record, cause)
}

// bumpRetry 失败后推进重试记录：递增次数、重排下次重试时间
// 达到上限后长时间停放，等待人工介入
func (p *Purger) bumpRetry(ctx context.Context, record *PurgeRetryRecord, cause error) {
	now := p.now()
	record.AttemptCount++
	record.LastError = truncateError(cause.Error())
	record.LastAttemptAt = &now

	if record.AttemptCount >= p.maxAttempts {
		record.NextRetryAt = now.Add(parkDuration)
		metrics.PurgeResultsTotal.WithLabelValues("parked").Inc()
		logger.Error("提交内容清理达到重试上限，requires manual intervention",
			zap.String("submission_id", record.SubmissionID),
			zap.Int("attempts", record.AttemptCount),
			zap.String("last_error", record.LastError),
		)
	} else {
		record.NextRetryAt = now.Add(RetryDelay(record.AttemptCount))
	}

	if err := p.db.WithContext(ctx).Save(record).Error; err != nil {
		logger.Error("更新清理重试记录失败", zap.String("submission_id", record.SubmissionID), zap.Error(err))
	}
}

// RetrySweep 处理到期的清理重试
// 成功后删除重试记录；失败继续退避；达到上限后停放
func (p *Purger) RetrySweep(ctx context.Context, batchSize int) (*SweepReport, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	report := &SweepReport{}
	now := p.now()

	var due []PurgeRetryRecord
	err := p.db.WithContext(ctx).
		Where("next_retry_at <= ? AND attempt_count < ?", now, p.maxAttempts).
		Order("next_retry_at ASC").
		Limit(batchSize).
		Find(&due).Error
	if err != nil {
		return report, fmt.Errorf("扫描清理重试记录失败: %w", err)
	}

	for i := range due {
		record := &due[i]

		var submission validation.Submission
		err := p.db.WithContext(ctx).First(&submission, "id = ?", record.SubmissionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 提交已被直接删除，重试记录没有存在意义
			p.db.WithContext(ctx).Delete(&PurgeRetryRecord{}, "id = ?", record.ID)
			report.Skipped++
			continue
		}
		if err != nil {
			report.Failed++
			continue
		}

		if submission.IsPurged() {
			p.db.WithContext(ctx).Delete(&PurgeRetryRecord{}, "id = ?", record.ID)
			report.Skipped++
			metrics.PurgeResultsTotal.WithLabelValues("skipped").Inc()
			continue
		}

		if err := p.Purge(ctx, &submission); err != nil {
			report.Failed++
			metrics.PurgeResultsTotal.WithLabelValues("failed").Inc()
			p.bumpRetry(ctx, record, err)
			continue
		}

		p.db.WithContext(ctx).Delete(&PurgeRetryRecord{}, "id = ?", record.ID)
		report.Purged++
		metrics.PurgeResultsTotal.WithLabelValues("purged").Inc()
	}

	var backlog int64
	p.db.WithContext(ctx).Model(&PurgeRetryRecord{}).Count(&backlog)
	metrics.PurgeRetryBacklog.Set(float64(backlog))

	return report, nil
}
