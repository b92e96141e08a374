package infra

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// GormZapLogger GORM 日志适配器，把 SQL 执行日志统一输出到 Zap
// 慢查询与执行错误分别提升为 Warn 和 Error 级别
type GormZapLogger struct {
	zl            *zap.Logger
	level         gormLogger.LogLevel
	slowThreshold time.Duration
}

// NewGormZapLogger 创建 GORM 日志适配器
func NewGormZapLogger(zl *zap.Logger, level gormLogger.LogLevel, slowThreshold time.Duration) *GormZapLogger {
	return &GormZapLogger{zl: zl, level: level, slowThreshold: slowThreshold}
}

// LogMode 设置日志级别
func (l *GormZapLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

// Info 日志
func (l *GormZapLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Info {
		l.zl.Sugar().Infof(msg, data...)
	}
}

// Warn 日志
func (l *GormZapLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Warn {
		l.zl.Sugar().Warnf(msg, data...)
	}
}

// Error 日志
func (l *GormZapLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Error {
		l.zl.Sugar().Errorf(msg, data...)
	}
}

// Trace SQL 执行日志
// 未命中记录（ErrRecordNotFound）不按错误处理，幂等记录查询会频繁触发
func (l *GormZapLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormLogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gormLogger.ErrRecordNotFound):
		l.zl.Error("SQL 执行错误",
			zap.Duration("elapsed", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
			zap.Error(err),
		)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		l.zl.Warn("SQL 慢查询",
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", l.slowThreshold),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
		)
	case l.level >= gormLogger.Info:
		l.zl.Debug("SQL 执行",
			zap.Duration("elapsed", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
		)
	}
}
