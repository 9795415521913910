package infra

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// slowQueryThreshold 慢查询告警阈值。
// 钱包更新持行锁，慢 SQL 会直接拉长同一用户的扣减延迟
const slowQueryThreshold = 200 * time.Millisecond

// gormZapLogger 把 GORM 日志桥接到 zap。
// ErrRecordNotFound 不算错误：钱包首次播种、支付幂等查询都会常规性地查空。
type gormZapLogger struct {
	zl    *zap.Logger
	level gormLogger.LogLevel
}

// NewGormZapLogger 创建 GORM 日志适配器
func NewGormZapLogger(zl *zap.Logger) gormLogger.Interface {
	return &gormZapLogger{zl: zl, level: gormLogger.Warn}
}

// LogMode 设置日志级别
func (l *gormZapLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormZapLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormLogger.Info {
		l.zl.Sugar().Infof(msg, args...)
	}
}

func (l *gormZapLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormLogger.Warn {
		l.zl.Sugar().Warnf(msg, args...)
	}
}

func (l *gormZapLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormLogger.Error {
		l.zl.Sugar().Errorf(msg, args...)
	}
}

// Trace SQL 执行日志
func (l *gormZapLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormLogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && !errors.Is(err, gormLogger.ErrRecordNotFound):
		l.zl.Error("SQL 执行错误", append(fields, zap.Error(err))...)
	case elapsed > slowQueryThreshold:
		l.zl.Warn("SQL 慢查询", fields...)
	case l.level >= gormLogger.Info:
		l.zl.Debug("SQL 执行", fields...)
	}
}
