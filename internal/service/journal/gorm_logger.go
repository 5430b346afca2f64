package journal

import (
	"context"
	"errors"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zhouzirui/gpt-bridge/backend/internal/logger"
)

// slowQuery is the threshold above which a statement is logged as slow.
const slowQuery = time.Second

// GormLogger routes GORM output through the structured logger.
type GormLogger struct {
	log      logger.Logger
	LogLevel gormlogger.LogLevel
}

// NewGormLogger 创建新的 GormLogger 实例
func NewGormLogger(l logger.Logger) *GormLogger {
	return &GormLogger{
		log:      l,
		LogLevel: gormlogger.Warn,
	}
}

// LogMode 设置日志级别
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info 打印info级别日志
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Info {
		l.log.Info(msg, "requestId", middleware.GetReqID(ctx), "data", data)
	}
}

// Warn 打印warn级别日志
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Warn {
		l.log.Warn(msg, "requestId", middleware.GetReqID(ctx), "data", data)
	}
}

// Error 打印error级别日志
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Error {
		l.log.Error(msg, "requestId", middleware.GetReqID(ctx), "data", data)
	}
}

// Trace 打印SQL日志
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []any{
		"requestId", middleware.GetReqID(ctx),
		"sql", sql,
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds()) / 1e6,
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.LogLevel >= gormlogger.Error:
		l.log.Err(err, "sql failed", fields...)
	case elapsed > slowQuery && l.LogLevel >= gormlogger.Warn:
		l.log.Warn("slow sql", append(fields, "threshold", slowQuery.String())...)
	case l.LogLevel == gormlogger.Info:
		l.log.Debug("sql", fields...)
	}
}
