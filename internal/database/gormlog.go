package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// QueryLogger routes gorm output to slog. Only failed and slow queries are
// logged unless the level is raised to Info.
type QueryLogger struct {
	log           *slog.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger returns a QueryLogger at Warn with a 200ms slow threshold.
func NewGormLogger(l *slog.Logger) *QueryLogger {
	return &QueryLogger{log: l, level: logger.Warn, slowThreshold: 200 * time.Millisecond}
}

func (q *QueryLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *q
	cp.level = level
	return &cp
}

func (q *QueryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	q.printf(ctx, logger.Info, slog.LevelInfo, msg, data)
}

func (q *QueryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	q.printf(ctx, logger.Warn, slog.LevelWarn, msg, data)
}

func (q *QueryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	q.printf(ctx, logger.Error, slog.LevelError, msg, data)
}

func (q *QueryLogger) printf(ctx context.Context, need logger.LogLevel, lvl slog.Level, msg string, data []interface{}) {
	if q.level >= need {
		q.log.Log(ctx, lvl, fmt.Sprintf(msg, data...))
	}
}

// Trace reports one executed statement.
func (q *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	lvl, msg, ok := q.classify(elapsed, err)
	if !ok {
		return
	}
	sql, rows := fc()
	attrs := []slog.Attr{
		slog.String("sql", sql),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}
	if lvl == slog.LevelError {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	q.log.LogAttrs(ctx, lvl, msg, attrs...)
}

// classify decides whether a statement is logged and at which level. Missing
// rows are routine for item lookups and never count as errors.
func (q *QueryLogger) classify(elapsed time.Duration, err error) (slog.Level, string, bool) {
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && q.level >= logger.Error:
		return slog.LevelError, "query failed", true
	case q.slowThreshold > 0 && elapsed > q.slowThreshold && q.level >= logger.Warn:
		return slog.LevelWarn, "slow query", true
	case q.level >= logger.Info:
		return slog.LevelInfo, "query", true
	}
	return 0, "", false
}
