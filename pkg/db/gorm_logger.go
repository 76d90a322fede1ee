package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/paycore/pkg/logger"
)

const defaultSlowQuery = 500 * time.Millisecond

// gormLogger forwards query failures and slow statements to the service logger. Record-not-found
// is expected control flow in the repositories and is never logged.
type gormLogger struct {
	logg  *logger.Logger
	slow  time.Duration
	level gormlogger.LogLevel
}

func newGormLogger(logg *logger.Logger, slow time.Duration) *gormLogger {
	if slow <= 0 {
		slow = defaultSlowQuery
	}
	level := gormlogger.Warn
	if logg == nil {
		level = gormlogger.Silent
	}
	return &gormLogger{logg: logg, slow: slow, level: level}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *g
	clone.level = level
	return &clone
}

func (g *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Info && g.logg != nil {
		g.logg.Info(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Warn && g.logg != nil {
		g.logg.Warn(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Error && g.logg != nil {
		g.logg.Error(ctx, fmt.Sprintf(msg, args...), nil)
	}
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent || g.logg == nil {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := elapsed >= g.slow
	if !failed && !(slow && g.level >= gormlogger.Warn) {
		return
	}

	statement, rows := fc()
	fields := g.logg.WithFields(ctx, map[string]any{
		"sql":        statement,
		"rows":       rows,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	if failed {
		g.logg.Error(fields, "db.query.failed", err)
		return
	}
	g.logg.Warn(fields, "db.query.slow")
}
