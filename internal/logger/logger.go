package logger

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

// Logger is the logging surface used by the allocator.
type Logger interface {
	InfofCtx(ctx context.Context, format string, args ...any)
	ErrorfCtx(ctx context.Context, format string, args ...any)
}

type Noop struct{}

var _ Logger = Noop{}

func (Noop) InfofCtx(ctx context.Context, format string, args ...any)  {}
func (Noop) ErrorfCtx(ctx context.Context, format string, args ...any) {}

// Slog forwards formatted messages to a *slog.Logger, keeping the caller's source position.
type Slog struct {
	logger *slog.Logger
}

var _ Logger = (*Slog)(nil)

func NewSlog(logger *slog.Logger) *Slog {
	return &Slog{logger: logger}
}

func (l *Slog) InfofCtx(ctx context.Context, format string, args ...any) {
	l.log(ctx, slog.LevelInfo, format, args...)
}

func (l *Slog) ErrorfCtx(ctx context.Context, format string, args ...any) {
	l.log(ctx, slog.LevelError, format, args...)
}

func (l *Slog) log(ctx context.Context, level slog.Level, format string, args ...any) {
	if !l.logger.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip [Callers, log, InfofCtx/ErrorfCtx]
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), pcs[0])
	_ = l.logger.Handler().Handle(ctx, r)
}
