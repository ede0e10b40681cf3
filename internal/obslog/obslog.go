// Package obslog is a minimal correlated-logging wrapper over log/slog: a
// narrow interface (InfoCtx/WarnCtx/ErrorCtx) so call sites always pass a
// context, without any trace/span ID extraction — a single controller
// process has no distributed tracer to extract IDs from. Component code
// logs through this interface rather than a concrete *slog.Logger, and
// every call threads ctx through for whatever attributes a given
// deployment wants to inject later (request IDs, roof name, and so on).
package obslog

import (
	"context"
	"log/slog"
)

// Logger is the narrow logging contract roofcore and its collaborators
// depend on.
type Logger interface {
	InfoCtx(ctx context.Context, msg string, attrs ...any)
	WarnCtx(ctx context.Context, msg string, attrs ...any)
	ErrorCtx(ctx context.Context, msg string, attrs ...any)
}

type wrapped struct {
	base *slog.Logger
}

// New wraps base in the Logger contract. A nil base falls back to
// slog.Default().
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &wrapped{base: base}
}

func (w *wrapped) InfoCtx(ctx context.Context, msg string, attrs ...any) {
	w.base.InfoContext(ctx, msg, attrs...)
}

func (w *wrapped) WarnCtx(ctx context.Context, msg string, attrs ...any) {
	w.base.WarnContext(ctx, msg, attrs...)
}

func (w *wrapped) ErrorCtx(ctx context.Context, msg string, attrs ...any) {
	w.base.ErrorContext(ctx, msg, attrs...)
}
