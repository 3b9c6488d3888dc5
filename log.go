package megafon

import (
	"context"
	"log/slog"
)

// Logger is the structured log sink used by the portal client.
// *slog.Logger satisfies it.
type Logger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return slog.New(slog.DiscardHandler)
}
