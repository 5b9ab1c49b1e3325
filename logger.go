package gpucmd

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/wgpu/hal"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for gpucmd and the HAL backends it drives.
// By default gpucmd produces no log output. Pass nil to restore silence.
//
// Log levels used by gpucmd:
//   - [slog.LevelDebug]: resource lifecycle, debug groups and labels
//   - [slog.LevelInfo]: device creation and adapter selection
//   - [slog.LevelWarn]: recording misuse, forced releases at device teardown
//   - [slog.LevelError]: native failures on paths that cannot return an error
//
// Example:
//
//	gpucmd.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	hal.SetLogger(l)
}

// Logger returns the current logger used by gpucmd.
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// logMisuse reports a dropped recording call.
func logMisuse(op, reason string, args ...any) {
	Logger().Warn("gpucmd: recording misuse", append([]any{"op", op, "reason", reason}, args...)...)
}
