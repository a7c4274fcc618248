package gpuframe

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpuframe/gpucore"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

// liveBackends holds the backends of open devices so that SetLogger reaches
// them. Keys are gpucore.Backend values.
var liveBackends sync.Map

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for gpuframe and all its sub-packages.
// By default, gpuframe produces no log output. Call SetLogger to enable
// logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by gpuframe:
//   - [slog.LevelDebug]: per-frame diagnostics (slot reuse, collected objects, evictions)
//   - [slog.LevelInfo]: lifecycle events (device created and closed)
//   - [slog.LevelWarn]: recoverable misuse (nil destruction requests, empty submissions)
//   - [slog.LevelError]: thread slot overflow, device loss
//
// Example:
//
//	gpuframe.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	liveBackends.Range(func(key, _ any) bool {
		propagateLogger(key.(gpucore.Backend), l)
		return true
	})
}

// Logger returns the current logger used by gpuframe.
// Sub-packages receive it as a func so that SetLogger takes effect without
// recreating them.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by backends that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to a backend if it implements the
// loggerSetter interface. Called from both SetLogger and NewDevice so that a
// backend always has the current logger.
func propagateLogger(b gpucore.Backend, l *slog.Logger) {
	if ls, ok := b.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}

func trackBackend(b gpucore.Backend) {
	liveBackends.Store(b, struct{}{})
	propagateLogger(b, Logger())
}

func untrackBackend(b gpucore.Backend) {
	liveBackends.Delete(b)
}
