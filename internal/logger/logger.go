package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var levelVar = new(slog.LevelVar)

type sink struct {
	w       io.Writer
	handler slog.Handler
}

var (
	mu      sync.Mutex // serializes SetOutput/SetFormat
	current atomic.Pointer[sink]
)

func init() {
	current.Store(newSink(os.Stdout, "json"))
}

// L is the process-wide logger. Components derive scoped loggers through With. L itself is
// never reassigned; SetOutput and SetFormat swap what it writes to, so loggers derived earlier
// follow along and concurrent logging stays safe.
var L = slog.New(&switchHandler{})

func newSink(w io.Writer, format string) *sink {
	opts := &slog.HandlerOptions{Level: levelVar}
	if strings.EqualFold(format, "text") {
		return &sink{w: w, handler: slog.NewTextHandler(w, opts)}
	}
	return &sink{w: w, handler: slog.NewJSONHandler(w, opts)}
}

// SetLevel configures the global log level (debug, info, warn, error).
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// SetOutput redirects the global logger and sets its format.
// The interactive CLI points it at stderr so log lines don't interleave with the prompt.
func SetOutput(w io.Writer, f string) {
	mu.Lock()
	defer mu.Unlock()
	current.Store(newSink(w, f))
}

// SetFormat switches the handler between "json" (default) and "text".
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	current.Store(newSink(current.Load().w, f))
}

// With returns a logger tagged with the given component name.
func With(component string) *slog.Logger {
	return L.With("component", component)
}

// switchHandler forwards to the current sink, replaying the attrs and groups it was derived
// with.
type switchHandler struct {
	derive func(slog.Handler) slog.Handler
}

func (h *switchHandler) target() slog.Handler {
	base := current.Load().handler
	if h.derive == nil {
		return base
	}
	return h.derive(base)
}

func (h *switchHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= levelVar.Level()
}

func (h *switchHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.target().Handle(ctx, r)
}

func (h *switchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.chain(func(b slog.Handler) slog.Handler { return b.WithAttrs(attrs) })
}

func (h *switchHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.chain(func(b slog.Handler) slog.Handler { return b.WithGroup(name) })
}

func (h *switchHandler) chain(step func(slog.Handler) slog.Handler) slog.Handler {
	prev := h.derive
	return &switchHandler{derive: func(b slog.Handler) slog.Handler {
		if prev != nil {
			b = prev(b)
		}
		return step(b)
	}}
}
