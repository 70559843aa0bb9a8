// Package obs configures structured JSON logging and carries per-request
// fields (request ID, trace ID, acting user) through context so every log
// line for a request can be joined.
package obs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
	level    = new(slog.LevelVar)
)

// Init configures the global logger on stderr. Later calls only change the level.
func Init(lvl slog.Level) {
	level.Set(lvl)
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		return
	}
	logger = newLogger(os.Stderr)
	slog.SetDefault(logger)
}

// ParseLevel maps debug|info|warn|error to a level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetOutputForTests redirects the global logger to w at debug level and
// returns a function restoring the previous logger.
func SetOutputForTests(w io.Writer) func() {
	loggerMu.Lock()
	prevLogger, prevLevel := logger, level.Level()
	level.Set(slog.LevelDebug)
	logger = newLogger(w)
	slog.SetDefault(logger)
	loggerMu.Unlock()

	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		level.Set(prevLevel)
		logger = prevLogger
		if logger == nil {
			logger = newLogger(os.Stderr)
		}
		slog.SetDefault(logger)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key != slog.TimeKey {
				return attr
			}
			if t, ok := attr.Value.Any().(time.Time); ok {
				return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
			}
			return attr
		},
	}))
}

func current() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		Init(slog.LevelInfo)
		loggerMu.RLock()
		l = logger
		loggerMu.RUnlock()
	}
	return l
}

// Pkg returns a logger tagged with package name.
func Pkg(pkg string) *slog.Logger {
	return current().With("pkg", pkg)
}

// From returns the global logger annotated with the request fields in ctx.
func From(ctx context.Context) *slog.Logger {
	l := current()
	if attrs := RequestInfoFromContext(ctx).attrs(); len(attrs) > 0 {
		return l.With(attrs...)
	}
	return l
}

type requestInfoKey struct{}

// RequestInfo identifies one request in logs and audit records.
type RequestInfo struct {
	RequestID string
	TraceID   string
	Actor     string
}

func (ri RequestInfo) attrs() []any {
	var attrs []any
	if ri.RequestID != "" {
		attrs = append(attrs, "request_id", ri.RequestID)
	}
	if ri.TraceID != "" {
		attrs = append(attrs, "trace_id", ri.TraceID)
	}
	if ri.Actor != "" {
		attrs = append(attrs, "actor", ri.Actor)
	}
	return attrs
}

// WithRequestInfo merges the non-empty fields of ri into ctx.
func WithRequestInfo(ctx context.Context, ri RequestInfo) context.Context {
	merged := RequestInfoFromContext(ctx)
	if ri.RequestID != "" {
		merged.RequestID = ri.RequestID
	}
	if ri.TraceID != "" {
		merged.TraceID = ri.TraceID
	}
	if ri.Actor != "" {
		merged.Actor = ri.Actor
	}
	return context.WithValue(ctx, requestInfoKey{}, merged)
}

// RequestInfoFromContext returns the request fields in ctx, or the zero value.
func RequestInfoFromContext(ctx context.Context) RequestInfo {
	if ctx == nil {
		return RequestInfo{}
	}
	ri, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return ri
}

// WithActor records the acting username.
func WithActor(ctx context.Context, actor string) context.Context {
	return WithRequestInfo(ctx, RequestInfo{Actor: strings.TrimSpace(actor)})
}

// ActorFromContext returns the acting username, or "".
func ActorFromContext(ctx context.Context) string {
	return RequestInfoFromContext(ctx).Actor
}

func newRequestID() string {
	return "req-" + uuid.NewString()
}
