package obs

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-Id"

// statusRecorder remembers the status and size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status != 0 {
		return
	}
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(p)
	s.bytes += int64(n)
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// RequestMiddleware assigns each request an ID (client supplied, the W3C
// trace ID, or a fresh one) and stores it in the request context.
func RequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := traceIDFromParent(r.Header.Get("traceparent"))
		requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		switch {
		case requestID != "":
		case traceID != "":
			requestID = traceID
		default:
			requestID = newRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := WithRequestInfo(r.Context(), RequestInfo{RequestID: requestID, TraceID: traceID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type accessKey struct{}

// accessEntry collects fields that inner handlers learn after the access
// log middleware has already passed the request on.
type accessEntry struct {
	mu    sync.Mutex
	actor string
}

// SetAccessActor attaches the authenticated username to the request's access log line.
func SetAccessActor(ctx context.Context, actor string) {
	if e, ok := ctx.Value(accessKey{}).(*accessEntry); ok {
		e.mu.Lock()
		e.actor = actor
		e.mu.Unlock()
	}
}

// AccessLogMiddleware emits one structured event per request. Server errors
// log at warn, everything else at info.
func AccessLogMiddleware(pkg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		entry := &accessEntry{}
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), accessKey{}, entry)))

		lvl := slog.LevelInfo
		if rec.code() >= http.StatusInternalServerError {
			lvl = slog.LevelWarn
		}
		entry.mu.Lock()
		actor := entry.actor
		entry.mu.Unlock()

		From(r.Context()).With("pkg", pkg).Log(r.Context(), lvl, "http_access",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code(),
			"actor", actor,
			"dur_ms", float64(time.Since(start).Microseconds())/1000.0,
			"resp_bytes", rec.bytes,
		)
	})
}

// traceIDFromParent extracts the trace ID from a W3C traceparent header
// ("00-<32 hex>-<16 hex>-<2 hex>"). Invalid or all-zero IDs yield "".
func traceIDFromParent(traceparent string) string {
	parts := strings.Split(strings.TrimSpace(traceparent), "-")
	if len(parts) != 4 {
		return ""
	}
	id := strings.ToLower(parts[1])
	if len(id) != 32 || strings.Trim(id, "0") == "" {
		return ""
	}
	if strings.Trim(id, "0123456789abcdef") != "" {
		return ""
	}
	return id
}
