// Package audit records who did what to which resource, and how it ended.
//
// Logging is best effort: a sink failure is reported through slog and never
// changes the result of the operation being audited.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kuitang/notevault/internal/logutil"
	"github.com/kuitang/notevault/internal/obs"
)

// Action names an audited operation.
type Action string

const (
	ActionRegister             Action = "REGISTER"
	ActionLogin                Action = "LOGIN"
	ActionLogout               Action = "LOGOUT"
	ActionRefresh              Action = "REFRESH"
	ActionTokenRejected        Action = "TOKEN_REJECTED"
	ActionNoteCreate           Action = "NOTE_CREATE"
	ActionNoteRead             Action = "NOTE_READ"
	ActionNoteUpdate           Action = "NOTE_UPDATE"
	ActionNoteDelete           Action = "NOTE_DELETE"
	ActionIntegrityMismatch    Action = "INTEGRITY_MISMATCH"
	ActionAccessDenied         Action = "ACCESS_DENIED"
	ActionAdminListNotes       Action = "ADMIN_LIST_NOTES"
	ActionAdminViewAudit       Action = "ADMIN_VIEW_AUDIT"
	ActionAdminDeleteAccount   Action = "ADMIN_DELETE_ACCOUNT"
	ActionAdminVerifyIntegrity Action = "ADMIN_VERIFY_INTEGRITY"
	ActionBootstrap            Action = "BOOTSTRAP"
)

const (
	// ActorSystem is recorded for operations the service performs on its own.
	ActorSystem = "system"
	// ActorAnonymous is recorded when no identity could be established.
	ActorAnonymous = "anonymous"

	// MaxOutcomeChars bounds the outcome text stored per record.
	MaxOutcomeChars = 512
)

// Record is one immutable audit entry.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    Action    `json:"action"`
	Outcome   string    `json:"outcome"`
}

// Sink persists records. Implementations serialize their own appends.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	// List returns records oldest first. limit <= 0 returns everything.
	List(ctx context.Context, limit int) ([]Record, error)
}

// Logger stamps and forwards records to a Sink.
type Logger struct {
	sink Sink
	now  func() time.Time
}

// NewLogger creates a Logger writing to sink.
func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink, now: time.Now}
}

// WithClock returns a copy of l that timestamps records with now.
func (l *Logger) WithClock(now func() time.Time) *Logger {
	return &Logger{sink: l.sink, now: now}
}

// Log appends a record. Errors are logged and swallowed.
func (l *Logger) Log(ctx context.Context, actor string, action Action, outcome string) {
	if l == nil || l.sink == nil {
		return
	}
	if actor == "" {
		actor = ActorAnonymous
	}
	rec := Record{
		ID:        uuid.NewString(),
		Timestamp: l.now().UTC(),
		Actor:     actor,
		Action:    action,
		Outcome:   logutil.TruncateForLog(outcome, MaxOutcomeChars),
	}

	// The audited operation has already happened; record it even if the caller went away.
	if err := l.sink.Append(context.WithoutCancel(ctx), rec); err != nil {
		obs.From(ctx).With("pkg", "audit").Error("audit_append_failed",
			"action", string(action),
			"record_id", rec.ID,
			"record_actor", actor,
			"error", err,
		)
	}
}

// Logf is Log with a formatted outcome.
func (l *Logger) Logf(ctx context.Context, actor string, action Action, format string, args ...any) {
	l.Log(ctx, actor, action, fmt.Sprintf(format, args...))
}

// List returns stored records, oldest first.
func (l *Logger) List(ctx context.Context, limit int) ([]Record, error) {
	if l == nil || l.sink == nil {
		return []Record{}, nil
	}
	return l.sink.List(ctx, limit)
}

// MemorySink keeps records in memory. Used by tests and when no durable sink
// is configured.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemorySink) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tail(m.records, limit), nil
}

func tail(records []Record, limit int) []Record {
	start := 0
	if limit > 0 && len(records) > limit {
		start = len(records) - limit
	}
	out := make([]Record, len(records)-start)
	copy(out, records[start:])
	return out
}
