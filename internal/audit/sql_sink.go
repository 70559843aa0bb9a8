package audit

import (
	"context"
	"time"

	"github.com/kuitang/notevault/internal/db"
)

// SQLSink stores records in the encrypted audit database.
type SQLSink struct {
	db *db.AuditDB
}

// NewSQLSink wraps an open audit database.
func NewSQLSink(adb *db.AuditDB) *SQLSink {
	return &SQLSink{db: adb}
}

func (s *SQLSink) Append(ctx context.Context, rec Record) error {
	return s.db.InsertAuditRow(ctx, db.AuditRow{
		ID:        rec.ID,
		Timestamp: rec.Timestamp.UnixNano(),
		Actor:     rec.Actor,
		Action:    string(rec.Action),
		Outcome:   rec.Outcome,
	})
}

func (s *SQLSink) List(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.ListAuditRows(ctx, limit)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, Record{
			ID:        r.ID,
			Timestamp: time.Unix(0, r.Timestamp).UTC(),
			Actor:     r.Actor,
			Action:    Action(r.Action),
			Outcome:   r.Outcome,
		})
	}
	return records, nil
}
