// Package db opens the SQLCipher-encrypted audit database.
package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// AuditDBName is the filename of the audit database inside the data directory
	AuditDBName = "audit.db"

	// MaxOpenConns is the maximum number of open connections.
	// SQLite is single-writer, so high connection counts are counterproductive.
	MaxOpenConns = 4

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns = 1

	// KeySize is the SQLCipher key size in bytes
	KeySize = 32
)

// AuditRow is one persisted audit record.
type AuditRow struct {
	ID        string
	Timestamp int64 // unix nanoseconds
	Actor     string
	Action    string
	Outcome   string
}

// AuditDB wraps the sql.DB connection of the audit database.
type AuditDB struct {
	db *sql.DB
}

// NewAuditDBFromSQL wraps an existing sql.DB as AuditDB.
func NewAuditDBFromSQL(sqlDB *sql.DB) *AuditDB {
	return &AuditDB{db: sqlDB}
}

// DB returns the underlying sql.DB for direct access when needed
func (a *AuditDB) DB() *sql.DB {
	return a.db
}

// OpenAuditDB opens (creating if needed) the encrypted audit database in dataDir.
//
// Parameters:
//   - dataDir: Directory holding the database file
//   - key: The 32-byte SQLCipher key
func OpenAuditDB(dataDir string, key []byte) (*AuditDB, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("audit key must be exactly %d bytes, got %d", KeySize, len(key))
	}

	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, AuditDBName)

	// Format: file.db?_pragma_key=x'HEX_KEY'&_pragma_cipher_page_size=4096
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	dsn = appendSQLiteParams(dsn, sqliteCommonParams())

	return open(dsn)
}

// OpenAuditDBInMemory opens a private in-memory encrypted audit database. Used by tests.
func OpenAuditDBInMemory(name string, key []byte) (*AuditDB, error) {
	if name == "" {
		name = "audit"
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("audit key must be exactly %d bytes, got %d", KeySize, len(key))
	}
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma_key=x'%s'&_pragma_cipher_page_size=4096", name, hex.EncodeToString(key))
	return open(dsn)
}

func open(dsn string) (*AuditDB, error) {
	db, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	db.SetMaxOpenConns(MaxOpenConns)
	db.SetMaxIdleConns(MaxIdleConns)

	// If the encryption key is wrong, this query fails
	var sqliteVersion string
	if err := db.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify audit database connection: %w", err)
	}

	if _, err := db.Exec(AuditDBSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	return NewAuditDBFromSQL(db), nil
}

// InsertAuditRow appends a record.
func (a *AuditDB) InsertAuditRow(ctx context.Context, row AuditRow) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, timestamp, actor, action, outcome) VALUES (?, ?, ?, ?, ?)`,
		row.ID, row.Timestamp, row.Actor, row.Action, row.Outcome,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// ListAuditRows returns records in insertion order. limit <= 0 means all.
func (a *AuditDB) ListAuditRows(ctx context.Context, limit int) ([]AuditRow, error) {
	query := `SELECT id, timestamp, actor, action, outcome FROM audit_records ORDER BY seq ASC`
	args := []any{}
	if limit > 0 {
		// newest `limit` rows, still returned oldest first
		query = `SELECT id, timestamp, actor, action, outcome FROM (
			SELECT seq, id, timestamp, actor, action, outcome FROM audit_records ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Actor, &r.Action, &r.Outcome); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}

// Close closes the AuditDB connection.
func (a *AuditDB) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func sqliteCommonParams() string {
	// WAL + NORMAL provides good throughput while preserving safety.
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
