package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/withObsrvr/forecast-retriever/internal/logging"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteWriter implements Writer on a local SQLite file.
type SQLiteWriter struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteWriter opens (or creates) the database at path.
func NewSQLiteWriter(ctx context.Context, path string, log *slog.Logger) (*SQLiteWriter, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteWriter{db: db, log: logging.Component(log, "catalog")}, nil
}

// RecordRetrieval inserts rec unless its entry is already present.
func (w *SQLiteWriter) RecordRetrieval(ctx context.Context, rec Record) error {
	query := `INSERT OR IGNORE INTO retrievals (` + insertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := w.db.ExecContext(ctx, query, rec.args()...); err != nil {
		return fmt.Errorf("insert retrieval %s: %w", rec.EntryID, err)
	}
	return nil
}

// CountByRetrieval returns how many committed entries share retrievalID.
func (w *SQLiteWriter) CountByRetrieval(ctx context.Context, retrievalID string) (int, error) {
	var n int
	err := w.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM retrievals WHERE retrieval_id = ?`, retrievalID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count retrievals: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}
