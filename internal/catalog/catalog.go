// Package catalog mirrors committed retrievals into a SQL database. The
// CSV index stays authoritative; the catalog is a queryable copy.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/withObsrvr/forecast-retriever/internal/storage"
)

// Config selects the catalog backend. PostgresDSN wins when both are set.
type Config struct {
	PostgresDSN string
	SQLitePath  string
}

// Record is one committed retrieval as stored in the catalog.
type Record struct {
	storage.IndexRow

	DataSize   int64
	Checksum   string // sha256:<hex> of the data file
	ArchiveURI string
}

// Writer records committed retrievals. Recording the same entry twice is
// not an error.
type Writer interface {
	RecordRetrieval(ctx context.Context, rec Record) error
	Close() error
}

// New returns the configured writer, or a no-op writer when none is.
func New(ctx context.Context, cfg Config, log *slog.Logger) (Writer, error) {
	switch {
	case cfg.PostgresDSN != "":
		return NewPostgresWriter(ctx, cfg.PostgresDSN, log)
	case cfg.SQLitePath != "":
		return NewSQLiteWriter(ctx, cfg.SQLitePath, log)
	default:
		return noopWriter{}, nil
	}
}

type noopWriter struct{}

func (noopWriter) RecordRetrieval(context.Context, Record) error { return nil }
func (noopWriter) Close() error                                  { return nil }

// FileDigest returns the size and sha256 checksum of the file at path.
func FileDigest(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("hash %s: %w", path, err)
	}
	return n, "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// args returns the insert arguments in column order.
func (r Record) args() []any {
	return []any{
		r.EntryID,
		r.RetrievalID,
		r.QueryID,
		r.Model,
		r.Level,
		r.RetrievalMode,
		r.Format,
		r.Issued,
		strings.Join(r.IssueHours, ","),
		r.LookbackHours,
		r.StepGranularity,
		strings.Join(r.Variables, ","),
		r.Area,
		r.Grid,
		r.DataFile,
		r.QueryFile,
		r.CostCheckFile,
		r.DataSize,
		r.Checksum,
		r.ArchiveURI,
		r.Timestamp,
	}
}

const insertColumns = `entry_id, retrieval_id, query_id, model, level, retrieval_mode, format,
	issued, issue_hours, lookback_hours, step_granularity, variables, area, grid,
	data_file, query_file, cost_check_file, data_size, checksum, archive_uri, allocated_at`
