// Package tables exports the retrieval index as parquet.
package tables

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/forecast-retriever/internal/storage"
)

// ErrUnknownCompression is returned for a compression name without a codec.
var ErrUnknownCompression = errors.New("unknown compression")

// issuedLayout is the layout of IndexRow.Issued.
const issuedLayout = "2006-01-02 15:04"

// FromIndex converts an index row. Issued is read as UTC.
func FromIndex(row storage.IndexRow) (RetrievalRow, error) {
	issued, err := time.ParseInLocation(issuedLayout, row.Issued, time.UTC)
	if err != nil {
		return RetrievalRow{}, fmt.Errorf("entry %s: parse issued: %w", row.EntryID, err)
	}
	return RetrievalRow{
		EntryID:         row.EntryID,
		RetrievalID:     row.RetrievalID,
		QueryID:         row.QueryID,
		Model:           row.Model,
		Level:           row.Level,
		RetrievalMode:   row.RetrievalMode,
		Format:          row.Format,
		Variables:       row.Variables,
		IssueHours:      row.IssueHours,
		LookbackHours:   int32(row.LookbackHours),
		StepGranularity: int32(row.StepGranularity),
		Area:            row.Area,
		Grid:            row.Grid,
		Issued:          issued,
		RetrievedAt:     time.Unix(row.Timestamp, 0).UTC(),
		DataFile:        row.DataFile,
		QueryFile:       row.QueryFile,
		CostCheckFile:   row.CostCheckFile,
		SchemaVersion:   SchemaVersion,
	}, nil
}

// FromIndexRows converts every row, stopping at the first malformed one.
func FromIndexRows(rows []storage.IndexRow) ([]RetrievalRow, error) {
	out := make([]RetrievalRow, 0, len(rows))
	for _, r := range rows {
		row, err := FromIndex(r)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func writerOptions(cfg ExportConfig) ([]parquet.WriterOption, error) {
	switch cfg.Compression {
	case "", "snappy":
		return []parquet.WriterOption{parquet.Compression(&parquet.Snappy)}, nil
	case "zstd":
		return []parquet.WriterOption{parquet.Compression(&parquet.Zstd)}, nil
	case "none":
		return []parquet.WriterOption{parquet.Compression(&parquet.Uncompressed)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, cfg.Compression)
	}
}

// Write encodes rows as one parquet file to w.
func Write(w io.Writer, rows []RetrievalRow, cfg ExportConfig) error {
	opts, err := writerOptions(cfg)
	if err != nil {
		return err
	}

	pw := parquet.NewGenericWriter[RetrievalRow](w, opts...)
	if _, err := pw.Write(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// WriteFile atomically writes rows to path via a temporary file.
func WriteFile(path string, rows []RetrievalRow, cfg ExportConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	if err := Write(f, rows, cfg); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}
