// Package storage reserves, commits and rolls back the files of forecast
// retrievals and keeps the index of committed ones. It also mirrors committed
// files to archive backends.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/withObsrvr/forecast-retriever/internal/query"
)

var (
	// ErrDataFileExists is returned by Allocate when the reserved data path is
	// already taken.
	ErrDataFileExists = errors.New("data file already exists")

	// ErrUnsupportedFormat is returned for output formats without a file extension mapping.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// Landing root subdirectories.
const (
	DataDir      = "data"
	QueriesDir   = "queries"
	CostCheckDir = "queries_cost"
)

// Manager owns the landing root: data files, query sidecars, cost-check
// files and the index.
type Manager struct {
	root  string
	index *Index
	now   func() time.Time
	log   *slog.Logger

	// reserved holds the data paths of unfinalized tickets, so concurrent
	// allocations cannot share a path before its file exists.
	mu       sync.Mutex
	reserved map[string]struct{}
}

// NewManager creates the landing root if needed.
func NewManager(root string, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create landing root %s: %w", root, err)
	}
	return &Manager{
		root:     root,
		index:    NewIndex(filepath.Join(root, IndexFile)),
		now:      time.Now,
		log:      log.With("component", "storage"),
		reserved: make(map[string]struct{}),
	}, nil
}

// SetClock replaces the clock that timestamps allocations.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Root returns the landing root.
func (m *Manager) Root() string {
	return m.root
}

// Index returns the index of committed retrievals.
func (m *Manager) Index() *Index {
	return m.index
}

// Rel returns path relative to the landing root, slash-separated.
func (m *Manager) Rel(path string) string {
	rel, err := filepath.Rel(m.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func extensionFor(format string) (string, error) {
	switch format {
	case "netcdf":
		return ".nc", nil
	case "grib2":
		return ".grib", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Allocate reserves the paths of one retrieval. It only creates directories;
// the data file is expected to be written by the provider call. Allocation
// fails when the data path already exists. An existing query sidecar is
// expected and reused.
func (m *Manager) Allocate(meta RetrievalMeta, q query.Query) (*Ticket, error) {
	for _, dir := range []string{DataDir, QueriesDir, CostCheckDir} {
		if err := os.MkdirAll(filepath.Join(m.root, dir), 0755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", dir, err)
		}
	}

	ext, err := extensionFor(meta.Format)
	if err != nil {
		return nil, err
	}

	ts := m.now().Unix()
	stem := fmt.Sprintf("%s_%s_%s_%d", meta.Model, meta.Level, meta.issuedSlug(), ts)

	t := &Ticket{
		Meta:      meta,
		DataPath:  filepath.Join(m.root, DataDir, "ecmwf_"+stem+ext),
		QueryPath: filepath.Join(m.root, QueriesDir, "query_"+q.ID()+".json"),
		CostPath:  filepath.Join(m.root, CostCheckDir, "ecmwf_cost_"+stem+".txt"),
		Timestamp: ts,
	}

	if err := m.reserve(t.DataPath); err != nil {
		m.log.Error("allocation failed", "data_file", t.DataPath, "error", err)
		return nil, err
	}
	if ok, _ := fileExists(t.QueryPath); ok {
		m.log.Debug("query sidecar already present", "query_file", t.QueryPath)
	}

	m.log.Debug("allocated", "entry_id", t.ID(), "data_file", t.DataPath)
	return t, nil
}

func (m *Manager) reserve(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.reserved[path]; taken {
		return fmt.Errorf("%w: %s (reserved)", ErrDataFileExists, path)
	}
	exists, err := fileExists(path)
	if err != nil {
		return fmt.Errorf("check data path: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDataFileExists, path)
	}
	m.reserved[path] = struct{}{}
	return nil
}

func (m *Manager) release(path string) {
	m.mu.Lock()
	delete(m.reserved, path)
	m.mu.Unlock()
}

// Finalize commits (success) or rolls back the ticket. A commit writes the
// query sidecar and appends one index row, which is returned. A rollback
// removes the data file if present and writes nothing.
//
// Finalize trusts success; it does not inspect the data file. Finalizing a
// ticket twice with success appends a second row.
func (m *Manager) Finalize(t *Ticket, q query.Query, success bool) (*IndexRow, error) {
	if t.finalized {
		m.log.Warn("ticket finalized more than once", "entry_id", t.ID())
	}
	t.finalized = true
	defer m.release(t.DataPath)

	if !success {
		return nil, m.rollback(t)
	}

	m.log.Info("committing retrieval", "data_file", t.DataPath)

	if err := m.writeSidecar(t, q); err != nil {
		return nil, err
	}

	row := IndexRow{
		DataFile:        m.Rel(t.DataPath),
		QueryFile:       m.Rel(t.QueryPath),
		CostCheckFile:   m.Rel(t.CostPath),
		RetrievalID:     t.Meta.ID(),
		EntryID:         t.ID(),
		QueryID:         q.ID(),
		Model:           t.Meta.Model,
		Level:           t.Meta.Level,
		RetrievalMode:   t.Meta.RetrievalMode,
		Format:          t.Meta.Format,
		Issued:          t.Meta.Issued,
		IssueHours:      t.Meta.IssueHours,
		LookbackHours:   t.Meta.Lookback,
		StepGranularity: t.Meta.StepGranularity,
		Variables:       t.Meta.Variables,
		Area:            t.Meta.Area,
		Grid:            t.Meta.Grid,
		Timestamp:       t.Timestamp,
	}
	if err := m.index.Append(row); err != nil {
		return nil, fmt.Errorf("append index: %w", err)
	}

	m.log.Debug("index updated", "index", m.index.Path(), "entry_id", row.EntryID)
	return &row, nil
}

func (m *Manager) rollback(t *Ticket) error {
	m.log.Info("removing potential incomplete file", "data_file", t.DataPath)
	for _, path := range []string{t.DataPath, t.DataPath + ".part"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("rollback %s: %w", path, err)
		}
	}
	return nil
}

// writeSidecar replaces the sidecar atomically; concurrent commits of the
// same query write identical content.
func (m *Manager) writeSidecar(t *Ticket, q query.Query) error {
	data, err := q.Sidecar()
	if err != nil {
		return fmt.Errorf("marshal query sidecar: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(t.QueryPath), ".query-*.tmp")
	if err != nil {
		return fmt.Errorf("create sidecar temp file: %w", err)
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write sidecar temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close sidecar temp file: %w", err)
	}

	if err := os.Rename(tempPath, t.QueryPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename sidecar: %w", err)
	}
	m.log.Debug("query saved", "query_file", t.QueryPath)
	return nil
}
