// Package checkpoint persists one record per retrieval run under the
// landing root.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoRun is returned when no run record exists.
	ErrNoRun = errors.New("no run record found")
)

// RunsDir is the folder, under the landing root, holding run records.
const RunsDir = "runs"

// Run is the outcome of one retrieval run.
type Run struct {
	RunID      string    `json:"run_id"`
	QueryID    string    `json:"query_id"`
	QueryName  string    `json:"query_name,omitempty"`
	Model      string    `json:"model"`
	Mode       string    `json:"retrieval_mode"`
	DryRun     bool      `json:"dry_run,omitempty"`
	SkipCost   bool      `json:"skip_cost,omitempty"`
	SkipQuery  bool      `json:"skip_query,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Planned    int `json:"planned"`
	Committed  int `json:"committed"`
	RolledBack int `json:"rolled_back"`
	Failed     int `json:"failed"`

	Failures []Failure `json:"failures,omitempty"`
}

// Failure describes one failed retrieval unit.
type Failure struct {
	Issued string `json:"issued"`
	Area   string `json:"area"`
	Stage  string `json:"stage"`
	Error  string `json:"error"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists run records.
type Store interface {
	// Save writes the record, replacing an earlier save of the same run.
	Save(ctx context.Context, r *Run) error

	// Latest returns the most recently started run.
	Latest(ctx context.Context) (*Run, error)

	// List returns every run, oldest first.
	List(ctx context.Context) ([]*Run, error)
}

// NewStore creates the runs folder under landingRoot.
func NewStore(landingRoot string) (Store, error) {
	dir := filepath.Join(landingRoot, RunsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create runs directory %s: %w", dir, err)
	}
	return &fileStore{dir: dir}, nil
}

// fileStore keeps one JSON file per run.
type fileStore struct {
	dir string
}

func (s *fileStore) runPath(r *Run) string {
	return filepath.Join(s.dir, fmt.Sprintf("run_%d_%s.json", r.StartedAt.Unix(), r.RunID))
}

// Save persists the run to file.
func (s *fileStore) Save(ctx context.Context, r *Run) error {
	if r.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	path := s.runPath(r)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	// Write atomically
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write run record temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename run record: %w", err)
	}

	return nil
}

// List reads every run record in the folder.
func (s *fileStore) List(ctx context.Context) ([]*Run, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read runs directory: %w", err)
	}

	var runs []*Run
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || !strings.HasPrefix(name, "run_") {
			continue
		}

		r, err := loadFromPath(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

// Latest returns the most recently started run.
func (s *fileStore) Latest(ctx context.Context) (*Run, error) {
	runs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNoRun
	}
	return runs[len(runs)-1], nil
}

func loadFromPath(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run record: %w", err)
	}

	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse run record %s: %w", filepath.Base(path), err)
	}
	return &r, nil
}
