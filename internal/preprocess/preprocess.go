// Package preprocess moves committed retrievals from the landing index into
// the staging table. Each index entry is staged at most once.
package preprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/forecast-retriever/internal/logging"
	"github.com/withObsrvr/forecast-retriever/internal/metrics"
	"github.com/withObsrvr/forecast-retriever/internal/query"
	"github.com/withObsrvr/forecast-retriever/internal/storage"
)

// ErrNoIndex is returned when the landing root has no index to preprocess.
var ErrNoIndex = errors.New("index file does not exist")

// StagingFile is the staging table name under the staging root.
const StagingFile = "main.csv"

// StagingColumns is the header of a newly created staging table.
var StagingColumns = []string{
	"entry_id",
	"query_id",
	"retrieval_id",
	"issued",
	"level",
	"retrieval_mode",
	"lookback_hours",
	"step_granularity",
	"variables",
	"points",
	"data_file",
	"timestamp",
	"staged_at",
}

// Outcomes counted per index entry.
const (
	OutcomeStaged        = "staged"
	OutcomeAlreadyStaged = "already_staged"
	OutcomeMissing       = "missing"
	OutcomeInvalid       = "invalid"
)

// Config configures a Preprocessor.
type Config struct {
	LandingPath string
	StagingPath string
	Workers     int
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Result tallies one preprocess pass.
type Result struct {
	Indexed       int
	Staged        int
	AlreadyStaged int
	Missing       int
	Invalid       int
}

// Preprocessor scans the index and appends newly staged entries.
type Preprocessor struct {
	index   *storage.Index
	staging *storage.Table
	landing string
	workers int
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// New returns a Preprocessor over cfg's landing and staging roots.
func New(cfg Config) *Preprocessor {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Preprocessor{
		index:   storage.NewIndex(filepath.Join(cfg.LandingPath, storage.IndexFile)),
		staging: storage.NewTable(filepath.Join(cfg.StagingPath, StagingFile), StagingColumns),
		landing: cfg.LandingPath,
		workers: workers,
		metrics: cfg.Metrics,
		log:     logging.Component(cfg.Logger, "preprocess"),
		now:     time.Now,
	}
}

// StagingPath returns the staging table path.
func (p *Preprocessor) StagingPath() string {
	return p.staging.Path()
}

type entry struct {
	row     storage.IndexRow
	outcome string
	values  map[string]string
}

// Run stages every index entry not yet in the staging table. Entries whose
// sidecar or data file is missing or unreadable are logged and skipped; they
// are retried on the next run.
func (p *Preprocessor) Run(ctx context.Context) (Result, error) {
	staged, err := p.stagedEntries()
	if err != nil {
		return Result{}, err
	}
	p.log.Info("read staging table", "path", p.staging.Path(), "entries", len(staged))

	rows, err := p.index.Rows()
	if err != nil {
		if errors.Is(err, storage.ErrTableNotFound) {
			p.log.Error("cannot preprocess without an index", "index", p.index.Path())
			return Result{}, fmt.Errorf("%w: %s", ErrNoIndex, p.index.Path())
		}
		return Result{}, fmt.Errorf("read index: %w", err)
	}
	p.log.Info("read index", "path", p.index.Path(), "entries", len(rows))

	entries := make([]entry, len(rows))
	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		entries[i].row = row
		if staged[row.EntryID] || seen[row.EntryID] {
			entries[i].outcome = OutcomeAlreadyStaged
		}
		seen[row.EntryID] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range entries {
		if entries[i].outcome != "" {
			continue
		}
		e := &entries[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e.outcome, e.values = p.verify(e.row)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("preprocess: %w", err)
	}

	res := Result{Indexed: len(rows)}
	for _, e := range entries {
		switch e.outcome {
		case OutcomeStaged:
			if err := p.staging.Append(e.values); err != nil {
				return res, fmt.Errorf("append staging row: %w", err)
			}
			res.Staged++
			p.log.Info("staged entry", "entry_id", e.row.EntryID, "issued", e.row.Issued)
		case OutcomeAlreadyStaged:
			res.AlreadyStaged++
			p.log.Debug("entry already staged", "entry_id", e.row.EntryID)
		case OutcomeMissing:
			res.Missing++
		case OutcomeInvalid:
			res.Invalid++
		}
		p.metrics.IncPreprocess(e.outcome)
	}

	p.log.Info("preprocess complete",
		"indexed", res.Indexed,
		"staged", res.Staged,
		"already_staged", res.AlreadyStaged,
		"missing", res.Missing,
		"invalid", res.Invalid)
	return res, nil
}

// stagedEntries loads the staged entry ids, creating an empty staging table
// when none exists.
func (p *Preprocessor) stagedEntries() (map[string]bool, error) {
	values, err := p.staging.ReadAll()
	if errors.Is(err, storage.ErrTableNotFound) {
		p.log.Info("initializing empty staging table", "path", p.staging.Path())
		if err := os.MkdirAll(filepath.Dir(p.staging.Path()), 0755); err != nil {
			return nil, fmt.Errorf("create staging directory: %w", err)
		}
		f, err := os.OpenFile(p.staging.Path(), os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("create staging table: %w", err)
		}
		return map[string]bool{}, f.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("read staging table: %w", err)
	}

	staged := make(map[string]bool, len(values))
	for _, v := range values {
		staged[v["entry_id"]] = true
	}
	return staged, nil
}

func (p *Preprocessor) verify(row storage.IndexRow) (string, map[string]string) {
	log := p.log.With("entry_id", row.EntryID)

	queryPath := filepath.Join(p.landing, row.QueryFile)
	q, err := query.Load(queryPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Error("query file does not exist, skipping entry", "query_file", queryPath)
			return OutcomeMissing, nil
		}
		log.Error("query file unreadable, skipping entry", "query_file", queryPath, "error", err)
		return OutcomeInvalid, nil
	}

	dataPath, err := filepath.Abs(filepath.Join(p.landing, row.DataFile))
	if err != nil {
		log.Error("cannot resolve data file", "data_file", row.DataFile, "error", err)
		return OutcomeInvalid, nil
	}
	if _, err := os.Stat(dataPath); err != nil {
		log.Error("data file does not exist, skipping entry", "data_file", dataPath)
		return OutcomeMissing, nil
	}
	log.Debug("verified entry", "query_id", q.ID(), "points", len(q.Points))

	return OutcomeStaged, map[string]string{
		"entry_id":         row.EntryID,
		"query_id":         row.QueryID,
		"retrieval_id":     row.RetrievalID,
		"issued":           row.Issued,
		"level":            row.Level,
		"retrieval_mode":   row.RetrievalMode,
		"lookback_hours":   strconv.Itoa(row.LookbackHours),
		"step_granularity": strconv.Itoa(row.StepGranularity),
		"variables":        strings.Join(row.Variables, ","),
		"points":           strconv.Itoa(len(q.Points)),
		"data_file":        dataPath,
		"timestamp":        strconv.FormatInt(row.Timestamp, 10),
		"staged_at":        query.FormatTime(p.now()),
	}
}
