package preprocess

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/forecast-retriever/internal/metrics"
	"github.com/withObsrvr/forecast-retriever/internal/query"
	"github.com/withObsrvr/forecast-retriever/internal/storage"
)

func testQuery() query.Query {
	return query.Query{
		TimeRange: query.TimeRange{
			Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		Points: []query.Point{{Lat: 10.0, Lon: 20.0}, {Lat: 11.0, Lon: 21.0}},
	}
}

func testMeta(issued string) storage.RetrievalMeta {
	return storage.RetrievalMeta{
		Model:           "hres",
		Level:           "surface",
		RetrievalMode:   "point",
		Format:          "netcdf",
		Variables:       []string{"2t", "tp"},
		IssueHours:      []string{"00", "12"},
		Lookback:        48,
		StepGranularity: 1,
		Issued:          issued,
		Area:            "11.0/20.0/10.0/21.0",
		Grid:            "0.1/0.1",
	}
}

// commit lands one retrieval the way the executor does.
func commit(t *testing.T, m *storage.Manager, issued string) storage.IndexRow {
	t.Helper()
	ticket, err := m.Allocate(testMeta(issued), testQuery())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ticket.DataPath, []byte("CDF"), 0644))
	row, err := m.Finalize(ticket, testQuery(), true)
	require.NoError(t, err)
	return *row
}

type fixture struct {
	landing string
	staging string
	manager *storage.Manager
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	landing := filepath.Join(root, "landing")
	m, err := storage.NewManager(landing, nil)
	require.NoError(t, err)
	return &fixture{
		landing: landing,
		staging: filepath.Join(root, "staging"),
		manager: m,
		metrics: metrics.New(prometheus.NewRegistry(), "test"),
	}
}

func (f *fixture) preprocessor(workers int) *Preprocessor {
	return New(Config{
		LandingPath: f.landing,
		StagingPath: f.staging,
		Workers:     workers,
		Metrics:     f.metrics,
	})
}

func (f *fixture) stagedRows(t *testing.T) []map[string]string {
	t.Helper()
	rows, err := storage.NewTable(filepath.Join(f.staging, StagingFile), StagingColumns).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRunWithoutIndex(t *testing.T) {
	f := newFixture(t)

	_, err := f.preprocessor(1).Run(context.Background())
	require.ErrorIs(t, err, ErrNoIndex)

	// The staging table is initialized even though nothing could be staged.
	_, statErr := os.Stat(filepath.Join(f.staging, StagingFile))
	assert.NoError(t, statErr)
}

func TestRunStagesEveryEntry(t *testing.T) {
	f := newFixture(t)
	first := commit(t, f.manager, "2024-01-01 00:00")
	second := commit(t, f.manager, "2024-01-01 12:00")

	res, err := f.preprocessor(2).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Indexed: 2, Staged: 2}, res)

	rows := f.stagedRows(t)
	require.Len(t, rows, 2)
	assert.Equal(t, first.EntryID, rows[0]["entry_id"])
	assert.Equal(t, second.EntryID, rows[1]["entry_id"])
	assert.Equal(t, "2", rows[0]["points"])
	assert.Equal(t, "2t,tp", rows[0]["variables"])
	assert.Equal(t, "point", rows[0]["retrieval_mode"])
	assert.True(t, filepath.IsAbs(rows[0]["data_file"]))
	assert.NotEmpty(t, rows[0]["staged_at"])

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PreprocessEntries.WithLabelValues(OutcomeStaged)))
}

func TestRunSkipsStagedEntries(t *testing.T) {
	f := newFixture(t)
	commit(t, f.manager, "2024-01-01 00:00")

	p := f.preprocessor(1)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	commit(t, f.manager, "2024-01-02 00:00")

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Indexed: 2, Staged: 1, AlreadyStaged: 1}, res)
	assert.Len(t, f.stagedRows(t), 2)

	res, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Indexed: 2, AlreadyStaged: 2}, res)
	assert.Len(t, f.stagedRows(t), 2)
}

func TestRunSkipsMissingFiles(t *testing.T) {
	f := newFixture(t)
	gone := commit(t, f.manager, "2024-01-01 00:00")
	kept := commit(t, f.manager, "2024-01-01 12:00")
	require.NoError(t, os.Remove(filepath.Join(f.landing, gone.DataFile)))

	p := f.preprocessor(4)
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Indexed: 2, Staged: 1, Missing: 1}, res)

	rows := f.stagedRows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, kept.EntryID, rows[0]["entry_id"])

	// A skipped entry is picked up once its file reappears.
	require.NoError(t, os.WriteFile(filepath.Join(f.landing, gone.DataFile), []byte("CDF"), 0644))
	res, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Staged)
	assert.Len(t, f.stagedRows(t), 2)
}

func TestRunSkipsUnreadableSidecar(t *testing.T) {
	f := newFixture(t)
	row := commit(t, f.manager, "2024-01-01 00:00")
	require.NoError(t, os.WriteFile(filepath.Join(f.landing, row.QueryFile), []byte("{"), 0644))

	res, err := f.preprocessor(1).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Indexed: 1, Invalid: 1}, res)
	assert.Empty(t, f.stagedRows(t))
}

func TestRunStagesDuplicateEntryOnce(t *testing.T) {
	f := newFixture(t)
	row := commit(t, f.manager, "2024-01-01 00:00")
	require.NoError(t, f.manager.Index().Append(row))

	res, err := f.preprocessor(2).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Indexed: 2, Staged: 1, AlreadyStaged: 1}, res)
	assert.Len(t, f.stagedRows(t), 1)
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t)
	commit(t, f.manager, "2024-01-01 00:00")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.preprocessor(1).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.stagedRows(t))
}
