package request

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/forecast-retriever/internal/query"
)

func scenarioQuery() query.Query {
	return query.Query{
		TimeRange: query.TimeRange{
			Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		Points: []query.Point{{Lat: 10.0, Lon: 20.0}},
	}
}

func hresSettings() Settings {
	return Settings{
		Model:           "hres",
		Level:           "surface",
		RetrievalMode:   "grid",
		Format:          "netcdf",
		Variables:       []string{"2t", "tp"},
		IssueHours:      []string{"00", "12"},
		Lookback:        48,
		StepGranularity: 1,
	}
}

func TestBuildGridScenario(t *testing.T) {
	reqs, err := NewBuilder(hresSettings(), nil).Build(scenarioQuery())
	require.NoError(t, err)
	require.Len(t, reqs, 4)

	wantOrder := [][2]string{
		{"2024-01-01", "00"},
		{"2024-01-01", "12"},
		{"2024-01-02", "00"},
		{"2024-01-02", "12"},
	}
	for i, r := range reqs {
		hres, ok := r.(HRESRequest)
		require.True(t, ok, "request %d is %T", i, r)

		assert.Equal(t, wantOrder[i][0], hres.Date)
		assert.Equal(t, wantOrder[i][1], hres.Time)
		assert.Equal(t, "0/to/48/by/1", hres.Step)
		assert.Equal(t, "10.0/19.900000000000002/9.9/20.1", hres.Area)
		assert.Equal(t, "0.1/0.1", hres.Grid)
	}

	p := reqs[0].Payload()
	assert.Equal(t, "od", p["class"])
	assert.Equal(t, "oper", p["stream"])
	assert.Equal(t, "fc", p["type"])
	assert.Equal(t, "sfc", p["levtype"])
	assert.Equal(t, "netcdf", p["format"])
	assert.Equal(t, []string{"2t", "tp"}, p["param"])
	assert.NotContains(t, p, "number")
	assert.Equal(t, "2024-01-01 00:00", reqs[0].Fields().Issued())
}

func TestBuildPointModeCardinality(t *testing.T) {
	s := hresSettings()
	s.RetrievalMode = "point"
	q := scenarioQuery()
	q.TimeRange.End = q.TimeRange.Start.AddDate(0, 0, 2)
	q.Points = []query.Point{{Lat: 10, Lon: 20}, {Lat: 45.5, Lon: -73.6}}

	reqs, err := NewBuilder(s, nil).Build(q)
	require.NoError(t, err)

	// 3 days x 2 issue hours x 2 points
	require.Len(t, reqs, 12)
	assert.Equal(t, "10.0/20.0/10.0/20.0", reqs[0].Fields().Area)
	assert.Equal(t, "45.5/-73.6/45.5/-73.6", reqs[1].Fields().Area)
	assert.Equal(t, "0.01/0.01", reqs[0].Fields().Grid)
	assert.Equal(t, "00", reqs[1].Fields().Time)
	assert.Equal(t, "12", reqs[2].Fields().Time)
	assert.Equal(t, "2024-01-02", reqs[4].Fields().Date)
}

func TestBuildStopsBeforeEndTimeOfDay(t *testing.T) {
	s := hresSettings()
	s.IssueHours = []string{"00"}
	q := scenarioQuery()
	q.TimeRange.Start = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	q.TimeRange.End = time.Date(2024, 1, 2, 6, 0, 0, 0, time.UTC)

	reqs, err := NewBuilder(s, nil).Build(q)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "2024-01-01", reqs[0].Fields().Date)
	assert.Equal(t, "10.0/19.900000000000002/9.9/20.1", reqs[0].Fields().Area)
}

func TestBuildENS(t *testing.T) {
	s := hresSettings()
	s.Model = "ens"
	s.StepGranularity = 6
	s.Lookback = 240

	reqs, err := NewBuilder(s, nil).Build(scenarioQuery())
	require.NoError(t, err)
	require.Len(t, reqs, 4)

	ens, ok := reqs[0].(ENSRequest)
	require.True(t, ok)
	assert.Equal(t, ModelENS, ens.Model())

	p := ens.Payload()
	assert.Equal(t, "enfo", p["stream"])
	assert.Equal(t, "pf", p["type"])
	assert.Equal(t, "1/to/50/by/1", p["number"])
	assert.Equal(t, "0/to/240/by/6", p["step"])
}

func TestBuildRejectsBadConfiguration(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
		want   error
	}{
		{"model", func(s *Settings) { s.Model = "era5" }, ErrUnsupportedModel},
		{"level", func(s *Settings) { s.Level = "model" }, ErrUnsupportedLevel},
		{"mode", func(s *Settings) { s.RetrievalMode = "swath" }, ErrUnsupportedMode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := hresSettings()
			tc.mutate(&s)
			reqs, err := NewBuilder(s, nil).Build(scenarioQuery())
			assert.ErrorIs(t, err, tc.want)
			assert.Nil(t, reqs)
		})
	}
}

func TestPayloadIsDetached(t *testing.T) {
	reqs, err := NewBuilder(hresSettings(), nil).Build(scenarioQuery())
	require.NoError(t, err)

	p := reqs[0].Payload()
	p["param"].([]string)[0] = "changed"
	assert.Equal(t, "2t", reqs[0].Fields().Params[0])
}
