package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "test")

	m.IncCommitted("hres", "grid")
	m.IncCommitted("hres", "grid")
	m.IncRolledBack("hres", "grid", "dry_run")
	m.IncFailed("retrieve")
	m.IncAllocationConflict()
	m.IncIndexAppends()
	m.AddInFlight(2)
	m.AddInFlight(-1)
	m.IncAuditEvent("emitted")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RetrievalsCommitted.WithLabelValues("hres", "grid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetrievalsRolledBack.WithLabelValues("hres", "grid", "dry_run")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetrievalsFailed.WithLabelValues("retrieve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AllocationConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexAppends))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InFlightRetrievals))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditEvents.WithLabelValues("emitted")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncCommitted("hres", "grid")
	m.IncCostCheck("ok")
	m.ObserveRetrievalDuration("hres", "committed", 1)
	m.AddInFlight(1)
	m.IncAuditEvent("failed")
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "test")
	m.IncCostCheck("ok")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `test_cost_checks_total{result="ok"} 1`))
}
