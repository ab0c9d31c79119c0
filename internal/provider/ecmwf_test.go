package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/forecast-retriever/internal/logging"
	"github.com/withObsrvr/forecast-retriever/internal/request"
)

func testRequest() request.Request {
	return request.HRESRequest{Common: request.Common{
		Class:   "od",
		Expver:  "1",
		Format:  "netcdf",
		Levtype: "sfc",
		Step:    "0/to/48/by/1",
		Params:  []string{"2t"},
		Area:    "10.0/19.900000000000002/9.9/20.1",
		Grid:    "0.1/0.1",
		Date:    "2024-01-01",
		Time:    "00",
	}}
}

// fakeService mimics the submit/poll/download/delete cycle.
type fakeService struct {
	mu         sync.Mutex
	pollsLeft  int
	finalState string
	payloads   []map[string]any
	deleted    int
	submitFail int32
	result     string
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/services/mars/requests", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		assert.Equal(t, "user@example.com", r.Header.Get("From"))
		assert.Equal(t, "secret", r.Header.Get("X-ECMWF-KEY"))

		if atomic.AddInt32(&f.submitFail, -1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		f.mu.Lock()
		f.payloads = append(f.payloads, payload)
		f.mu.Unlock()

		w.Header().Set("Location", "/v1/services/mars/requests/abc")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(apiReply{Name: "abc", Status: "queued", Messages: []string{"t - INFO - queued"}})
	})
	mux.HandleFunc("/v1/services/mars/requests/abc", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if r.Method == http.MethodDelete {
			f.deleted++
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if f.pollsLeft > 0 {
			f.pollsLeft--
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(apiReply{Name: "abc", Status: "active"})
			return
		}
		reply := apiReply{Name: "abc", Status: f.finalState}
		if f.finalState == "complete" {
			reply.Href = "/v1/results/abc.nc"
			reply.Size = int64(len(f.result))
		} else {
			reply.Reason = "no data"
		}
		json.NewEncoder(w).Encode(reply)
	})
	mux.HandleFunc("/v1/results/abc.nc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, f.result)
	})
	return mux
}

func newTestClient(t *testing.T, srv *httptest.Server) *ECMWFClient {
	t.Helper()
	c, err := NewECMWFClient(ECMWFConfig{
		URL:          srv.URL + "/v1",
		Key:          "secret",
		Email:        "user@example.com",
		HTTPClient:   srv.Client(),
		Backoff:      BackoffConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestExecuteDownloadsResult(t *testing.T) {
	svc := &fakeService{pollsLeft: 2, finalState: "complete", result: "CDF-bytes"}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "out.nc")
	require.NoError(t, newTestClient(t, srv).Execute(context.Background(), testRequest(), target))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "CDF-bytes", string(data))

	_, err = os.Stat(target + ".part")
	assert.True(t, os.IsNotExist(err))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, 1, svc.deleted)
	require.Len(t, svc.payloads, 1)
	assert.Equal(t, "oper", svc.payloads[0]["stream"])
	assert.Equal(t, "2024-01-01", svc.payloads[0]["date"])
	assert.NotContains(t, svc.payloads[0], "verb")
}

func TestProviderMessagesCarryCorrelationID(t *testing.T) {
	svc := &fakeService{finalState: "complete", result: "CDF"}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	var buf bytes.Buffer
	c, err := NewECMWFClient(ECMWFConfig{
		URL:          srv.URL + "/v1",
		Key:          "secret",
		Email:        "user@example.com",
		HTTPClient:   srv.Client(),
		PollInterval: time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	require.NoError(t, err)

	ctx := logging.WithCorrelationID(context.Background(), "corr-1")
	require.NoError(t, c.Execute(ctx, testRequest(), filepath.Join(t.TempDir(), "out.nc")))

	assert.Contains(t, buf.String(), "component=ecmwfapi")
	assert.Contains(t, buf.String(), "correlation_id=corr-1")
}

func TestEstimateCostSendsListVerb(t *testing.T) {
	svc := &fakeService{finalState: "complete", result: "size=123;\nfields=4;\n"}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "cost.txt")
	require.NoError(t, newTestClient(t, srv).EstimateCost(context.Background(), testRequest(), target))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "size=123;\nfields=4;\n", string(data))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, "list", svc.payloads[0]["verb"])
	assert.Equal(t, "cost", svc.payloads[0]["output"])
}

func TestExecuteAborted(t *testing.T) {
	svc := &fakeService{finalState: "aborted"}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "out.nc")
	err := newTestClient(t, srv).Execute(context.Background(), testRequest(), target)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "no data")

	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	svc := &fakeService{finalState: "complete", result: "x", submitFail: 2}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	var retries int
	c := newTestClient(t, srv)
	c.httpCfg.OnRetry = func(int, error) { retries++ }

	require.NoError(t, c.Execute(context.Background(), testRequest(), filepath.Join(t.TempDir(), "out.nc")))
	assert.Equal(t, 2, retries)
}

func TestExecuteGivesUpAfterRetries(t *testing.T) {
	svc := &fakeService{finalState: "complete", result: "x", submitFail: 10}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	err := newTestClient(t, srv).Execute(context.Background(), testRequest(), filepath.Join(t.TempDir(), "out.nc"))
	assert.ErrorIs(t, err, errServerError)
}

func TestExecuteHonoursContext(t *testing.T) {
	svc := &fakeService{pollsLeft: 1000, finalState: "complete"}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := newTestClient(t, srv).Execute(ctx, testRequest(), filepath.Join(t.TempDir(), "out.nc"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := newTestClient(t, srv).Execute(context.Background(), testRequest(), filepath.Join(t.TempDir(), "out.nc"))
	assert.ErrorIs(t, err, errUnexpected)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClientErrorsDoNotOpenBreaker(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	cfg := HTTPClientConfig{
		Client:  srv.Client(),
		Backoff: BackoffConfig{MaxRetries: 0, InitialInterval: time.Millisecond},
	}
	cb := newBreaker("test")
	get := func() (*http.Request, error) { return http.NewRequest(http.MethodGet, srv.URL, nil) }

	for i := 0; i < 10; i++ {
		_, err := doRequestWithResilience(context.Background(), cfg, cb, get)
		require.ErrorIs(t, err, errUnexpected)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	status.Store(http.StatusOK)
	resp, err := doRequestWithResilience(context.Background(), cfg, cb, get)
	require.NoError(t, err)
	resp.Body.Close()

	status.Store(http.StatusServiceUnavailable)
	for i := 0; i < 6; i++ {
		_, err = doRequestWithResilience(context.Background(), cfg, cb, get)
	}
	assert.ErrorIs(t, err, errServerError)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err = doRequestWithResilience(context.Background(), cfg, cb, get)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestNewECMWFClientRequiresCredentials(t *testing.T) {
	_, err := NewECMWFClient(ECMWFConfig{URL: "https://api.ecmwf.int/v1"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRetryAfter(t *testing.T) {
	c := &ECMWFClient{pollInterval: time.Second, maxPollInterval: time.Minute}
	assert.Equal(t, 3*time.Second, c.retryAfter("3"))
	assert.Equal(t, time.Minute, c.retryAfter("600"))
	assert.Equal(t, time.Second, c.retryAfter(""))
	assert.Equal(t, time.Second, c.retryAfter("soon"))
}
