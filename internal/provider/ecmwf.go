package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/withObsrvr/forecast-retriever/internal/logging"
	"github.com/withObsrvr/forecast-retriever/internal/metrics"
	"github.com/withObsrvr/forecast-retriever/internal/request"
)

// ECMWFConfig configures the ECMWF Web API client.
type ECMWFConfig struct {
	URL     string // e.g. https://api.ecmwf.int/v1
	Key     string
	Email   string
	Service string // defaults to "mars"

	HTTPClient *http.Client
	Backoff    BackoffConfig

	// PollInterval is used when the service sends no Retry-After.
	PollInterval    time.Duration
	MaxPollInterval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// ECMWFClient submits requests to the ECMWF Web API and downloads results.
type ECMWFClient struct {
	base    *url.URL
	key     string
	email   string
	service string

	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker

	pollInterval    time.Duration
	maxPollInterval time.Duration

	log     *slog.Logger
	metrics *metrics.Metrics
}

// apiReply is the status document returned for a submitted request.
type apiReply struct {
	Name     string   `json:"name"`
	Status   string   `json:"status"`
	Href     string   `json:"href"`
	Size     int64    `json:"size"`
	Reason   string   `json:"reason"`
	Error    string   `json:"error"`
	Messages []string `json:"messages"`
}

// NewECMWFClient validates cfg and builds a client.
func NewECMWFClient(cfg ECMWFConfig) (*ECMWFClient, error) {
	if cfg.URL == "" || cfg.Key == "" || cfg.Email == "" {
		return nil, fmt.Errorf("%w: url, key and email are required", ErrNotConfigured)
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", ErrNotConfigured, err)
	}

	if cfg.Service == "" {
		cfg.Service = "mars"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPollInterval <= 0 {
		cfg.MaxPollInterval = 2 * time.Minute
	}

	c := &ECMWFClient{
		base:            base,
		key:             cfg.Key,
		email:           cfg.Email,
		service:         cfg.Service,
		circuit:         newBreaker("ecmwf"),
		pollInterval:    cfg.PollInterval,
		maxPollInterval: cfg.MaxPollInterval,
		log:             logging.Component(cfg.Logger, "provider"),
		metrics:         cfg.Metrics,
	}
	c.httpCfg = HTTPClientConfig{
		Client:  cfg.HTTPClient,
		Backoff: cfg.Backoff,
		OnRetry: func(attempt int, err error) {
			c.log.Warn("retrying provider call", "attempt", attempt, "error", err)
			c.metrics.IncProviderRetry("http")
		},
	}
	return c, nil
}

// Execute submits req and downloads its result into target.
func (c *ECMWFClient) Execute(ctx context.Context, req request.Request, target string) error {
	return c.run(ctx, req.Payload(), target)
}

// EstimateCost submits req as a cost listing and saves the text into target.
func (c *ECMWFClient) EstimateCost(ctx context.Context, req request.Request, target string) error {
	payload := req.Payload()
	payload["verb"] = "list"
	payload["output"] = "cost"
	return c.run(ctx, payload, target)
}

func (c *ECMWFClient) run(ctx context.Context, payload map[string]any, target string) error {
	log := c.log
	if id := logging.CorrelationID(ctx); id != "" {
		log = log.With("correlation_id", id)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	submitURL := c.base.ResolveReference(&url.URL{Path: "services/" + c.service + "/requests"})
	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, func() (*http.Request, error) {
		r, err := http.NewRequest(http.MethodPost, submitURL.String(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return c.authorize(r), nil
	})
	if err != nil {
		return fmt.Errorf("submit request: %w", err)
	}

	reply, err := c.decode(log, resp)
	if err != nil {
		return err
	}
	location := c.resolve(resp.Header.Get("Location"))
	retryAfter := resp.Header.Get("Retry-After")

	if location != "" {
		defer c.cleanup(location)
	}

	for reply.Status == "queued" || reply.Status == "active" || reply.Status == "submitted" {
		if location == "" {
			return fmt.Errorf("%w: status %s without location", ErrRequestFailed, reply.Status)
		}
		log.Debug("waiting for provider", "status", reply.Status, "request", reply.Name)
		if err := sleep(ctx, c.retryAfter(retryAfter)); err != nil {
			return err
		}

		resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, func() (*http.Request, error) {
			r, err := http.NewRequest(http.MethodGet, location, nil)
			if err != nil {
				return nil, err
			}
			return c.authorize(r), nil
		})
		if err != nil {
			return fmt.Errorf("poll request: %w", err)
		}
		if reply, err = c.decode(log, resp); err != nil {
			return err
		}
		retryAfter = resp.Header.Get("Retry-After")
		if l := c.resolve(resp.Header.Get("Location")); l != "" && l != location {
			location = l
		}
	}

	switch reply.Status {
	case "complete":
	case "aborted", "failed":
		reason := reply.Reason
		if reason == "" {
			reason = reply.Error
		}
		return fmt.Errorf("%w: %s: %s", ErrRequestFailed, reply.Status, reason)
	default:
		return fmt.Errorf("%w: unexpected status %q", ErrRequestFailed, reply.Status)
	}

	if reply.Href == "" {
		return fmt.Errorf("%w: complete without result href", ErrRequestFailed)
	}
	return c.download(ctx, c.resolve(reply.Href), target, reply.Size)
}

func (c *ECMWFClient) authorize(r *http.Request) *http.Request {
	r.Header.Set("Accept", "application/json")
	r.Header.Set("From", c.email)
	r.Header.Set("X-ECMWF-KEY", c.key)
	return r
}

func (c *ECMWFClient) resolve(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

func (c *ECMWFClient) retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		d := time.Duration(secs) * time.Second
		if d > c.maxPollInterval {
			return c.maxPollInterval
		}
		return d
	}
	return c.pollInterval
}

func (c *ECMWFClient) decode(log *slog.Logger, resp *http.Response) (apiReply, error) {
	defer resp.Body.Close()

	var reply apiReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return apiReply{}, fmt.Errorf("decode provider reply: %w", err)
	}
	for _, msg := range reply.Messages {
		logging.ProviderMessage(log, msg)
	}
	return reply, nil
}

// download streams href into target + ".part" and renames it into place.
func (c *ECMWFClient) download(ctx context.Context, href, target string, size int64) error {
	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, func() (*http.Request, error) {
		r, err := http.NewRequest(http.MethodGet, href, nil)
		if err != nil {
			return nil, err
		}
		return c.authorize(r), nil
	})
	if err != nil {
		return fmt.Errorf("download result: %w", err)
	}
	defer resp.Body.Close()

	part := target + ".part"
	f, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", part, err)
	}

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		f.Close()
		os.Remove(part)
		return fmt.Errorf("write %s: %w", part, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return fmt.Errorf("close %s: %w", part, err)
	}
	if size > 0 && n != size {
		os.Remove(part)
		return fmt.Errorf("%w: downloaded %d bytes, expected %d", ErrRequestFailed, n, size)
	}

	if err := os.Rename(part, target); err != nil {
		os.Remove(part)
		return fmt.Errorf("rename %s: %w", part, err)
	}

	c.log.Debug("result downloaded", "target", target, "bytes", n)
	return nil
}

// cleanup deletes the request on the service. Failures are only logged.
func (c *ECMWFClient) cleanup(location string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	r, err := http.NewRequestWithContext(ctx, http.MethodDelete, location, nil)
	if err != nil {
		return
	}
	resp, err := c.httpCfg.Client.Do(c.authorize(r))
	if err != nil {
		c.log.Warn("failed to delete provider request", "location", location, "error", err)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
