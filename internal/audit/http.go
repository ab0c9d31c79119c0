package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPPoster sends events to a collector endpoint.
type HTTPPoster struct {
	endpoint string
	client   *http.Client
	retries  int
	delay    time.Duration
	log      *slog.Logger
}

// NewHTTPPoster posts to endpoint with up to three attempts.
func NewHTTPPoster(endpoint string, log *slog.Logger) *HTTPPoster {
	return &HTTPPoster{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		retries:  3,
		delay:    time.Second,
		log:      log,
	}
}

// Post sends evt, retrying with a doubling delay.
func (p *HTTPPoster) Post(ctx context.Context, evt *Event) error {
	var lastErr error
	delay := p.delay

	for attempt := 1; attempt <= p.retries; attempt++ {
		err := p.post(ctx, evt)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < p.retries {
			p.log.Warn("audit post failed, retrying",
				"attempt", attempt, "max_attempts", p.retries, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", p.retries, lastErr)
}

func (p *HTTPPoster) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.log.Debug("audit event posted", "endpoint", p.endpoint, "status", resp.StatusCode)
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("http %d: %s", resp.StatusCode, respBody)
}
