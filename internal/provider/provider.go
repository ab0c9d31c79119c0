// Package provider talks to the forecast data service.
package provider

import (
	"context"
	"errors"

	"github.com/withObsrvr/forecast-retriever/internal/request"
)

var (
	// ErrRequestFailed is returned when the service aborts or rejects a request.
	ErrRequestFailed = errors.New("provider request failed")

	// ErrCircuitOpen is returned while the circuit breaker refuses calls.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrNotConfigured is returned when credentials are missing.
	ErrNotConfigured = errors.New("provider not configured")
)

// Client executes provider requests. Both calls block until the result is
// written to target or the call fails.
type Client interface {
	// Execute retrieves the data of req into target.
	Execute(ctx context.Context, req request.Request, target string) error

	// EstimateCost saves the provider's cost estimate for req into target.
	EstimateCost(ctx context.Context, req request.Request, target string) error
}
