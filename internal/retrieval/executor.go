// Package retrieval runs provider requests as allocate, retrieve and
// finalize transactions against the storage manager.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/forecast-retriever/internal/logging"
	"github.com/withObsrvr/forecast-retriever/internal/metrics"
	"github.com/withObsrvr/forecast-retriever/internal/provider"
	"github.com/withObsrvr/forecast-retriever/internal/query"
	"github.com/withObsrvr/forecast-retriever/internal/request"
	"github.com/withObsrvr/forecast-retriever/internal/storage"
)

// Executor runs one request end to end. It holds no per-unit state and is
// safe for concurrent use.
type Executor struct {
	settings   request.Settings
	store      *storage.Manager
	client     provider.Client
	opts       Options
	publishers []Publisher
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// ExecutorConfig bundles the collaborators of an Executor.
type ExecutorConfig struct {
	Settings   request.Settings
	Storage    *storage.Manager
	Client     provider.Client
	Options    Options
	Publishers []Publisher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	return &Executor{
		settings:   cfg.Settings,
		store:      cfg.Storage,
		client:     cfg.Client,
		opts:       cfg.Options,
		publishers: cfg.Publishers,
		metrics:    cfg.Metrics,
		log:        logging.Component(cfg.Logger, "executor"),
	}
}

// Run allocates a ticket for req, runs the optional cost check and the data
// call, then finalizes. Once a ticket exists it is always finalized.
func (e *Executor) Run(ctx context.Context, q query.Query, task Task) Result {
	req := task.Request
	f := req.Fields()
	correlationID := logging.GenerateCorrelationID()
	ctx = logging.WithCorrelationID(ctx, correlationID)
	log := logging.RetrievalLogger(logging.WorkerLogger(e.log, task.Worker), correlationID, f.Issued(), f.Area)
	start := time.Now()

	e.metrics.AddInFlight(1)
	defer e.metrics.AddInFlight(-1)

	result := Result{Task: task}
	done := func(outcome Outcome) Result {
		result.Outcome = outcome
		result.Duration = time.Since(start)
		e.metrics.ObserveRetrievalDuration(e.settings.Model, string(outcome), result.Duration.Seconds())
		if outcome == OutcomeFailed {
			e.metrics.IncFailed(result.Stage)
		}
		return result
	}

	meta := storage.NewRetrievalMeta(e.settings, req)
	ticket, err := e.store.Allocate(meta, q)
	if err != nil {
		if errors.Is(err, storage.ErrDataFileExists) {
			e.metrics.IncAllocationConflict()
		}
		log.Error("allocation failed", "error", err)
		result.Stage, result.Err = StageAllocate, err
		return done(OutcomeFailed)
	}
	result.EntryID = ticket.ID()
	log = log.With("entry_id", result.EntryID)

	if !e.opts.SkipCost {
		e.costCheck(ctx, log, req, ticket)
	}

	var callErr error
	if e.opts.SkipQuery {
		log.Info("skipping data call")
	} else {
		log.Info("retrieving forecast", "target", ticket.DataPath)
		callErr = e.call(ctx, func(ctx context.Context) error {
			return e.client.Execute(ctx, req, ticket.DataPath)
		})
		if callErr != nil {
			log.Error("retrieval failed", "error", callErr)
		}
	}

	success := callErr == nil && !e.opts.DryRun && !e.opts.SkipQuery
	if callErr == nil && e.opts.DryRun {
		log.Info("dry run enabled, discarding result", "target", ticket.DataPath)
	}

	row, err := e.store.Finalize(ticket, q, success)
	if err != nil {
		log.Error("finalize failed", "error", err)
		result.Stage, result.Err = StageFinalize, err
		if callErr != nil {
			result.Err = errors.Join(callErr, err)
		}
		return done(OutcomeFailed)
	}

	switch {
	case callErr != nil:
		e.metrics.IncRolledBack(e.settings.Model, e.settings.RetrievalMode, "failed")
		result.Stage, result.Err = StageRetrieve, callErr
		return done(OutcomeFailed)
	case !success:
		reason := "dry_run"
		if e.opts.SkipQuery {
			reason = "skip_query"
		}
		e.metrics.IncRolledBack(e.settings.Model, e.settings.RetrievalMode, reason)
		return done(OutcomeRolledBack)
	}

	e.metrics.IncCommitted(e.settings.Model, e.settings.RetrievalMode)
	e.metrics.IncIndexAppends()
	result.Row = row
	log.Info("retrieval committed", "data_file", row.DataFile)

	e.publish(ctx, log, ticket, *row)
	return done(OutcomeCommitted)
}

// costCheck is best effort: failures are logged and swallowed.
func (e *Executor) costCheck(ctx context.Context, log *slog.Logger, req request.Request, ticket *storage.Ticket) {
	log.Debug("estimating cost", "target", ticket.CostPath)
	err := e.call(ctx, func(ctx context.Context) error {
		return e.client.EstimateCost(ctx, req, ticket.CostPath)
	})
	if err != nil {
		e.metrics.IncCostCheck("error")
		log.Warn("cost check failed", "error", err)
		return
	}
	e.metrics.IncCostCheck("ok")
}

// call runs fn under the per-call deadline and turns a panic into an error.
func (e *Executor) call(ctx context.Context, fn func(context.Context) error) (err error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider call panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// publish runs the post-commit hooks. The commit stands whatever they return.
func (e *Executor) publish(ctx context.Context, log *slog.Logger, ticket *storage.Ticket, row storage.IndexRow) {
	for _, p := range e.publishers {
		if err := p.Publish(ctx, ticket, row); err != nil {
			log.Warn("post-commit publish failed", "publisher", p.Name(), "error", err)
		}
	}
}
