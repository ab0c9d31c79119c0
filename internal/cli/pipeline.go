package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/withObsrvr/forecast-retriever/internal/audit"
	"github.com/withObsrvr/forecast-retriever/internal/catalog"
	"github.com/withObsrvr/forecast-retriever/internal/checkpoint"
	"github.com/withObsrvr/forecast-retriever/internal/logging"
	"github.com/withObsrvr/forecast-retriever/internal/provider"
	"github.com/withObsrvr/forecast-retriever/internal/query"
	"github.com/withObsrvr/forecast-retriever/internal/request"
	"github.com/withObsrvr/forecast-retriever/internal/retrieval"
	"github.com/withObsrvr/forecast-retriever/internal/storage"
)

// retrieve runs one pipeline pass over q and saves its run record. Per-unit
// failures are reported in the summary, not as an error.
func (a *app) retrieve(ctx context.Context, q query.Query, opts retrieval.Options, onResult func(retrieval.Result)) (retrieval.Summary, *checkpoint.Run, error) {
	log := logging.Component(a.log, "pipeline")

	settings := a.cfg.RequestSettings()
	reqs, err := request.NewBuilder(settings, a.log).Build(q)
	if err != nil {
		return retrieval.Summary{}, nil, fmt.Errorf("build requests: %w", err)
	}

	manager, err := storage.NewManager(a.cfg.LandingPath, a.log)
	if err != nil {
		return retrieval.Summary{}, nil, err
	}

	client, err := a.providerClient(opts)
	if err != nil {
		return retrieval.Summary{}, nil, err
	}

	publishers, closePublishers, err := a.publishers(ctx)
	if err != nil {
		return retrieval.Summary{}, nil, err
	}
	defer closePublishers()

	runs, err := checkpoint.NewStore(a.cfg.LandingPath)
	if err != nil {
		return retrieval.Summary{}, nil, err
	}

	run := &checkpoint.Run{
		RunID:     checkpoint.NewRunID(),
		QueryID:   q.ID(),
		QueryName: q.Name,
		Model:     a.cfg.Model,
		Mode:      a.cfg.RetrievalMode,
		DryRun:    opts.DryRun,
		SkipCost:  opts.SkipCost,
		SkipQuery: opts.SkipQuery,
		StartedAt: time.Now().UTC(),
	}
	log.Info("retrieval run starting", "run_id", run.RunID, "query", q.String(), "requests", len(reqs))

	exec := retrieval.NewExecutor(retrieval.ExecutorConfig{
		Settings:   settings,
		Storage:    manager,
		Client:     client,
		Options:    opts,
		Publishers: publishers,
		Metrics:    a.metrics,
		Logger:     a.log,
	})
	driver := retrieval.NewDriver(exec, opts.Workers, a.log)
	if onResult != nil {
		driver.OnResult(onResult)
	}

	summary := driver.Run(ctx, q, reqs)
	summary.Apply(run)
	run.FinishedAt = time.Now().UTC()

	// The record is saved even for a cancelled run.
	if err := runs.Save(context.WithoutCancel(ctx), run); err != nil {
		log.Error("failed to save run record", "run_id", run.RunID, "error", err)
	}

	log.Info("retrieval run finished",
		"run_id", run.RunID,
		"planned", summary.Planned,
		"committed", summary.Committed,
		"rolled_back", summary.RolledBack,
		"failed", summary.Failed,
		"not_run", summary.NotRun,
		"duration", run.Duration())
	return summary, run, ctx.Err()
}

// providerClient builds the ECMWF client. Runs that skip both the cost
// check and the data call need no credentials.
func (a *app) providerClient(opts retrieval.Options) (provider.Client, error) {
	client, err := provider.NewECMWFClient(provider.ECMWFConfig{
		URL:     a.cfg.Provider.URL,
		Key:     a.cfg.Provider.Key,
		Email:   a.cfg.Provider.Email,
		Logger:  a.log,
		Metrics: a.metrics,
	})
	if err != nil {
		if errors.Is(err, provider.ErrNotConfigured) && opts.SkipCost && opts.SkipQuery {
			return nil, nil
		}
		return nil, err
	}
	return client, nil
}

// publishers wires the optional archive store, catalog and audit log.
func (a *app) publishers(ctx context.Context) ([]retrieval.Publisher, func(), error) {
	var (
		pubs    []retrieval.Publisher
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				a.log.Warn("failed to close publisher", "error", err)
			}
		}
	}

	archive, err := storage.NewArchiveStore(a.cfg.ArchiveStoreConfig())
	if err != nil {
		return nil, closeAll, fmt.Errorf("create archive store: %w", err)
	}
	if archive != nil {
		closers = append(closers, archive.Close)
		pubs = append(pubs, retrieval.NewArchivePublisher(archive, a.cfg.Archive.Backend, a.metrics))
		a.log.Info("archiving committed retrievals", "backend", a.cfg.Archive.Backend)
	}

	if a.cfg.Catalog.PostgresDSN != "" || a.cfg.Catalog.SQLitePath != "" {
		w, err := catalog.New(ctx, catalog.Config{
			PostgresDSN: a.cfg.Catalog.PostgresDSN,
			SQLitePath:  a.cfg.Catalog.SQLitePath,
		}, a.log)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("open catalog: %w", err)
		}
		closers = append(closers, w.Close)
		pubs = append(pubs, retrieval.NewCatalogPublisher(w, archive, a.metrics))
	}

	if a.cfg.Audit.Enabled {
		e, err := audit.NewEmitter(audit.Config{
			Enabled:  true,
			Dir:      a.cfg.AuditDir(),
			Endpoint: a.cfg.Audit.Endpoint,
			Producer: audit.ProducerInfo{Name: "forecast-retriever", Version: Version},
		}, a.log)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("open audit log: %w", err)
		}
		closers = append(closers, e.Close)
		pubs = append(pubs, retrieval.NewAuditPublisher(e, a.metrics))
	}

	return pubs, closeAll, nil
}
