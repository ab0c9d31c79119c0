package retrieval

import (
	"context"
	"log/slog"
	"sync"

	"github.com/withObsrvr/forecast-retriever/internal/logging"
	"github.com/withObsrvr/forecast-retriever/internal/query"
	"github.com/withObsrvr/forecast-retriever/internal/request"
)

// Runner executes one unit. *Executor implements it.
type Runner interface {
	Run(ctx context.Context, q query.Query, task Task) Result
}

// Driver runs units on a bounded worker pool: a dispatcher feeds tasks to
// the workers and a collector tallies their results. Units share nothing
// but the storage index, so results arrive in any order.
type Driver struct {
	runner   Runner
	workers  int
	log      *slog.Logger
	onResult func(Result)
}

// NewDriver creates a driver with the given pool width.
func NewDriver(r Runner, workers int, log *slog.Logger) *Driver {
	if workers < 1 {
		workers = 1
	}
	return &Driver{
		runner:  r,
		workers: workers,
		log:     logging.Component(log, "driver"),
	}
}

// OnResult registers a callback invoked by the collector for each result.
func (d *Driver) OnResult(fn func(Result)) {
	d.onResult = fn
}

// Run executes every request and returns the tally. A failed unit never
// stops the others. Cancelling ctx stops dispatching; running units finish.
func (d *Driver) Run(ctx context.Context, q query.Query, reqs []request.Request) Summary {
	summary := Summary{Planned: len(reqs)}
	if len(reqs) == 0 {
		return summary
	}

	workers := d.workers
	if workers > len(reqs) {
		workers = len(reqs)
	}
	d.log.Info("starting retrieval", "requests", len(reqs), "workers", workers, "query_id", q.ID())

	workQueue := make(chan Task, workers)
	resultChan := make(chan Result, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go d.workerLoop(ctx, i, q, workQueue, resultChan, &wg)
	}

	dispatched := make(chan int, 1)
	go func() {
		dispatched <- d.dispatcherLoop(ctx, reqs, workQueue)
	}()

	// Close results when workers finish
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for r := range resultChan {
		summary.add(r)
		if d.onResult != nil {
			d.onResult(r)
		}
	}

	summary.NotRun = len(reqs) - <-dispatched
	if summary.NotRun > 0 {
		d.log.Warn("retrieval cancelled", "not_run", summary.NotRun)
	}

	d.log.Info("retrieval finished",
		"planned", summary.Planned,
		"committed", summary.Committed,
		"rolled_back", summary.RolledBack,
		"failed", summary.Failed,
	)
	return summary
}

// dispatcherLoop sends tasks to workers and returns how many it sent.
func (d *Driver) dispatcherLoop(ctx context.Context, reqs []request.Request, workQueue chan<- Task) int {
	defer close(workQueue)

	for i, req := range reqs {
		if ctx.Err() != nil {
			return i
		}
		select {
		case <-ctx.Done():
			return i
		case workQueue <- Task{Index: i, Request: req}:
		}
	}
	return len(reqs)
}

// workerLoop runs tasks until the queue is closed.
func (d *Driver) workerLoop(ctx context.Context, workerID int, q query.Query, workQueue <-chan Task, resultChan chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()

	for task := range workQueue {
		task.Worker = workerID
		resultChan <- d.runner.Run(ctx, q, task)
	}
}
