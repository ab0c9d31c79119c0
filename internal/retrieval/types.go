package retrieval

import (
	"time"

	"github.com/withObsrvr/forecast-retriever/internal/checkpoint"
	"github.com/withObsrvr/forecast-retriever/internal/request"
	"github.com/withObsrvr/forecast-retriever/internal/storage"
)

// Options controls how each unit runs.
type Options struct {
	// DryRun performs the data call, then rolls the ticket back.
	DryRun bool
	// SkipCost omits the cost estimation call.
	SkipCost bool
	// SkipQuery omits the data call and rolls the ticket back.
	SkipQuery bool
	// Workers bounds how many units run at once. Values below 1 mean 1.
	Workers int
	// Timeout bounds each provider call. Zero means no deadline.
	Timeout time.Duration
}

// Outcome is how a unit ended.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeFailed     Outcome = "failed"
)

// Failure stages.
const (
	StageAllocate = "allocate"
	StageRetrieve = "retrieve"
	StageFinalize = "finalize"
)

// Task is one unit of work: a single provider request.
type Task struct {
	Index   int
	Worker  int
	Request request.Request
}

// Result is returned from workers to the collector.
type Result struct {
	Task     Task
	Outcome  Outcome
	EntryID  string
	Row      *storage.IndexRow // set when committed
	Stage    string            // set when failed
	Err      error
	Duration time.Duration
}

// Summary tallies the results of one driver run.
type Summary struct {
	Planned    int
	Committed  int
	RolledBack int
	Failed     int
	NotRun     int // units never dispatched because the run was cancelled

	Rows     []storage.IndexRow
	Failures []checkpoint.Failure
}

func (s *Summary) add(r Result) {
	switch r.Outcome {
	case OutcomeCommitted:
		s.Committed++
		if r.Row != nil {
			s.Rows = append(s.Rows, *r.Row)
		}
	case OutcomeRolledBack:
		s.RolledBack++
	case OutcomeFailed:
		s.Failed++
		f := r.Task.Request.Fields()
		msg := ""
		if r.Err != nil {
			msg = r.Err.Error()
		}
		s.Failures = append(s.Failures, checkpoint.Failure{
			Issued: f.Issued(),
			Area:   f.Area,
			Stage:  r.Stage,
			Error:  msg,
		})
	}
}

// OK reports whether every planned unit ran without failure.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.NotRun == 0
}

// Apply copies the tallies into a run record.
func (s Summary) Apply(run *checkpoint.Run) {
	run.Planned = s.Planned
	run.Committed = s.Committed
	run.RolledBack = s.RolledBack
	run.Failed = s.Failed + s.NotRun
	run.Failures = append([]checkpoint.Failure(nil), s.Failures...)
}
