package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/forecast-retriever/internal/config"
	"github.com/withObsrvr/forecast-retriever/internal/query"
	"github.com/withObsrvr/forecast-retriever/internal/request"
	"github.com/withObsrvr/forecast-retriever/internal/retrieval"
)

func buildRetrievalCommand() *cobra.Command {
	var opts retrieval.Options

	cmd := &cobra.Command{
		Use:   "retrieval",
		Short: "Retrieve every request of the configured query",
		Long: `Expand the query into provider requests and run each one as an
allocate, retrieve and finalize transaction. Committed retrievals are
appended to index.csv; failed ones are rolled back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runRetrieval(cmd, a, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "retrieve, then discard the data instead of committing")
	cmd.Flags().BoolVar(&opts.SkipCost, "skip-cost", false, "skip the cost estimation call")
	cmd.Flags().BoolVar(&opts.SkipQuery, "skip-query", false, "skip the data call (cost estimation still runs)")

	return cmd
}

func runRetrieval(cmd *cobra.Command, a *app, opts retrieval.Options) error {
	if err := config.ValidateRetrieval(a.cfg); err != nil {
		return err
	}
	opts.Workers = a.cfg.Workers
	opts.Timeout = a.cfg.RequestTimeout

	q, err := query.Load(a.cfg.QueryPath)
	if err != nil {
		return fmt.Errorf("load query: %w", err)
	}

	var onResult func(retrieval.Result)
	total := len(q.Days()) * len(a.cfg.IssueHours)
	if a.cfg.RetrievalMode == string(request.ModePoint) {
		total *= len(q.Points)
	}
	if bar := newProgress(total); bar != nil {
		defer bar.Finish()
		onResult = func(retrieval.Result) { bar.Add(1) }
	}

	summary, run, err := a.retrieve(cmd.Context(), q, opts, onResult)
	if run != nil {
		renderSummary(a.out, run, summary)
	}
	return err
}
