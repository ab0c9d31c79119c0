package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/forecast-retriever/internal/config"
	"github.com/withObsrvr/forecast-retriever/internal/query"
	"github.com/withObsrvr/forecast-retriever/internal/retrieval"
	"github.com/withObsrvr/forecast-retriever/internal/scheduler"
)

func buildScheduleCommand() *cobra.Command {
	var (
		every      time.Duration
		windowDays int
		opts       retrieval.Options
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the retrieval pipeline periodically",
		Long: `Run the retrieval pipeline now and then once per interval until
interrupted. With --window-days the query's time range is replaced on
every run by the last N days ending today (UTC).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runSchedule(cmd.Context(), a, every, windowDays, opts)
		},
	}

	cmd.Flags().DurationVar(&every, "every", 12*time.Hour, "interval between runs")
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "retrieve the last N days instead of the query's time range")
	cmd.Flags().BoolVar(&opts.SkipCost, "skip-cost", false, "skip the cost estimation call")

	return cmd
}

func runSchedule(ctx context.Context, a *app, every time.Duration, windowDays int, opts retrieval.Options) error {
	if err := config.ValidateRetrieval(a.cfg); err != nil {
		return err
	}
	if windowDays < 0 {
		return fmt.Errorf("%w: --window-days must not be negative", config.ErrInvalidConfig)
	}
	opts.Workers = a.cfg.Workers
	opts.Timeout = a.cfg.RequestTimeout

	q, err := query.Load(a.cfg.QueryPath)
	if err != nil {
		return fmt.Errorf("load query: %w", err)
	}

	s := scheduler.New(scheduler.Config{
		Interval:   every,
		WindowDays: windowDays,
		Query:      q,
		Logger:     a.log,
	}, func(ctx context.Context, q query.Query) error {
		summary, run, err := a.retrieve(ctx, q, opts, nil)
		if run != nil {
			renderSummary(a.out, run, summary)
		}
		return err
	})
	return s.Run(ctx)
}
