package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/forecast-retriever/internal/preprocess"
	"github.com/withObsrvr/forecast-retriever/internal/storage"
	"github.com/withObsrvr/forecast-retriever/internal/watcher"
)

func buildPreprocessCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Stage committed retrievals not yet in the staging table",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runPreprocess(cmd.Context(), a, watch)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and preprocess on every index change")

	return cmd
}

func runPreprocess(ctx context.Context, a *app, watch bool) error {
	p := preprocess.New(preprocess.Config{
		LandingPath: a.cfg.LandingPath,
		StagingPath: a.cfg.StagingPath,
		Workers:     a.cfg.Workers,
		Metrics:     a.metrics,
		Logger:      a.log,
	})

	pass := func(ctx context.Context) error {
		res, err := p.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, renderPreprocess(p.StagingPath(), res))
		return nil
	}

	if !watch {
		return pass(ctx)
	}

	w, err := watcher.New(watcher.Config{
		Path:   filepath.Join(a.cfg.LandingPath, storage.IndexFile),
		Logger: a.log,
	})
	if err != nil {
		return err
	}
	// An index may already hold unstaged entries; a missing one is fine here.
	if err := pass(ctx); err != nil {
		a.log.Warn("initial preprocess failed", "error", err)
	}
	return ignoreCanceled(w.Run(ctx, pass))
}

func renderPreprocess(stagingPath string, res preprocess.Result) string {
	return boxStyle.Render(
		titleStyle.Render("Preprocess complete") + "\n" +
			row("Staging", stagingPath) + "\n" +
			row("Indexed", fmt.Sprintf("%d", res.Indexed)) + "\n" +
			row("Staged", count(res.Staged, successStyle)) + "\n" +
			row("Skipped", fmt.Sprintf("%d", res.AlreadyStaged)) + "\n" +
			row("Missing", count(res.Missing, failureStyle)) + "\n" +
			row("Invalid", count(res.Invalid, failureStyle)))
}
