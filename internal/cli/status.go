package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/forecast-retriever/internal/audit"
	"github.com/withObsrvr/forecast-retriever/internal/checkpoint"
	"github.com/withObsrvr/forecast-retriever/internal/costcheck"
	"github.com/withObsrvr/forecast-retriever/internal/storage"
	"github.com/withObsrvr/forecast-retriever/internal/tables"
)

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest run and the size of the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runStatus(cmd.Context(), a)
		},
	}
}

func runStatus(ctx context.Context, a *app) error {
	index := storage.NewIndex(filepath.Join(a.cfg.LandingPath, storage.IndexFile))
	rows, err := index.Rows()
	if err != nil && !errors.Is(err, storage.ErrTableNotFound) {
		return fmt.Errorf("read index: %w", err)
	}

	retrievals := make(map[string]bool, len(rows))
	for _, r := range rows {
		retrievals[r.RetrievalID] = true
	}
	fmt.Fprintln(a.out, boxStyle.Render(strings.Join([]string{
		titleStyle.Render("Index"),
		row("Path", index.Path()),
		row("Entries", fmt.Sprintf("%d", len(rows))),
		row("Distinct", fmt.Sprintf("%d", len(retrievals))),
	}, "\n")))

	if a.cfg.Audit.Enabled {
		if err := renderAudit(a); err != nil {
			return err
		}
	}

	runs, err := checkpoint.NewStore(a.cfg.LandingPath)
	if err != nil {
		return err
	}
	run, err := runs.Latest(ctx)
	if errors.Is(err, checkpoint.ErrNoRun) {
		fmt.Fprintln(a.out, mutedStyle.Render("No retrieval runs recorded."))
		return nil
	}
	if err != nil {
		return err
	}
	renderRun(a.out, "Latest run", run)
	return nil
}

// renderAudit verifies the saved audit events. A broken chain is reported,
// not returned.
func renderAudit(a *app) error {
	backup, err := audit.NewFileBackup(a.cfg.AuditDir())
	if err != nil {
		return err
	}
	events, err := backup.Load()
	if err != nil {
		return fmt.Errorf("load audit events: %w", err)
	}

	state := successStyle.Render("verified")
	chains, err := audit.VerifyChain(events)
	if err != nil {
		a.log.Error("audit chain verification failed", "dir", backup.Dir(), "error", err)
		state = failureStyle.Render("broken")
	}
	fmt.Fprintln(a.out, boxStyle.Render(strings.Join([]string{
		titleStyle.Render("Audit"),
		row("Events", fmt.Sprintf("%d", len(events))),
		row("Chains", fmt.Sprintf("%d", chains)),
		row("State", state),
	}, "\n")))
	return nil
}

func buildCostReportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "cost-report",
		Short: "Collect the saved cost estimates into one CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runCostReport(a, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "report file (- for stdout)")

	return cmd
}

func runCostReport(a *app, output string) error {
	dir := filepath.Join(a.cfg.LandingPath, storage.CostCheckDir)
	estimates, err := costcheck.Collect(dir)
	if err != nil {
		return err
	}
	a.log.Info("collected cost estimates", "dir", dir, "files", len(estimates), "total_size", costcheck.Total(estimates, "size"))

	if output == "-" {
		return costcheck.WriteReport(a.out, estimates)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := costcheck.WriteReport(f, estimates); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func buildExportCommand() *cobra.Command {
	var (
		output string
		cfg    = tables.DefaultExportConfig()
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the index as a parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runExport(a, output, cfg)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "parquet file (default <landing>/index.parquet)")
	cmd.Flags().StringVar(&cfg.Compression, "compression", cfg.Compression, "snappy, zstd or none")

	return cmd
}

func runExport(a *app, output string, cfg tables.ExportConfig) error {
	if output == "" {
		output = filepath.Join(a.cfg.LandingPath, "index.parquet")
	}

	rows, err := storage.NewIndex(filepath.Join(a.cfg.LandingPath, storage.IndexFile)).Rows()
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	out, err := tables.FromIndexRows(rows)
	if err != nil {
		return err
	}
	if err := tables.WriteFile(output, out, cfg); err != nil {
		return err
	}

	a.log.Info("exported index", "table", tables.RetrievalRow{}.TableName(), "rows", len(out), "output", output, "compression", cfg.Compression)
	fmt.Fprintln(a.out, row("Exported", fmt.Sprintf("%d rows to %s", len(out), output)))
	return nil
}
