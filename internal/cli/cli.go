// Package cli builds the forecast-retriever command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/forecast-retriever/internal/config"
	"github.com/withObsrvr/forecast-retriever/internal/logging"
	"github.com/withObsrvr/forecast-retriever/internal/metrics"
)

// Version is set at build time.
var Version = "dev"

const metricsNamespace = "forecast_retriever"

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forecast-retriever",
		Short: "Retrieve ECMWF forecasts into an indexed landing folder",
		Long: `forecast-retriever expands a query into ECMWF requests, retrieves each one
into a uniquely named file under the landing folder and records every
committed retrieval in index.csv.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(buildRetrievalCommand())
	rootCmd.AddCommand(buildPreprocessCommand())
	rootCmd.AddCommand(buildScheduleCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildCostReportCommand())
	rootCmd.AddCommand(buildExportCommand())

	return rootCmd
}

// app carries what every command needs once configuration is resolved.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	out     io.Writer
	closer  io.Closer
}

// newApp resolves the configuration and initializes logging and, when an
// address is configured, the metrics server.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}

	log, closer, err := logging.Setup(logging.Config{
		Format:      cfg.LogFormat,
		Level:       cfg.LogLevel,
		FilePath:    cfg.LoggingPath,
		Timestamped: true,
		Stdout:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	a := &app{
		cfg:    cfg,
		log:    log.With("command", cmd.Name()),
		out:    cmd.OutOrStdout(),
		closer: closer,
	}

	if cfg.MetricsAddr != "" {
		a.metrics = metrics.Get()
		if a.metrics == nil {
			a.metrics = metrics.Init(metricsNamespace)
		}
		go func() {
			a.log.Info("starting metrics server", "addr", cfg.MetricsAddr)
			if err := metrics.StartServer(cfg.MetricsAddr); err != nil {
				a.log.Error("metrics server error", "error", err)
			}
		}()
	}

	a.log.Debug("configuration resolved",
		"model", cfg.Model,
		"level", cfg.Level,
		"retrieval_mode", cfg.RetrievalMode,
		"format", cfg.Format,
		"landing_path", cfg.LandingPath,
		"workers", cfg.Workers)
	return a, nil
}

func (a *app) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// ignoreCanceled treats an interrupted long-running command as a clean stop.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
