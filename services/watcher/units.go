package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/job"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/logging"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/metrics"
)

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "Load the production unit catalog from CSV files",
	Long: `units reads the reactors and plants CSV files (UNITS_CSV, PLANTS_CSV), merges
each unit with its plant location and upserts the catalog keyed by EIC code.
Malformed rows are logged and skipped.`,
	Args: cobra.NoArgs,
	RunE: runUnits,
}

func init() {
	rootCmd.AddCommand(unitsCmd)
}

func runUnits(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	m := metrics.New()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return finish(ctx, cfg, m, job.UnitsJob, err)
	}
	defer closeStore(ctx, store)

	report, err := (&job.Units{Config: cfg, Store: store, Metrics: m}).Run(ctx)
	if err == nil {
		logging.Ctx(ctx).Info().
			Int("written", report.Written).
			Int("row_errors", report.RowErrors).
			Int("field_warnings", report.FieldWarnings).
			Bool("dry_run", report.DryRun).
			Msg("units run complete")
	}
	return finish(ctx, cfg, m, job.UnitsJob, err)
}
