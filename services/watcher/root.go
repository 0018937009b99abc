package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/db"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/logging"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/metrics"
)

const (
	connectTimeout = 30 * time.Second
	pushTimeout    = 10 * time.Second
)

var (
	envFile string
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "watcher",
	Short: "Ingest RTE actual generation per unit",
	Long: `watcher fetches actual generation per production unit from the RTE open API,
keeps only the values newer than what is already stored, and upserts them.
Each command is a one-shot run meant to be scheduled externally.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "reconcile and log without writing (overrides DRY_RUN)")
}

// loadConfig reads the configuration and initializes logging.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadFile(envFile)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = dryRun
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, nil
}

// runContext returns the command context tagged with a fresh run id.
func runContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return logging.ContextWithRunID(ctx, logging.NewRunID())
}

func openStore(ctx context.Context, cfg config.Config) (db.Store, error) {
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	store, err := db.Open(cctx, cfg.DBURL, db.Options{TTL: cfg.TTL})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return store, nil
}

func closeStore(ctx context.Context, store db.Store) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), connectTimeout)
	defer cancel()
	if err := store.Close(cctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("failed to close store")
	}
}

// finish records the run outcome and pushes metrics when a Pushgateway is
// configured. It returns runErr unchanged.
func finish(ctx context.Context, cfg config.Config, m *metrics.Metrics, job string, runErr error) error {
	m.RecordRun(job, runErr, time.Now())

	if cfg.PushgatewayURL != "" {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		if err := m.Push(pctx, cfg.PushgatewayURL, job); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("failed to push metrics")
		}
	}
	return runErr
}
