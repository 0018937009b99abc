package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/archive"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/job"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/logging"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/metrics"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/publisher"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/rte"
)

var generationCmd = &cobra.Command{
	Use:   "generation",
	Short: "Fetch the current window and store new generation values",
	Args:  cobra.NoArgs,
	RunE:  runGeneration,
}

func init() {
	rootCmd.AddCommand(generationCmd)
}

func runGeneration(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateFetch(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := logging.Ctx(ctx)
	m := metrics.New()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return finish(ctx, cfg, m, job.GenerationJob, err)
	}
	defer closeStore(ctx, store)

	g := &job.Generation{
		Config:  cfg,
		Store:   store,
		Fetcher: rte.NewClient(ctx, cfg.RTE),
		Metrics: m,
	}

	if cfg.MQTT.Enabled() && !cfg.DryRun {
		pub, err := publisher.New(cfg.MQTT)
		if err != nil {
			logger.Warn().Err(err).Msg("notifications disabled")
		} else {
			defer pub.Close()
			g.Notifier = pub
		}
	}

	if cfg.Archive.Enabled() {
		arc, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			logger.Warn().Err(err).Msg("raw payload archive disabled")
		} else {
			g.Archive = arc
		}
	}

	report, err := g.Run(ctx)
	if err == nil {
		logger.Info().
			Int("written", report.Written).
			Int("features", report.Stats.Features).
			Bool("dry_run", report.DryRun).
			Msg("generation run complete")
	}
	return finish(ctx, cfg, m, job.GenerationJob, err)
}
