package job

import (
	"context"
	"fmt"
	"time"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/catalog"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/db"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/logging"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/metrics"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/reconcile"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/utils"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/window"
)

// Generation fetches one window of generation data and stores what is new.
// Notifier, Archive and Metrics are optional.
type Generation struct {
	Config   config.Config
	Store    db.Store
	Fetcher  Fetcher
	Notifier Notifier
	Archive  Archiver
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// GenerationReport summarizes a run.
type GenerationReport struct {
	Window     models.Window
	Stats      reconcile.Stats
	Written    int
	Purged     int64
	ArchiveKey string
	DryRun     bool
}

// Run executes the job. Any fetch or store failure aborts the run before
// anything is written for the window.
func (g *Generation) Run(ctx context.Context) (GenerationReport, error) {
	cfg := g.Config
	report := GenerationReport{DryRun: cfg.DryRun}
	logger := logging.Ctx(ctx).With().Str("job", GenerationJob).Logger()

	release, err := acquire(ctx, g.Store, GenerationJob)
	if err != nil {
		return report, err
	}
	defer release()

	if err := g.Store.EnsureSchema(ctx); err != nil {
		return report, err
	}

	now := g.now()
	if !cfg.DryRun && cfg.TTL > 0 {
		purged, err := g.Store.PurgeExpired(ctx, now.Add(-cfg.TTL))
		if err != nil {
			return report, err
		}
		report.Purged = purged
		g.Metrics.RecordPurged(purged)
		if purged > 0 {
			logger.Info().Int64("purged", purged).Msg("removed expired generation data")
		}
	}

	report.Window = window.New(cfg).Compute(now)
	logger.Info().
		Time("start", report.Window.Start).
		Time("end", report.Window.End).
		Str("strategy", string(cfg.WindowStrategy)).
		Msg("fetching generation data")

	done := g.Metrics.StageTimer(GenerationJob, "fetch")
	payload, err := g.Fetcher.Fetch(ctx, report.Window)
	done()
	if err != nil {
		return report, fmt.Errorf("fetch generation: %w", err)
	}
	logger.Info().Int("observations", len(payload.Response.Generations)).Msg("fetched generation data")

	if g.Archive != nil {
		key, err := g.Archive.Store(ctx, report.Window, logging.RunIDFromContext(ctx), payload.Raw)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to archive raw payload")
		} else {
			report.ArchiveKey = key
			logger.Debug().Str("key", key).Msg("archived raw payload")
		}
	}

	units, err := g.Store.LoadUnits(ctx)
	if err != nil {
		return report, err
	}
	if len(units) == 0 {
		logger.Warn().Msg("unit catalog is empty, run the units job first")
	}

	watermark, err := g.Store.FetchWatermark(ctx, report.Window.Start, cfg.WatermarkStrategy)
	if err != nil {
		return report, err
	}

	done = g.Metrics.StageTimer(GenerationJob, "reconcile")
	engine := reconcile.New(reconcile.LogObserver{}, g.Metrics)
	res := engine.Reconcile(ctx, payload.Response.Generations, reconcile.Context{
		Catalog:         catalog.New(units, cfg.MatchStrategy),
		Watermark:       watermark,
		ProductionTypes: cfg.ProductionTypes,
		InvalidValues:   cfg.InvalidValuePolicy,
	})
	done()
	report.Stats = res.Stats

	if len(res.Features) == 0 {
		return report, nil
	}

	first, last := utils.TimeRange(res.Features)
	logger.Info().
		Int("features", len(res.Features)).
		Int("units", len(utils.UnitKeys(res.Features))).
		Time("first", first).
		Time("last", last).
		Bool("dry_run", cfg.DryRun).
		Msg("prepared new generation data")

	if cfg.DryRun {
		for _, f := range res.Features {
			logger.Info().
				Str("unit", f.UnitKey).
				Time("time", f.Time).
				Str("power", utils.PowerString(f.Power)).
				Msg("dry-run: would upsert generation")
		}
		return report, nil
	}

	done = g.Metrics.StageTimer(GenerationJob, "write")
	written, err := g.Store.UpsertFeatures(ctx, res.Features, cfg.ChunkSize)
	done()
	report.Written = written
	g.Metrics.RecordWritten("generation", written)
	if err != nil {
		return report, err
	}
	logger.Info().
		Int("written", written).
		Int("advanced_units", len(utils.AdvancedWatermark(res.Features))).
		Msg("upserted generation data")

	if g.Notifier != nil {
		if err := g.Notifier.Notify(ctx, res.Features); err != nil {
			logger.Warn().Err(err).Msg("failed to publish notifications")
		}
	}

	return report, nil
}

func (g *Generation) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}
