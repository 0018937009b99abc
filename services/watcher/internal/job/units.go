package job

import (
	"context"
	"fmt"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/catalog"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/db"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/logging"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/metrics"
)

// Units loads the unit catalog from the CSV files into the store.
type Units struct {
	Config  config.Config
	Store   db.Store
	Metrics *metrics.Metrics
}

// UnitsReport summarizes a units run.
type UnitsReport struct {
	Parsed int
	// RowErrors counts skipped rows, FieldWarnings fields stored as nil.
	RowErrors     int
	FieldWarnings int
	Written       int
	DryRun        bool
}

// Run executes the job. Malformed rows are logged and skipped, fields that
// cannot be coerced are logged and kept as nil; unreadable files and store
// failures abort the run.
func (u *Units) Run(ctx context.Context) (UnitsReport, error) {
	cfg := u.Config
	report := UnitsReport{DryRun: cfg.DryRun}
	logger := logging.Ctx(ctx).With().Str("job", UnitsJob).Logger()

	unitRows, err := catalog.ReadCSVFile(cfg.Catalog.UnitsCSV)
	if err != nil {
		return report, fmt.Errorf("read units: %w", err)
	}
	plantRows, err := catalog.ReadCSVFile(cfg.Catalog.PlantsCSV)
	if err != nil {
		return report, fmt.Errorf("read plants: %w", err)
	}

	units, rowErrs := catalog.BuildUnits(unitRows, plantRows)
	for _, rowErr := range rowErrs {
		event := logger.Warn().
			Int("line", rowErr.Line).
			Str("eic_code", rowErr.Code).
			Err(rowErr.Err)
		if rowErr.Skipped {
			report.RowErrors++
			event.Msg("skipping malformed unit row")
			continue
		}
		report.FieldWarnings++
		event.Msg("storing uncoercible unit field as null")
	}
	report.Parsed = len(units)
	u.Metrics.RecordRowErrors(report.RowErrors)

	logger.Info().
		Int("units", len(units)).
		Int("plants", len(plantRows)).
		Int("row_errors", report.RowErrors).
		Int("field_warnings", report.FieldWarnings).
		Msg("parsed unit catalog")

	if cfg.DryRun {
		for _, unit := range units {
			logger.Info().
				Str("eic_code", unit.Code).
				Str("name", unit.Name).
				Float64("lat", unit.Geometry.Lat()).
				Float64("lon", unit.Geometry.Lon()).
				Msg("dry-run: would upsert unit")
		}
		return report, nil
	}

	release, err := acquire(ctx, u.Store, UnitsJob)
	if err != nil {
		return report, err
	}
	defer release()

	if err := u.Store.EnsureSchema(ctx); err != nil {
		return report, err
	}

	written, err := u.Store.UpsertUnits(ctx, units, cfg.ChunkSize)
	report.Written = written
	u.Metrics.RecordWritten("units", written)
	if err != nil {
		return report, err
	}

	logger.Info().Int("written", written).Msg("upserted unit catalog")
	return report, nil
}
