package reconcile

import (
	"context"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/logging"
)

// LogObserver logs the counters of a run.
type LogObserver struct{}

// ObserveReconcile implements Observer.
func (LogObserver) ObserveReconcile(ctx context.Context, res Result) {
	s := res.Stats
	logger := logging.Ctx(ctx)

	logger.Info().
		Int("observations", s.Observations).
		Int("units", s.CatalogSize).
		Int("watermarks", s.WatermarkSize).
		Int("values", s.Values).
		Msg("reconciling generation data")

	if s.InvalidTime > 0 || s.InvalidValue > 0 {
		logger.Warn().
			Int("invalid_time", s.InvalidTime).
			Int("invalid_value", s.InvalidValue).
			Msg("malformed generation values")
	}

	event := logger.Info().
		Int("filtered_type", s.FilteredType).
		Int("unresolved", s.Unresolved).
		Int("stale", s.Stale).
		Int("duplicates", s.Duplicates).
		Int("features", s.Features)
	if s.Features > 0 {
		event.Msg("found new generation data")
	} else {
		event.Msg("no new generation data found")
	}
}
