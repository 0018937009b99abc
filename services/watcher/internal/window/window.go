// Package window computes the time range requested from the RTE API.
package window

import (
	"time"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
)

const day = 24 * time.Hour

// Calculator computes the fetch window for a run.
type Calculator struct {
	strategy config.WindowStrategy
	history  time.Duration
	lookback time.Duration
}

// New builds a Calculator from the configured strategy.
func New(cfg config.Config) Calculator {
	return Calculator{
		strategy: cfg.WindowStrategy,
		history:  cfg.History,
		lookback: cfg.Lookback,
	}
}

// Compute returns the window for the given instant.
func (c Calculator) Compute(now time.Time) models.Window {
	if c.strategy == config.WindowFixedLookback {
		return FixedLookback(now, c.lookback)
	}
	return PaddedDay(now, c.history)
}

// PaddedDay returns [floor_day(now-history), floor_day(now+1 day)). The API
// only resolves whole days, so both ends are padded to day boundaries.
func PaddedDay(now time.Time, history time.Duration) models.Window {
	now = now.UTC()
	return models.Window{
		Start: floorDay(now.Add(-history)),
		End:   floorDay(now.Add(day)),
	}
}

// FixedLookback returns [now-lookback, now).
func FixedLookback(now time.Time, lookback time.Duration) models.Window {
	now = now.UTC()
	return models.Window{
		Start: now.Add(-lookback),
		End:   now,
	}
}

func floorDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
