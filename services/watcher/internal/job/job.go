// Package job wires the watcher components into the generation and units runs.
package job

import (
	"context"
	"time"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/db"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/logging"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/rte"
)

// Job names, used for locks, metrics and logs.
const (
	GenerationJob = "generation"
	UnitsJob      = "units"
)

const releaseTimeout = 10 * time.Second

// Fetcher returns the raw generation payload of a window.
type Fetcher interface {
	Fetch(ctx context.Context, w models.Window) (rte.Payload, error)
}

// Notifier is told about features once they are stored.
type Notifier interface {
	Notify(ctx context.Context, features []models.Feature) error
}

// Archiver keeps the raw payload of a run.
type Archiver interface {
	Store(ctx context.Context, w models.Window, runID string, raw []byte) (string, error)
}

func lockName(job string) string {
	return "rte-" + job
}

// acquire takes the run lock of job and returns a release func that logs
// its own failure. Release runs on a fresh context so a cancelled run still
// gives the lock back.
func acquire(ctx context.Context, store db.Store, job string) (func(), error) {
	release, err := store.AcquireRunLock(ctx, lockName(job))
	if err != nil {
		return nil, err
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := release(rctx); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("job", job).Msg("failed to release run lock")
		}
	}, nil
}
