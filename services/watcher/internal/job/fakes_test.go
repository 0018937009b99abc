package job

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/db"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/rte"
)

type featureKey struct {
	unit string
	time int64
}

// memoryStore is an in-memory db.Store.
type memoryStore struct {
	mu       sync.Mutex
	units    map[string]models.Unit
	features map[featureKey]models.Feature
	locks    map[string]bool

	schemaCalls int
	purgedAt    []time.Time
	upserts     int

	failUpsert    error
	failWatermark error
}

var _ db.Store = (*memoryStore)(nil)

func newMemoryStore(units ...models.Unit) *memoryStore {
	s := &memoryStore{
		units:    make(map[string]models.Unit),
		features: make(map[featureKey]models.Feature),
		locks:    make(map[string]bool),
	}
	for _, u := range units {
		s.units[u.Code] = u
	}
	return s
}

func (s *memoryStore) EnsureSchema(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemaCalls++
	return nil
}

func (s *memoryStore) LoadUnits(context.Context) ([]models.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	units := make([]models.Unit, 0, len(s.units))
	for _, u := range s.units {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Code < units[j].Code })
	return units, nil
}

func (s *memoryStore) UpsertUnits(_ context.Context, units []models.Unit, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range units {
		s.units[u.Code] = u
	}
	return len(units), nil
}

func (s *memoryStore) FetchWatermark(_ context.Context, since time.Time, _ config.WatermarkStrategy) (models.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWatermark != nil {
		return nil, s.failWatermark
	}
	wm := make(models.Watermark)
	for _, f := range s.features {
		if f.Power == nil || f.Time.Before(since) {
			continue
		}
		if prev, ok := wm[f.UnitKey]; !ok || f.Time.After(prev) {
			wm[f.UnitKey] = f.Time
		}
	}
	return wm, nil
}

func (s *memoryStore) UpsertFeatures(_ context.Context, features []models.Feature, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsert != nil {
		return 0, s.failUpsert
	}
	s.upserts++
	for _, f := range features {
		s.features[featureKey{f.UnitKey, f.Time.UnixNano()}] = f
	}
	return len(features), nil
}

func (s *memoryStore) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgedAt = append(s.purgedAt, before)
	var n int64
	for k, f := range s.features {
		if f.Time.Before(before) {
			delete(s.features, k)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) AcquireRunLock(_ context.Context, name string) (db.ReleaseFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[name] {
		return nil, db.ErrRunInProgress
	}
	s.locks[name] = true
	return func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.locks, name)
		return nil
	}, nil
}

func (s *memoryStore) Close(context.Context) error { return nil }

func (s *memoryStore) locked(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks[name]
}

func (s *memoryStore) featureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.features)
}

type staticFetcher struct {
	payload rte.Payload
	err     error
	calls   int
	windows []models.Window
}

func (f *staticFetcher) Fetch(_ context.Context, w models.Window) (rte.Payload, error) {
	f.calls++
	f.windows = append(f.windows, w)
	return f.payload, f.err
}

type recordingNotifier struct {
	features []models.Feature
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, features []models.Feature) error {
	n.features = append(n.features, features...)
	return n.err
}

type recordingArchive struct {
	runID string
	raw   []byte
	err   error
}

func (a *recordingArchive) Store(_ context.Context, w models.Window, runID string, raw []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.runID, a.raw = runID, raw
	return "generation/" + runID, nil
}

var errBoom = errors.New("boom")
