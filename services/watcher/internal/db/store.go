// Package db persists units and generation features.
//
// Two backends implement Store: PostgreSQL through pgx and MongoDB through
// the official driver. Open selects one from the scheme of the connection URL.
package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
)

// ErrRunInProgress is returned by AcquireRunLock when another run holds the lock.
var ErrRunInProgress = errors.New("another run is in progress")

// DefaultChunkSize bounds the number of records sent in one write.
const DefaultChunkSize = 256

// ReleaseFunc releases a run lock.
type ReleaseFunc func(ctx context.Context) error

// Store is the persistence contract used by the jobs.
type Store interface {
	// EnsureSchema creates tables/collections and their indices.
	EnsureSchema(ctx context.Context) error
	// LoadUnits returns the catalog ordered by code.
	LoadUnits(ctx context.Context) ([]models.Unit, error)
	// UpsertUnits writes units keyed by code.
	UpsertUnits(ctx context.Context, units []models.Unit, chunkSize int) (int, error)
	// FetchWatermark returns, per unit key, the latest time among stored
	// features that carry a power value and are not older than since.
	FetchWatermark(ctx context.Context, since time.Time, strategy config.WatermarkStrategy) (models.Watermark, error)
	// UpsertFeatures writes features keyed by (unit key, time) in chunks.
	UpsertFeatures(ctx context.Context, features []models.Feature, chunkSize int) (int, error)
	// PurgeExpired deletes features older than before where the backend has
	// no native expiry.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
	// AcquireRunLock takes an exclusive, non-blocking lock named name.
	AcquireRunLock(ctx context.Context, name string) (ReleaseFunc, error)
	// Close releases the connection resources.
	Close(ctx context.Context) error
}

// Options configures a store.
type Options struct {
	TTL time.Duration
}

// Open connects to the store designated by rawURL.
func Open(ctx context.Context, rawURL string, opts Options) (Store, error) {
	switch Scheme(rawURL) {
	case "postgres", "postgresql":
		return NewPostgres(ctx, rawURL, opts)
	case "mongodb", "mongodb+srv":
		return NewMongo(ctx, rawURL, opts)
	default:
		return nil, fmt.Errorf("unsupported database url scheme %q", Scheme(rawURL))
	}
}

// Scheme returns the lowercase scheme of a connection URL.
func Scheme(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
