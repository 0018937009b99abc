// Package reconcile decides which fetched generation values are new.
//
// A run feeds the raw observations of one fetch window through a fixed
// sequence of transforms (production type filter, unit resolution, watermark
// comparison, in-batch dedupe) and returns the features that still need to
// be written, along with counters describing what was dropped and why.
package reconcile

import (
	"context"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/catalog"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
)

// Context carries the read-only inputs shared by every transform of a run.
type Context struct {
	Catalog         *catalog.Catalog
	Watermark       models.Watermark
	ProductionTypes []string
	InvalidValues   config.InvalidValuePolicy
}

// Stats counts what happened to the input. Counts are informational only.
type Stats struct {
	Observations  int `json:"observations"`
	Values        int `json:"values"`
	CatalogSize   int `json:"catalog_size"`
	WatermarkSize int `json:"watermark_size"`
	FilteredType  int `json:"filtered_type"`
	Unresolved    int `json:"unresolved"`
	Stale         int `json:"stale"`
	InvalidTime   int `json:"invalid_time"`
	InvalidValue  int `json:"invalid_value"`
	Duplicates    int `json:"duplicates"`
	Features      int `json:"features"`
}

// Result is the output batch of a run.
type Result struct {
	Features []models.Feature
	Stats    Stats
}

// Observer is notified once per run with the result, after reconciliation.
type Observer interface {
	ObserveReconcile(ctx context.Context, res Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, res Result)

// ObserveReconcile calls f.
func (f ObserverFunc) ObserveReconcile(ctx context.Context, res Result) {
	f(ctx, res)
}

// Engine runs the transform pipeline.
type Engine struct {
	transforms []Transform
	observers  []Observer
}

// DefaultTransforms is the standard pipeline, in order.
func DefaultTransforms() []Transform {
	return []Transform{
		FilterProductionTypes,
		ResolveUnits,
		EmitNewValues,
		DedupeFeatures,
	}
}

// New returns an engine running DefaultTransforms.
func New(observers ...Observer) *Engine {
	return NewWithTransforms(DefaultTransforms(), observers...)
}

// NewWithTransforms returns an engine running the given transforms in order.
func NewWithTransforms(transforms []Transform, observers ...Observer) *Engine {
	return &Engine{transforms: transforms, observers: observers}
}

// Reconcile turns raw observations into the features that are strictly newer
// than the watermark of their unit. It never fails: malformed input is
// dropped and counted.
func (e *Engine) Reconcile(ctx context.Context, raw []models.RawObservation, rc Context) Result {
	batch := NewBatch(raw, rc)
	for _, t := range e.transforms {
		batch = t(batch, rc)
	}

	batch.Stats.Features = len(batch.Features)
	res := Result{Features: batch.Features, Stats: batch.Stats}
	if res.Features == nil {
		res.Features = []models.Feature{}
	}

	for _, o := range e.observers {
		o.ObserveReconcile(ctx, res)
	}
	return res
}
