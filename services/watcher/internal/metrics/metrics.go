// Package metrics holds the Prometheus collectors of the watcher jobs and
// pushes them to a Pushgateway at the end of a run.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/reconcile"
)

// PushJobName is the Pushgateway job label.
const PushJobName = "rte_generation_watcher"

// Outcome labels of rte_reconcile_values_total.
const (
	OutcomeFiltered     = "filtered_type"
	OutcomeUnresolved   = "unresolved"
	OutcomeStale        = "stale"
	OutcomeInvalidTime  = "invalid_time"
	OutcomeInvalidValue = "invalid_value"
	OutcomeDuplicate    = "duplicate"
	OutcomeNew          = "new"
)

// Metrics groups the collectors of one process on a private registry. A nil
// *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	observations prometheus.Counter
	values       *prometheus.CounterVec
	watermarks   prometheus.Gauge
	catalogSize  prometheus.Gauge
	written      *prometheus.CounterVec
	purged       prometheus.Counter
	rowErrors    prometheus.Counter
	runs         *prometheus.CounterVec
	lastSuccess  *prometheus.GaugeVec
	stageSeconds *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		observations: factory.NewCounter(prometheus.CounterOpts{
			Name: "rte_reconcile_observations_total",
			Help: "Raw observations received from the RTE API",
		}),
		values: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rte_reconcile_values_total",
			Help: "Raw values by reconciliation outcome",
		}, []string{"outcome"}),
		watermarks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rte_watermark_units",
			Help: "Units with a stored watermark in the current window",
		}),
		catalogSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rte_catalog_units",
			Help: "Units in the catalog used for reconciliation",
		}),
		written: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rte_records_written_total",
			Help: "Records upserted into the store",
		}, []string{"collection"}),
		purged: factory.NewCounter(prometheus.CounterOpts{
			Name: "rte_generation_purged_total",
			Help: "Generation records removed by retention",
		}),
		rowErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rte_catalog_row_errors_total",
			Help: "Catalog CSV rows skipped because they could not be parsed",
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rte_job_runs_total",
			Help: "Job runs by status",
		}, []string{"job", "status"}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rte_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}, []string{"job"}),
		stageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rte_job_stage_duration_seconds",
			Help:    "Duration of job stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"job", "stage"}),
	}
}

// Registry exposes the registry, for promhttp or tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveReconcile implements reconcile.Observer.
func (m *Metrics) ObserveReconcile(_ context.Context, res reconcile.Result) {
	if m == nil {
		return
	}
	s := res.Stats
	m.observations.Add(float64(s.Observations))
	m.watermarks.Set(float64(s.WatermarkSize))
	m.catalogSize.Set(float64(s.CatalogSize))

	m.values.WithLabelValues(OutcomeFiltered).Add(float64(s.FilteredType))
	m.values.WithLabelValues(OutcomeUnresolved).Add(float64(s.Unresolved))
	m.values.WithLabelValues(OutcomeStale).Add(float64(s.Stale))
	m.values.WithLabelValues(OutcomeInvalidTime).Add(float64(s.InvalidTime))
	m.values.WithLabelValues(OutcomeInvalidValue).Add(float64(s.InvalidValue))
	m.values.WithLabelValues(OutcomeDuplicate).Add(float64(s.Duplicates))
	m.values.WithLabelValues(OutcomeNew).Add(float64(s.Features))
}

// StageTimer starts timing a stage; call the returned func when it ends.
func (m *Metrics) StageTimer(job, stage string) func() {
	if m == nil {
		return func() {}
	}
	timer := prometheus.NewTimer(m.stageSeconds.WithLabelValues(job, stage))
	return func() { timer.ObserveDuration() }
}

// RecordWritten counts upserted records.
func (m *Metrics) RecordWritten(collection string, n int) {
	if m == nil {
		return
	}
	m.written.WithLabelValues(collection).Add(float64(n))
}

// RecordPurged counts records removed by retention.
func (m *Metrics) RecordPurged(n int64) {
	if m == nil {
		return
	}
	m.purged.Add(float64(n))
}

// RecordRowErrors counts skipped catalog rows.
func (m *Metrics) RecordRowErrors(n int) {
	if m == nil {
		return
	}
	m.rowErrors.Add(float64(n))
}

// RecordRun counts a finished run and stamps the last success time.
func (m *Metrics) RecordRun(job string, err error, now time.Time) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.runs.WithLabelValues(job, status).Inc()
	if err == nil {
		m.lastSuccess.WithLabelValues(job).Set(float64(now.Unix()))
	}
}

// Push sends every collector to the Pushgateway at url, grouped by job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil {
		return nil
	}
	return push.New(url, PushJobName).
		Gatherer(m.registry).
		Grouping("job_name", job).
		PushContext(ctx)
}
