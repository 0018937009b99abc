package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/reconcile"
)

func TestObserveReconcile(t *testing.T) {
	m := New()
	m.ObserveReconcile(context.Background(), reconcile.Result{Stats: reconcile.Stats{
		Observations:  3,
		CatalogSize:   58,
		WatermarkSize: 12,
		FilteredType:  4,
		Unresolved:    1,
		Stale:         20,
		InvalidValue:  2,
		Duplicates:    1,
		Features:      6,
	}})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.observations))
	assert.Equal(t, 58.0, testutil.ToFloat64(m.catalogSize))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.watermarks))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.values.WithLabelValues(OutcomeStale)))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.values.WithLabelValues(OutcomeNew)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.values.WithLabelValues(OutcomeInvalidTime)))
}

func TestRecordRun(t *testing.T) {
	m := New()
	now := time.Unix(1710064800, 0)

	m.RecordRun("generation", nil, now)
	m.RecordRun("generation", errors.New("boom"), now.Add(time.Hour))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("generation", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("generation", "failure")))
	assert.Equal(t, float64(now.Unix()), testutil.ToFloat64(m.lastSuccess.WithLabelValues("generation")))
}

func TestCounters(t *testing.T) {
	m := New()
	m.RecordWritten("generation", 10)
	m.RecordWritten("generation", 5)
	m.RecordPurged(7)
	m.RecordRowErrors(2)
	m.StageTimer("generation", "fetch")()

	assert.Equal(t, 15.0, testutil.ToFloat64(m.written.WithLabelValues("generation")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.purged))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rowErrors))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageSeconds))
}

func TestPush(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.RecordWritten("generation", 3)
	require.NoError(t, m.Push(context.Background(), srv.URL, "generation"))

	assert.True(t, strings.HasPrefix(path, "/metrics/job/"+PushJobName), path)
	assert.Contains(t, path, "/job_name/generation")
	assert.NotEmpty(t, body)
}

func TestNilMetricsRecordsNothing(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveReconcile(context.Background(), reconcile.Result{})
		m.StageTimer("generation", "fetch")()
		m.RecordWritten("generation", 1)
		m.RecordPurged(1)
		m.RecordRowErrors(1)
		m.RecordRun("generation", nil, time.Now())
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.Push(context.Background(), "http://127.0.0.1:1", "generation"))
}
