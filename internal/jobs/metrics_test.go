package jobmetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("reconcile").End(nil))
	err := m.Track("reconcile").End(errors.New("boom"))
	require.EqualError(t, err, "boom")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("reconcile", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("reconcile", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("reconcile")))
}

func TestTrackerStampsLastSuccess(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	fixed := time.Unix(1_700_000_000, 0)

	tr := m.Track("low_stock")
	tr.now = func() time.Time { return fixed }
	require.NoError(t, tr.End(nil))
	assert.Equal(t, float64(fixed.Unix()), testutil.ToFloat64(m.lastSuccess.WithLabelValues("low_stock")))

	tr = m.Track("low_stock")
	tr.now = func() time.Time { return fixed.Add(time.Hour) }
	require.Error(t, tr.End(errors.New("boom")))
	assert.Equal(t, float64(fixed.Unix()), testutil.ToFloat64(m.lastSuccess.WithLabelValues("low_stock")))
}

func TestLowStockAndDrift(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetLowStock("store-1", 4)
	m.SetLowStock("store-1", 2)
	m.AddDrift("store-1", 3)
	m.AddDrift("store-1", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.lowStock.WithLabelValues("store-1")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.drift.WithLabelValues("store-1")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.SetLowStock("s", 1)
	m.AddDrift("s", 1)
	assert.NoError(t, m.Track("x").End(nil))
}
