// Package jobmetrics instruments background job runs and the stock health they report.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the job collectors.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	lowStock    *prometheus.GaugeVec
	drift       *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job collectors. A nil registerer means the process-wide default,
// registered once no matter how often it is requested.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = register(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return register(registerer)
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stitchline_jobs_total",
			Help: "Total job executions partitioned by job name and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stitchline_jobs_failures_total",
			Help: "Total failures observed for background jobs.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stitchline_job_duration_seconds",
			Help:    "Duration in seconds of background job executions.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stitchline_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		lowStock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stitchline_low_stock_skus",
			Help: "SKUs whose free quantity is below the reorder point, per store.",
		}, []string{"store_id"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stitchline_ledger_drift_rows_total",
			Help: "Stock rows found out of line with the ledger during reconciliation.",
		}, []string{"store_id"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.lastSuccess, m.lowStock, m.drift)
	return m
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
	now     func() time.Time
}

// Track starts timing a run of job. It is safe on a nil Metrics.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now(), now: time.Now}
}

// End records the outcome of the run and hands err back unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	m := t.metrics
	m.duration.WithLabelValues(t.job).Observe(t.now().Sub(t.start).Seconds())
	if err != nil {
		m.failures.WithLabelValues(t.job).Inc()
		m.runs.WithLabelValues(t.job, "failure").Inc()
		return err
	}
	m.runs.WithLabelValues(t.job, "success").Inc()
	m.lastSuccess.WithLabelValues(t.job).Set(float64(t.now().Unix()))
	return nil
}

// SetLowStock records how many SKUs of a store sit below their reorder point.
func (m *Metrics) SetLowStock(storeID string, count int) {
	if m == nil {
		return
	}
	m.lowStock.WithLabelValues(storeID).Set(float64(count))
}

// AddDrift counts stock rows that disagree with a ledger replay.
func (m *Metrics) AddDrift(storeID string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.drift.WithLabelValues(storeID).Add(float64(count))
}
