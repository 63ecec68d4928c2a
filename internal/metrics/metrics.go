// Package metrics defines the Prometheus collectors of the match store.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors shared by stores and registries.
// A nil *Metrics records nothing.
type Metrics struct {
	queryDuration *prometheus.HistogramVec
	queryErrors   *prometheus.CounterVec
	acquisitions  *prometheus.CounterVec
	pruned        *prometheus.CounterVec
	bulkRows      *prometheus.CounterVec
	openHandles   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	buckets := []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

	m := &Metrics{
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matchdb_query_seconds",
			Help:    "Duration of store operations",
			Buckets: buckets,
		}, []string{"op"}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchdb_query_errors_total",
			Help: "Failed store operations",
		}, []string{"op"}),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchdb_registry_acquisitions_total",
			Help: "Registry acquisitions by outcome",
		}, []string{"outcome"}),
		pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchdb_registry_pruned_total",
			Help: "Registry entries removed by the prune pass",
		}, []string{"reason"}),
		bulkRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchdb_bulk_rows_total",
			Help: "Rows written by bulk operations",
		}, []string{"op", "result"}),
		openHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchdb_open_handles",
			Help: "Store handles currently open",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.queryDuration, m.queryErrors, m.acquisitions, m.pruned, m.bulkRows, m.openHandles)
	}
	return m
}

var (
	defaultOnce sync.Once
	defaultM    *Metrics
)

// Default returns the process-wide collectors registered with the default
// Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultM = New(prometheus.DefaultRegisterer)
	})
	return defaultM
}

// ObserveQuery records the duration of op started at start, and counts it as
// failed when err is non-nil.
func (m *Metrics) ObserveQuery(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.queryErrors.WithLabelValues(op).Inc()
	}
}

// Acquired counts one registry acquisition.
func (m *Metrics) Acquired(outcome string) {
	if m == nil {
		return
	}
	m.acquisitions.WithLabelValues(outcome).Inc()
}

// Pruned counts one entry removed from a registry.
func (m *Metrics) Pruned(reason string) {
	if m == nil {
		return
	}
	m.pruned.WithLabelValues(reason).Inc()
}

// BulkRows counts rows written (ok) or skipped (failed) by op.
func (m *Metrics) BulkRows(op string, ok, failed int) {
	if m == nil {
		return
	}
	m.bulkRows.WithLabelValues(op, "ok").Add(float64(ok))
	m.bulkRows.WithLabelValues(op, "failed").Add(float64(failed))
}

// HandleOpened and HandleClosed track open handles.
func (m *Metrics) HandleOpened() {
	if m == nil {
		return
	}
	m.openHandles.Inc()
}

func (m *Metrics) HandleClosed() {
	if m == nil {
		return
	}
	m.openHandles.Dec()
}
