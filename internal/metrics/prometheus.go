// Package metrics provides Prometheus metrics for the console server.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	deploysTotal     *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	tenantWrites     *prometheus.CounterVec
	activeViews      prometheus.Gauge
	snapshotsTotal   *prometheus.CounterVec
}

var (
	globalMetrics *Metrics
	once          sync.Once
)

// NewMetrics creates and registers Prometheus metrics.
func NewMetrics() *Metrics {
	once.Do(func() {
		globalMetrics = &Metrics{
			deploysTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "console_deploys_total",
					Help: "Total number of deploy requests by result",
				},
				[]string{"result"},
			),
			dispatchDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "console_dispatch_duration_seconds",
					Help:    "Workflow dispatch call duration in seconds",
					Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
				},
				[]string{"result"},
			),
			tenantWrites: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "console_tenant_writes_total",
					Help: "Total number of tenant writes by operation and result",
				},
				[]string{"op", "result"},
			),
			activeViews: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "console_active_views",
					Help: "Number of open operator views",
				},
			),
			snapshotsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "console_snapshots_total",
					Help: "Total number of tenant snapshots received by views",
				},
				[]string{"result"},
			),
		}
	})

	return globalMetrics
}

// RecordDeploy records the outcome of one deploy request.
// result is one of ok, method_not_allowed, invalid_payload, upstream_error, internal_error.
func (m *Metrics) RecordDeploy(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.deploysTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		m.dispatchDuration.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// RecordTenantWrite records a create, update or delete
func (m *Metrics) RecordTenantWrite(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tenantWrites.WithLabelValues(op, result).Inc()
}

// RecordSnapshot records a snapshot delivered to a view
func (m *Metrics) RecordSnapshot(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.snapshotsTotal.WithLabelValues(result).Inc()
}

// SetActiveViews sets the open view gauge
func (m *Metrics) SetActiveViews(n int) {
	if m == nil {
		return
	}
	m.activeViews.Set(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
