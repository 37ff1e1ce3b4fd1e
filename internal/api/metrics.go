package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the backtest service. Each
// instance carries its own registry, so independent servers never collide on
// metric registration.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted   prometheus.Counter
	RunsCompleted *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	SimulatedDays prometheus.Counter
}

// NewMetrics creates and registers the service metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "portfolio",
			Name:      "backtest_runs_started_total",
			Help:      "Number of backtest runs started.",
		}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfolio",
			Name:      "backtest_runs_completed_total",
			Help:      "Number of backtest runs finished, by status.",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "portfolio",
			Name:      "backtest_run_duration_seconds",
			Help:      "Wall-clock duration of backtest runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		SimulatedDays: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "portfolio",
			Name:      "backtest_simulated_days_total",
			Help:      "Total trading days simulated across all runs.",
		}),
	}
}

// Handler exposes the metrics registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
