// ============================================================================
// States Agent Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: collect and expose system metrics for Prometheus monitoring
//
// Metric Categories:
//
//   1. State Counters - Cumulative, monotonically increasing:
//      - states_executed_total{module,result}: per-module success/failure counts
//
//   2. Wait Barrier (Gauge) - Instantaneous:
//      - wait_barrier_active: 1 while the worker is blocked in a Wait Barrier
//
//   3. Recipe Delay (Histogram) - Distribution:
//      - recipe_delay_seconds: observed inter-cycle delay durations
//
// HTTP Endpoint:
//   Exposed via /metrics, scraped by Prometheus. Default port: 9090.
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for the states worker.
type Collector struct {
	statesExecuted *prometheus.CounterVec
	waitBarrier    prometheus.Gauge
	recipeDelay    prometheus.Histogram

	mu sync.Mutex
}

// NewCollector creates a new metrics collector and registers its metrics
// against the default registry. A process should construct exactly one.
func NewCollector() *Collector {
	c := &Collector{
		statesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "states_executed_total",
			Help: "Total number of states executed, by module and result",
		}, []string{"module", "result"}),
		waitBarrier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wait_barrier_active",
			Help: "1 while the worker is blocked in a Wait Barrier, 0 otherwise",
		}),
		recipeDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "recipe_delay_seconds",
			Help:    "Observed inter-cycle recipe delay durations in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	prometheus.MustRegister(c.statesExecuted)
	prometheus.MustRegister(c.waitBarrier)
	prometheus.MustRegister(c.recipeDelay)

	return c
}

// RecordState records one state's outcome.
func (c *Collector) RecordState(module string, success bool) {
	result := "fail"
	if success {
		result = "success"
	}
	c.statesExecuted.WithLabelValues(module, result).Inc()
}

// SetWaiting reflects whether the worker is currently blocked in a Wait
// Barrier.
func (c *Collector) SetWaiting(waiting bool) {
	if waiting {
		c.waitBarrier.Set(1)
		return
	}
	c.waitBarrier.Set(0)
}

// ObserveRecipeDelay records one completed inter-cycle delay.
func (c *Collector) ObserveRecipeDelay(seconds float64) {
	c.recipeDelay.Observe(seconds)
}

// StartServer starts the Prometheus metrics HTTP server.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
