// Package metrics reports feedcast connection and polling statistics to
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "feedcast"

// Collector holds the feedcast metrics on its own registry. It satisfies both
// activity.Stats and poller.Stats.
type Collector struct {
	registry *prometheus.Registry

	Connections       prometheus.Gauge
	Idle              prometheus.Gauge
	ActivityChanges   *prometheus.CounterVec
	Polls             *prometheus.CounterVec
	FetchFailures     *prometheus.CounterVec
	HeartbeatTimeouts prometheus.Counter
}

// NewCollector creates a Collector registered on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of open websocket connections.",
		}),
		Idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "idle",
			Help:      "1 while no client is connected and polling is paused.",
		}),
		ActivityChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_transitions_total",
			Help:      "Idle/active transitions of the polling gate.",
		}, []string{"state"}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "polls_total",
			Help:      "Completed poll cycles by source and outcome.",
		}, []string{"source", "outcome"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "fetch_failures_total",
			Help:      "Poll cycles skipped because the fetch or decode failed.",
		}, []string{"source"}),
		HeartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "heartbeat_timeouts_total",
			Help:      "Connections terminated for missing a heartbeat ping.",
		}),
	}
	c.Idle.Set(1)

	c.registry.MustRegister(
		c.Connections,
		c.Idle,
		c.ActivityChanges,
		c.Polls,
		c.FetchFailures,
		c.HeartbeatTimeouts,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) SetConnections(n int) {
	c.Connections.Set(float64(n))
}

func (c *Collector) ActivityChanged(empty bool) {
	if empty {
		c.Idle.Set(1)
		c.ActivityChanges.WithLabelValues("idle").Inc()
		return
	}
	c.Idle.Set(0)
	c.ActivityChanges.WithLabelValues("active").Inc()
}

func (c *Collector) PollCompleted(source string, changed bool) {
	outcome := "unchanged"
	if changed {
		outcome = "changed"
	}
	c.Polls.WithLabelValues(source, outcome).Inc()
}

func (c *Collector) FetchFailed(source string) {
	c.FetchFailures.WithLabelValues(source).Inc()
}

func (c *Collector) HeartbeatTimeout() {
	c.HeartbeatTimeouts.Inc()
}
