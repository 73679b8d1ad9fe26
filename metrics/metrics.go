// Package metrics exposes Prometheus collectors for chat session activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pontog_chat"

// Collector groups the session counters. A nil *Collector records nothing.
type Collector struct {
	sends    *prometheus.CounterVec
	failures *prometheus.CounterVec
	acks     *prometheus.CounterVec
	events   *prometheus.CounterVec
	sessions prometheus.Gauge
	pushes   *prometheus.CounterVec
	registry prometheus.Gatherer
}

// New registers the collectors on a fresh registry.
func New() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages accepted by the backend, by content kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_failures_total",
			Help:      "Rejected send, edit and delete calls.",
		}, []string{"op"}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_acks_total",
			Help:      "Read acknowledgment calls, by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_total",
			Help:      "Change-feed events applied to sessions.",
		}, []string{"kind"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sessions",
			Help:      "Sessions with a live subscription.",
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_notifications_total",
			Help:      "Push notification attempts, by result.",
		}, []string{"result"}),
		registry: registry,
	}
	registry.MustRegister(c.sends, c.failures, c.acks, c.events, c.sessions, c.pushes)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) MessageSent(kind string) {
	if c == nil {
		return
	}
	c.sends.WithLabelValues(kind).Inc()
}

func (c *Collector) MutationFailed(op string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(op).Inc()
}

func (c *Collector) ReadAck(err error) {
	if c == nil {
		return
	}
	c.acks.WithLabelValues(result(err)).Inc()
}

func (c *Collector) FeedEvent(kind string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(kind).Inc()
}

func (c *Collector) PushAttempt(err error) {
	if c == nil {
		return
	}
	c.pushes.WithLabelValues(result(err)).Inc()
}

func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessions.Inc()
}

func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessions.Dec()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
