package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "machinehub"

// Outcome labels for command dispatch.
const (
	CommandOK           = "ok"
	CommandDisconnected = "disconnected"
	CommandCodeBuffer   = "code_buffer"
	CommandError        = "error"
)

// Result labels for connect attempts.
const (
	ConnectConnected = "connected"
	ConnectFailed    = "failed"
	ConnectRejected  = "rejected"
)

// Mode labels for disconnects.
const (
	DisconnectTeardown = "teardown"
	DisconnectFast     = "fast"
	DisconnectLost     = "lost"
)

// Registry owns every collector the process exports. Methods are safe on a
// nil receiver so callers can run without metrics.
type Registry struct {
	registry *prometheus.Registry

	connectAttempts  *prometheus.CounterVec
	disconnects      *prometheus.CounterVec
	commands         *prometheus.CounterVec
	commandDuration  prometheus.Histogram
	sessions         prometheus.Gauge
	gates            *prometheus.GaugeVec
	notifications    *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	eventSubscribers *prometheus.GaugeVec
}

var Default = New()

func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by result.",
		}, []string{"result"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Completed disconnects by mode.",
		}, []string{"mode"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Dispatched codes by outcome.",
		}, []string{"outcome"}),
		commandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Round-trip time of dispatched codes.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Connected machine sessions, excluding the default session.",
		}),
		gates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transition_in_flight",
			Help:      "1 while a connect or disconnect transition is in flight.",
		}, []string{"gate"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "User notifications emitted by level.",
		}, []string{"level"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on a bus.",
		}, []string{"bus", "type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber was full.",
		}, []string{"bus", "type"}),
		eventSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Current bus subscribers.",
		}, []string{"bus", "kind"}),
	}
	r.registry.MustRegister(
		r.connectAttempts,
		r.disconnects,
		r.commands,
		r.commandDuration,
		r.sessions,
		r.gates,
		r.notifications,
		r.eventsPublished,
		r.eventsDropped,
		r.eventSubscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

func (r *Registry) IncConnect(result string) {
	if r == nil {
		return
	}
	r.connectAttempts.WithLabelValues(label(result)).Inc()
}

func (r *Registry) IncDisconnect(mode string) {
	if r == nil {
		return
	}
	r.disconnects.WithLabelValues(label(mode)).Inc()
}

func (r *Registry) ObserveCommand(outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.commands.WithLabelValues(label(outcome)).Inc()
	if seconds >= 0 {
		r.commandDuration.Observe(seconds)
	}
}

func (r *Registry) SetSessions(count int) {
	if r == nil {
		return
	}
	r.sessions.Set(float64(count))
}

func (r *Registry) SetGate(gate string, open bool) {
	if r == nil {
		return
	}
	value := 0.0
	if open {
		value = 1
	}
	r.gates.WithLabelValues(label(gate)).Set(value)
}

func (r *Registry) IncNotification(level string) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(label(level)).Inc()
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsPublished.WithLabelValues(label(bus), label(eventType)).Inc()
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsDropped.WithLabelValues(label(bus), label(eventType)).Inc()
}

func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	r.eventSubscribers.WithLabelValues(label(bus), "filtered").Set(float64(filtered))
	r.eventSubscribers.WithLabelValues(label(bus), "unfiltered").Set(float64(unfiltered))
}

func label(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
