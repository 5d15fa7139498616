// Package metrics exposes domain counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/activities-management/internal/events"
)

const namespace = "activities"

// Recorder implements the application, router and dispatcher observers on
// a dedicated registry.
type Recorder struct {
	registry      *prometheus.Registry
	inbound       *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	notifications *prometheus.CounterVec
	known         map[string]struct{}
}

// New registers the counters and the Go runtime collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound movement events by type and routing disposition.",
		}, []string{"type", "disposition"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_transitions_total",
			Help:      "Allocation triggers by outcome.",
		}, []string{"trigger", "outcome"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "occurrence_mutations_total",
			Help:      "Per-occurrence mutation outcomes.",
		}, []string{"operation", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound domain event publish results.",
		}, []string{"event_type", "result"}),
		known: make(map[string]struct{}, len(events.KnownTypes)),
	}
	for _, t := range events.KnownTypes {
		r.known[string(t)] = struct{}{}
	}

	r.registry.MustRegister(
		r.inbound, r.transitions, r.mutations, r.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the registry the counters live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveInboundEvent counts a routed message. Types outside the known set
// share the "other" label to bound cardinality.
func (r *Recorder) ObserveInboundEvent(eventType, disposition string) {
	if _, ok := r.known[eventType]; !ok {
		eventType = "other"
	}
	r.inbound.WithLabelValues(eventType, disposition).Inc()
}

// ObserveAllocationTransition counts an allocation trigger outcome.
func (r *Recorder) ObserveAllocationTransition(trigger, outcome string) {
	r.transitions.WithLabelValues(trigger, outcome).Inc()
}

// ObserveOccurrenceMutation counts a per-occurrence mutation outcome.
func (r *Recorder) ObserveOccurrenceMutation(operation, outcome string) {
	r.mutations.WithLabelValues(operation, outcome).Inc()
}

// ObserveNotification counts an outbound publish result.
func (r *Recorder) ObserveNotification(eventType, result string) {
	r.notifications.WithLabelValues(eventType, result).Inc()
}
