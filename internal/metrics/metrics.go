// Package metrics holds the Prometheus collectors of the runview process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "runview"

var (
	// EventsAccepted counts stream events appended to the live store.
	// Labels: type
	EventsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "events_accepted_total",
		Help:      "Stream events accepted into the live event store",
	}, []string{"type"})

	// EventsDropped counts stream events discarded by normalization.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "events_dropped_total",
		Help:      "Stream events dropped by normalization",
	})

	// StreamReconnects counts SSE reconnect attempts.
	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "SSE subscription reconnect attempts",
	})

	// PollFetches counts run status fetches.
	// Labels: result (ok, error)
	PollFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "fetches_total",
		Help:      "Run status fetches made by poll loops",
	}, []string{"result"})

	// PollOutcomes counts poll loops by terminal phase.
	// Labels: phase (succeeded, failed, exhausted)
	PollOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "outcomes_total",
		Help:      "Poll loops finished, by terminal phase",
	}, []string{"phase"})

	// ActivePolls tracks the poll loops currently running.
	ActivePolls = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "active_loops",
		Help:      "Poll loops currently running",
	})

	// ChartsRejected counts chart specs dropped by sanitization.
	ChartsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "charts",
		Name:      "rejected_total",
		Help:      "Chart specs rejected by schema validation",
	})

	// PersistFallbacks counts completions kept as local-only messages.
	PersistFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workspace",
		Name:      "persist_fallbacks_total",
		Help:      "Completion messages that failed to persist and were kept locally",
	})

	// FetchesDenied counts backend requests blocked by the fetch gate.
	FetchesDenied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "fetches_denied_total",
		Help:      "Backend requests blocked by the fetch policy",
	})

	// HubClients tracks connected websocket clients.
	HubClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "clients",
		Help:      "Connected websocket clients",
	})
)
