// Package metrics exposes Prometheus collectors for the Launch Control
// Container. Collectors are registered on the default registry and served
// by the API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MissionsStarted counts missions started, by plan name.
	MissionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcc_missions_started_total",
		Help: "Missions started, by launch plan.",
	}, []string{"plan"})

	// MissionsActive tracks missions currently being processed.
	MissionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lcc_missions_active",
		Help: "Missions currently active.",
	})

	// PhaseTransitions counts phase entries, by plan and phase.
	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcc_phase_transitions_total",
		Help: "Phase entries, by launch plan and phase.",
	}, []string{"plan", "phase"})

	// CommandsDispatched counts dispatch attempts, by kind and outcome.
	CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcc_commands_dispatched_total",
		Help: "Command dispatches, by command kind and outcome.",
	}, []string{"kind", "outcome"})

	// Aborts counts aborted missions, by plan name.
	Aborts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcc_mission_aborts_total",
		Help: "Mission aborts, by launch plan.",
	}, []string{"plan"})

	// TelemetryFailures counts failed telemetry reads.
	TelemetryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lcc_telemetry_failures_total",
		Help: "Failed telemetry reads from the vehicle interface.",
	})

	// EventAppendSeconds observes durable event append latency.
	EventAppendSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lcc_event_append_seconds",
		Help:    "Latency of durable mission event appends.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
)
