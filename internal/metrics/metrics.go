// Package metrics declares the coordinator's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proctor_connections_current",
			Help: "Current number of registered connections",
		},
		[]string{"role"},
	)

	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_registrations_total",
			Help: "Total number of accepted registrations",
		},
		[]string{"role"},
	)

	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_registration_rejections_total",
			Help: "Total number of rejected registrations",
		},
		[]string{"reason"},
	)

	ConnectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proctor_connection_duration_seconds",
			Help:    "Lifetime of registered connections in seconds",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
		[]string{"role"},
	)
)

// Routing metrics
var (
	EnvelopesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_envelopes_received_total",
			Help: "Total number of inbound envelopes by type",
		},
		[]string{"type"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_deliveries_total",
			Help: "Total number of outbound messages handed to the transport by type",
		},
		[]string{"type"},
	)

	DroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_dropped_total",
			Help: "Total number of envelopes or deliveries dropped by reason",
		},
		[]string{"reason"},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_alerts_total",
			Help: "Total number of broadcast alerts by type",
		},
		[]string{"alert_type"},
	)
)

// Liveness and session metrics
var (
	LivenessProbesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_liveness_probes_total",
			Help: "Total number of liveness probes sent to silent connections",
		},
	)

	LivenessTerminationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_liveness_terminations_total",
			Help: "Total number of connections terminated by the liveness manager",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_sessions_active",
			Help: "Current number of proctoring sessions in the directory",
		},
	)

	SessionsOrphaned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_sessions_orphaned",
			Help: "Current number of sessions waiting for their student to reconnect",
		},
	)

	SessionsEndedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_sessions_ended_total",
			Help: "Total number of ended sessions by cause",
		},
		[]string{"cause"},
	)

	JournalWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_journal_writes_total",
			Help: "Total number of alert journal writes by status",
		},
		[]string{"status"},
	)
)

// Drop reasons
const (
	DropUnregistered = "unregistered"
	DropRateLimited  = "rate_limited"
	DropInvalid      = "invalid"
	DropNoTarget     = "route_target_missing"
	DropSendFailed   = "send_failed"
	DropQueueFull    = "queue_full"
)

// Session end causes
const (
	EndSubmitted = "submitted"
	EndExternal  = "external"
	EndReaped    = "reaped"
)
