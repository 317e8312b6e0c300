// Package metrics exposes Prometheus instrumentation for the orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wacapture_sessions_started_total",
		Help: "Total number of capture sessions started by auth mode",
	}, []string{"mode"}) // mode=qr|pairing-code

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wacapture_sessions_active",
		Help: "Number of sessions currently present in the registry",
	})

	sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wacapture_session_transitions_total",
		Help: "Lifecycle transitions by destination state",
	}, []string{"state"})

	sessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wacapture_session_duration_seconds",
		Help:    "Time from session creation to terminal state",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"outcome"}) // outcome=completed|failed|timeout

	conversationsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wacapture_extraction_conversations_total",
		Help: "Conversations processed during extraction by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	messagesExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wacapture_extraction_messages_total",
		Help: "Total messages written to export artifacts",
	})

	exportsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wacapture_exports_written_total",
		Help: "Export artifact writes by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wacapture_backend_notifications_total",
		Help: "Backend notification attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure
)

// SessionStarted records a new session in the given auth mode.
func SessionStarted(mode string) {
	sessionsStarted.WithLabelValues(mode).Inc()
	sessionsActive.Inc()
}

// SessionEvicted records removal of a session from the registry.
func SessionEvicted() {
	sessionsActive.Dec()
}

// SessionTransition records a lifecycle transition into state.
func SessionTransition(state string) {
	sessionTransitions.WithLabelValues(state).Inc()
}

// SessionFinished records the total lifetime of a session that reached a
// terminal state.
func SessionFinished(outcome string, lifetime time.Duration) {
	sessionDuration.WithLabelValues(outcome).Observe(lifetime.Seconds())
}

// ConversationProcessed records one conversation fetch by outcome.
func ConversationProcessed(ok bool) {
	if ok {
		conversationsProcessed.WithLabelValues("success").Inc()
		return
	}
	conversationsProcessed.WithLabelValues("failure").Inc()
}

// MessagesExtracted adds n to the exported message counter.
func MessagesExtracted(n int) {
	messagesExtracted.Add(float64(n))
}

// ExportWritten records an export artifact write by outcome.
func ExportWritten(ok bool) {
	if ok {
		exportsWritten.WithLabelValues("success").Inc()
		return
	}
	exportsWritten.WithLabelValues("failure").Inc()
}

// NotificationSent records a backend notification attempt by outcome.
func NotificationSent(ok bool) {
	if ok {
		notifications.WithLabelValues("success").Inc()
		return
	}
	notifications.WithLabelValues("failure").Inc()
}
