// Package metrics provides Prometheus metrics for the conversation backend.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// Conversation metrics
	MessagesTotal       *prometheus.CounterVec
	ResponseDuration    *prometheus.HistogramVec
	DegradedReplies     *prometheus.CounterVec
	DetectedLanguages   *prometheus.CounterVec
	TranslationsTotal   *prometheus.CounterVec
	SessionsCreated     prometheus.Counter
	StorageErrorsTotal  *prometheus.CounterVec
	ActiveConnections   prometheus.Gauge
	PublishedEventTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil registerer leaves them
// unregistered, which keeps parallel tests from colliding on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campusconnect_messages_total",
				Help: "Total number of inbound chat messages",
			},
			[]string{"transport", "status"},
		),
		ResponseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "campusconnect_response_duration_seconds",
				Help:    "Time spent handling one inbound message",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport"},
		),
		DegradedReplies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campusconnect_degraded_replies_total",
				Help: "Replies replaced by the canned error reply",
			},
			[]string{"reason"},
		),
		DetectedLanguages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campusconnect_detected_language_total",
				Help: "Languages resolved for inbound messages",
			},
			[]string{"language", "source"},
		),
		TranslationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campusconnect_translations_total",
				Help: "Reply translations by target language and status",
			},
			[]string{"target", "status"},
		),
		SessionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "campusconnect_sessions_created_total",
				Help: "Sessions created explicitly or by auto-vivify",
			},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campusconnect_storage_errors_total",
				Help: "Failed persistence operations (degraded mode)",
			},
			[]string{"op"},
		),
		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "campusconnect_ws_connections",
				Help: "Open websocket connections",
			},
		),
		PublishedEventTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campusconnect_events_published_total",
				Help: "Lifecycle events published on the event bus",
			},
			[]string{"type", "status"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.MessagesTotal,
			m.ResponseDuration,
			m.DegradedReplies,
			m.DetectedLanguages,
			m.TranslationsTotal,
			m.SessionsCreated,
			m.StorageErrorsTotal,
			m.ActiveConnections,
			m.PublishedEventTotal,
		)
	}
	return m
}

// RecordMessage records one handled inbound message.
func (m *Metrics) RecordMessage(transport string, degraded bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if degraded {
		status = "degraded"
	}
	m.MessagesTotal.WithLabelValues(transport, status).Inc()
	m.ResponseDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

// RecordDegraded records a canned error reply.
func (m *Metrics) RecordDegraded(reason string) {
	if m == nil {
		return
	}
	m.DegradedReplies.WithLabelValues(reason).Inc()
}

// RecordLanguage records the resolved language and whether it was detected or declared.
func (m *Metrics) RecordLanguage(language string, detected bool) {
	if m == nil {
		return
	}
	source := "declared"
	if detected {
		source = "detected"
	}
	m.DetectedLanguages.WithLabelValues(language, source).Inc()
}

// RecordTranslation records a reply translation attempt.
func (m *Metrics) RecordTranslation(target string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TranslationsTotal.WithLabelValues(target, status).Inc()
}

// RecordSessionCreated records a new session.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordStorageError records a persistence failure.
func (m *Metrics) RecordStorageError(op string) {
	if m == nil {
		return
	}
	m.StorageErrorsTotal.WithLabelValues(op).Inc()
}

// RecordEvent records an event bus publish.
func (m *Metrics) RecordEvent(eventType string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.PublishedEventTotal.WithLabelValues(eventType, status).Inc()
}

// ConnectionOpened increments the websocket connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed decrements the websocket connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}
