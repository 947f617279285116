// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and tracing for the assistant
// client and the development backend.
//
// # Description
//
// Prometheus metrics cover both sides of the streaming chat protocol:
//   - ChatMetrics: client side (requests, tokens, dropped records,
//     confirmation gates, decisions, latency)
//   - BackendMetrics: development backend (streams served, tokens emitted,
//     confirmations issued, voice connections)
//
// Metrics are registered on a caller-supplied prometheus.Registerer so tests
// can use an isolated registry. All record methods are nil-safe: a nil
// *ChatMetrics records nothing, which keeps instrumentation optional.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "movi"

const (
	chatSubsystem    = "assistant"
	backendSubsystem = "devbackend"
)

// Request outcome labels.
const (
	StatusSuccess        = "success"
	StatusTransportError = "transport_error"
	StatusCancelled      = "cancelled"
)

// Dropped record reasons.
const (
	DropMalformed = "malformed"
	DropUnknown   = "unknown"
)

// Decision paths.
const (
	PathText  = "text"
	PathVoice = "voice"
)

var latencyBuckets = []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}

// =============================================================================
// Client Metrics
// =============================================================================

// ChatMetrics holds the client-side streaming metrics.
type ChatMetrics struct {
	// RequestsTotal counts chat requests by outcome.
	// Labels: status (success, transport_error, cancelled)
	RequestsTotal *prometheus.CounterVec

	// TokensTotal counts token deltas applied to assistant messages.
	TokensTotal prometheus.Counter

	// RecordsDroppedTotal counts stream lines that produced no event.
	// Labels: reason (malformed, unknown)
	RecordsDroppedTotal *prometheus.CounterVec

	// StreamErrorsTotal counts in-band error events.
	StreamErrorsTotal prometheus.Counter

	// ConfirmationsTotal counts confirmation triggers.
	// Labels: source (stream, voice), outcome (opened, ignored)
	ConfirmationsTotal *prometheus.CounterVec

	// DecisionsTotal counts answered confirmations.
	// Labels: decision (yes, no), path (text, voice)
	DecisionsTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures request start to first token.
	TimeToFirstTokenSeconds prometheus.Histogram

	// StreamDurationSeconds measures whole turns.
	// Labels: status
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams is 1 while a response is being consumed.
	ActiveStreams prometheus.Gauge
}

// NewChatMetrics creates and registers the client metrics on reg.
// Registering twice on the same registry panics.
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	factory := promauto.With(reg)

	return &ChatMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "requests_total",
				Help:      "Chat requests by outcome",
			},
			[]string{"status"},
		),
		TokensTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "tokens_total",
				Help:      "Token deltas applied to assistant messages",
			},
		),
		RecordsDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "records_dropped_total",
				Help:      "Stream records dropped by reason",
			},
			[]string{"reason"},
		),
		StreamErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "stream_errors_total",
				Help:      "In-band error events received",
			},
		),
		ConfirmationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "confirmations_total",
				Help:      "Confirmation triggers by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "decisions_total",
				Help:      "Confirmation decisions by answer and resolution path",
			},
			[]string{"decision", "path"},
		),
		TimeToFirstTokenSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request start to first token",
				Buckets:   latencyBuckets,
			},
		),
		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Duration of a chat turn by outcome",
				Buckets:   latencyBuckets,
			},
			[]string{"status"},
		),
		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_streams",
				Help:      "Responses currently being consumed",
			},
		),
	}
}

// StreamStarted marks a stream active and returns the matching end call.
func (m *ChatMetrics) StreamStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveStreams.Inc()
	return m.ActiveStreams.Dec
}

// RecordRequest records a finished turn.
func (m *ChatMetrics) RecordRequest(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(status).Inc()
	m.StreamDurationSeconds.WithLabelValues(status).Observe(d.Seconds())
}

// RecordFirstToken records the latency to the first token of a turn.
func (m *ChatMetrics) RecordFirstToken(d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.Observe(d.Seconds())
}

// RecordToken counts one applied token delta.
func (m *ChatMetrics) RecordToken() {
	if m == nil {
		return
	}
	m.TokensTotal.Inc()
}

// RecordDropped counts n dropped records for reason.
func (m *ChatMetrics) RecordDropped(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsDroppedTotal.WithLabelValues(reason).Add(float64(n))
}

// RecordStreamError counts one in-band error event.
func (m *ChatMetrics) RecordStreamError() {
	if m == nil {
		return
	}
	m.StreamErrorsTotal.Inc()
}

// RecordConfirmation counts a confirmation trigger.
func (m *ChatMetrics) RecordConfirmation(source string, opened bool) {
	if m == nil {
		return
	}
	outcome := "opened"
	if !opened {
		outcome = "ignored"
	}
	m.ConfirmationsTotal.WithLabelValues(source, outcome).Inc()
}

// RecordDecision counts a resolved confirmation.
func (m *ChatMetrics) RecordDecision(decision, path string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(decision, path).Inc()
}
