// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Backend Metrics
// =============================================================================

// BackendMetrics holds the development backend's metrics.
type BackendMetrics struct {
	// StreamsTotal counts chat streams served.
	// Labels: responder, status (success, error, client_gone)
	StreamsTotal *prometheus.CounterVec

	// RecordsEmittedTotal counts NDJSON records written.
	// Labels: type (token, confirmation, error)
	RecordsEmittedTotal *prometheus.CounterVec

	// VoiceConnections is the number of open voice sockets.
	VoiceConnections prometheus.Gauge

	// VoiceFramesTotal counts voice frames.
	// Labels: direction (in, out), type
	VoiceFramesTotal *prometheus.CounterVec
}

// NewBackendMetrics creates and registers the backend metrics on reg.
func NewBackendMetrics(reg prometheus.Registerer) *BackendMetrics {
	factory := promauto.With(reg)

	return &BackendMetrics{
		StreamsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "streams_total",
				Help:      "Chat streams served by responder and outcome",
			},
			[]string{"responder", "status"},
		),
		RecordsEmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "records_emitted_total",
				Help:      "NDJSON records written by type",
			},
			[]string{"type"},
		),
		VoiceConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "voice_connections",
				Help:      "Open voice websocket connections",
			},
		),
		VoiceFramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "voice_frames_total",
				Help:      "Voice frames by direction and type",
			},
			[]string{"direction", "type"},
		),
	}
}

// RecordStream counts a finished stream.
func (m *BackendMetrics) RecordStream(responder, status string) {
	if m == nil {
		return
	}
	m.StreamsTotal.WithLabelValues(responder, status).Inc()
}

// RecordEmitted counts one written record.
func (m *BackendMetrics) RecordEmitted(recordType string) {
	if m == nil {
		return
	}
	m.RecordsEmittedTotal.WithLabelValues(recordType).Inc()
}

// VoiceConnected marks a socket open and returns the matching close call.
func (m *BackendMetrics) VoiceConnected() func() {
	if m == nil {
		return func() {}
	}
	m.VoiceConnections.Inc()
	return m.VoiceConnections.Dec
}

// RecordVoiceFrame counts a frame. direction is "in" or "out".
func (m *BackendMetrics) RecordVoiceFrame(direction, frameType string) {
	if m == nil {
		return
	}
	m.VoiceFramesTotal.WithLabelValues(direction, frameType).Inc()
}
