// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ============================================================================
// Test Helper: Create isolated metrics for testing
// ============================================================================

// newTestChatMetrics registers ChatMetrics on a private registry so tests
// never collide with the global one.
func newTestChatMetrics(t *testing.T) (*ChatMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewChatMetrics(reg), reg
}

// ============================================================================
// ChatMetrics
// ============================================================================

func TestChatMetrics_RecordRequest(t *testing.T) {
	m, _ := newTestChatMetrics(t)

	m.RecordRequest(StatusSuccess, 120*time.Millisecond)
	m.RecordRequest(StatusSuccess, 80*time.Millisecond)
	m.RecordRequest(StatusTransportError, time.Second)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(StatusSuccess)); got != 2 {
		t.Errorf("success requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(StatusTransportError)); got != 1 {
		t.Errorf("transport_error requests = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.StreamDurationSeconds); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestChatMetrics_TokensAndDrops(t *testing.T) {
	m, _ := newTestChatMetrics(t)

	for i := 0; i < 3; i++ {
		m.RecordToken()
	}
	m.RecordDropped(DropMalformed, 2)
	m.RecordDropped(DropUnknown, 0)
	m.RecordStreamError()

	if got := testutil.ToFloat64(m.TokensTotal); got != 3 {
		t.Errorf("tokens = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.RecordsDroppedTotal.WithLabelValues(DropMalformed)); got != 2 {
		t.Errorf("malformed = %v, want 2", got)
	}
	// Zero adds create no series.
	if got := testutil.CollectAndCount(m.RecordsDroppedTotal); got != 1 {
		t.Errorf("dropped series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(m.StreamErrorsTotal); got != 1 {
		t.Errorf("stream errors = %v, want 1", got)
	}
}

func TestChatMetrics_Confirmations(t *testing.T) {
	m, _ := newTestChatMetrics(t)

	m.RecordConfirmation("stream", true)
	m.RecordConfirmation("voice", false)
	m.RecordDecision("yes", PathVoice)

	tests := []struct {
		name string
		got  float64
	}{
		{"stream opened", testutil.ToFloat64(m.ConfirmationsTotal.WithLabelValues("stream", "opened"))},
		{"voice ignored", testutil.ToFloat64(m.ConfirmationsTotal.WithLabelValues("voice", "ignored"))},
		{"yes via voice", testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("yes", PathVoice))},
	}
	for _, tt := range tests {
		if tt.got != 1 {
			t.Errorf("%s = %v, want 1", tt.name, tt.got)
		}
	}
}

func TestChatMetrics_ActiveStreams(t *testing.T) {
	m, _ := newTestChatMetrics(t)

	end1 := m.StreamStarted()
	end2 := m.StreamStarted()
	if got := testutil.ToFloat64(m.ActiveStreams); got != 2 {
		t.Errorf("active = %v, want 2", got)
	}
	end1()
	end2()
	if got := testutil.ToFloat64(m.ActiveStreams); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
}

func TestChatMetrics_FirstTokenExposition(t *testing.T) {
	m, reg := newTestChatMetrics(t)
	m.RecordFirstToken(300 * time.Millisecond)

	expected := `
# HELP movi_assistant_time_to_first_token_seconds Time from request start to first token
# TYPE movi_assistant_time_to_first_token_seconds histogram
movi_assistant_time_to_first_token_seconds_bucket{le="0.1"} 0
movi_assistant_time_to_first_token_seconds_bucket{le="0.25"} 0
movi_assistant_time_to_first_token_seconds_bucket{le="0.5"} 1
movi_assistant_time_to_first_token_seconds_bucket{le="1"} 1
movi_assistant_time_to_first_token_seconds_bucket{le="2.5"} 1
movi_assistant_time_to_first_token_seconds_bucket{le="5"} 1
movi_assistant_time_to_first_token_seconds_bucket{le="10"} 1
movi_assistant_time_to_first_token_seconds_bucket{le="30"} 1
movi_assistant_time_to_first_token_seconds_sum 0.3
movi_assistant_time_to_first_token_seconds_count 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"movi_assistant_time_to_first_token_seconds")
	if err != nil {
		t.Error(err)
	}
}

func TestChatMetrics_NilSafe(t *testing.T) {
	var m *ChatMetrics

	m.RecordRequest(StatusSuccess, time.Second)
	m.RecordFirstToken(time.Second)
	m.RecordToken()
	m.RecordDropped(DropMalformed, 1)
	m.RecordStreamError()
	m.RecordConfirmation("stream", true)
	m.RecordDecision("no", PathText)
	m.StreamStarted()()
}

// ============================================================================
// BackendMetrics
// ============================================================================

func TestBackendMetrics(t *testing.T) {
	m := NewBackendMetrics(prometheus.NewRegistry())

	m.RecordStream("scripted", "success")
	m.RecordEmitted("token")
	m.RecordEmitted("token")
	m.RecordEmitted("confirmation")
	m.RecordVoiceFrame("in", "hello")
	done := m.VoiceConnected()

	if got := testutil.ToFloat64(m.StreamsTotal.WithLabelValues("scripted", "success")); got != 1 {
		t.Errorf("streams = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RecordsEmittedTotal.WithLabelValues("token")); got != 2 {
		t.Errorf("tokens emitted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.VoiceConnections); got != 1 {
		t.Errorf("voice connections = %v, want 1", got)
	}
	done()
	if got := testutil.ToFloat64(m.VoiceConnections); got != 0 {
		t.Errorf("voice connections = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.VoiceFramesTotal.WithLabelValues("in", "hello")); got != 1 {
		t.Errorf("frames = %v, want 1", got)
	}

	var nilMetrics *BackendMetrics
	nilMetrics.RecordStream("x", "y")
	nilMetrics.RecordEmitted("token")
	nilMetrics.RecordVoiceFrame("out", "x")
	nilMetrics.VoiceConnected()()
}

func TestNewChatMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewChatMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewChatMetrics(reg)
}
