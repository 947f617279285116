// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBufferedDecoder() (*Decoder, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewDecoder(logger), &buf
}

// =============================================================================
// EventType Tests
// =============================================================================

func TestEventType_IsKnown(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      bool
	}{
		{EventToken, true},
		{EventConfirmation, true},
		{EventError, true},
		{EventType("done"), false},
		{EventType("status"), false},
		{EventType(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType.String(), func(t *testing.T) {
			if got := tt.eventType.IsKnown(); got != tt.want {
				t.Errorf("IsKnown() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// ParseRecord Tests
// =============================================================================

func TestParseRecord_Valid(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantType    EventType
		wantContent string
		wantMessage string
	}{
		{"token", `{"type":"token","content":"Hel"}`, EventToken, "Hel", ""},
		{"token with spaces kept", `{"type":"token","content":"  a b "}`, EventToken, "  a b ", ""},
		{"token missing content", `{"type":"token"}`, EventToken, "", ""},
		{"token null content", `{"type":"token","content":null}`, EventToken, "", ""},
		{"error", `{"type":"error","content":"tool failed"}`, EventError, "tool failed", ""},
		{"confirmation", `{"type":"confirmation","payload":{"message":"Delete 5 vehicles?","count":5}}`, EventConfirmation, "", "Delete 5 vehicles?"},
		{"confirmation without message", `{"type":"confirmation","payload":{"action":"x"}}`, EventConfirmation, "", ""},
		{"surrounding whitespace", "  {\"type\":\"token\",\"content\":\"x\"}\r", EventToken, "x", ""},
		{"extra fields ignored", `{"type":"token","content":"x","id":7}`, EventToken, "x", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseRecord(tt.line)
			if err != nil {
				t.Fatalf("ParseRecord() error = %v", err)
			}
			if event.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", event.Type, tt.wantType)
			}
			if event.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", event.Content, tt.wantContent)
			}
			if tt.wantType == EventConfirmation {
				if event.Confirmation == nil {
					t.Fatal("Confirmation is nil")
				}
				if event.Confirmation.Message != tt.wantMessage {
					t.Errorf("Message = %q, want %q", event.Confirmation.Message, tt.wantMessage)
				}
			}
		})
	}
}

func TestParseRecord_ConfirmationInfoIsWholePayload(t *testing.T) {
	event, err := ParseRecord(`{"type":"confirmation","payload":{"message":"Remove trip?","trip_id":12,"affected":["t1","t2"]}}`)
	if err != nil {
		t.Fatalf("ParseRecord() error = %v", err)
	}
	info := event.Confirmation.Info
	if info["message"] != "Remove trip?" {
		t.Errorf("Info[message] = %v", info["message"])
	}
	if info["trip_id"] != float64(12) {
		t.Errorf("Info[trip_id] = %v, want 12", info["trip_id"])
	}
	if affected, ok := info["affected"].([]any); !ok || len(affected) != 2 {
		t.Errorf("Info[affected] = %v", info["affected"])
	}
}

func TestParseRecord_Malformed(t *testing.T) {
	lines := []string{
		"not json",
		`{"type":"token","content":"unterminated`,
		`[1,2,3]`,
		`"token"`,
		`{}`,
		`{"type":""}`,
		`{"type":5}`,
		`{"type":"token","content":42}`,
		`{"type":"error","content":{"a":1}}`,
		`{"type":"confirmation"}`,
		`{"type":"confirmation","payload":null}`,
		`{"type":"confirmation","payload":"Delete?"}`,
		`{"type":"confirmation","payload":{"message":3}}`,
		`data: {"type":"token","content":"x"}`,
		`[DONE]`,
	}

	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			_, err := ParseRecord(line)
			if !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("ParseRecord(%q) error = %v, want ErrMalformedRecord", line, err)
			}
		})
	}
}

func TestParseRecord_UnknownType(t *testing.T) {
	event, err := ParseRecord(`{"type":"thinking","content":"hmm"}`)
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("error = %v, want ErrUnknownEventType", err)
	}
	if event.Type != "thinking" {
		t.Errorf("Type = %q, want thinking", event.Type)
	}
}

// =============================================================================
// Decoder Tests
// =============================================================================

func TestDecoder_Decode(t *testing.T) {
	d, logs := newBufferedDecoder()

	if _, ok := d.Decode(""); ok {
		t.Error("blank line produced an event")
	}
	if _, ok := d.Decode("   \t"); ok {
		t.Error("whitespace line produced an event")
	}
	if logs.Len() != 0 {
		t.Errorf("blank lines should not log, got %q", logs.String())
	}

	event, ok := d.Decode(`{"type":"token","content":"hi"}`)
	if !ok || event.Content != "hi" {
		t.Fatalf("Decode() = %+v, %v", event, ok)
	}
	if event.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}

	if _, ok := d.Decode("garbage"); ok {
		t.Error("malformed line produced an event")
	}
	if !strings.Contains(logs.String(), "dropping malformed stream record") {
		t.Errorf("malformed line not logged: %q", logs.String())
	}
	if !strings.Contains(logs.String(), "garbage") {
		t.Errorf("log should identify the offending line: %q", logs.String())
	}

	if _, ok := d.Decode(`{"type":"sources","sources":[]}`); ok {
		t.Error("unknown type produced an event")
	}

	stats := d.Stats()
	want := DecoderStats{Decoded: 1, Malformed: 1, Unknown: 1, Blank: 2}
	if stats != want {
		t.Errorf("Stats() = %+v, want %+v", stats, want)
	}
}

func TestDecoder_LongLineTruncatedInLog(t *testing.T) {
	d, logs := newBufferedDecoder()
	line := strings.Repeat("x", 1000)
	d.Decode(line)
	if strings.Contains(logs.String(), line) {
		t.Error("log contains the full oversized line")
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 10) // 20 bytes
	got := truncate(s, 5)
	if got != "éé…" {
		t.Errorf("truncate() = %q, want %q", got, "éé…")
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q, want unchanged", got)
	}
}

func TestConfirmationPayload_Clone(t *testing.T) {
	var nilPayload *ConfirmationPayload
	if nilPayload.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}

	p := &ConfirmationPayload{Message: "m", Info: map[string]any{"k": "v"}}
	c := p.Clone()
	c.Info["k"] = "changed"
	if p.Info["k"] != "v" {
		t.Error("Clone shares the Info map")
	}
}
