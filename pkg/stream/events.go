// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"maps"
	"time"
)

// =============================================================================
// Event Types
// =============================================================================

// EventType is the value of the "type" field of a stream record.
type EventType string

const (
	// EventToken carries a text delta for the in-progress assistant message.
	EventToken EventType = "token"

	// EventConfirmation signals a blocking human-in-the-loop gate.
	EventConfirmation EventType = "confirmation"

	// EventError is an in-band, non-fatal error report from the backend.
	EventError EventType = "error"
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	return string(t)
}

// IsKnown reports whether the type is one this client understands.
//
// Records with any other type are skipped so that newer backends can add
// event types without breaking older clients.
func (t EventType) IsKnown() bool {
	switch t {
	case EventToken, EventConfirmation, EventError:
		return true
	default:
		return false
	}
}

// =============================================================================
// Event
// =============================================================================

// ConfirmationPayload is the body of a confirmation event.
//
// Message is the text shown to the user. Info holds the complete payload
// object, message included, and is forwarded back opaquely when the user
// answers.
type ConfirmationPayload struct {
	Message string
	Info    map[string]any
}

// Clone returns a deep-enough copy for handing to another goroutine.
// Nested maps and slices inside Info are shared.
func (p *ConfirmationPayload) Clone() *ConfirmationPayload {
	if p == nil {
		return nil
	}
	return &ConfirmationPayload{
		Message: p.Message,
		Info:    maps.Clone(p.Info),
	}
}

// Event is one decoded stream record.
//
// Exactly one of Content (token, error) or Confirmation (confirmation) is
// meaningful, selected by Type.
type Event struct {
	// Index is the zero-based position of the event within its stream.
	// Skipped lines do not consume an index.
	Index int

	Type         EventType
	Content      string
	Confirmation *ConfirmationPayload

	// ReceivedAt is when the line carrying the event was decoded.
	ReceivedAt time.Time
}

// IsToken reports whether the event is a token delta.
func (e Event) IsToken() bool { return e.Type == EventToken }

// IsConfirmation reports whether the event opens a confirmation gate.
func (e Event) IsConfirmation() bool { return e.Type == EventConfirmation }

// IsError reports whether the event is an in-band error.
func (e Event) IsError() bool { return e.Type == EventError }
