// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// maxLoggedLineLength bounds how much of a bad line ends up in a log entry.
const maxLoggedLineLength = 256

var (
	// ErrMalformedRecord is wrapped by every error ParseRecord returns for a
	// line that is not a valid record.
	ErrMalformedRecord = errors.New("malformed stream record")

	// ErrUnknownEventType is returned by ParseRecord for a well-formed
	// record whose type this client does not understand.
	ErrUnknownEventType = errors.New("unknown stream event type")
)

// =============================================================================
// Record Parsing
// =============================================================================

// wireRecord mirrors the server's JSON. Fields are kept raw so that type
// mismatches can be reported instead of silently zeroed.
type wireRecord struct {
	Type    json.RawMessage `json:"type"`
	Content json.RawMessage `json:"content"`
	Payload json.RawMessage `json:"payload"`
}

// ParseRecord parses one non-blank line into an Event.
//
// The line must be a JSON object with a string "type". For token and error
// records "content" must be a string when present. For confirmation records
// "payload" must be an object and its "message" a string when present.
//
// Errors wrap ErrMalformedRecord, or are ErrUnknownEventType for a valid
// record of an unrecognised type. ParseRecord does not log.
func ParseRecord(line string) (Event, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return Event{}, fmt.Errorf("%w: not a JSON object", ErrMalformedRecord)
	}

	var rec wireRecord
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	var typ string
	if err := unmarshalOptionalString(rec.Type, &typ); err != nil || typ == "" {
		return Event{}, fmt.Errorf("%w: missing or non-string type", ErrMalformedRecord)
	}

	event := Event{Type: EventType(typ)}
	switch event.Type {
	case EventToken, EventError:
		if err := unmarshalOptionalString(rec.Content, &event.Content); err != nil {
			return Event{}, fmt.Errorf("%w: %s content is not a string", ErrMalformedRecord, typ)
		}

	case EventConfirmation:
		payload, err := parseConfirmationPayload(rec.Payload)
		if err != nil {
			return Event{}, err
		}
		event.Confirmation = payload

	default:
		return event, ErrUnknownEventType
	}

	return event, nil
}

func parseConfirmationPayload(raw json.RawMessage) (*ConfirmationPayload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: confirmation without payload", ErrMalformedRecord)
	}

	var info map[string]any
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("%w: confirmation payload is not an object", ErrMalformedRecord)
	}

	payload := &ConfirmationPayload{Info: info}
	if msg, present := info["message"]; present && msg != nil {
		s, ok := msg.(string)
		if !ok {
			return nil, fmt.Errorf("%w: confirmation message is not a string", ErrMalformedRecord)
		}
		payload.Message = s
	}
	return payload, nil
}

// unmarshalOptionalString leaves dst untouched for a missing or null field.
func unmarshalOptionalString(raw json.RawMessage, dst *string) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// =============================================================================
// Decoder
// =============================================================================

// DecoderStats counts what a Decoder has seen.
type DecoderStats struct {
	Decoded   int64 // lines that produced an event
	Malformed int64 // lines dropped because they failed to parse
	Unknown   int64 // well-formed lines of an unrecognised type
	Blank     int64 // empty or whitespace-only lines
}

// Decoder converts lines to events under an "ignore and continue" policy:
// blank, malformed and unknown lines produce no event and never stop the
// stream. Malformed lines are logged at WARN, unknown types at DEBUG.
//
// A Decoder is safe for concurrent use; its counters are atomic.
type Decoder struct {
	logger *slog.Logger
	now    func() time.Time

	decoded   atomic.Int64
	malformed atomic.Int64
	unknown   atomic.Int64
	blank     atomic.Int64
}

// NewDecoder creates a Decoder that logs to logger, or slog.Default() if nil.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		logger: logger,
		now:    time.Now,
	}
}

// Decode returns the event carried by line, or ok == false when the line
// yields nothing.
func (d *Decoder) Decode(line string) (Event, bool) {
	if strings.TrimSpace(line) == "" {
		d.blank.Add(1)
		return Event{}, false
	}

	event, err := ParseRecord(line)
	switch {
	case err == nil:
		d.decoded.Add(1)
		event.ReceivedAt = d.now()
		return event, true

	case errors.Is(err, ErrUnknownEventType):
		d.unknown.Add(1)
		d.logger.Debug("skipping stream record of unknown type",
			"event_type", string(event.Type),
		)
		return Event{}, false

	default:
		d.malformed.Add(1)
		d.logger.Warn("dropping malformed stream record",
			"line", truncate(line, maxLoggedLineLength),
			"error", err,
		)
		return Event{}, false
	}
}

// Stats returns a snapshot of the decoder's counters.
func (d *Decoder) Stats() DecoderStats {
	return DecoderStats{
		Decoded:   d.decoded.Load(),
		Malformed: d.malformed.Load(),
		Unknown:   d.unknown.Load(),
		Blank:     d.blank.Load(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary.
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
