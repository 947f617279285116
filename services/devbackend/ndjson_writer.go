// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package devbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/jinterlante1206/movi-assistant/pkg/observability"
	"github.com/jinterlante1206/movi-assistant/pkg/stream"
)

// =============================================================================
// Interface Definition
// =============================================================================

// RecordWriter writes chat stream records to a client.
//
// # Description
//
// Each call writes exactly one newline-terminated JSON object and flushes it,
// so the client sees it immediately. The wire format is:
//
//	{"type":"token","content":"Hel"}
//	{"type":"confirmation","payload":{"message":"Delete 5 vehicles?", ...}}
//	{"type":"error","content":"upstream timeout"}
//
// There is no terminating record; the stream ends when the response body
// closes.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type RecordWriter interface {
	// WriteToken sends a text delta for the assistant message.
	WriteToken(content string) error

	// WriteConfirmation asks the client for a yes/no decision. The payload
	// should carry a "message" string; every field is echoed back opaquely.
	WriteConfirmation(payload map[string]any) error

	// WriteError reports a non-fatal error in-band.
	WriteError(message string) error
}

// record is the JSON shape of one stream line.
type record struct {
	Type    stream.EventType `json:"type"`
	Content string           `json:"content,omitempty"`
	Payload map[string]any   `json:"payload,omitempty"`
}

// =============================================================================
// Implementation
// =============================================================================

// ndjsonWriter implements RecordWriter on an http.ResponseWriter.
type ndjsonWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	metrics *observability.BackendMetrics
	mu      sync.Mutex
}

// NewNDJSONWriter creates a RecordWriter for w.
//
// # Outputs
//
//   - RecordWriter: Ready to write records
//   - error: Non-nil if w does not support flushing
//
// # Examples
//
//	SetNDJSONHeaders(c.Writer)
//	writer, err := NewNDJSONWriter(c.Writer, metrics)
//	if err != nil {
//	    c.JSON(500, gin.H{"error": "streaming not supported"})
//	    return
//	}
//	writer.WriteToken("Hello")
func NewNDJSONWriter(w http.ResponseWriter, metrics *observability.BackendMetrics) (RecordWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &ndjsonWriter{
		writer:  w,
		flusher: flusher,
		metrics: metrics,
	}, nil
}

func (w *ndjsonWriter) write(r record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", r.Type, err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("write %s record: %w", r.Type, err)
	}
	w.flusher.Flush()
	w.metrics.RecordEmitted(r.Type.String())
	return nil
}

func (w *ndjsonWriter) WriteToken(content string) error {
	return w.write(record{Type: stream.EventToken, Content: content})
}

func (w *ndjsonWriter) WriteConfirmation(payload map[string]any) error {
	return w.write(record{Type: stream.EventConfirmation, Payload: payload})
}

func (w *ndjsonWriter) WriteError(message string) error {
	return w.write(record{Type: stream.EventError, Content: message})
}

// SetNDJSONHeaders sets the standard headers for a streamed chat response.
func SetNDJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ RecordWriter = (*ndjsonWriter)(nil)

// =============================================================================
// Pacing
// =============================================================================

// pacedWriter delays tokens so the stream looks like a model typing.
// Confirmations and errors are not delayed.
type pacedWriter struct {
	RecordWriter
	ctx     context.Context
	limiter *rate.Limiter
}

// newPacedWriter limits w to tokensPerSecond tokens. A non-positive rate
// disables pacing.
func newPacedWriter(ctx context.Context, w RecordWriter, tokensPerSecond float64) RecordWriter {
	if tokensPerSecond <= 0 {
		return w
	}
	return &pacedWriter{
		RecordWriter: w,
		ctx:          ctx,
		limiter:      rate.NewLimiter(rate.Limit(tokensPerSecond), 1),
	}
}

func (p *pacedWriter) WriteToken(content string) error {
	if err := p.limiter.Wait(p.ctx); err != nil {
		return err
	}
	return p.RecordWriter.WriteToken(content)
}
