// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Callback receives decoded events. Returning an error stops reading and the
// error is returned from Read unchanged.
type Callback func(Event) error

// =============================================================================
// Reader
// =============================================================================

// Reader drives a LineReader and a Decoder over one response body.
//
// Events reach the callback strictly in the order their lines arrived. Lines
// the decoder drops do not interrupt the stream.
type Reader struct {
	decoder    *Decoder
	bufferSize int
}

// NewReader creates a Reader that decodes with decoder.
func NewReader(decoder *Decoder) *Reader {
	if decoder == nil {
		decoder = NewDecoder(nil)
	}
	return &Reader{
		decoder:    decoder,
		bufferSize: DefaultReadBufferSize,
	}
}

// WithBufferSize sets the chunk size used for reads. Mostly useful in tests
// that need small chunks.
func (r *Reader) WithBufferSize(n int) *Reader {
	r.bufferSize = n
	return r
}

// Decoder returns the decoder used by the reader.
func (r *Reader) Decoder() *Decoder {
	return r.decoder
}

// Read consumes src until it ends, invoking callback for every event.
//
// Returns nil when the stream ends normally, the context error when ctx is
// cancelled, the (wrapped) read error when src fails, or whatever the
// callback returned. The caller owns src and must close it.
func (r *Reader) Read(ctx context.Context, src io.Reader, callback Callback) error {
	lines := NewLineReaderSize(src, r.bufferSize)
	index := 0

	for {
		line, err := lines.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		event, ok := r.decoder.Decode(line)
		if !ok {
			continue
		}
		event.Index = index
		index++

		if err := callback(event); err != nil {
			return err
		}
	}
}

// =============================================================================
// Aggregation
// =============================================================================

// Result is the aggregate of a whole stream.
type Result struct {
	// Text is the concatenation of every token delta, in order.
	Text string

	// Tokens is the number of token events applied.
	Tokens int

	// Confirmations holds every confirmation payload, in order.
	Confirmations []*ConfirmationPayload

	// Errors holds the content of every in-band error event.
	Errors []string
}

// ReadAll reads the whole stream and aggregates it. On failure the partial
// result is returned along with the error.
func (r *Reader) ReadAll(ctx context.Context, src io.Reader) (*Result, error) {
	result := &Result{}
	var text strings.Builder

	err := r.Read(ctx, src, func(event Event) error {
		switch event.Type {
		case EventToken:
			text.WriteString(event.Content)
			result.Tokens++
		case EventConfirmation:
			result.Confirmations = append(result.Confirmations, event.Confirmation)
		case EventError:
			result.Errors = append(result.Errors, event.Content)
		}
		return nil
	})

	result.Text = text.String()
	return result, err
}
