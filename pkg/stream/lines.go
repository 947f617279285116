// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream decodes the assistant backend's streaming chat responses.
//
// The backend answers a chat request with a body made of newline separated
// JSON records:
//
//	{"type":"token","content":"Hel"}
//	{"type":"token","content":"lo"}
//	{"type":"confirmation","payload":{"message":"Delete 5 vehicles?"}}
//	{"type":"error","content":"tool timeout"}
//
// There is no terminator record; a stream ends when the body closes.
//
// The package is layered the same way as the rest of the client:
//
//	io.Reader → LineReader (bytes to lines) → Decoder (line to Event) → Reader (callback)
//
// LineReader and LineSplitter only deal with framing. Decoder only parses.
// Reader sequences the two and hands events to a callback in arrival order.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// DefaultReadBufferSize is the chunk size LineReader reads with.
const DefaultReadBufferSize = 4096

// =============================================================================
// Line Splitter
// =============================================================================

// LineSplitter turns an arbitrarily chunked byte stream into complete lines.
//
// Each Feed appends the chunk to a pending buffer and returns every complete
// line in it; the trailing incomplete fragment stays pending. Flush returns
// that fragment once the stream is over.
//
// Splitting works on raw bytes. A newline byte never appears inside a
// multi-byte UTF-8 sequence, so a character split across two chunks is held
// in the buffer until its line completes and is never corrupted. Complete
// lines have invalid UTF-8 replaced with U+FFFD.
//
// The output depends only on the concatenation of the fed chunks, not on
// where the chunk boundaries fall.
//
// LineSplitter is not safe for concurrent use.
type LineSplitter struct {
	pending []byte
}

// Feed appends chunk to the pending buffer and returns the complete lines
// it now contains, without their trailing newline.
func (s *LineSplitter) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	s.pending = append(s.pending, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, decodeText(s.pending[:i]))
		s.pending = s.pending[i+1:]
	}

	// Compact so the buffer does not keep every consumed line alive.
	if len(s.pending) == 0 {
		s.pending = nil
	} else if len(lines) > 0 {
		s.pending = append([]byte(nil), s.pending...)
	}
	return lines
}

// Flush returns the pending fragment and clears it. ok is false when the
// fragment is empty, in which case no final line exists.
func (s *LineSplitter) Flush() (line string, ok bool) {
	if len(s.pending) == 0 {
		return "", false
	}
	line = decodeText(s.pending)
	s.pending = nil
	return line, true
}

// Pending returns the number of buffered bytes not yet part of a line.
func (s *LineSplitter) Pending() int {
	return len(s.pending)
}

func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}

// =============================================================================
// Line Reader
// =============================================================================

// LineReader pulls complete lines out of an io.Reader.
//
// Next is the suspension point of the read loop: it blocks until a full line
// is available, the underlying reader fails, or the stream ends. The sequence
// is finite and not restartable.
//
// Example:
//
//	lr := stream.NewLineReader(resp.Body)
//	for {
//	    line, err := lr.Next(ctx)
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    handle(line)
//	}
type LineReader struct {
	src      io.Reader
	buf      []byte
	splitter LineSplitter
	ready    []string
	err      error
	bytes    int64
}

// NewLineReader creates a LineReader with DefaultReadBufferSize.
func NewLineReader(r io.Reader) *LineReader {
	return NewLineReaderSize(r, DefaultReadBufferSize)
}

// NewLineReaderSize creates a LineReader that reads in chunks of size bytes.
// Sizes below 1 fall back to DefaultReadBufferSize.
func NewLineReaderSize(r io.Reader, size int) *LineReader {
	if size < 1 {
		size = DefaultReadBufferSize
	}
	return &LineReader{
		src: r,
		buf: make([]byte, size),
	}
}

// Next returns the next complete line.
//
// At the end of the stream a non-empty trailing fragment is returned as a
// final line, then io.EOF. If the underlying reader fails, lines already
// complete are still returned and the failure follows them, wrapped; no
// partial line is recovered after a failure. Context cancellation is checked
// before every read.
func (lr *LineReader) Next(ctx context.Context) (string, error) {
	for {
		if len(lr.ready) > 0 {
			line := lr.ready[0]
			lr.ready = lr.ready[1:]
			return line, nil
		}
		if lr.err != nil {
			return "", lr.err
		}
		if err := ctx.Err(); err != nil {
			lr.err = err
			return "", err
		}

		n, err := lr.src.Read(lr.buf)
		if n > 0 {
			lr.bytes += int64(n)
			lr.ready = lr.splitter.Feed(lr.buf[:n])
		}
		switch {
		case errors.Is(err, io.EOF):
			if last, ok := lr.splitter.Flush(); ok {
				lr.ready = append(lr.ready, last)
			}
			lr.err = io.EOF
		case err != nil:
			lr.err = fmt.Errorf("read stream: %w", err)
		}
	}
}

// BytesRead returns the number of bytes consumed from the source so far.
func (lr *LineReader) BytesRead() int64 {
	return lr.bytes
}
