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
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"
)

// =============================================================================
// Helpers
// =============================================================================

// chunkedReader returns its data in the given chunk sizes, then EOF.
type chunkedReader struct {
	data   []byte
	sizes  []int
	offset int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.offset >= len(c.data) {
		return 0, io.EOF
	}
	n := len(c.data) - c.offset
	if len(c.sizes) > 0 {
		n = min(n, c.sizes[0])
		c.sizes = c.sizes[1:]
	}
	n = min(n, len(p))
	copy(p, c.data[c.offset:c.offset+n])
	c.offset += n
	return n, nil
}

func splitAll(chunks ...string) []string {
	var s LineSplitter
	var lines []string
	for _, c := range chunks {
		lines = append(lines, s.Feed([]byte(c))...)
	}
	if last, ok := s.Flush(); ok {
		lines = append(lines, last)
	}
	return lines
}

func readAllLines(t *testing.T, r io.Reader, size int) []string {
	t.Helper()
	lr := NewLineReaderSize(r, size)
	var lines []string
	for {
		line, err := lr.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return lines
		}
		if err != nil {
			t.Fatalf("Next() unexpected error: %v", err)
		}
		lines = append(lines, line)
	}
}

// =============================================================================
// LineSplitter Tests
// =============================================================================

func TestLineSplitter_Feed(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{"single line with newline", []string{"a\n"}, []string{"a"}},
		{"trailing partial line", []string{"a\nb"}, []string{"a", "b"}},
		{"no trailing partial", []string{"a\nb\n"}, []string{"a", "b"}},
		{"line across chunks", []string{"he", "llo\nwor", "ld\n"}, []string{"hello", "world"}},
		{"empty lines preserved", []string{"a\n\nb\n"}, []string{"a", "", "b"}},
		{"empty stream", nil, nil},
		{"only newline", []string{"\n"}, []string{""}},
		{"carriage return kept", []string{"a\r\n"}, []string{"a\r"}},
		{"whitespace partial is non-empty", []string{"a\n  "}, []string{"a", "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitAll(tt.chunks...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("lines = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLineSplitter_Pending(t *testing.T) {
	var s LineSplitter
	s.Feed([]byte("abc\nde"))
	if got := s.Pending(); got != 2 {
		t.Errorf("Pending() = %d, want 2", got)
	}
	s.Feed([]byte("\n"))
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
	if _, ok := s.Flush(); ok {
		t.Error("Flush() on empty buffer should report no line")
	}
}

func TestLineSplitter_MultiByteAcrossChunks(t *testing.T) {
	// "é" is 0xC3 0xA9 and "🚌" is four bytes; split both mid-sequence.
	data := []byte("café \U0001F68C\nok\n")
	for cut := 1; cut < len(data); cut++ {
		got := splitAll(string(data[:cut]), string(data[cut:]))
		want := []string{"café \U0001F68C", "ok"}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("cut at %d: lines = %q, want %q", cut, got, want)
		}
	}
}

func TestLineSplitter_InvalidUTF8Replaced(t *testing.T) {
	got := splitAll("a\xffb\n")
	want := []string{"a�b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %q, want %q", got, want)
	}
}

// TestLineSplitter_ChunkingInvariance checks that every way of chunking the
// same bytes yields the same lines as a single chunk.
func TestLineSplitter_ChunkingInvariance(t *testing.T) {
	inputs := []string{
		"{\"type\":\"token\",\"content\":\"Hel\"}\n{\"type\":\"token\",\"content\":\"lo\"}\nnot json\n",
		"a\n\nb\nc",
		"über\n日本語\npartial \U0001F600",
		"\n\n\n",
		"no newline at all",
	}

	rng := rand.New(rand.NewSource(42))
	for _, input := range inputs {
		want := splitAll(input)

		// Every two-way split.
		for cut := 0; cut <= len(input); cut++ {
			got := splitAll(input[:cut], input[cut:])
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("input %q cut %d: got %q, want %q", input, cut, got, want)
			}
		}

		// Random chunkings.
		for trial := 0; trial < 200; trial++ {
			var chunks []string
			rest := input
			for len(rest) > 0 {
				n := 1 + rng.Intn(len(rest))
				chunks = append(chunks, rest[:n])
				rest = rest[n:]
			}
			got := splitAll(chunks...)
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("input %q chunks %q: got %q, want %q", input, chunks, got, want)
			}
		}
	}
}

// =============================================================================
// LineReader Tests
// =============================================================================

func TestLineReader_Next(t *testing.T) {
	src := strings.NewReader("first\nsecond\nthird")
	got := readAllLines(t, src, DefaultReadBufferSize)
	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %q, want %q", got, want)
	}
}

func TestLineReader_BufferSizes(t *testing.T) {
	input := "alpha\nbeta\nété\ngamma"
	want := []string{"alpha", "beta", "été", "gamma"}
	for _, size := range []int{1, 2, 3, 7, 64, 0} {
		got := readAllLines(t, strings.NewReader(input), size)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("size %d: lines = %q, want %q", size, got, want)
		}
	}
}

func TestLineReader_OneByteReader(t *testing.T) {
	input := "x\ny\n"
	got := readAllLines(t, iotest.OneByteReader(strings.NewReader(input)), 16)
	want := []string{"x", "y"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %q, want %q", got, want)
	}
}

func TestLineReader_UnevenChunks(t *testing.T) {
	src := &chunkedReader{data: []byte("ab\ncd\nef"), sizes: []int{1, 4, 1, 2}}
	got := readAllLines(t, src, 16)
	want := []string{"ab", "cd", "ef"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %q, want %q", got, want)
	}
}

func TestLineReader_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	src := io.MultiReader(strings.NewReader("done\npart"), iotest.ErrReader(boom))
	lr := NewLineReader(src)

	line, err := lr.Next(context.Background())
	if err != nil || line != "done" {
		t.Fatalf("Next() = %q, %v; want %q, nil", line, err, "done")
	}

	_, err = lr.Next(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Next() error = %v, want wrapping %v", err, boom)
	}

	// The failure is sticky and the partial line is not recovered.
	if _, err := lr.Next(context.Background()); !errors.Is(err, boom) {
		t.Errorf("second Next() error = %v, want %v", err, boom)
	}
}

func TestLineReader_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lr := NewLineReader(strings.NewReader("line\n"))
	if _, err := lr.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() error = %v, want context.Canceled", err)
	}
}

func TestLineReader_BytesRead(t *testing.T) {
	lr := NewLineReader(strings.NewReader("abc\n"))
	if _, err := lr.Next(context.Background()); err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if got := lr.BytesRead(); got != 4 {
		t.Errorf("BytesRead() = %d, want 4", got)
	}
}
