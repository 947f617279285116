// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/jinterlante1206/movi-assistant/pkg/ux"
)

// maxLineBytes bounds one line of piped input.
const maxLineBytes = 1024 * 1024

// =============================================================================
// Input Reader Selection
// =============================================================================

// NewInputReader returns the line source for the chat REPL.
//
// # Description
//
// On a terminal in full or minimal mode the reader is interactive: line
// editing and up/down history through bubbletea. Otherwise (piped input,
// CI, machine mode) lines are read from stdin without echoing prompts, so
// the output stays parseable.
//
// # Inputs
//
//   - maxHistory: Number of entries the interactive reader remembers.
func NewInputReader(maxHistory int) ux.LineSource {
	stdinTTY := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	if !stdinTTY {
		return NewStdinReader(os.Stdin, io.Discard)
	}
	if !ux.IsInteractive() {
		return NewStdinReader(os.Stdin, os.Stdout)
	}
	return NewInteractiveInputReader(maxHistory)
}

// =============================================================================
// StdinReader Implementation
// =============================================================================

type lineResult struct {
	line string
	err  error
}

// StdinReader reads lines from an io.Reader.
//
// # Description
//
// A single goroutine owns the underlying reader and hands lines over a
// channel, so a ReadLine abandoned through its context does not lose the
// line it was waiting for; the next ReadLine receives it.
//
// # Thread Safety
//
// ReadLine may be called from one goroutine at a time.
type StdinReader struct {
	in      io.Reader
	prompts io.Writer

	start sync.Once
	lines chan lineResult
}

// NewStdinReader creates a StdinReader. Prompts are written to prompts,
// which may be io.Discard.
func NewStdinReader(in io.Reader, prompts io.Writer) *StdinReader {
	return &StdinReader{
		in:      in,
		prompts: prompts,
		lines:   make(chan lineResult),
	}
}

func (r *StdinReader) pump() {
	defer close(r.lines)
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		r.lines <- lineResult{line: scanner.Text()}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	r.lines <- lineResult{err: err}
}

// ReadLine writes prompt and waits for the next line. It returns io.EOF when
// the input ends and ctx.Err() when ctx ends first.
func (r *StdinReader) ReadLine(ctx context.Context, prompt string) (string, error) {
	r.start.Do(func() { go r.pump() })
	if prompt != "" {
		fmt.Fprint(r.prompts, prompt)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-r.lines:
		if !ok {
			return "", io.EOF
		}
		if res.err != nil {
			return "", res.err
		}
		return strings.TrimSpace(res.line), nil
	}
}

var _ ux.LineSource = (*StdinReader)(nil)

// =============================================================================
// InteractiveInputReader Implementation (with history)
// =============================================================================

// InteractiveInputReader reads lines with a bubbletea text input.
//
// # Description
//
// Supports:
//   - Up/down arrow history navigation
//   - Line editing (Ctrl+A, Ctrl+E, etc.)
//   - Ctrl+C clears the line, Ctrl+D ends input (io.EOF)
//
// The prompt is rendered by the text input itself.
//
// # Thread Safety
//
// Not thread-safe. Single reader per stdin.
//
// # Limitations
//
//   - History is in-memory only
type InteractiveInputReader struct {
	history    []string
	maxHistory int
}

// inputModel is the bubbletea model for interactive input.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	currentInput string // Stores current input when navigating history
	done         bool
	eof          bool
}

// NewInteractiveInputReader creates an interactive reader that remembers
// maxHistory entries.
func NewInteractiveInputReader(maxHistory int) *InteractiveInputReader {
	return &InteractiveInputReader{
		history:    make([]string, 0, maxHistory),
		maxHistory: maxHistory,
	}
}

// ReadLine shows prompt and reads one line. Ending ctx closes the input
// and returns ctx.Err().
func (r *InteractiveInputReader) ReadLine(ctx context.Context, prompt string) (string, error) {
	ti := textinput.New()
	ti.Prompt = prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	m := newInputModel(ti, r.history)

	p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithContext(ctx))
	finalModel, err := p.Run()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}

	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}
	if result.eof {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())
	if input != "" {
		r.addToHistory(input)
		// The program clears its view on exit; keep the line in scrollback.
		fmt.Fprintln(os.Stderr, prompt+input)
	}
	return input, nil
}

// addToHistory adds an input to the history buffer.
func (r *InteractiveInputReader) addToHistory(input string) {
	// Don't add duplicates of the most recent entry
	if len(r.history) > 0 && r.history[len(r.history)-1] == input {
		return
	}
	r.history = append(r.history, input)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

func newInputModel(ti textinput.Model, history []string) inputModel {
	return inputModel{
		textInput:    ti,
		history:      history,
		historyIndex: -1,
	}
}

// Init initializes the bubbletea model.
func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles input events for the bubbletea model.
func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlC:
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlD:
			m.eof = true
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}
			// Save current input when first entering history
			if m.historyIndex == -1 {
				m.currentInput = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}
			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			if m.historyIndex == -1 {
				return m, nil
			}
			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				m.historyIndex = -1
				m.textInput.SetValue(m.currentInput)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// View renders the input prompt.
func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}

var _ ux.LineSource = (*InteractiveInputReader)(nil)

// =============================================================================
// MockInputReader Implementation (for testing)
// =============================================================================

// MockInputReader returns predetermined lines in order, then io.EOF.
//
// # Fields
//
//   - Lines: Inputs to return
//   - Prompts: Every prompt passed to ReadLine, for assertions
//   - OnRead: Optional hook run before each line is returned, with the
//     line's index
type MockInputReader struct {
	Lines   []string
	Prompts []string
	OnRead  func(index int)

	mu    sync.Mutex
	index int
}

// NewMockInputReader creates a MockInputReader.
func NewMockInputReader(lines ...string) *MockInputReader {
	return &MockInputReader{Lines: lines}
}

func (m *MockInputReader) ReadLine(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	if m.index >= len(m.Lines) {
		m.mu.Unlock()
		return "", io.EOF
	}
	i := m.index
	line := m.Lines[i]
	m.index++
	hook := m.OnRead
	m.mu.Unlock()

	if hook != nil {
		hook(i)
	}
	return line, nil
}

var _ ux.LineSource = (*MockInputReader)(nil)
