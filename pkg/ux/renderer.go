// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jinterlante1206/movi-assistant/pkg/conversation"
)

// =============================================================================
// Chat Renderer
// =============================================================================

// ChatRenderer draws a conversation as the coordinator reports it.
//
// # Description
//
// ChatRenderer implements conversation.Observer. Install it in
// conversation.Config.Observer and every turn is drawn as it happens:
//
//	placeholder -> spinner
//	first token -> spinner stops, "Movi:" label, token text
//	confirmation -> boxed prompt, tokens keep streaming underneath
//	transport failure -> the fallback reply in error style
//
// # Personality Modes
//
//   - PersonalityFull: colors, spinner, boxed confirmations.
//   - PersonalityMinimal: plain text, no spinner.
//   - PersonalityMachine: tokens are buffered and printed as one
//     "ANSWER: ..." line when the turn completes. Confirmations print
//     "CONFIRM: ...", in-band errors "STREAM_ERROR: ...", transport
//     failures "ERROR: ...". Every turn ends with "DONE".
//
// # Thread Safety
//
// All methods are mutex-guarded. OnConfirmation may arrive from the voice
// goroutine while a stream is being drawn.
type ChatRenderer struct {
	w           io.Writer
	personality PersonalityLevel
	echoUser    bool

	mu       sync.Mutex
	spinner  *Spinner
	answer   strings.Builder
	labelled bool
	failure  error
	stats    SessionStats
}

var _ conversation.Observer = (*ChatRenderer)(nil)

// NewChatRenderer creates a renderer writing to w. When w is nil the
// package stdout is used.
func NewChatRenderer(w io.Writer, personality PersonalityLevel) *ChatRenderer {
	if w == nil {
		w = stdout
	}
	return &ChatRenderer{w: w, personality: personality}
}

// WithUserEcho makes the renderer print user messages. The REPL leaves it
// off because the user just typed the text; one-shot mode turns it on.
func (r *ChatRenderer) WithUserEcho(on bool) *ChatRenderer {
	r.echoUser = on
	return r
}

// OnUserMessage prints the user's message when echo is on. Decision
// messages are always printed so the answer shows up in the scrollback.
func (r *ChatRenderer) OnUserMessage(m conversation.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	isDecision := m.Content == string(conversation.DecisionYes) || m.Content == string(conversation.DecisionNo)
	if r.personality == PersonalityMachine || (!r.echoUser && !isDecision) {
		return
	}
	label := "You:"
	if r.personality == PersonalityFull {
		label = Styles.User.Render(label)
	}
	text := m.Content
	if m.Image != "" {
		text += " [image]"
	}
	fmt.Fprintf(r.w, "%s %s\n", label, text)
}

// OnPlaceholder starts the waiting spinner in full mode.
func (r *ChatRenderer) OnPlaceholder(conversation.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.answer.Reset()
	r.labelled = false
	if r.personality != PersonalityFull {
		return
	}
	r.spinner = NewSpinner(r.w, "Movi is thinking...")
	r.spinner.Start()
}

// OnToken prints delta, or buffers it in machine mode.
func (r *ChatRenderer) OnToken(_ conversation.Message, delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.answer.WriteString(delta)
	r.stats.Tokens++
	if r.personality == PersonalityMachine {
		return
	}
	r.stopSpinner()
	r.writeLabel()
	fmt.Fprint(r.w, delta)
}

// OnConfirmation shows the confirmation prompt. The decision itself is
// collected by a Confirmer once the turn completes.
func (r *ChatRenderer) OnConfirmation(c conversation.Confirmation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Confirmations++
	message := c.Message
	if message == "" {
		message = "Confirm this action?"
	}

	switch r.personality {
	case PersonalityMachine:
		fmt.Fprintf(r.w, "CONFIRM: %s\n", message)
	case PersonalityMinimal:
		r.breakLine()
		fmt.Fprintf(r.w, "%s %s (yes/no)\n", IconWarning.Render(), message)
	default:
		r.stopSpinner()
		r.breakLine()
		title := Styles.Warning.Bold(true).Render("Confirmation required")
		if c.Source == conversation.SourceVoice {
			title = IconMic.Render() + " " + title
		}
		fmt.Fprintln(r.w, Styles.WarningBox.Width(60).Render(title+"\n"+message))
	}
}

// OnStreamError reports an in-band error event. It is not part of the
// transcript.
func (r *ChatRenderer) OnStreamError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.StreamErrors++
	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.w, "STREAM_ERROR: %s\n", message)
		return
	}
	r.stopSpinner()
	r.breakLine()
	fmt.Fprintf(r.w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(message))
}

// OnTransportError prints the fallback reply the coordinator appended.
func (r *ChatRenderer) OnTransportError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failure = err
	r.stats.Failures++
	if r.personality == PersonalityMachine {
		return
	}
	r.stopSpinner()
	r.breakLine()
	label := "Movi:"
	if r.personality == PersonalityFull {
		label = Styles.Assistant.Render(label)
	}
	fmt.Fprintf(r.w, "%s %s\n", label, Styles.Error.Render(conversation.FallbackReply))
}

// OnTurnComplete finishes the turn's output and folds it into the session
// statistics.
func (r *ChatRenderer) OnTurnComplete(result *conversation.TurnResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopSpinner()
	r.stats.Turns++
	r.stats.Malformed += result.Malformed
	cancelled := result.Err != nil && !result.Failed()

	if r.personality == PersonalityMachine {
		if answer := r.answer.String(); answer != "" {
			fmt.Fprintf(r.w, "ANSWER: %s\n", answer)
		}
		if r.failure != nil {
			fmt.Fprintf(r.w, "ERROR: %v\n", r.failure)
			fmt.Fprintf(r.w, "ANSWER: %s\n", conversation.FallbackReply)
		}
		if cancelled {
			fmt.Fprintln(r.w, "CANCELLED")
		}
		fmt.Fprintln(r.w, "DONE")
	} else {
		r.breakLine()
		if cancelled {
			fmt.Fprintln(r.w, Styles.Muted.Render("(cancelled)"))
		}
	}

	r.answer.Reset()
	r.labelled = false
	r.failure = nil
}

// Stats returns the statistics gathered so far.
func (r *ChatRenderer) Stats() SessionStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *ChatRenderer) stopSpinner() {
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}
}

func (r *ChatRenderer) writeLabel() {
	if r.labelled {
		return
	}
	r.labelled = true
	label := "Movi:"
	if r.personality == PersonalityFull {
		label = Styles.Assistant.Render(label)
	}
	fmt.Fprint(r.w, label+" ")
}

// breakLine ends a streamed answer line so the next output starts clean.
func (r *ChatRenderer) breakLine() {
	if r.labelled && !strings.HasSuffix(r.answer.String(), "\n") {
		fmt.Fprintln(r.w)
	}
	r.labelled = false
}
