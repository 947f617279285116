// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is an immutable view of the transcript.
//
// Every mutation publishes a new Snapshot with a higher Version and a new
// Messages slice, so observers can detect change by comparing versions (or
// slice identity) without diffing contents. Do not modify Messages.
type Snapshot struct {
	Version  uint64
	Messages []Message
}

// Len returns the number of messages.
func (s Snapshot) Len() int { return len(s.Messages) }

// Last returns the most recent message, if any.
func (s Snapshot) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// =============================================================================
// Transcript
// =============================================================================

// Transcript is the chat history shared between the coordinator and the
// rendering layer.
//
// All mutation goes through named operations that either append a message or
// replace the last one; no other index is ever written. Together with the
// coordinator's send serialization this keeps one turn's tokens from landing
// in another turn's message.
//
// Observers run synchronously, in mutation order, after each change. They
// may call Snapshot but must not mutate the transcript.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
	version  uint64

	notifyMu  sync.Mutex
	observers []func(Snapshot)

	now   func() time.Time
	newID func() string
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Observe registers fn to receive every new snapshot.
func (t *Transcript) Observe(fn func(Snapshot)) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	t.observers = append(t.observers, fn)
}

// Snapshot returns the current state.
func (t *Transcript) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{Version: t.version, Messages: t.messages}
}

// AppendUserMessage records a user message. Text and image are set together
// before the message becomes visible.
func (t *Transcript) AppendUserMessage(text, image string) Message {
	return t.appendMessage(Message{
		Role:    RoleUser,
		Content: text,
		Image:   image,
		State:   StateEnded,
	})
}

// AppendDecisionMessage records a confirmation answer as a user message whose
// content is the literal decision.
func (t *Transcript) AppendDecisionMessage(d Decision) Message {
	return t.AppendUserMessage(string(d), "")
}

// AppendAssistantPlaceholder appends an empty assistant message that later
// token deltas fill in.
func (t *Transcript) AppendAssistantPlaceholder() Message {
	return t.appendMessage(Message{
		Role:  RoleAssistant,
		State: StateLoading,
	})
}

// AppendAssistantNotice appends a complete assistant message that did not
// come from a stream, such as the fallback reply after a transport failure.
func (t *Transcript) AppendAssistantNotice(text string) Message {
	return t.appendMessage(Message{
		Role:    RoleAssistant,
		Content: text,
		State:   StateEnded,
	})
}

// ApplyTokenDelta replaces the content of placeholder id with content, the
// accumulated text so far. The placeholder must still be the last message
// and must not be ended.
func (t *Transcript) ApplyTokenDelta(id, content string) (Message, error) {
	return t.replaceLast(id, func(m *Message) error {
		if m.State == StateEnded {
			return ErrMessageFrozen
		}
		m.Content = content
		m.State = StateStreaming
		return nil
	})
}

// FinishAssistantMessage freezes placeholder id.
func (t *Transcript) FinishAssistantMessage(id string) (Message, error) {
	return t.replaceLast(id, func(m *Message) error {
		m.State = StateEnded
		return nil
	})
}

func (t *Transcript) appendMessage(m Message) Message {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	m.ID = t.newID()
	m.Timestamp = t.now()
	next := make([]Message, len(t.messages), len(t.messages)+1)
	copy(next, t.messages)
	t.messages = append(next, m)
	t.version++
	snap := Snapshot{Version: t.version, Messages: t.messages}
	t.mu.Unlock()

	t.notify(snap)
	return m
}

func (t *Transcript) replaceLast(id string, mutate func(*Message) error) (Message, error) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	n := len(t.messages)
	if n == 0 || t.messages[n-1].ID != id {
		t.mu.Unlock()
		return Message{}, fmt.Errorf("message %s: %w", id, ErrNotLastMessage)
	}

	last := t.messages[n-1]
	if err := mutate(&last); err != nil {
		t.mu.Unlock()
		return Message{}, fmt.Errorf("message %s: %w", id, err)
	}

	next := make([]Message, n)
	copy(next, t.messages[:n-1])
	next[n-1] = last
	t.messages = next
	t.version++
	snap := Snapshot{Version: t.version, Messages: t.messages}
	t.mu.Unlock()

	t.notify(snap)
	return last, nil
}

// notify must be called with notifyMu held.
func (t *Transcript) notify(snap Snapshot) {
	for _, fn := range t.observers {
		fn(snap)
	}
}
