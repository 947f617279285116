// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Decision
// =============================================================================

// Decision is the user's answer to a confirmation. Its string value is sent
// verbatim as the follow-up message.
type Decision string

const (
	DecisionYes Decision = "yes"
	DecisionNo  Decision = "no"
)

// Valid reports whether d is yes or no.
func (d Decision) Valid() bool {
	return d == DecisionYes || d == DecisionNo
}

// ParseDecision accepts yes/y/no/n in any case.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y":
		return DecisionYes, nil
	case "no", "n":
		return DecisionNo, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrInvalidDecision)
	}
}

// =============================================================================
// Confirmation
// =============================================================================

// ConfirmationSource names the channel that raised a confirmation.
type ConfirmationSource string

const (
	SourceStream ConfirmationSource = "stream"
	SourceVoice  ConfirmationSource = "voice"
)

// Confirmation is the state of an open confirmation dialog.
type Confirmation struct {
	ID      string
	Message string

	// ConsequenceInfo is the raw payload from the backend, forwarded back
	// unchanged when the user decides.
	ConsequenceInfo map[string]any

	Source   ConfirmationSource
	OpenedAt time.Time
}

// =============================================================================
// Gate
// =============================================================================

// GateState is the state of the confirmation gate.
type GateState int

const (
	GateIdle GateState = iota
	GateAwaitingDecision
)

func (s GateState) String() string {
	switch s {
	case GateIdle:
		return "idle"
	case GateAwaitingDecision:
		return "awaiting_decision"
	default:
		return "unknown"
	}
}

// Gate is the human-in-the-loop checkpoint.
//
//	Idle --Open--> AwaitingDecision --Resolve(yes|no)--> Idle
//
// At most one confirmation is open at a time regardless of which channel
// raised it: while AwaitingDecision, further Open calls are no-ops and the
// first confirmation stays on screen. There is no timeout; a gate stays open
// until it is resolved.
//
// Gate is safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	state   GateState
	pending Confirmation
	opened  chan struct{}
	dropped int

	onOpen []func(Confirmation)
	logger *slog.Logger
	now    func() time.Time
}

// NewGate creates an idle gate. A nil logger uses slog.Default().
func NewGate(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		opened: make(chan struct{}),
		logger: logger,
		now:    time.Now,
	}
}

// OnOpen registers fn to run each time the gate opens. Callbacks run on the
// goroutine that opened the gate, after the gate's lock is released.
func (g *Gate) OnOpen(fn func(Confirmation)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onOpen = append(g.onOpen, fn)
}

// Open moves the gate to AwaitingDecision with c. It returns false, and
// changes nothing, if a confirmation is already pending.
func (g *Gate) Open(c Confirmation) bool {
	g.mu.Lock()
	if g.state == GateAwaitingDecision {
		g.dropped++
		current := g.pending
		g.mu.Unlock()

		g.logger.Info("confirmation already pending, ignoring new trigger",
			"pending_id", current.ID,
			"pending_source", string(current.Source),
			"ignored_source", string(c.Source),
		)
		return false
	}

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.OpenedAt.IsZero() {
		c.OpenedAt = g.now()
	}
	c.ConsequenceInfo = maps.Clone(c.ConsequenceInfo)

	g.state = GateAwaitingDecision
	g.pending = c
	close(g.opened)
	callbacks := slices.Clone(g.onOpen)
	g.mu.Unlock()

	g.logger.Info("confirmation requested",
		"confirmation_id", c.ID,
		"source", string(c.Source),
	)
	for _, fn := range callbacks {
		fn(c)
	}
	return true
}

// Resolve closes the pending confirmation and returns it.
func (g *Gate) Resolve(d Decision) (Confirmation, error) {
	if !d.Valid() {
		return Confirmation{}, fmt.Errorf("%q: %w", d, ErrInvalidDecision)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != GateAwaitingDecision {
		return Confirmation{}, ErrNoPendingConfirmation
	}

	c := g.pending
	g.state = GateIdle
	g.pending = Confirmation{}
	g.opened = make(chan struct{})
	return c, nil
}

// Pending returns the open confirmation, if any.
func (g *Gate) Pending() (Confirmation, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending, g.state == GateAwaitingDecision
}

// State returns the current gate state.
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Dropped returns how many Open calls were ignored because a confirmation
// was already pending.
func (g *Gate) Dropped() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}

// Await blocks until a confirmation is pending or ctx ends.
func (g *Gate) Await(ctx context.Context) (Confirmation, error) {
	for {
		g.mu.Lock()
		if g.state == GateAwaitingDecision {
			c := g.pending
			g.mu.Unlock()
			return c, nil
		}
		opened := g.opened
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return Confirmation{}, ctx.Err()
		case <-opened:
		}
	}
}
