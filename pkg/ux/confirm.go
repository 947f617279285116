// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/jinterlante1206/movi-assistant/pkg/conversation"
)

// =============================================================================
// Confirmer
// =============================================================================

// Confirmer asks the user to answer an open confirmation.
//
// # Description
//
// The renderer only displays a confirmation. After the turn completes the
// CLI checks the gate and, if it is open, asks a Confirmer for the decision
// and hands it to Coordinator.SendConfirmation.
//
// # Outputs
//
// A valid Decision, or an error when no answer could be collected. Callers
// leave the gate open on error.
type Confirmer interface {
	Confirm(ctx context.Context, c conversation.Confirmation) (conversation.Decision, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, c conversation.Confirmation) (conversation.Decision, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, c conversation.Confirmation) (conversation.Decision, error) {
	return f(ctx, c)
}

// =============================================================================
// Dialog Confirmer
// =============================================================================

// DialogConfirmer shows a huh yes/no dialog. Use it only when IsInteractive
// reports true. Aborting the dialog (ctrl+c, esc) answers no.
type DialogConfirmer struct{}

func (DialogConfirmer) Confirm(ctx context.Context, c conversation.Confirmation) (conversation.Decision, error) {
	approved := false
	title := c.Message
	if title == "" {
		title = "Confirm this action?"
	}

	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(describeConsequences(c.ConsequenceInfo)).
			Affirmative("Yes").
			Negative("No").
			Value(&approved),
	))

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return conversation.DecisionNo, nil
		}
		return "", fmt.Errorf("confirmation dialog: %w", err)
	}
	if approved {
		return conversation.DecisionYes, nil
	}
	return conversation.DecisionNo, nil
}

// describeConsequences lists the payload fields other than the message.
func describeConsequences(info map[string]any) string {
	keys := make([]string, 0, len(info))
	for k := range info {
		if k != "message" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, info[k])
	}
	return strings.Join(parts, ", ")
}

// =============================================================================
// Line Confirmer
// =============================================================================

// LineSource reads one line of user input. Implementations must return when
// ctx ends.
type LineSource interface {
	ReadLine(ctx context.Context, prompt string) (string, error)
}

// LineConfirmer asks for yes/no on a plain line prompt. It is used in
// machine and minimal modes and whenever stdin is not a terminal.
//
// Invalid answers re-prompt. End of input answers no.
type LineConfirmer struct {
	Source LineSource

	// Prompt defaults to "Confirm? [yes/no]: ".
	Prompt string
}

func (l LineConfirmer) Confirm(ctx context.Context, _ conversation.Confirmation) (conversation.Decision, error) {
	prompt := l.Prompt
	if prompt == "" {
		prompt = "Confirm? [yes/no]: "
	}
	for {
		line, err := l.Source.ReadLine(ctx, prompt)
		if errors.Is(err, io.EOF) {
			return conversation.DecisionNo, nil
		}
		if err != nil {
			return "", err
		}
		if d, err := conversation.ParseDecision(line); err == nil {
			return d, nil
		}
		prompt = "Please answer yes or no: "
	}
}

// =============================================================================
// Timeout
// =============================================================================

// WithTimeout answers no when c has not decided within d. A zero or
// negative d returns c unchanged.
func WithTimeout(c Confirmer, d time.Duration) Confirmer {
	if d <= 0 {
		return c
	}
	return ConfirmerFunc(func(ctx context.Context, conf conversation.Confirmation) (conversation.Decision, error) {
		tctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		decision, err := c.Confirm(tctx, conf)
		if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return conversation.DecisionNo, nil
		}
		return decision, err
	})
}
