// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package devbackend

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// =============================================================================
// Destructive Actions
// =============================================================================

var (
	actionPattern = regexp.MustCompile(`(?i)\b(delete|remove|unassign)\b(.*)`)
	countPattern  = regexp.MustCompile(`\d+`)
)

var pastTense = map[string]string{
	"delete":   "deleted",
	"remove":   "removed",
	"unassign": "unassigned",
}

// action is a destructive request waiting for the user's decision.
type action struct {
	Verb   string
	Object string
	Count  int
	Page   string
}

// planAction recognises requests that need a confirmation, such as
// "delete 5 vehicles" or "unassign driver 12 from route 4".
func planAction(text, page string) (action, bool) {
	m := actionPattern.FindStringSubmatch(text)
	if m == nil {
		return action{}, false
	}
	a := action{
		Verb:   strings.ToLower(m[1]),
		Object: strings.TrimRight(strings.TrimSpace(m[2]), "?.!"),
		Page:   page,
	}
	if a.Object == "" {
		a.Object = "the selected items"
	}
	if n := countPattern.FindString(a.Object); n != "" {
		a.Count, _ = strconv.Atoi(n)
	}
	return a, true
}

// actionFromPayload rebuilds an action from a confirmation payload echoed
// back by the client.
func actionFromPayload(info map[string]any) (action, bool) {
	verb, _ := info["action"].(string)
	if _, ok := pastTense[verb]; !ok {
		return action{}, false
	}
	object, _ := info["object"].(string)
	page, _ := info["context_page"].(string)
	a := action{Verb: verb, Object: object, Page: page}
	switch n := info["count"].(type) {
	case float64:
		a.Count = int(n)
	case int:
		a.Count = n
	}
	return a, true
}

// Prompt is the confirmation message, e.g. "Delete 5 vehicles?".
func (a action) Prompt() string {
	return strings.ToUpper(a.Verb[:1]) + a.Verb[1:] + " " + a.Object + "?"
}

// Payload is the confirmation payload sent to the client.
func (a action) Payload() map[string]any {
	p := map[string]any{
		"message":      a.Prompt(),
		"action":       a.Verb,
		"object":       a.Object,
		"context_page": a.Page,
	}
	if a.Count > 0 {
		p["count"] = a.Count
	}
	return p
}

// Done is the reply after a "yes".
func (a action) Done() string {
	past := pastTense[a.Verb]
	return "Done. " + strings.ToUpper(past[:1]) + past[1:] + " " + a.Object + "."
}

// Cancelled is the reply after a "no".
func (a action) Cancelled() string {
	return "Okay, nothing was " + pastTense[a.Verb] + "."
}

// =============================================================================
// Scripted Responder
// =============================================================================

// ScriptedResponder answers from a fixed script. It needs no model and is
// deterministic, which makes it the default for development and tests.
//
// # Script
//
//   - "delete", "remove" or "unassign" anywhere in the message streams
//     "Proceeding ", a confirmation, then the rest of the sentence. The
//     action is remembered for the session.
//   - "yes" or "no" while an action is pending completes or cancels it.
//   - A message containing "error" streams an in-band error record followed
//     by a normal reply.
//   - Greetings get a greeting; images are acknowledged with their size.
//   - Anything else gets a short description of the current page.
//
// # Thread Safety
//
// Safe for concurrent use.
type ScriptedResponder struct {
	mu      sync.Mutex
	pending map[string]action
}

// NewScriptedResponder creates a ScriptedResponder with no pending actions.
func NewScriptedResponder() *ScriptedResponder {
	return &ScriptedResponder{pending: make(map[string]action)}
}

func (s *ScriptedResponder) Name() string { return "scripted" }

func (s *ScriptedResponder) Respond(_ context.Context, req ChatRequest, out RecordWriter) error {
	text := strings.TrimSpace(req.Message)
	lower := strings.ToLower(text)
	page := req.ContextPage
	if page == "" || page == "unknown" {
		page = "dashboard"
	}

	if lower == "yes" || lower == "no" {
		if a, ok := s.take(req.SessionID); ok {
			if lower == "yes" {
				return writeTokens(out, a.Done())
			}
			return writeTokens(out, a.Cancelled())
		}
		return writeTokens(out, "There is nothing waiting for a decision.")
	}

	if a, ok := planAction(text, page); ok {
		s.put(req.SessionID, a)
		if err := out.WriteToken("Proceeding "); err != nil {
			return err
		}
		if err := out.WriteConfirmation(a.Payload()); err != nil {
			return err
		}
		return writeTokens(out, "with your request once you confirm.")
	}

	if strings.Contains(lower, "error") {
		if err := out.WriteError("simulated backend error"); err != nil {
			return err
		}
		return writeTokens(out, "Something went wrong on my side, but I'm still here.")
	}

	var reply strings.Builder
	if req.ImageBase64 != "" {
		size := base64.StdEncoding.DecodedLen(len(req.ImageBase64))
		fmt.Fprintf(&reply, "I received your image (about %d bytes). ", size)
	}
	switch {
	case isGreeting(lower):
		fmt.Fprintf(&reply, "Hello! How can I help you with %s today?", page)
	default:
		fmt.Fprintf(&reply, "You're on the %s page. I can look things up or make changes to %s for you.", page, page)
	}
	return writeTokens(out, reply.String())
}

func (s *ScriptedResponder) put(sessionID string, a action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[sessionID] = a
}

func (s *ScriptedResponder) take(sessionID string) (action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.pending[sessionID]
	delete(s.pending, sessionID)
	return a, ok
}

func isGreeting(lower string) bool {
	for _, g := range []string{"hello", "hi", "hey"} {
		if lower == g || strings.HasPrefix(lower, g+" ") || strings.HasPrefix(lower, g+"!") || strings.HasPrefix(lower, g+",") {
			return true
		}
	}
	return false
}

var _ Responder = (*ScriptedResponder)(nil)
