// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

// Observer receives turn lifecycle events from the Coordinator.
//
// Methods are called synchronously on the goroutine driving the turn, except
// OnConfirmation, which runs on whichever goroutine opened the gate (the
// stream reader or the voice channel). Implementations must not call back
// into the Coordinator's send methods.
type Observer interface {
	// OnUserMessage is called after a user message (including a yes/no
	// decision) is appended.
	OnUserMessage(msg Message)

	// OnPlaceholder is called once per successful response, before the
	// first token.
	OnPlaceholder(msg Message)

	// OnToken is called after each token delta is applied. msg holds the
	// accumulated content.
	OnToken(msg Message, delta string)

	// OnConfirmation is called when the gate opens.
	OnConfirmation(c Confirmation)

	// OnStreamError is called for in-band error events.
	OnStreamError(message string)

	// OnTransportError is called after the fallback reply is appended.
	OnTransportError(err error)

	// OnTurnComplete is called when a turn has finished, whatever the outcome.
	OnTurnComplete(result *TurnResult)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnUserMessage(Message)       {}
func (NopObserver) OnPlaceholder(Message)       {}
func (NopObserver) OnToken(Message, string)     {}
func (NopObserver) OnConfirmation(Confirmation) {}
func (NopObserver) OnStreamError(string)        {}
func (NopObserver) OnTransportError(error)      {}
func (NopObserver) OnTurnComplete(*TurnResult)  {}

var _ Observer = NopObserver{}
