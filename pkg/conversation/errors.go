// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage is returned when neither text nor an image was given.
	ErrEmptyMessage = errors.New("message has no text and no image")

	// ErrClosed is returned by operations on a closed coordinator.
	ErrClosed = errors.New("coordinator is closed")

	// ErrNoPendingConfirmation is returned when resolving an idle gate.
	ErrNoPendingConfirmation = errors.New("no confirmation is pending")

	// ErrInvalidDecision is returned for decisions other than yes or no.
	ErrInvalidDecision = errors.New("decision must be yes or no")

	// ErrNotLastMessage is returned when a token delta targets a message
	// that is no longer the last one in the transcript.
	ErrNotLastMessage = errors.New("message is not the last in the transcript")

	// ErrMessageFrozen is returned when a token delta targets an ended message.
	ErrMessageFrozen = errors.New("message content is frozen")
)

// HTTPStatusError reports a non-2xx answer from the chat backend.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("chat backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat backend returned status %d: %s", e.StatusCode, e.Body)
}

var _ error = (*HTTPStatusError)(nil)
