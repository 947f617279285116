// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package devbackend

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var chatValidate = validator.New()

// ChatRequest is the body of POST /api/chat.
//
// # Fields
//
//   - Message: The user's text, or "yes"/"no" when answering a confirmation.
//   - SessionID: Stable id of the chat widget instance.
//   - ContextPage: Dashboard page tag such as "vehicles".
//   - ImageBase64: Optional attached image, raw base64 without a data URL
//     prefix.
type ChatRequest struct {
	Message     string `json:"message" validate:"required,max=32768"`
	SessionID   string `json:"session_id" validate:"required"`
	ContextPage string `json:"context_page"`
	ImageBase64 string `json:"image_base64,omitempty" validate:"omitempty,base64"`
}

// Validate checks the request fields.
func (r *ChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid chat request: %w", err)
	}
	return nil
}

// Responder produces the reply to one chat request.
//
// # Description
//
// Respond writes records to out as the reply is produced and returns when
// the reply is complete. A returned error is reported to the client as an
// in-band error record unless the client has already gone away.
//
// # Thread Safety
//
// Respond is called concurrently for different requests.
type Responder interface {
	// Name labels the responder in logs and metrics.
	Name() string

	Respond(ctx context.Context, req ChatRequest, out RecordWriter) error
}

// writeTokens splits text at word boundaries and writes each piece as a
// token. Spaces stay attached to the preceding word so that concatenating
// the tokens gives back text exactly.
func writeTokens(out RecordWriter, text string) error {
	for _, tok := range strings.SplitAfter(text, " ") {
		if tok == "" {
			continue
		}
		if err := out.WriteToken(tok); err != nil {
			return err
		}
	}
	return nil
}
