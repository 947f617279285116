// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package voice is the websocket side-channel used by voice sessions.
//
// Every frame is a JSON object {"type": ..., "payload": {...}}. The client
// announces itself with hello, forwards recognised speech as utterance, and
// answers confirmations with confirmation_response. The server pushes
// confirmation, transcript, and error frames.
package voice

import (
	"encoding/json"
	"fmt"
)

// Frame types sent by the client.
const (
	FrameHello                = "hello"
	FrameUtterance            = "utterance"
	FrameConfirmationResponse = "confirmation_response"
)

// Frame types sent by the server.
const (
	FrameConfirmation = "confirmation"
	FrameTranscript   = "transcript"
	FrameError        = "error"
)

// Frame is the envelope for every message on the socket.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload opens a voice session.
type HelloPayload struct {
	SessionID   string `json:"session_id"`
	ContextPage string `json:"context_page"`
}

// UtterancePayload carries recognised speech.
type UtterancePayload struct {
	Text string `json:"text"`
}

// ConfirmationResponsePayload answers a confirmation. ConsequenceInfo is the
// payload of the confirmation being answered, echoed back unchanged.
type ConfirmationResponsePayload struct {
	Decision        string         `json:"decision"`
	ConsequenceInfo map[string]any `json:"consequence_info,omitempty"`
}

// TranscriptPayload is text the server wants shown in the chat.
type TranscriptPayload struct {
	Text string `json:"text"`
}

// ErrorPayload reports a server-side failure.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewFrame marshals payload into a frame of type frameType.
func NewFrame(frameType string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", frameType, err)
	}
	return Frame{Type: frameType, Payload: raw}, nil
}

// Decode unmarshals the frame's payload into dst.
func (f Frame) Decode(dst any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Type)
	}
	if err := json.Unmarshal(f.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return nil
}

// ConfirmationMessage extracts the human-readable prompt and the full payload
// of a confirmation frame. The message field is optional.
func (f Frame) ConfirmationMessage() (string, map[string]any, error) {
	var info map[string]any
	if err := f.Decode(&info); err != nil {
		return "", nil, err
	}
	msg, _ := info["message"].(string)
	return msg, info, nil
}
