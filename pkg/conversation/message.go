// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageState tracks an assistant message through its stream.
type MessageState string

const (
	// StateLoading is a placeholder that has not received a token yet.
	StateLoading MessageState = "loading"

	// StateStreaming is a placeholder that is receiving tokens.
	StateStreaming MessageState = "streaming"

	// StateEnded is a message whose content is frozen.
	StateEnded MessageState = "ended"
)

// Message is one entry of the chat history.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time

	// Image is a base64 payload without any data URL prefix. Only user
	// messages carry one.
	Image string

	State MessageState
}

// IsPlaceholder reports whether the message is an assistant message still
// waiting for or receiving tokens.
func (m Message) IsPlaceholder() bool {
	return m.Role == RoleAssistant && m.State != StateEnded
}
