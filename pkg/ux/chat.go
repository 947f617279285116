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
	"time"

	"github.com/jinterlante1206/movi-assistant/pkg/conversation"
)

// HeaderConfig contains what the chat header displays.
//
// # Fields
//
//   - SessionID: The coordinator's session id.
//   - ContextPage: The dashboard page tag sent with every request.
//   - APIURL: The chat endpoint in use.
//   - Voice: True when a voice channel is connected.
type HeaderConfig struct {
	SessionID   string
	ContextPage string
	APIURL      string
	Voice       bool
}

// SessionStats aggregates a chat session for the goodbye summary.
//
// # Fields
//
//   - Turns: Completed request/response turns, including voice decisions.
//   - Tokens: Token deltas applied across all turns.
//   - Malformed: Stream records dropped as malformed.
//   - Confirmations: Confirmation prompts shown.
//   - StreamErrors: In-band error events received.
//   - Failures: Turns that ended in the fallback reply.
//   - Duration: Wall time of the session, filled in by the caller.
type SessionStats struct {
	Turns         int
	Tokens        int
	Malformed     int64
	Confirmations int
	StreamErrors  int
	Failures      int
	Duration      time.Duration
}

// ChatUI renders the parts of a chat session that are not a streamed turn.
type ChatUI interface {
	// Header displays the session banner.
	Header(config HeaderConfig)

	// Prompt returns the styled input prompt string.
	Prompt() string

	// History prints the transcript.
	History(messages []conversation.Message)

	// Notice prints a one-line status message such as "voice mode on".
	Notice(text string)

	// Error displays a chat error that did not come from a turn.
	Error(err error)

	// SessionEnd displays the goodbye summary.
	SessionEnd(sessionID string, stats SessionStats)
}

// terminalChatUI implements ChatUI for terminal output
type terminalChatUI struct {
	writer      io.Writer
	personality PersonalityLevel
}

// NewChatUI creates a ChatUI on stdout with the current personality.
func NewChatUI() ChatUI {
	return NewChatUIWithWriter(stdout, GetPersonality().Level)
}

// NewChatUIWithWriter creates a ChatUI with a custom writer (for testing)
func NewChatUIWithWriter(w io.Writer, personality PersonalityLevel) ChatUI {
	return &terminalChatUI{
		writer:      w,
		personality: personality,
	}
}

// write ignores errors; there is no recovery from a failed terminal write.
func (u *terminalChatUI) write(format string, args ...any) {
	_, _ = fmt.Fprintf(u.writer, format, args...)
}

func (u *terminalChatUI) writeln(args ...any) {
	_, _ = fmt.Fprintln(u.writer, args...)
}

func (u *terminalChatUI) Header(config HeaderConfig) {
	switch u.personality {
	case PersonalityMachine:
		parts := []string{
			"session=" + config.SessionID,
			"page=" + config.ContextPage,
		}
		if config.Voice {
			parts = append(parts, "voice=on")
		}
		u.write("CHAT_START: %s\n", strings.Join(parts, " "))
	case PersonalityMinimal:
		u.write("Movi assistant (page: %s)\n", config.ContextPage)
		u.writeln("Type /help for commands, /exit to quit.")
	default:
		var content strings.Builder
		content.WriteString(Styles.Highlight.Render("Movi Assistant"))
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Page: %s", Styles.Success.Render(config.ContextPage)))
		if config.Voice {
			content.WriteString(" | " + IconMic.Render() + " voice")
		}
		if config.APIURL != "" {
			content.WriteString("\n")
			content.WriteString(fmt.Sprintf("Backend: %s", Styles.Muted.Render(config.APIURL)))
		}
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Session: %s", Styles.Muted.Render(config.SessionID)))

		u.writeln(Styles.Box.Width(60).Render(content.String()))
		if GetPersonality().ShowHints {
			u.writeln(Styles.Muted.Render("Type /help for commands, /exit to quit."))
		}
		u.writeln()
	}
}

func (u *terminalChatUI) Prompt() string {
	if u.personality != PersonalityFull {
		return "> "
	}
	return Styles.Highlight.Render("> ")
}

func (u *terminalChatUI) History(messages []conversation.Message) {
	if len(messages) == 0 {
		if u.personality == PersonalityMachine {
			u.writeln("HISTORY: empty")
		} else {
			u.writeln(Styles.Muted.Render("(no messages yet)"))
		}
		return
	}

	for _, m := range messages {
		content := m.Content
		if m.Image != "" {
			content += " [image]"
		}
		if u.personality == PersonalityMachine {
			u.write("HISTORY: %s %s %s\n", m.Role, m.Timestamp.Format(time.RFC3339), content)
			continue
		}
		label := "Movi:"
		style := Styles.Assistant
		if m.Role == conversation.RoleUser {
			label = "You:"
			style = Styles.User
		}
		if u.personality == PersonalityFull {
			label = style.Render(label)
		}
		u.write("%s %s %s\n", Styles.Muted.Render(m.Timestamp.Format("15:04:05")), label, content)
	}
}

func (u *terminalChatUI) Notice(text string) {
	if u.personality == PersonalityMachine {
		u.write("NOTICE: %s\n", text)
		return
	}
	u.write("%s %s\n", IconArrow.Render(), Styles.Muted.Render(text))
}

func (u *terminalChatUI) Error(err error) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_ERROR: %v\n", err)
		return
	}
	u.write("%s %s\n", IconError.Render(), Styles.Error.Render(fmt.Sprintf("Chat error: %v", err)))
}

func (u *terminalChatUI) SessionEnd(sessionID string, stats SessionStats) {
	switch u.personality {
	case PersonalityMachine:
		u.write("CHAT_END: session=%s turns=%d tokens=%d malformed=%d confirmations=%d failures=%d duration=%s\n",
			sessionID, stats.Turns, stats.Tokens, stats.Malformed, stats.Confirmations, stats.Failures,
			stats.Duration.Round(time.Millisecond))
	case PersonalityMinimal:
		u.writeln()
		u.write("Turns: %d | Tokens: %d | Duration: %s\n",
			stats.Turns, stats.Tokens, formatDuration(stats.Duration))
		u.writeln("Goodbye!")
	default:
		u.sessionEndFull(sessionID, stats)
	}
}

func (u *terminalChatUI) sessionEndFull(sessionID string, stats SessionStats) {
	var content strings.Builder
	content.WriteString(Styles.Subtitle.Render("Session Summary"))
	content.WriteString("\n\n")
	content.WriteString(fmt.Sprintf("  %s  %s\n", Styles.Muted.Render("ID:"), Styles.Highlight.Render(sessionID)))
	content.WriteString(fmt.Sprintf("  %s  %d turns, %d tokens\n", IconChat.Render(), stats.Turns, stats.Tokens))
	if stats.Confirmations > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d confirmations\n", IconWarning.Render(), stats.Confirmations))
	}
	if stats.Malformed > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d malformed records skipped\n", IconBullet.Render(), stats.Malformed))
	}
	if stats.Failures > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d failed turns\n", IconError.Render(), stats.Failures))
	}
	content.WriteString(fmt.Sprintf("  %s  %s", IconTime.Render(), formatDuration(stats.Duration)))

	u.writeln()
	u.writeln(Styles.Box.Width(60).Render(content.String()))
	u.writeln(Styles.Highlight.Render("Goodbye!"))
}

// formatDuration formats a duration for human-readable display.
//
//	formatDuration(500*time.Millisecond) // "500ms"
//	formatDuration(5*time.Second)        // "5.0s"
//	formatDuration(90*time.Second)       // "1m 30s"
//	formatDuration(2*time.Hour)          // "2h 0m"
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, mins)
}
