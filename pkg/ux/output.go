// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux renders Movi conversations in a terminal.
//
// Everything here respects the active personality: full and minimal modes
// use lipgloss styling, machine mode prints KEY: value lines for scripts.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Movi palette: fleet-dashboard indigo with signal colors.
var (
	ColorIndigoBright = lipgloss.Color("#8B93FF") // Highlights, prompt
	ColorIndigo       = lipgloss.Color("#5C6BF2") // Brand, assistant label
	ColorIndigoDeep   = lipgloss.Color("#3A44B8") // Borders
	ColorSlate        = lipgloss.Color("#5B6478") // Muted text

	ColorSuccess = lipgloss.Color("#3DD68C")
	ColorWarning = lipgloss.Color("#F5B841")
	ColorError   = lipgloss.Color("#EF5B5B")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Subtitle  lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Subtitle:  lipgloss.NewStyle().Foreground(ColorIndigo),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorIndigoBright).Bold(true),
	User:      lipgloss.NewStyle().Bold(true).Foreground(ColorSuccess),
	Assistant: lipgloss.NewStyle().Bold(true).Foreground(ColorIndigo),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorIndigoDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
	IconMic     Icon = "🎙"
	IconChat    Icon = "💬"
	IconTime    Icon = "⏱"
)

// Render colors the status icons; the rest are returned as is.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Destinations for the print helpers. Tests swap them for buffers.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// The helpers below are for command-level status lines outside a chat
// session. Machine mode keeps stdout for results and sends problems to
// stderr.

// Success prints a status line with a checkmark.
func Success(text string) {
	printStatus(stdout, "OK", IconSuccess, Styles.Success, text)
}

// Warning prints a warning.
func Warning(text string) {
	printStatus(stderr, "WARN", IconWarning, Styles.Warning, text)
}

// Error prints an error.
func Error(text string) {
	printStatus(stderr, "ERROR", IconError, Styles.Error, text)
}

func printStatus(machineOut io.Writer, tag string, icon Icon, style lipgloss.Style, text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(machineOut, "%s: %s\n", tag, text)
	case PersonalityMinimal:
		fmt.Fprintf(stdout, "%s %s\n", icon.Render(), text)
	default:
		fmt.Fprintf(stdout, "%s %s\n", icon.Render(), style.Render(text))
	}
}
