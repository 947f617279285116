// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jinterlante1206/movi-assistant/pkg/conversation"
	"github.com/jinterlante1206/movi-assistant/pkg/ux"
	"github.com/jinterlante1206/movi-assistant/pkg/voice"
)

// errReadInterrupted is returned by readLine when a voice confirmation
// opened while the REPL was waiting for input.
var errReadInterrupted = errors.New("input interrupted by confirmation")

// errVoiceUnavailable is shown when /voice is used without a voice URL.
var errVoiceUnavailable = errors.New("voice is not configured (set voice_url)")

// answerPrompt is shown while a confirmation waits for a typed answer.
const answerPrompt = "Type yes or no to answer."

// =============================================================================
// Configuration
// =============================================================================

// ChatRunnerConfig wires a ChatRunner.
//
// # Fields
//
//   - Coordinator: Owns the conversation. Required.
//   - Renderer: The coordinator's observer; supplies session statistics.
//     Required.
//   - UI: Header, history, notices, and the goodbye summary. Required.
//   - Input: Source of user lines. Required.
//   - Confirmer: Collects decisions for open confirmations. Required.
//   - DialVoice: Opens the voice side-channel. Nil disables /voice.
//   - RequestTimeout: Bounds each turn. Zero means no limit.
//   - Header: Shown when the session starts.
//   - Logger: Defaults to slog.Default().
type ChatRunnerConfig struct {
	Coordinator    *conversation.Coordinator
	Renderer       *ux.ChatRenderer
	UI             ux.ChatUI
	Input          ux.LineSource
	Confirmer      ux.Confirmer
	DialVoice      func(ctx context.Context) (*voice.Client, error)
	RequestTimeout time.Duration
	Header         ux.HeaderConfig
	Logger         *slog.Logger
}

// =============================================================================
// Chat Runner
// =============================================================================

// ChatRunner is the interactive chat loop.
//
// # Description
//
// Each iteration:
//
//  1. If a confirmation is open, ask the Confirmer and send the decision.
//  2. Read a line. Lines starting with "/" are commands; anything else is
//     sent as a message. While a confirmation is open, typing "yes" or
//     "no" answers it.
//
// The loop ends on /exit, end of input, or ctx ending, and always prints
// the session summary.
//
// # Voice Mode
//
// "/voice <text>" connects the voice channel on first use and sends text as
// an utterance. Confirmations arriving over voice interrupt the input
// prompt so the Confirmer can ask right away; decisions go back over the
// socket. "/voice off" disconnects.
//
// # Thread Safety
//
// Run must be called once. The voice reader runs on its own goroutine and
// only touches the coordinator's gate, the UI, and the read interrupt.
type ChatRunner struct {
	coord          *conversation.Coordinator
	renderer       *ux.ChatRenderer
	ui             ux.ChatUI
	input          ux.LineSource
	confirmer      ux.Confirmer
	dialVoice      func(ctx context.Context) (*voice.Client, error)
	requestTimeout time.Duration
	header         ux.HeaderConfig
	logger         *slog.Logger

	// deferred is the id of a confirmation the Confirmer failed on; the
	// user answers it by typing yes or no.
	deferred string

	readMu     sync.Mutex
	cancelRead context.CancelFunc

	voiceClient *voice.Client
	voiceCancel context.CancelFunc
	voiceDone   chan struct{}
	voiceAlive  atomic.Bool
}

// NewChatRunner creates a ChatRunner.
func NewChatRunner(cfg ChatRunnerConfig) *ChatRunner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ChatRunner{
		coord:          cfg.Coordinator,
		renderer:       cfg.Renderer,
		ui:             cfg.UI,
		input:          cfg.Input,
		confirmer:      cfg.Confirmer,
		dialVoice:      cfg.DialVoice,
		requestTimeout: cfg.RequestTimeout,
		header:         cfg.Header,
		logger:         cfg.Logger,
	}
}

// Run drives the session until the user leaves. It returns nil on a normal
// exit, including ctx ending.
func (r *ChatRunner) Run(ctx context.Context) error {
	start := time.Now()
	r.ui.Header(r.header)
	r.logger.Info("Chat session started", "session_id", r.coord.Session().ID())

	defer func() {
		r.stopVoice()
		stats := r.renderer.Stats()
		stats.Duration = time.Since(start)
		r.ui.SessionEnd(r.coord.Session().ID(), stats)
		r.logger.Info("Chat session ended",
			"session_id", r.coord.Session().ID(),
			"turns", stats.Turns,
			"duration", stats.Duration,
		)
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.resolvePending(ctx); err != nil {
			return r.exitErr(ctx, err)
		}

		line, err := r.readLine(ctx)
		switch {
		case errors.Is(err, errReadInterrupted):
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return r.exitErr(ctx, fmt.Errorf("read input: %w", err))
		}
		if line == "" {
			continue
		}

		done, err := r.handleLine(ctx, line)
		if err != nil {
			return r.exitErr(ctx, err)
		}
		if done {
			return nil
		}
	}
}

// exitErr hides errors caused by ctx ending; those are a normal exit.
func (r *ChatRunner) exitErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, conversation.ErrClosed) {
		return nil
	}
	return err
}

// readLine reads one line. A voice confirmation opening during the read
// cancels it and returns errReadInterrupted.
func (r *ChatRunner) readLine(ctx context.Context) (string, error) {
	readCtx, cancel := context.WithCancel(ctx)
	r.readMu.Lock()
	r.cancelRead = cancel
	r.readMu.Unlock()

	// A voice confirmation may have opened after resolvePending looked.
	if conf, open := r.coord.Gate().Pending(); open && conf.ID != r.deferred {
		cancel()
	}

	line, err := r.input.ReadLine(readCtx, r.ui.Prompt())

	r.readMu.Lock()
	r.cancelRead = nil
	r.readMu.Unlock()
	interrupted := readCtx.Err() != nil
	cancel()

	if err != nil && ctx.Err() == nil && interrupted {
		return "", errReadInterrupted
	}
	return line, err
}

func (r *ChatRunner) interruptRead() {
	r.readMu.Lock()
	defer r.readMu.Unlock()
	if r.cancelRead != nil {
		r.cancelRead()
	}
}

// turnContext bounds one turn by the request timeout.
func (r *ChatRunner) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.requestTimeout)
}

// =============================================================================
// Lines and Commands
// =============================================================================

// handleLine runs one user line. done is true when the session should end.
func (r *ChatRunner) handleLine(ctx context.Context, line string) (done bool, err error) {
	if !strings.HasPrefix(line, "/") {
		if _, open := r.coord.Gate().Pending(); open {
			decision, perr := conversation.ParseDecision(line)
			if perr != nil {
				r.ui.Notice(answerPrompt)
				return false, nil
			}
			return false, r.decide(ctx, decision)
		}
		return false, r.send(ctx, line, "")
	}

	command, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(command) {
	case "exit", "quit":
		return true, nil
	case "help":
		r.showHelp()
	case "history":
		r.ui.History(r.coord.Transcript().Snapshot().Messages)
	case "image":
		return false, r.sendImage(ctx, arg)
	case "voice":
		return false, r.handleVoice(ctx, arg)
	default:
		r.ui.Error(fmt.Errorf("unknown command /%s (try /help)", command))
	}
	return false, nil
}

func (r *ChatRunner) showHelp() {
	for _, line := range []string{
		"/image <path> [text]   send an image, with optional text",
		"/voice <text>          speak through the voice channel",
		"/voice off             disconnect the voice channel",
		"/history               show the conversation so far",
		"/exit                  end the session",
	} {
		r.ui.Notice(line)
	}
}

// send runs one message turn. Turn failures are rendered by the observer;
// only errors that end the session are returned.
func (r *ChatRunner) send(ctx context.Context, text, image string) error {
	turnCtx, cancel := r.turnContext(ctx)
	defer cancel()

	_, err := r.coord.SendMessage(turnCtx, text, image)
	if errors.Is(err, conversation.ErrEmptyMessage) {
		r.ui.Error(err)
		return nil
	}
	return err
}

func (r *ChatRunner) sendImage(ctx context.Context, arg string) error {
	path, text, _ := strings.Cut(arg, " ")
	if path == "" {
		r.ui.Error(errors.New("usage: /image <path> [text]"))
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		r.ui.Error(fmt.Errorf("read image: %w", err))
		return nil
	}
	return r.send(ctx, strings.TrimSpace(text), base64.StdEncoding.EncodeToString(data))
}

// =============================================================================
// Confirmations
// =============================================================================

// resolvePending asks the Confirmer about the open confirmation, if any,
// and sends the decision. A decision can lead to another confirmation, so
// this repeats until the gate is idle.
func (r *ChatRunner) resolvePending(ctx context.Context) error {
	for {
		conf, open := r.coord.Gate().Pending()
		if !open || conf.ID == r.deferred {
			return nil
		}

		decision, err := r.confirmer.Confirm(ctx, conf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("Could not collect confirmation", "confirmation_id", conf.ID, "error", err)
			r.deferred = conf.ID
			r.ui.Error(fmt.Errorf("confirmation: %w", err))
			r.ui.Notice(answerPrompt)
			return nil
		}
		if err := r.decide(ctx, decision); err != nil {
			return err
		}
	}
}

// decide sends decision for the open confirmation.
func (r *ChatRunner) decide(ctx context.Context, decision conversation.Decision) error {
	turnCtx, cancel := r.turnContext(ctx)
	defer cancel()

	_, err := r.coord.SendConfirmation(turnCtx, decision)
	if errors.Is(err, conversation.ErrNoPendingConfirmation) {
		r.ui.Notice("Nothing is waiting for confirmation.")
		return nil
	}
	return err
}

// =============================================================================
// Voice
// =============================================================================

func (r *ChatRunner) handleVoice(ctx context.Context, arg string) error {
	if r.voiceClient != nil && !r.voiceAlive.Load() {
		r.stopVoice()
	}

	switch strings.ToLower(arg) {
	case "", "status":
		if r.voiceClient != nil {
			r.ui.Notice("voice mode on")
		} else {
			r.ui.Notice("voice mode off")
		}
		return nil
	case "off":
		if r.voiceClient != nil {
			r.stopVoice()
			r.ui.Notice("voice mode off")
		}
		return nil
	case "on":
		r.startVoice(ctx)
		return nil
	}

	if !r.startVoice(ctx) {
		return nil
	}
	if err := r.voiceClient.SendUtterance(ctx, arg); err != nil {
		r.ui.Error(fmt.Errorf("voice: %w", err))
	}
	return nil
}

// startVoice connects the voice channel if needed and reports whether it
// is connected.
func (r *ChatRunner) startVoice(ctx context.Context) bool {
	if r.voiceClient != nil {
		return true
	}
	if r.dialVoice == nil {
		r.ui.Error(errVoiceUnavailable)
		return false
	}

	client, err := r.dialVoice(ctx)
	if err != nil {
		r.ui.Error(fmt.Errorf("voice: %w", err))
		return false
	}

	voiceCtx, cancel := context.WithCancel(ctx)
	r.voiceClient = client
	r.voiceCancel = cancel
	r.voiceDone = make(chan struct{})
	r.voiceAlive.Store(true)
	r.coord.SetVoiceMode(client)

	go func(done chan struct{}) {
		defer close(done)
		err := client.Run(voiceCtx, voiceHandler{r})
		r.voiceAlive.Store(false)
		r.coord.ClearVoiceMode()
		if err != nil && voiceCtx.Err() == nil {
			r.logger.Error("Voice channel failed", "error", err)
			r.ui.Error(fmt.Errorf("voice disconnected: %w", err))
		}
	}(r.voiceDone)

	r.ui.Notice("voice mode on")
	return true
}

// stopVoice disconnects the voice channel and waits for its reader.
func (r *ChatRunner) stopVoice() {
	if r.voiceClient == nil {
		return
	}
	r.coord.ClearVoiceMode()
	r.voiceCancel()
	_ = r.voiceClient.Close()
	<-r.voiceDone
	r.voiceClient = nil
	r.voiceCancel = nil
	r.voiceDone = nil
}

// voiceHandler receives frames on the voice reader goroutine.
type voiceHandler struct {
	r *ChatRunner
}

func (h voiceHandler) HandleConfirmation(c conversation.Confirmation) {
	if h.r.coord.OpenConfirmation(c) {
		h.r.interruptRead()
	}
}

func (h voiceHandler) HandleTranscript(text string) {
	h.r.ui.Notice("voice: " + text)
}

func (h voiceHandler) HandleError(message string) {
	h.r.ui.Error(fmt.Errorf("voice: %s", message))
}

var _ voice.Handler = voiceHandler{}
