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
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jinterlante1206/movi-assistant/pkg/conversation"
	"github.com/jinterlante1206/movi-assistant/pkg/ux"
)

// errTurnFailed makes `movi ask` exit non-zero after the fallback reply has
// been printed.
var errTurnFailed = errors.New("chat turn failed")

// maxConfirmationRounds stops a backend that keeps asking for confirmation
// from looping a one-shot ask forever.
const maxConfirmationRounds = 5

// newConfirmer picks how decisions are collected: a dialog in full mode on a
// terminal, a plain yes/no line otherwise.
func newConfirmer(input ux.LineSource, timeout time.Duration) ux.Confirmer {
	var c ux.Confirmer = ux.LineConfirmer{Source: input}
	if ux.IsInteractive() && ux.GetPersonality().Level == ux.PersonalityFull {
		c = ux.DialogConfirmer{}
	}
	return ux.WithTimeout(c, timeout)
}

func runChatCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, moviConfig, "movi", verbose)
	if err != nil {
		return err
	}
	defer a.Close()

	personality := ux.GetPersonality().Level
	renderer := ux.NewChatRenderer(nil, personality)
	coord, err := a.newCoordinator(renderer)
	if err != nil {
		return err
	}
	defer coord.Close()

	input := NewInputReader(50)
	runner := NewChatRunner(ChatRunnerConfig{
		Coordinator:    coord,
		Renderer:       renderer,
		UI:             ux.NewChatUI(),
		Input:          input,
		Confirmer:      newConfirmer(input, a.cfg.ConfirmationTimeout),
		DialVoice:      a.voiceDialer(coord.Session()),
		RequestTimeout: a.cfg.RequestTimeout,
		Header: ux.HeaderConfig{
			SessionID:   coord.Session().ID(),
			ContextPage: coord.Session().ContextPage(),
			APIURL:      conversation.ChatURL(a.cfg.APIURL, a.cfg.ChatEndpoint),
		},
		Logger: a.logger.Slog(),
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return a.serveMetrics(gctx)
	})
	g.Go(func() error {
		// The metrics server only lives as long as the session.
		defer cancel()
		return runner.Run(gctx)
	})
	return g.Wait()
}

func runAskCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, moviConfig, "movi", verbose)
	if err != nil {
		return err
	}
	defer a.Close()

	var image string
	if askImage != "" {
		data, err := os.ReadFile(askImage)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		image = base64.StdEncoding.EncodeToString(data)
	}

	var confirmer ux.Confirmer
	switch strings.ToLower(askAnswer) {
	case "":
		confirmer = newConfirmer(NewInputReader(0), a.cfg.ConfirmationTimeout)
	default:
		decision, err := conversation.ParseDecision(askAnswer)
		if err != nil {
			return fmt.Errorf("--answer: %w", err)
		}
		confirmer = ux.ConfirmerFunc(func(context.Context, conversation.Confirmation) (conversation.Decision, error) {
			return decision, nil
		})
	}

	personality := ux.GetPersonality().Level
	renderer := ux.NewChatRenderer(nil, personality).WithUserEcho(personality != ux.PersonalityMachine)
	coord, err := a.newCoordinator(renderer)
	if err != nil {
		return err
	}
	defer coord.Close()

	return askOnce(ctx, coord, confirmer, strings.Join(args, " "), image, a.cfg.RequestTimeout)
}

// askOnce sends one message and answers any confirmations it raises. It
// returns errTurnFailed when the last turn ended in the fallback reply.
func askOnce(ctx context.Context, coord *conversation.Coordinator, confirmer ux.Confirmer, text, image string, timeout time.Duration) error {
	turn := func(fn func(context.Context) (*conversation.TurnResult, error)) (*conversation.TurnResult, error) {
		var (
			turnCtx context.Context
			cancel  context.CancelFunc
		)
		if timeout > 0 {
			turnCtx, cancel = context.WithTimeout(ctx, timeout)
		} else {
			turnCtx, cancel = context.WithCancel(ctx)
		}
		defer cancel()
		return fn(turnCtx)
	}

	result, err := turn(func(ctx context.Context) (*conversation.TurnResult, error) {
		return coord.SendMessage(ctx, text, image)
	})
	if err != nil {
		return err
	}

	for round := 0; round < maxConfirmationRounds; round++ {
		conf, open := coord.Gate().Pending()
		if !open {
			break
		}
		decision, err := confirmer.Confirm(ctx, conf)
		if err != nil {
			return fmt.Errorf("confirmation: %w", err)
		}
		result, err = turn(func(ctx context.Context) (*conversation.TurnResult, error) {
			return coord.SendConfirmation(ctx, decision)
		})
		if err != nil {
			return err
		}
	}

	if result.Failed() {
		return errTurnFailed
	}
	if result.Err != nil {
		return result.Err
	}
	return nil
}
