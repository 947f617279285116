// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/movi-assistant/cmd/movi/config"
	"github.com/jinterlante1206/movi-assistant/pkg/ux"
	"github.com/jinterlante1206/movi-assistant/services/devbackend"
)

func runDevServerCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := moviConfig
	if devAddr != "" {
		cfg.DevServer.Addr = devAddr
	}
	if devResponder != "" {
		cfg.DevServer.Responder = devResponder
	}
	if devTokenRate > 0 {
		cfg.DevServer.TokenRate = devTokenRate
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	// The server's own logs are its output, so the console is always on.
	a, err := newApp(ctx, cfg, "devbackend", true)
	if err != nil {
		return err
	}
	defer a.Close()

	responder, err := newResponder(cfg.DevServer, a)
	if err != nil {
		return err
	}

	server := devbackend.New(devbackend.Config{
		Addr:      cfg.DevServer.Addr,
		Responder: responder,
		TokenRate: cfg.DevServer.TokenRate,
		Registry:  a.registry,
		Logger:    a.logger.Slog(),
	})
	ux.Success(fmt.Sprintf("Dev backend on %s (%s responder)", cfg.DevServer.Addr, responder.Name()))
	return server.Run(ctx)
}

func newResponder(cfg config.DevServerConfig, a *app) (devbackend.Responder, error) {
	switch cfg.Responder {
	case "", "scripted":
		return devbackend.NewScriptedResponder(), nil
	case "openai":
		return devbackend.NewOpenAIResponder(devbackend.OpenAIConfig{
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Logger:  a.logger.Slog(),
		})
	default:
		return nil, fmt.Errorf("unknown responder %q", cfg.Responder)
	}
}
