// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jinterlante1206/movi-assistant/cmd/movi/config"
	"github.com/jinterlante1206/movi-assistant/pkg/conversation"
	"github.com/jinterlante1206/movi-assistant/pkg/logging"
	"github.com/jinterlante1206/movi-assistant/pkg/observability"
	"github.com/jinterlante1206/movi-assistant/pkg/ux"
	"github.com/jinterlante1206/movi-assistant/pkg/voice"
)

// app holds the process-wide services every command needs.
type app struct {
	cfg      config.MoviConfig
	logger   *logging.Logger
	registry *prometheus.Registry
	metrics  *observability.ChatMetrics
	shutdown observability.ShutdownFunc
}

// newApp sets up logging, tracing, and metrics for service.
//
// Console logging is off unless verbose is set; the log file under
// cfg.Log.Dir always receives records, so chat output stays clean.
// cfg.Log.ExportPath, when set, gets a plain-text copy of every record.
func newApp(ctx context.Context, cfg config.MoviConfig, service string, verbose bool) (*app, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		ux.Warning(fmt.Sprintf("unknown log level %q, using info", cfg.Log.Level))
		level = logging.LevelInfo
	}
	if verbose && level > logging.LevelDebug {
		level = logging.LevelDebug
	}

	logConfig := logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: service,
		JSON:    cfg.Log.JSON,
		Quiet:   !verbose,
	}
	if cfg.Log.ExportPath != "" {
		exporter, err := logging.NewFileExporter(cfg.Log.ExportPath)
		if err != nil {
			ux.Warning(fmt.Sprintf("log export disabled: %v", err))
		} else {
			logConfig.Exporter = exporter
		}
	}
	logger := logging.New(logConfig)
	slog.SetDefault(logger.Slog())

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    service,
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.Insecure,
		Stdout:         cfg.Tracing.Stdout,
	})
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  observability.NewChatMetrics(registry),
		shutdown: shutdown,
	}, nil
}

// Close flushes traces and closes the log file.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := a.shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
	}
	if err := a.logger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("logger close: %w", err))
	}
	return errors.Join(errs...)
}

// newCoordinator creates a coordinator for the configured backend. Every
// turn is reported to observer.
func (a *app) newCoordinator(observer conversation.Observer) (*conversation.Coordinator, error) {
	return conversation.NewCoordinator(conversation.Config{
		ChatURL:  conversation.ChatURL(a.cfg.APIURL, a.cfg.ChatEndpoint),
		Session:  conversation.NewSession(a.cfg.ContextPath),
		Logger:   a.logger.Slog(),
		Metrics:  a.metrics,
		Observer: observer,
	})
}

// voiceDialer returns a dial function for the configured voice URL, or nil
// when voice is disabled.
func (a *app) voiceDialer(session conversation.Session) func(context.Context) (*voice.Client, error) {
	if a.cfg.VoiceURL == "" {
		return nil
	}
	return func(ctx context.Context) (*voice.Client, error) {
		return voice.Dial(ctx, voice.Config{
			URL:     a.cfg.VoiceURL,
			Session: session,
			Logger:  a.logger.Slog(),
		})
	}
}

// serveMetrics serves /metrics until ctx ends. It returns immediately when
// no metrics address is configured.
func (a *app) serveMetrics(ctx context.Context) error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Serving metrics", "addr", a.cfg.Metrics.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
