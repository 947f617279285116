// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package devbackend is a local stand-in for the Movi chat backend.
//
// It serves the same NDJSON chat stream and voice websocket that the real
// backend does, answered either by a deterministic script or by an
// OpenAI-compatible model, so the CLI can be developed and tested offline.
package devbackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jinterlante1206/movi-assistant/pkg/observability"
)

const (
	serviceName = "movi-devbackend"
	tracerName  = "github.com/jinterlante1206/movi-assistant/services/devbackend"

	// Stream outcome labels.
	streamSuccess    = "success"
	streamError      = "error"
	streamClientGone = "client_gone"
)

// Config configures a Server.
type Config struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string

	// Responder answers chat requests. Defaults to a ScriptedResponder.
	Responder Responder

	// TokenRate is tokens per second per stream. Zero or negative sends
	// tokens as fast as the responder produces them.
	TokenRate float64

	// Registry receives the backend metrics and is served on /metrics.
	// Defaults to a fresh registry.
	Registry *prometheus.Registry

	Logger *slog.Logger
}

// Server is the development backend.
type Server struct {
	addr      string
	responder Responder
	tokenRate float64
	logger    *slog.Logger
	metrics   *observability.BackendMetrics
	tracer    trace.Tracer
	router    *gin.Engine
}

// New creates a Server and its routes.
func New(cfg Config) *Server {
	if cfg.Responder == nil {
		cfg.Responder = NewScriptedResponder()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		addr:      cfg.Addr,
		responder: cfg.Responder,
		tokenRate: cfg.TokenRate,
		logger:    cfg.Logger.With("service", serviceName),
		metrics:   observability.NewBackendMetrics(cfg.Registry),
		tracer:    otel.Tracer(tracerName),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(requestLogger(s.logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "responder": s.responder.Name()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		api.POST("/chat", s.handleChat)
		api.GET("/voice", HandleVoiceWebSocket(s.logger, s.metrics))
	}

	s.router = router
	return s
}

// Handler returns the HTTP handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams are long-lived; no WriteTimeout.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Dev backend listening", "addr", s.addr, "responder", s.responder.Name())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dev backend failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down dev backend")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dev backend shutdown: %w", err)
	}
	return nil
}

// handleChat streams the reply to one chat message as NDJSON.
func (s *Server) handleChat(c *gin.Context) {
	ctx, span := s.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		s.logger.Warn("Chat request validation failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	logger := s.logger.With(
		"request_id", requestID,
		"session_id", req.SessionID,
		"context_page", req.ContextPage,
	)
	span.SetAttributes(
		attribute.String("request.id", requestID),
		attribute.String("session.id", req.SessionID),
		attribute.String("context.page", req.ContextPage),
		attribute.Bool("request.has_image", req.ImageBase64 != ""),
	)

	SetNDJSONHeaders(c.Writer)
	writer, err := NewNDJSONWriter(c.Writer, s.metrics)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Status(http.StatusOK)

	logger.Info("Streaming chat reply", "responder", s.responder.Name())
	start := time.Now()
	err = s.responder.Respond(ctx, req, newPacedWriter(ctx, writer, s.tokenRate))

	status := streamSuccess
	switch {
	case err == nil:
	case ctx.Err() != nil:
		status = streamClientGone
		logger.Info("Client went away mid-stream", "error", err)
	default:
		status = streamError
		span.RecordError(err)
		span.SetStatus(codes.Error, "responder failed")
		logger.Error("Responder failed", "error", err)
		_ = writer.WriteError("The assistant is unavailable right now.")
	}
	s.metrics.RecordStream(s.responder.Name(), status)
	logger.Info("Chat stream finished", "status", status, "duration", time.Since(start))
}

// requestLogger logs one line per request in the service's slog format.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request served",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
