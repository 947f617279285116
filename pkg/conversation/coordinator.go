// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/jinterlante1206/movi-assistant/pkg/observability"
	"github.com/jinterlante1206/movi-assistant/pkg/stream"
)

const (
	// FallbackReply is appended as an assistant message when a turn fails
	// at the transport level.
	FallbackReply = "Sorry, I encountered an error. Please try again."

	// DefaultImagePrompt is sent in place of empty text when an image is
	// attached.
	DefaultImagePrompt = "What's in this image?"

	tracerName = "github.com/jinterlante1206/movi-assistant/pkg/conversation"
)

// ConfirmationSender delivers a decision over the voice channel instead of
// the text endpoint.
type ConfirmationSender interface {
	SendConfirmation(ctx context.Context, decision Decision, consequenceInfo map[string]any) error
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Coordinator.
type Config struct {
	// ChatURL is the full URL of the streaming chat endpoint. Required.
	ChatURL string

	// Session carries the session id and context page sent with every
	// request. A zero Session gets a fresh id and PageUnknown.
	Session Session

	// HTTPClient performs requests. Defaults to a client without timeout;
	// streams are bounded by the caller's context instead.
	HTTPClient HTTPClient

	// Logger receives structured logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *observability.ChatMetrics

	// Observer receives lifecycle events. Defaults to NopObserver.
	Observer Observer

	// ReadBufferSize is the stream read chunk size. Defaults to
	// stream.DefaultReadBufferSize.
	ReadBufferSize int
}

// TurnResult summarises one request/response turn.
type TurnResult struct {
	RequestID string

	// PlaceholderID is empty when the request failed before a response
	// arrived.
	PlaceholderID string
	Content       string

	TokensApplied int
	Malformed     int64
	Unknown       int64
	StreamErrors  []string

	ConfirmationOpened bool

	// Decision is set for turns started by SendConfirmation.
	Decision Decision

	// Voice is true when the decision was delivered over the voice channel
	// and no text request was made.
	Voice bool

	// Err is the transport failure that produced the fallback reply, or
	// the context error if the turn was abandoned.
	Err error

	Duration time.Duration
}

// Failed reports whether the turn ended in a transport failure.
func (r *TurnResult) Failed() bool {
	return r != nil && r.Err != nil && !isCancellation(r.Err)
}

// =============================================================================
// Coordinator
// =============================================================================

// Coordinator owns one conversation: its transcript, its confirmation gate,
// and the request/stream pipeline that feeds them.
//
// # Description
//
// A turn is:
//
//	user message -> POST -> placeholder -> token deltas -> finished message
//
// Confirmation records open the gate but do not pause the stream; later
// tokens keep landing in the same placeholder. Transport failures become a
// single FallbackReply message and never escape as errors.
//
// # Thread Safety
//
// Sends are serialized: a second SendMessage or SendConfirmation waits for
// the running turn to finish. OpenConfirmation and the read-only accessors
// may be called from any goroutine.
type Coordinator struct {
	chatURL    string
	session    Session
	client     HTTPClient
	logger     *slog.Logger
	metrics    *observability.ChatMetrics
	observer   Observer
	bufferSize int
	tracer     trace.Tracer

	transcript *Transcript
	gate       *Gate

	// acc is only touched by the turn holding the send slot.
	acc Accumulator

	sends  *semaphore.Weighted
	base   context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	voiceMu sync.RWMutex
	voice   ConfirmationSender

	now func() time.Time
}

// NewCoordinator creates a Coordinator from cfg.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if strings.TrimSpace(cfg.ChatURL) == "" {
		return nil, errors.New("chat URL is required")
	}
	if cfg.Session.ID() == "" {
		cfg.Session = NewSessionWithID("", cfg.Session.ContextPage())
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = stream.DefaultReadBufferSize
	}

	logger := cfg.Logger.With(
		"session_id", cfg.Session.ID(),
		"context_page", cfg.Session.ContextPage(),
	)

	base, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		chatURL:    cfg.ChatURL,
		session:    cfg.Session,
		client:     cfg.HTTPClient,
		logger:     logger,
		metrics:    cfg.Metrics,
		observer:   cfg.Observer,
		bufferSize: cfg.ReadBufferSize,
		tracer:     otel.Tracer(tracerName),
		transcript: NewTranscript(),
		gate:       NewGate(logger),
		sends:      semaphore.NewWeighted(1),
		base:       base,
		cancel:     cancel,
		now:        time.Now,
	}
	c.gate.OnOpen(c.observer.OnConfirmation)
	return c, nil
}

// Transcript returns the conversation history.
func (c *Coordinator) Transcript() *Transcript { return c.transcript }

// Gate returns the confirmation gate.
func (c *Coordinator) Gate() *Gate { return c.gate }

// Session returns the session identifiers.
func (c *Coordinator) Session() Session { return c.session }

// SetVoiceMode routes future confirmation answers through sender.
func (c *Coordinator) SetVoiceMode(sender ConfirmationSender) {
	c.voiceMu.Lock()
	defer c.voiceMu.Unlock()
	c.voice = sender
}

// ClearVoiceMode routes confirmation answers back to the text endpoint.
func (c *Coordinator) ClearVoiceMode() {
	c.SetVoiceMode(nil)
}

// VoiceMode reports whether a voice sender is registered.
func (c *Coordinator) VoiceMode() bool {
	return c.voiceSender() != nil
}

func (c *Coordinator) voiceSender() ConfirmationSender {
	c.voiceMu.RLock()
	defer c.voiceMu.RUnlock()
	return c.voice
}

// OpenConfirmation opens the gate on behalf of the voice channel. It returns
// false if a confirmation was already pending.
func (c *Coordinator) OpenConfirmation(conf Confirmation) bool {
	if conf.Source == "" {
		conf.Source = SourceVoice
	}
	opened := c.gate.Open(conf)
	c.metrics.RecordConfirmation(string(conf.Source), opened)
	return opened
}

// Close abandons any in-flight stream and rejects further sends.
func (c *Coordinator) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	return nil
}

// =============================================================================
// Sending
// =============================================================================

// SendMessage sends a user message and consumes the streamed reply.
//
// Empty text with an image is replaced by DefaultImagePrompt. The image may
// be raw base64 or a data URL. The returned error is non-nil only for
// ErrEmptyMessage, ErrClosed, or ctx ending while waiting for a running turn;
// everything else is reported through the TurnResult and the transcript.
func (c *Coordinator) SendMessage(ctx context.Context, text, image string) (*TurnResult, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	image = StripDataURLPrefix(image)
	if strings.TrimSpace(text) == "" {
		if image == "" {
			return nil, ErrEmptyMessage
		}
		text = DefaultImagePrompt
	}

	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.sends.Release(1)

	msg := c.transcript.AppendUserMessage(text, image)
	c.observer.OnUserMessage(msg)

	return c.runTurn(ctx, text, image), nil
}

// SendConfirmation answers the pending confirmation.
//
// The decision is appended as a user message first. Then exactly one of two
// things happens: in voice mode the decision and the confirmation's
// consequence info go to the voice sender; otherwise the literal "yes" or
// "no" is sent as a regular chat turn.
func (c *Coordinator) SendConfirmation(ctx context.Context, decision Decision) (*TurnResult, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("%q: %w", decision, ErrInvalidDecision)
	}
	if c.closed.Load() {
		return nil, ErrClosed
	}

	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.sends.Release(1)

	conf, err := c.gate.Resolve(decision)
	if err != nil {
		return nil, err
	}

	msg := c.transcript.AppendDecisionMessage(decision)
	c.observer.OnUserMessage(msg)

	sender := c.voiceSender()
	if sender == nil {
		c.metrics.RecordDecision(string(decision), observability.PathText)
		result := c.runTurn(ctx, string(decision), "")
		result.Decision = decision
		return result, nil
	}

	c.metrics.RecordDecision(string(decision), observability.PathVoice)
	return c.sendVoiceDecision(ctx, sender, decision, conf), nil
}

func (c *Coordinator) acquire(ctx context.Context) error {
	if err := c.sends.Acquire(ctx, 1); err != nil {
		return err
	}
	if c.closed.Load() {
		c.sends.Release(1)
		return ErrClosed
	}
	return nil
}

func (c *Coordinator) sendVoiceDecision(ctx context.Context, sender ConfirmationSender, decision Decision, conf Confirmation) *TurnResult {
	start := c.now()
	result := &TurnResult{
		RequestID: uuid.New().String(),
		Decision:  decision,
		Voice:     true,
	}

	logger := c.logger.With("request_id", result.RequestID, "confirmation_id", conf.ID)
	logger.Info("sending confirmation over voice channel", "decision", string(decision))

	if err := sender.SendConfirmation(ctx, decision, conf.ConsequenceInfo); err != nil {
		result.Err = fmt.Errorf("voice confirmation: %w", err)
		c.fail(logger, result)
	}

	result.Duration = c.now().Sub(start)
	c.observer.OnTurnComplete(result)
	return result
}

// runTurn performs one request and consumes its stream. The caller holds the
// send slot.
func (c *Coordinator) runTurn(ctx context.Context, text, image string) *TurnResult {
	start := c.now()
	result := &TurnResult{RequestID: uuid.New().String()}
	logger := c.logger.With("request_id", result.RequestID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.base, cancel)
	defer stop()

	ctx, span := c.tracer.Start(ctx, "conversation.turn",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("movi.session_id", c.session.ID()),
			attribute.String("movi.context_page", c.session.ContextPage()),
			attribute.String("movi.request_id", result.RequestID),
			attribute.Bool("movi.has_image", image != ""),
		),
	)
	defer span.End()

	defer func() {
		result.Duration = c.now().Sub(start)
		status := observability.StatusSuccess
		switch {
		case result.Err == nil:
		case isCancellation(result.Err):
			status = observability.StatusCancelled
		default:
			status = observability.StatusTransportError
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Err.Error())
		}
		span.SetAttributes(
			attribute.Int("movi.tokens", result.TokensApplied),
			attribute.Bool("movi.confirmation_opened", result.ConfirmationOpened),
		)
		c.metrics.RecordRequest(status, result.Duration)
		logger.Info("chat turn finished",
			"status", status,
			"tokens", result.TokensApplied,
			"malformed", result.Malformed,
			"duration_ms", result.Duration.Milliseconds(),
		)
		c.observer.OnTurnComplete(result)
	}()

	req, err := newChatRequest(ctx, c.chatURL, result.RequestID, ChatRequest{
		Message:     text,
		SessionID:   c.session.ID(),
		ContextPage: c.session.ContextPage(),
		ImageBase64: image,
	})
	if err != nil {
		result.Err = err
		c.fail(logger, result)
		return result
	}

	logger.Debug("sending chat request", "url", c.chatURL, "has_image", image != "")
	resp, err := c.client.Do(req)
	if err != nil {
		result.Err = abandonedErr(ctx, fmt.Errorf("post chat request: %w", err))
		if isCancellation(result.Err) {
			logger.Info("chat request abandoned", "error", err)
			return result
		}
		c.fail(logger, result)
		return result
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		result.Err = err
		c.fail(logger, result)
		return result
	}

	placeholder := c.transcript.AppendAssistantPlaceholder()
	result.PlaceholderID = placeholder.ID
	c.observer.OnPlaceholder(placeholder)

	done := c.metrics.StreamStarted()
	decoder := stream.NewDecoder(logger)
	reader := stream.NewReader(decoder).WithBufferSize(c.bufferSize)

	c.acc.Reset()
	readErr := reader.Read(ctx, resp.Body, func(event stream.Event) error {
		return c.handleEvent(logger, event, placeholder.ID, &c.acc, result, start)
	})
	done()

	stats := decoder.Stats()
	result.Malformed = stats.Malformed
	result.Unknown = stats.Unknown
	result.Content = c.acc.String()
	c.metrics.RecordDropped(observability.DropMalformed, stats.Malformed)
	c.metrics.RecordDropped(observability.DropUnknown, stats.Unknown)

	if _, err := c.transcript.FinishAssistantMessage(placeholder.ID); err != nil {
		logger.Warn("could not finish assistant message", "error", err)
	}

	if readErr != nil {
		result.Err = abandonedErr(ctx, readErr)
		if isCancellation(result.Err) {
			logger.Info("chat stream abandoned", "error", readErr)
			return result
		}
		c.fail(logger, result)
	}
	return result
}

func (c *Coordinator) handleEvent(logger *slog.Logger, event stream.Event, placeholderID string, acc *Accumulator, result *TurnResult, start time.Time) error {
	switch event.Type {
	case stream.EventToken:
		if acc.Deltas() == 0 {
			c.metrics.RecordFirstToken(c.now().Sub(start))
		}
		msg, err := c.transcript.ApplyTokenDelta(placeholderID, acc.Append(event.Content))
		if err != nil {
			return fmt.Errorf("apply token %d: %w", event.Index, err)
		}
		result.TokensApplied++
		c.metrics.RecordToken()
		c.observer.OnToken(msg, event.Content)

	case stream.EventConfirmation:
		conf := Confirmation{Source: SourceStream}
		if event.Confirmation != nil {
			conf.Message = event.Confirmation.Message
			conf.ConsequenceInfo = event.Confirmation.Info
		}
		opened := c.gate.Open(conf)
		c.metrics.RecordConfirmation(string(SourceStream), opened)
		result.ConfirmationOpened = result.ConfirmationOpened || opened

	case stream.EventError:
		logger.Error("backend reported stream error", "error", event.Content)
		result.StreamErrors = append(result.StreamErrors, event.Content)
		c.metrics.RecordStreamError()
		c.observer.OnStreamError(event.Content)
	}
	return nil
}

// fail appends the fallback reply for a transport failure.
func (c *Coordinator) fail(logger *slog.Logger, result *TurnResult) {
	attrs := []any{"error", result.Err}
	var statusErr *HTTPStatusError
	if errors.As(result.Err, &statusErr) {
		attrs = append(attrs, "status_code", statusErr.StatusCode)
	}
	logger.Error("chat turn failed", attrs...)

	c.transcript.AppendAssistantNotice(FallbackReply)
	c.observer.OnTransportError(result.Err)
}

// abandonedErr attaches the context's cancellation to err when ctx was
// cancelled, since transports report a torn-down body in their own terms.
func abandonedErr(ctx context.Context, err error) error {
	if isCancellation(err) || !errors.Is(ctx.Err(), context.Canceled) {
		return err
	}
	return errors.Join(ctx.Err(), err)
}

// isCancellation reports whether err comes from an abandoned turn. Deadlines
// are failures, not cancellations.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
