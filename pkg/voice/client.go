// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jinterlante1206/movi-assistant/pkg/conversation"
)

// DefaultWriteTimeout bounds a single frame write when the caller's context
// has no deadline.
const DefaultWriteTimeout = 10 * time.Second

// ErrClientClosed is returned by writes after Close.
var ErrClientClosed = errors.New("voice client is closed")

// Handler receives server frames. Methods run on the Run goroutine.
type Handler interface {
	HandleConfirmation(c conversation.Confirmation)
	HandleTranscript(text string)
	HandleError(message string)
}

// Config configures Dial.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Session is announced in the hello frame.
	Session conversation.Session

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header is sent with the upgrade request.
	Header http.Header

	// WriteTimeout defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Client is a voice session over one websocket.
//
// Writes are serialized internally, so SendUtterance and SendConfirmation may
// be called from any goroutine while Run reads. Client satisfies
// conversation.ConfirmationSender.
type Client struct {
	conn         *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  atomic.Bool
}

var _ conversation.ConfirmationSender = (*Client)(nil)

// Dial connects and sends the hello frame.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("voice URL is required")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial voice channel (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial voice channel: %w", err)
	}

	c := &Client{
		conn:         conn,
		logger:       logger.With("session_id", cfg.Session.ID(), "channel", "voice"),
		writeTimeout: cfg.WriteTimeout,
	}

	hello := HelloPayload{
		SessionID:   cfg.Session.ID(),
		ContextPage: cfg.Session.ContextPage(),
	}
	if err := c.send(ctx, FrameHello, hello); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c.logger.Info("voice channel connected", "url", cfg.URL)
	return c, nil
}

// SendUtterance forwards recognised speech.
func (c *Client) SendUtterance(ctx context.Context, text string) error {
	return c.send(ctx, FrameUtterance, UtterancePayload{Text: text})
}

// SendConfirmation answers a confirmation over the socket.
func (c *Client) SendConfirmation(ctx context.Context, decision conversation.Decision, consequenceInfo map[string]any) error {
	return c.send(ctx, FrameConfirmationResponse, ConfirmationResponsePayload{
		Decision:        string(decision),
		ConsequenceInfo: consequenceInfo,
	})
}

func (c *Client) send(ctx context.Context, frameType string, payload any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	frame, err := NewFrame(frameType, payload)
	if err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.writeTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		c.logger.Warn("failed to write voice frame", "type", frameType, "error", err)
		return fmt.Errorf("write %s frame: %w", frameType, err)
	}
	c.logger.Debug("voice frame sent", "type", frameType)
	return nil
}

// Run reads frames until the socket closes or ctx ends, dispatching them to
// h. Unknown frame types and undecodable payloads are logged and skipped.
//
// Returns nil on a normal close, ctx.Err() when ctx ends, or the read error.
func (c *Client) Run(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if isDecodeError(err) {
				c.logger.Warn("dropping undecodable voice frame", "error", err)
				continue
			}
			return fmt.Errorf("read voice frame: %w", err)
		}
		c.dispatch(frame, h)
	}
}

// isDecodeError reports a frame that arrived intact but is not valid JSON for
// Frame. The connection stays usable after such an error.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func (c *Client) dispatch(frame Frame, h Handler) {
	switch frame.Type {
	case FrameConfirmation:
		msg, info, err := frame.ConfirmationMessage()
		if err != nil {
			c.logger.Warn("dropping malformed confirmation frame", "error", err)
			return
		}
		h.HandleConfirmation(conversation.Confirmation{
			Message:         msg,
			ConsequenceInfo: info,
			Source:          conversation.SourceVoice,
		})

	case FrameTranscript:
		var p TranscriptPayload
		if err := frame.Decode(&p); err != nil {
			c.logger.Warn("dropping malformed transcript frame", "error", err)
			return
		}
		h.HandleTranscript(p.Text)

	case FrameError:
		var p ErrorPayload
		if err := frame.Decode(&p); err != nil {
			c.logger.Warn("dropping malformed error frame", "error", err)
			return
		}
		c.logger.Error("voice server reported error", "error", p.Message)
		h.HandleError(p.Message)

	default:
		c.logger.Debug("skipping voice frame of unknown type", "type", frame.Type)
	}
}

// Close sends a close frame and closes the socket. Safe to call twice.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}
