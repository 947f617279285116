// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package devbackend

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jinterlante1206/movi-assistant/pkg/observability"
	"github.com/jinterlante1206/movi-assistant/pkg/voice"
)

var upgrader = websocket.Upgrader{
	// The dev backend serves any local dashboard origin.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// voiceSession is one connected voice client.
type voiceSession struct {
	ws      *websocket.Conn
	logger  *slog.Logger
	metrics *observability.BackendMetrics
	page    string
}

func (v *voiceSession) send(frameType string, payload any) error {
	frame, err := voice.NewFrame(frameType, payload)
	if err != nil {
		return err
	}
	if err := v.ws.WriteJSON(frame); err != nil {
		v.logger.Warn("Failed to write voice frame", "type", frameType, "error", err)
		return err
	}
	v.metrics.RecordVoiceFrame("out", frameType)
	return nil
}

// HandleVoiceWebSocket serves the voice side-channel.
//
// # Description
//
// The client opens with a hello frame. After that:
//
//	utterance "delete 3 stops"      -> confirmation {"message":"Delete 3 stops?", ...}
//	utterance "show me my routes"   -> transcript {"text":"Heard: show me my routes"}
//	confirmation_response yes/no    -> transcript with the outcome
//
// Anything that cannot be understood gets an error frame; the socket stays
// open.
func HandleVoiceWebSocket(logger *slog.Logger, metrics *observability.BackendMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("failed to upgrade the voice websocket", "error", err)
			return
		}
		defer ws.Close()
		defer metrics.VoiceConnected()()

		var hello voice.Frame
		if err := ws.ReadJSON(&hello); err != nil {
			logger.Info("Voice client disconnected before hello", "error", err)
			return
		}
		var hp voice.HelloPayload
		if hello.Type != voice.FrameHello || hello.Decode(&hp) != nil {
			_ = ws.WriteJSON(mustFrame(voice.FrameError, voice.ErrorPayload{Message: "expected hello frame"}))
			return
		}
		metrics.RecordVoiceFrame("in", voice.FrameHello)

		session := &voiceSession{
			ws:      ws,
			logger:  logger.With("session_id", hp.SessionID, "channel", "voice"),
			metrics: metrics,
			page:    hp.ContextPage,
		}
		session.logger.Info("Voice session started", "context_page", hp.ContextPage)

		for {
			var frame voice.Frame
			if err := ws.ReadJSON(&frame); err != nil {
				session.logger.Info("Voice client disconnected", "error", err.Error())
				return
			}
			metrics.RecordVoiceFrame("in", frame.Type)
			if err := session.handle(frame); err != nil {
				return
			}
		}
	}
}

// handle answers one client frame. It returns an error only when the socket
// can no longer be written.
func (v *voiceSession) handle(frame voice.Frame) error {
	switch frame.Type {
	case voice.FrameUtterance:
		var p voice.UtterancePayload
		if err := frame.Decode(&p); err != nil || strings.TrimSpace(p.Text) == "" {
			return v.send(voice.FrameError, voice.ErrorPayload{Message: "empty utterance"})
		}
		if a, ok := planAction(p.Text, v.page); ok {
			return v.send(voice.FrameConfirmation, a.Payload())
		}
		return v.send(voice.FrameTranscript, voice.TranscriptPayload{Text: "Heard: " + strings.TrimSpace(p.Text)})

	case voice.FrameConfirmationResponse:
		var p voice.ConfirmationResponsePayload
		if err := frame.Decode(&p); err != nil {
			return v.send(voice.FrameError, voice.ErrorPayload{Message: "malformed confirmation response"})
		}
		a, ok := actionFromPayload(p.ConsequenceInfo)
		if !ok {
			return v.send(voice.FrameError, voice.ErrorPayload{Message: "confirmation response does not match an action"})
		}
		v.logger.Info("Voice confirmation answered", "decision", p.Decision, "action", a.Verb)
		if p.Decision == "yes" {
			return v.send(voice.FrameTranscript, voice.TranscriptPayload{Text: a.Done()})
		}
		return v.send(voice.FrameTranscript, voice.TranscriptPayload{Text: a.Cancelled()})

	default:
		return v.send(voice.FrameError, voice.ErrorPayload{Message: "unsupported frame type " + frame.Type})
	}
}

func mustFrame(frameType string, payload any) voice.Frame {
	frame, err := voice.NewFrame(frameType, payload)
	if err != nil {
		panic(err)
	}
	return frame
}
