// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package voice

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/movi-assistant/pkg/conversation"
)

// =============================================================================
// Test Server
// =============================================================================

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// scriptedServer upgrades the connection, hands it to script, and reports
// every frame the client sent on received.
func scriptedServer(t *testing.T, script func(conn *websocket.Conn, received <-chan Frame)) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		received := make(chan Frame, 16)
		go func() {
			defer close(received)
			for {
				var f Frame
				if err := conn.ReadJSON(&f); err != nil {
					return
				}
				received <- f
			}
		}()
		script(conn, received)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// nextFrame may run on the server goroutine, so it reports with Errorf.
func nextFrame(t *testing.T, received <-chan Frame) Frame {
	t.Helper()
	select {
	case f, ok := <-received:
		if !ok {
			t.Error("client connection closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Error("timed out waiting for frame")
	}
	return Frame{}
}

type recordingHandler struct {
	mu            sync.Mutex
	confirmations []conversation.Confirmation
	transcripts   []string
	errors        []string
}

func (h *recordingHandler) HandleConfirmation(c conversation.Confirmation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.confirmations = append(h.confirmations, c)
}

func (h *recordingHandler) HandleTranscript(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transcripts = append(h.transcripts, text)
}

func (h *recordingHandler) HandleError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
}

// =============================================================================
// Tests
// =============================================================================

func TestDial_SendsHello(t *testing.T) {
	hellos := make(chan HelloPayload, 1)
	url := scriptedServer(t, func(conn *websocket.Conn, received <-chan Frame) {
		f := nextFrame(t, received)
		assert.Equal(t, FrameHello, f.Type)
		var hello HelloPayload
		if assert.NoError(t, f.Decode(&hello)) {
			hellos <- hello
		}
	})

	client, err := Dial(context.Background(), Config{
		URL:     url,
		Session: conversation.NewSessionWithID("sess-9", conversation.PageTrips),
		Logger:  quietLogger(),
	})
	require.NoError(t, err)
	defer client.Close()

	select {
	case hello := <-hellos:
		assert.Equal(t, HelloPayload{SessionID: "sess-9", ContextPage: "trips"}, hello)
	case <-time.After(2 * time.Second):
		t.Fatal("no hello received")
	}
}

func TestDial_Errors(t *testing.T) {
	_, err := Dial(context.Background(), Config{})
	assert.Error(t, err)

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err = Dial(context.Background(), Config{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		Logger: quietLogger(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestClient_RunDispatchesServerFrames(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn, received <-chan Frame) {
		nextFrame(t, received) // hello

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"transcript","payload":{"text":"Show trips"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"waveform","payload":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"confirmation","payload":{"message":"Remove vehicle KA-01?","vehicle_id":7}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"confirmation"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"message":"asr failed"}}`))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	})

	client, err := Dial(context.Background(), Config{URL: url, Logger: quietLogger()})
	require.NoError(t, err)
	defer client.Close()

	h := &recordingHandler{}
	require.NoError(t, client.Run(context.Background(), h))

	assert.Equal(t, []string{"Show trips"}, h.transcripts)
	assert.Equal(t, []string{"asr failed"}, h.errors)
	require.Len(t, h.confirmations, 1)
	c := h.confirmations[0]
	assert.Equal(t, "Remove vehicle KA-01?", c.Message)
	assert.Equal(t, conversation.SourceVoice, c.Source)
	assert.Equal(t, float64(7), c.ConsequenceInfo["vehicle_id"])
}

func TestClient_SendFrames(t *testing.T) {
	frames := make(chan Frame, 4)
	url := scriptedServer(t, func(conn *websocket.Conn, received <-chan Frame) {
		nextFrame(t, received) // hello
		frames <- nextFrame(t, received)
		frames <- nextFrame(t, received)
	})

	client, err := Dial(context.Background(), Config{URL: url, Logger: quietLogger()})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SendUtterance(context.Background(), "delete route 4"))
	require.NoError(t, client.SendConfirmation(context.Background(), conversation.DecisionYes,
		map[string]any{"route_id": "r-4"}))

	utter := <-frames
	assert.Equal(t, FrameUtterance, utter.Type)
	var up UtterancePayload
	require.NoError(t, utter.Decode(&up))
	assert.Equal(t, "delete route 4", up.Text)

	resp := <-frames
	assert.Equal(t, FrameConfirmationResponse, resp.Type)
	var cp ConfirmationResponsePayload
	require.NoError(t, resp.Decode(&cp))
	assert.Equal(t, "yes", cp.Decision)
	assert.Equal(t, "r-4", cp.ConsequenceInfo["route_id"])
}

func TestClient_RunStopsOnContextCancel(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn, received <-chan Frame) {
		for range received {
		}
	})

	client, err := Dial(context.Background(), Config{URL: url, Logger: quietLogger()})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = client.Run(ctx, &recordingHandler{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_WritesAfterCloseFail(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn, received <-chan Frame) {
		for range received {
		}
	})

	client, err := Dial(context.Background(), Config{URL: url, Logger: quietLogger()})
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	assert.ErrorIs(t, client.SendUtterance(context.Background(), "hi"), ErrClientClosed)
}

// coordinatorHandler routes voice confirmations into the coordinator's gate.
type coordinatorHandler struct {
	recordingHandler
	coord  *conversation.Coordinator
	opened chan struct{}
}

func (h *coordinatorHandler) HandleConfirmation(c conversation.Confirmation) {
	h.coord.OpenConfirmation(c)
	close(h.opened)
}

func TestClient_VoiceConfirmationRoundTripThroughCoordinator(t *testing.T) {
	answers := make(chan ConfirmationResponsePayload, 1)
	url := scriptedServer(t, func(conn *websocket.Conn, received <-chan Frame) {
		nextFrame(t, received) // hello

		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"confirmation","payload":{"message":"Unassign driver from trip 12?","trip_id":12}}`))

		f := nextFrame(t, received)
		var p ConfirmationResponsePayload
		if err := f.Decode(&p); err == nil {
			answers <- p
		}
	})

	coord, err := conversation.NewCoordinator(conversation.Config{
		ChatURL: "http://127.0.0.1:1/api/chat",
		Logger:  quietLogger(),
	})
	require.NoError(t, err)
	defer coord.Close()

	client, err := Dial(context.Background(), Config{URL: url, Session: coord.Session(), Logger: quietLogger()})
	require.NoError(t, err)
	defer client.Close()
	coord.SetVoiceMode(client)

	h := &coordinatorHandler{coord: coord, opened: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx, h) }()

	select {
	case <-h.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("confirmation never arrived")
	}

	result, err := coord.SendConfirmation(context.Background(), conversation.DecisionNo)
	require.NoError(t, err)
	assert.True(t, result.Voice)
	assert.False(t, result.Failed())

	select {
	case p := <-answers:
		assert.Equal(t, "no", p.Decision)
		assert.Equal(t, float64(12), p.ConsequenceInfo["trip_id"])
		assert.Equal(t, "Unassign driver from trip 12?", p.ConsequenceInfo["message"])
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the decision")
	}
}

func TestFrame_Decode(t *testing.T) {
	var p TranscriptPayload
	assert.Error(t, Frame{Type: FrameTranscript}.Decode(&p))

	f, err := NewFrame(FrameTranscript, TranscriptPayload{Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, f.Decode(&p))
	assert.Equal(t, "hi", p.Text)

	msg, info, err := Frame{Type: FrameConfirmation, Payload: []byte(`{"count":2}`)}.ConfirmationMessage()
	require.NoError(t, err)
	assert.Empty(t, msg)
	assert.Equal(t, float64(2), info["count"])
}
