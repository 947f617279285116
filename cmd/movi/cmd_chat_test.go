// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/movi-assistant/cmd/movi/config"
	"github.com/jinterlante1206/movi-assistant/pkg/conversation"
	"github.com/jinterlante1206/movi-assistant/pkg/ux"
)

func newAskCoordinator(t *testing.T, url string) (*conversation.Coordinator, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	coord, err := conversation.NewCoordinator(conversation.Config{
		ChatURL:  conversation.ChatURL(url, "api/chat"),
		Session:  conversation.NewSessionWithID("ask-session", "vehicles"),
		Observer: ux.NewChatRenderer(&out, ux.PersonalityMachine),
	})
	require.NoError(t, err)
	t.Cleanup(func() { coord.Close() })
	return coord, &out
}

func answer(d conversation.Decision, calls *int) ux.Confirmer {
	return ux.ConfirmerFunc(func(context.Context, conversation.Confirmation) (conversation.Decision, error) {
		*calls++
		return d, nil
	})
}

func TestAskOnce_PlainMessage(t *testing.T) {
	srv := newTestBackend(t)
	coord, out := newAskCoordinator(t, srv.URL)
	calls := 0

	err := askOnce(context.Background(), coord, answer(conversation.DecisionYes, &calls), "hello", "", time.Minute)

	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Equal(t, "ANSWER: Hello! How can I help you with vehicles today?\nDONE\n", out.String())
}

func TestAskOnce_AnswersConfirmation(t *testing.T) {
	srv := newTestBackend(t)
	coord, out := newAskCoordinator(t, srv.URL)
	calls := 0

	err := askOnce(context.Background(), coord, answer(conversation.DecisionYes, &calls), "delete 5 vehicles", "", 0)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, out.String(), "CONFIRM: Delete 5 vehicles?\n")
	assert.Contains(t, out.String(), "ANSWER: Done. Deleted 5 vehicles.\n")
	_, open := coord.Gate().Pending()
	assert.False(t, open)
}

func TestAskOnce_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	coord, out := newAskCoordinator(t, srv.URL)
	calls := 0

	err := askOnce(context.Background(), coord, answer(conversation.DecisionYes, &calls), "hello", "", 0)

	assert.ErrorIs(t, err, errTurnFailed)
	assert.Contains(t, out.String(), "ANSWER: "+conversation.FallbackReply+"\n")
}

func TestAskOnce_ConfirmerError(t *testing.T) {
	srv := newTestBackend(t)
	coord, _ := newAskCoordinator(t, srv.URL)
	failing := ux.ConfirmerFunc(func(context.Context, conversation.Confirmation) (conversation.Decision, error) {
		return "", errors.New("stdin closed")
	})

	err := askOnce(context.Background(), coord, failing, "unassign driver 4", "", 0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "confirmation: stdin closed")
}

func TestAskOnce_StopsAfterMaxRounds(t *testing.T) {
	round := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		round++
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintf(w, `{"type":"confirmation","payload":{"message":"Again? (%d)"}}`+"\n", round)
	}))
	t.Cleanup(srv.Close)
	coord, _ := newAskCoordinator(t, srv.URL)
	calls := 0

	err := askOnce(context.Background(), coord, answer(conversation.DecisionYes, &calls), "delete everything", "", 0)

	require.NoError(t, err)
	assert.Equal(t, maxConfirmationRounds, calls)
}

func TestNewConfirmer_NonInteractiveUsesLines(t *testing.T) {
	prev := ux.GetPersonality().Level
	ux.SetPersonalityLevel(ux.PersonalityMachine)
	t.Cleanup(func() { ux.SetPersonalityLevel(prev) })

	input := NewMockInputReader("no")
	decision, err := newConfirmer(input, 0).Confirm(context.Background(), conversation.Confirmation{Message: "Delete?"})

	require.NoError(t, err)
	assert.Equal(t, conversation.DecisionNo, decision)
	assert.Equal(t, []string{"Confirm? [yes/no]: "}, input.Prompts)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "movi dev\n", out.String())
}

func TestLoadSettings_AppliesFlagOverrides(t *testing.T) {
	prevLevel := ux.GetPersonality().Level
	t.Cleanup(func() {
		configPath, contextPath, apiURL, personalityLevel = "", "", "", ""
		moviConfig = config.MoviConfig{}
		ux.SetPersonalityLevel(prevLevel)
	})

	configPath = filepath.Join(t.TempDir(), "movi.yaml")
	contextPath = "/drivers"
	apiURL = "http://backend.internal:9000"
	personalityLevel = "machine"

	require.NoError(t, loadSettings(nil, nil))

	assert.Equal(t, "/drivers", moviConfig.ContextPath)
	assert.Equal(t, "http://backend.internal:9000", moviConfig.APIURL)
	assert.Equal(t, ux.PersonalityMachine, ux.GetPersonality().Level)
}

func TestLoadSettings_RejectsBadAPIURL(t *testing.T) {
	t.Cleanup(func() {
		configPath, apiURL = "", ""
		moviConfig = config.MoviConfig{}
	})

	configPath = filepath.Join(t.TempDir(), "movi.yaml")
	apiURL = "not a url"

	assert.Error(t, loadSettings(nil, nil))
}

func TestNewResponder(t *testing.T) {
	r, err := newResponder(config.DevServerConfig{Responder: "scripted"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "scripted", r.Name())

	_, err = newResponder(config.DevServerConfig{Responder: "psychic"}, nil)
	assert.ErrorContains(t, err, `unknown responder "psychic"`)
}
