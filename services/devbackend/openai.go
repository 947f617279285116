// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package devbackend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// maxHistoryMessages bounds the per-session history sent to the model.
const maxHistoryMessages = 20

// OpenAIConfig configures an OpenAIResponder.
type OpenAIConfig struct {
	// APIKey falls back to OPENAI_API_KEY.
	APIKey string

	// BaseURL points at an OpenAI-compatible server. Empty uses the
	// OpenAI default.
	BaseURL string

	// Model defaults to gpt-4o-mini.
	Model string

	// SystemPrompt defaults to a short Movi persona.
	SystemPrompt string

	Logger *slog.Logger
}

// OpenAIResponder streams replies from a chat completion model. It keeps a
// short history per session so follow-ups such as "yes" have context.
type OpenAIResponder struct {
	client *openai.Client
	model  string
	system string
	logger *slog.Logger

	mu      sync.Mutex
	history map[string][]openai.ChatCompletionMessage
}

// NewOpenAIResponder creates an OpenAIResponder.
//
// # Outputs
//
//   - *OpenAIResponder: Ready to respond
//   - error: Non-nil if no API key is configured
func NewOpenAIResponder(cfg OpenAIConfig) (*OpenAIResponder, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are Movi, an assistant embedded in a fleet management dashboard. " +
			"Answer briefly. The user is currently on the page named in the first system message."
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	cfg.Logger.Info("Initializing OpenAI responder", "model", cfg.Model)
	return &OpenAIResponder{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		system:  cfg.SystemPrompt,
		logger:  cfg.Logger,
		history: make(map[string][]openai.ChatCompletionMessage),
	}, nil
}

func (o *OpenAIResponder) Name() string { return "openai" }

func (o *OpenAIResponder) Respond(ctx context.Context, req ChatRequest, out RecordWriter) error {
	user := userMessage(req)
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: o.system},
		{Role: openai.ChatMessageRoleSystem, Content: "Current page: " + req.ContextPage},
	}
	messages = append(messages, o.recall(req.SessionID)...)
	messages = append(messages, user)

	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("OpenAI stream failed: %w", err)
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("OpenAI stream interrupted: %w", err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			reply.WriteString(choice.Delta.Content)
			if err := out.WriteToken(choice.Delta.Content); err != nil {
				return err
			}
		}
	}

	// Images are not kept in history; only the text part is remembered.
	o.remember(req.SessionID,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Message},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply.String()},
	)
	return nil
}

// userMessage builds the user turn, attaching the image when present.
func userMessage(req ChatRequest) openai.ChatCompletionMessage {
	if req.ImageBase64 == "" {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Message}
	}
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.Message},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:image/png;base64," + req.ImageBase64,
					Detail: openai.ImageURLDetailAuto,
				},
			},
		},
	}
}

func (o *OpenAIResponder) recall(sessionID string) []openai.ChatCompletionMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]openai.ChatCompletionMessage(nil), o.history[sessionID]...)
}

func (o *OpenAIResponder) remember(sessionID string, msgs ...openai.ChatCompletionMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := append(o.history[sessionID], msgs...)
	if len(h) > maxHistoryMessages {
		h = h[len(h)-maxHistoryMessages:]
	}
	o.history[sessionID] = h
}

var _ Responder = (*OpenAIResponder)(nil)
