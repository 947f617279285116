// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import "time"

type MoviConfig struct {
	// APIURL is the backend base URL, e.g. http://localhost:8000
	APIURL string `yaml:"api_url" validate:"required,url"`

	// ChatEndpoint is joined to APIURL, e.g. api/chat
	ChatEndpoint string `yaml:"chat_endpoint" validate:"required"`

	// VoiceURL is the websocket side-channel. Empty disables /voice.
	VoiceURL string `yaml:"voice_url,omitempty" validate:"omitempty,url"`

	// ContextPath is the dashboard path the assistant is mounted on; it
	// picks the context_page tag sent with every request.
	ContextPath string `yaml:"context_path"`

	// RequestTimeout bounds a whole turn. Zero means no limit.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`

	// ConfirmationTimeout answers "no" when the user has not decided in
	// time. Zero waits forever.
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout" validate:"gte=0"`

	// Personality is full, minimal, or machine.
	Personality string `yaml:"personality" validate:"omitempty,oneof=full minimal machine"`

	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	DevServer DevServerConfig `yaml:"devserver"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"` // e.g. ~/.movi/logs
	JSON  bool   `yaml:"json"`
	// ExportPath appends a plain-text copy of every record to this file.
	ExportPath string `yaml:"export_path,omitempty"`
}

type MetricsConfig struct {
	// Addr serves /metrics from the CLI when set, e.g. :9464
	Addr string `yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
}

type TracingConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"omitempty,hostname_port"`
	Insecure     bool   `yaml:"insecure"`
	Stdout       bool   `yaml:"stdout"`
}

type DevServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`

	// Responder is "scripted" or "openai".
	Responder string `yaml:"responder" validate:"oneof=scripted openai"`

	// TokenRate is how many tokens per second the dev server emits.
	TokenRate float64 `yaml:"token_rate" validate:"gt=0"`

	OpenAIModel   string `yaml:"openai_model,omitempty"`
	OpenAIBaseURL string `yaml:"openai_base_url,omitempty" validate:"omitempty,url"`
}

func DefaultConfig() MoviConfig {
	return MoviConfig{
		APIURL:              "http://localhost:8000",
		ChatEndpoint:        "api/chat",
		VoiceURL:            "ws://localhost:8000/api/voice",
		ContextPath:         "/dashboard",
		RequestTimeout:      2 * time.Minute,
		ConfirmationTimeout: 0,
		Personality:         "full",
		Log: LogConfig{
			Level: "info",
			Dir:   "~/.movi/logs",
		},
		DevServer: DevServerConfig{
			Addr:        ":8000",
			Responder:   "scripted",
			TokenRate:   40,
			OpenAIModel: "gpt-4o-mini",
		},
	}
}
