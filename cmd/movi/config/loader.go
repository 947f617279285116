// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PathEnvVar points at an alternative config file.
const PathEnvVar = "MOVI_CONFIG"

var (
	// Global is a singleton instance
	Global MoviConfig
	once   sync.Once

	validate = newValidator()
)

// newValidator reports fields by their yaml names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads .env, then the config file, into Global. Only the first call
// does any work.
func Load() error {
	var err error
	once.Do(func() {
		// .env is optional
		_ = godotenv.Load()

		var path string
		if path, err = DefaultPath(); err != nil {
			return
		}
		Global, err = LoadFrom(path)
	})
	return err
}

// DefaultPath is $MOVI_CONFIG or ~/.movi/movi.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".movi", "movi.yaml"), nil
}

// LoadFrom reads path, creating it with defaults on first run, then applies
// MOVI_* environment overrides and validates the result. Fields missing
// from the file keep their defaults.
func LoadFrom(path string) (MoviConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return MoviConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return MoviConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return MoviConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return MoviConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return MoviConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv overlays MOVI_* variables. getenv is os.Getenv outside tests.
func applyEnv(cfg *MoviConfig, getenv func(string) string) error {
	strs := map[string]*string{
		"MOVI_API_URL":       &cfg.APIURL,
		"MOVI_CHAT_ENDPOINT": &cfg.ChatEndpoint,
		"MOVI_VOICE_URL":     &cfg.VoiceURL,
		"MOVI_CONTEXT_PATH":  &cfg.ContextPath,
		"MOVI_PERSONALITY":   &cfg.Personality,
		"MOVI_LOG_LEVEL":     &cfg.Log.Level,
		"MOVI_LOG_DIR":       &cfg.Log.Dir,
		"MOVI_LOG_EXPORT":    &cfg.Log.ExportPath,
		"MOVI_METRICS_ADDR":  &cfg.Metrics.Addr,
		"MOVI_OTLP_ENDPOINT": &cfg.Tracing.OTLPEndpoint,
		"MOVI_DEV_ADDR":      &cfg.DevServer.Addr,
		"MOVI_DEV_RESPONDER": &cfg.DevServer.Responder,
		"MOVI_OPENAI_MODEL":  &cfg.DevServer.OpenAIModel,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"MOVI_REQUEST_TIMEOUT":      &cfg.RequestTimeout,
		"MOVI_CONFIRMATION_TIMEOUT": &cfg.ConfirmationTimeout,
	}
	for key, dst := range durations {
		v := getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

// Validate checks cfg against its validate tags and reports every failing
// field by its yaml path.
func Validate(cfg MoviConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (got %v)", yamlPath(fe.Namespace()), fe.Tag(), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// yamlPath turns "MoviConfig.devserver.token_rate" into "devserver.token_rate".
func yamlPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}
