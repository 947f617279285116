// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// maxErrorBodyBytes bounds how much of a failed response is kept for logs.
const maxErrorBodyBytes = 4096

// ChatRequest is the JSON body posted to the chat endpoint.
type ChatRequest struct {
	Message     string `json:"message"`
	SessionID   string `json:"session_id"`
	ContextPage string `json:"context_page"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

// HTTPClient is the subset of *http.Client the coordinator needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ChatURL joins the API base URL and the chat endpoint path.
func ChatURL(apiURL, endpoint string) string {
	return strings.TrimRight(apiURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

// StripDataURLPrefix removes a "data:<mime>;base64," prefix from an image
// payload. Plain base64 is returned unchanged.
func StripDataURLPrefix(image string) string {
	image = strings.TrimSpace(image)
	if !strings.HasPrefix(image, "data:") {
		return image
	}
	if _, data, ok := strings.Cut(image, ";base64,"); ok {
		return data
	}
	return image
}

// newChatRequest builds the POST request. The returned request is bound to
// ctx, so cancelling ctx also tears down the response body.
func newChatRequest(ctx context.Context, url, requestID string, body ChatRequest) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	req.Header.Set("X-Request-ID", requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

// checkResponse turns a non-2xx response into *HTTPStatusError. The body is
// drained (up to a limit) but not closed.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return &HTTPStatusError{StatusCode: resp.StatusCode}
	}
	return &HTTPStatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
