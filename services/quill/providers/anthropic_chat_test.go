// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicChatClient(t *testing.T) {
	var captured anthropicRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{
				{"type": "text", "text": `{"qualDetails":{"type":"FlatQualificationRest","quals":[]}}`},
			},
		})
	}))
	defer srv.Close()

	client := NewAnthropicChatClient("test-key", "claude-sonnet-4-20250514", srv.URL)
	out, err := client.Chat(context.Background(), []Message{
		{Role: "system", Content: "compile"},
		{Role: "user", Content: "get all requests"},
	}, ChatOptions{MaxTokens: 512})
	require.NoError(t, err)
	assert.Contains(t, out, "FlatQualificationRest")

	assert.Equal(t, "test-key", headers.Get("x-api-key"))
	assert.Equal(t, anthropicAPIVersion, headers.Get("anthropic-version"))
	assert.Equal(t, "claude-sonnet-4-20250514", captured.Model)
	assert.Equal(t, 512, captured.MaxTokens)

	// The system turn moves to the top-level field.
	assert.Equal(t, "compile", captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
}

func TestAnthropicChatClientErrors(t *testing.T) {
	t.Run("no model", func(t *testing.T) {
		client := NewAnthropicChatClient("test-key", "", "")
		_, err := client.Chat(context.Background(), nil, ChatOptions{})
		assert.Error(t, err)
	})

	t.Run("error payload surfaces", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"type": "invalid_request_error", "message": "bad model"},
			})
		}))
		defer srv.Close()

		client := NewAnthropicChatClient("test-key", "nope", srv.URL)
		_, err := client.Chat(context.Background(), nil, ChatOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad model")
	})

	t.Run("non-200 surfaces status and body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "overloaded", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		client := NewAnthropicChatClient("test-key", "claude-sonnet-4-20250514", srv.URL)
		_, err := client.Chat(context.Background(), nil, ChatOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
	})
}
