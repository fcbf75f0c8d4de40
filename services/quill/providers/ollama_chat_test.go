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

func TestOllamaChatClient(t *testing.T) {
	var captured ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": `{"qualDetails":{"type":"FlatQualificationRest","quals":[]}}`},
			"done":    true,
		})
	}))
	defer srv.Close()

	client := NewOllamaChatClient(srv.URL, "granite4:micro-h")
	out, err := client.Chat(context.Background(), []Message{
		{Role: "system", Content: "compile"},
		{Role: "user", Content: "get all requests"},
	}, ChatOptions{MaxTokens: 512})
	require.NoError(t, err)
	assert.Contains(t, out, "FlatQualificationRest")

	assert.Equal(t, "granite4:micro-h", captured.Model)
	assert.False(t, captured.Stream)
	assert.Len(t, captured.Messages, 2)
	assert.Equal(t, 512, captured.Options.NumPredict)
}

func TestOllamaChatClientErrors(t *testing.T) {
	t.Run("no model", func(t *testing.T) {
		client := NewOllamaChatClient("http://localhost:11434", "")
		_, err := client.Chat(context.Background(), nil, ChatOptions{})
		assert.Error(t, err)
	})

	t.Run("server error body surfaces", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer srv.Close()

		client := NewOllamaChatClient(srv.URL, "missing")
		_, err := client.Chat(context.Background(), nil, ChatOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("error field in payload", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"error": "out of memory"})
		}))
		defer srv.Close()

		client := NewOllamaChatClient(srv.URL, "granite4:micro-h")
		_, err := client.Chat(context.Background(), nil, ChatOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of memory")
	})
}

func TestNewChatClient(t *testing.T) {
	c, err := NewChatClient(ProviderConfig{Provider: ProviderNone})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = NewChatClient(ProviderConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = NewChatClient(ProviderConfig{Provider: ProviderOllama})
	assert.Error(t, err)

	c, err = NewChatClient(ProviderConfig{Provider: ProviderOllama, Model: "granite4:micro-h"})
	require.NoError(t, err)
	assert.NotNil(t, c)

	c, err = NewChatClient(ProviderConfig{Provider: ProviderAnthropic, Model: "claude-sonnet-4-20250514", APIKey: "test-key"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicChatClient{}, c)

	c, err = NewChatClient(ProviderConfig{Provider: ProviderOpenAI, Model: "gpt-4o-mini", APIKey: "test-key"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIChatClient{}, c)

	t.Run("cloud providers require an API key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("OPENAI_API_KEY", "")

		_, err := NewChatClient(ProviderConfig{Provider: ProviderAnthropic, Model: "claude-sonnet-4-20250514"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")

		_, err = NewChatClient(ProviderConfig{Provider: ProviderOpenAI, Model: "gpt-4o-mini"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OPENAI_API_KEY")
	})

	_, err = NewChatClient(ProviderConfig{Provider: "mystery"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}
