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
	"fmt"
	"log/slog"
	"os"
)

// Provider constants for supported backends.
const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderNone      = "none"
)

// ProviderConfig holds the configuration for one chat backend instance.
type ProviderConfig struct {
	// Provider is the backend to use: "ollama", "anthropic", "openai" or
	// "none" (rule-based compilation only).
	Provider string

	// Model is the provider-specific model identifier, e.g. "granite4:micro-h".
	Model string

	// BaseURL is an optional endpoint override. For Ollama it defaults to
	// OLLAMA_BASE_URL or http://localhost:11434; for cloud providers it
	// defaults to the public API endpoint.
	BaseURL string

	// APIKey authenticates cloud providers. When empty, ANTHROPIC_API_KEY
	// or OPENAI_API_KEY is read from the environment.
	APIKey string

	// NumCtx sets the context window size (Ollama-specific).
	NumCtx int
}

// ResolveOllamaURL resolves the Ollama server URL from environment
// variables.
//
// Description:
//
//	Resolution order:
//	  1. OLLAMA_BASE_URL (preferred)
//	  2. OLLAMA_URL (deprecated, emits warning)
//	  3. http://localhost:11434 (default)
//
// Outputs:
//   - string: The resolved Ollama URL.
func ResolveOllamaURL() string {
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		return url
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		slog.Warn("OLLAMA_URL is deprecated, use OLLAMA_BASE_URL instead",
			slog.String("ollama_url", url))
		return url
	}
	return "http://localhost:11434"
}

// NewChatClient builds the chat client for a provider configuration.
//
// Outputs:
//   - ChatClient: nil when Provider is "none".
//   - error: Non-nil for an unknown provider or invalid configuration.
func NewChatClient(cfg ProviderConfig) (ChatClient, error) {
	switch cfg.Provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = ResolveOllamaURL()
		}
		if cfg.Model == "" {
			return nil, fmt.Errorf("NewChatClient: ollama provider requires a model")
		}
		return NewOllamaChatClient(baseURL, cfg.Model), nil
	case ProviderAnthropic:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("NewChatClient: anthropic provider requires an API key (set ANTHROPIC_API_KEY)")
		}
		if cfg.Model == "" {
			return nil, fmt.Errorf("NewChatClient: anthropic provider requires a model")
		}
		return NewAnthropicChatClient(apiKey, cfg.Model, cfg.BaseURL), nil
	case ProviderOpenAI:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("NewChatClient: openai provider requires an API key (set OPENAI_API_KEY)")
		}
		if cfg.Model == "" {
			return nil, fmt.Errorf("NewChatClient: openai provider requires a model")
		}
		return NewOpenAIChatClient(apiKey, cfg.Model, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("NewChatClient: unknown provider %q (supported: ollama, anthropic, openai, none)", cfg.Provider)
	}
}
