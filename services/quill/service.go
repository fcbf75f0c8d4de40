// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package quill is the HTTP surface of the natural-language query
// compiler. It wires the rule tables, reference data cache, extractor
// pipeline, compiler facade, execution adapter, and journal into one
// Service and exposes them through a small gin route group.
package quill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/Quill/services/quill/compiler"
	"github.com/AleutianAI/Quill/services/quill/config"
	"github.com/AleutianAI/Quill/services/quill/exec"
	"github.com/AleutianAI/Quill/services/quill/extract"
	"github.com/AleutianAI/Quill/services/quill/format"
	"github.com/AleutianAI/Quill/services/quill/history"
	"github.com/AleutianAI/Quill/services/quill/providers"
	"github.com/AleutianAI/Quill/services/quill/refdata"
	"github.com/AleutianAI/Quill/services/quill/resolve"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// ITSMBaseURL is the target system root, without trailing slash.
	// Empty disables execution; prompts still compile.
	ITSMBaseURL string

	// Auth configures the OAuth client. Ignored when ITSMBaseURL is empty.
	Auth exec.OAuthConfig

	// Provider selects the optional LLM compilation strategy.
	Provider providers.ProviderConfig

	// Strict restricts compilation to the first configured strategy.
	Strict bool

	// HistoryPath is the journal directory. Empty disables journaling.
	HistoryPath string

	// ReuseHistory answers repeated prompts from the journal.
	ReuseHistory bool

	// RefDataTTL overrides the reference data freshness window.
	RefDataTTL time.Duration

	Logger *slog.Logger
}

// DefaultServiceConfig returns a compile-only configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{}
}

// Service owns the full prompt pipeline.
//
// Thread Safety: Service is safe for concurrent use.
type Service struct {
	rules   *config.Rules
	cache   *refdata.Cache
	facade  *compiler.Facade
	adapter *exec.Adapter
	hist    *history.Store
	logger  *slog.Logger
}

// offlineTransport serves the reference cache when no target system is
// configured; every fetch fails, so reads resolve from fallback tables.
type offlineTransport struct{}

func (offlineTransport) AuthenticatedRequest(_ context.Context, _, url string, _ []byte) ([]byte, error) {
	return nil, fmt.Errorf("no target system configured: %s", url)
}

// referenceEndpoints maps reference categories to their list endpoints
// under the target system root.
func referenceEndpoints(baseURL string) map[refdata.Category]string {
	paths := map[refdata.Category]string{
		refdata.CategoryStatus:         "/api/status",
		refdata.CategoryPriority:       "/api/priority",
		refdata.CategoryUrgency:        "/api/urgency",
		refdata.CategoryUser:           "/api/technician",
		refdata.CategoryCategory:       "/api/category",
		refdata.CategoryLocation:       "/api/location",
		refdata.CategoryServiceCatalog: "/api/service_catalog",
	}
	out := make(map[refdata.Category]string, len(paths))
	for cat, p := range paths {
		out[cat] = baseURL + p
	}
	return out
}

// NewService wires the pipeline from the configuration.
//
// Description:
//
//	Loads the rule tables, builds the reference cache (live when a
//	target system is configured, fallback-only otherwise), the
//	resolver/extractor/assembler chain, the optional LLM client, the
//	optional journal, and the compiler facade.
//
// Outputs:
//   - *Service: Ready to serve.
//   - error: Invalid configuration or rule tables.
func NewService(ctx context.Context, cfg ServiceConfig) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rules, err := config.GetRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewService: load rules: %w", err)
	}

	var adapter *exec.Adapter
	var transport refdata.Transport = offlineTransport{}
	var endpoints map[refdata.Category]string
	if cfg.ITSMBaseURL != "" {
		auth, err := exec.NewOAuthClient(cfg.Auth, logger)
		if err != nil {
			return nil, fmt.Errorf("NewService: %w", err)
		}
		adapter, err = exec.NewAdapter(exec.AdapterConfig{
			BaseURL: cfg.ITSMBaseURL,
			Auth:    auth,
			Logger:  logger,
		}, rules)
		if err != nil {
			return nil, fmt.Errorf("NewService: %w", err)
		}
		transport = adapter
		endpoints = referenceEndpoints(cfg.ITSMBaseURL)
	}

	fallbacks := make(map[refdata.Category]map[string]int64, len(rules.Categories))
	for name, cat := range rules.Categories {
		fallbacks[refdata.Category(name)] = cat.Fallback
	}
	cache := refdata.NewCache(transport, refdata.CacheConfig{
		TTL:       cfg.RefDataTTL,
		Endpoints: endpoints,
		Fallbacks: fallbacks,
		Logger:    logger,
	})

	resolver, err := resolve.NewResolver(rules, cache, logger)
	if err != nil {
		return nil, fmt.Errorf("NewService: %w", err)
	}
	extractors, err := extract.NewExtractors(rules, resolver, cache, logger)
	if err != nil {
		return nil, fmt.Errorf("NewService: %w", err)
	}
	assembler, err := extract.NewAssembler(extractors, rules, logger)
	if err != nil {
		return nil, fmt.Errorf("NewService: %w", err)
	}

	chat, err := providers.NewChatClient(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("NewService: %w", err)
	}

	var hist *history.Store
	if cfg.HistoryPath != "" {
		hist, err = history.Open(cfg.HistoryPath, history.DefaultTTL, logger)
		if err != nil {
			// Journaling is an accessory; the compiler works without it.
			logger.Warn("history store unavailable, journaling disabled",
				slog.String("path", cfg.HistoryPath),
				slog.Any("error", err))
			hist = nil
		}
	}

	facade, err := compiler.New(compiler.Config{
		Chat:         chat,
		Assembler:    assembler,
		Cache:        cache,
		Strict:       cfg.Strict,
		History:      hist,
		ReuseHistory: cfg.ReuseHistory && hist != nil,
		Logger:       logger,
	})
	if err != nil {
		if hist != nil {
			_ = hist.Close()
		}
		return nil, fmt.Errorf("NewService: %w", err)
	}

	return &Service{
		rules:   rules,
		cache:   cache,
		facade:  facade,
		adapter: adapter,
		hist:    hist,
		logger:  logger,
	}, nil
}

// Compile translates one prompt into a qualification without executing it.
func (s *Service) Compile(ctx context.Context, prompt string) (compiler.Result, error) {
	return s.facade.Compile(ctx, prompt)
}

// Execute compiles a prompt and, when a target system is configured,
// runs the resulting query against it.
//
// Outputs:
//   - format.Response: Always carries the qualification; records are
//     present only when execution succeeded.
//   - error: Compilation failure (strict mode) or response assembly
//     failure. Execution failures degrade to a diagnostic instead.
func (s *Service) Execute(ctx context.Context, prompt string) (format.Response, error) {
	compiled, err := s.facade.Compile(ctx, prompt)
	if err != nil {
		return format.Response{}, err
	}

	var executed *exec.ExecutionResult
	if s.adapter != nil {
		executed, err = s.adapter.Execute(ctx, prompt, compiled.Payload)
		if err != nil {
			s.logger.Warn("execution failed, returning compile-only response",
				slog.Any("error", err))
			compiled.Diagnostics = append(compiled.Diagnostics,
				fmt.Sprintf("execution failed: %v", err))
			executed = nil
		}
	}

	return format.Build(compiled, executed)
}

// Recent returns the newest journal entries, or nil when journaling is
// disabled.
func (s *Service) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	if s.hist == nil {
		return nil, nil
	}
	return s.hist.Recent(ctx, limit)
}

// HistoryEnabled reports whether a journal is attached.
func (s *Service) HistoryEnabled() bool {
	return s.hist != nil
}

// Endpoints lists the detectable target endpoints and their keywords.
func (s *Service) Endpoints() []config.EndpointRule {
	return s.rules.Endpoints
}

// Ready reports whether the service can answer queries. The reference
// cache always answers (fallbacks at worst), so readiness reduces to
// the rule tables resolving a mapping for the status category.
func (s *Service) Ready(ctx context.Context) error {
	if len(s.cache.Mapping(ctx, refdata.CategoryStatus)) == 0 {
		return fmt.Errorf("status mapping empty")
	}
	return nil
}

// Close releases the journal.
func (s *Service) Close() error {
	if s.hist == nil {
		return nil
	}
	return s.hist.Close()
}
