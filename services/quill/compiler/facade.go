// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/Quill/services/quill/extract"
	"github.com/AleutianAI/Quill/services/quill/history"
	"github.com/AleutianAI/Quill/services/quill/providers"
	"github.com/AleutianAI/Quill/services/quill/qual"
	"github.com/AleutianAI/Quill/services/quill/refdata"
)

var facadeTracer = otel.Tracer("quill/compiler")

var (
	compileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_compile_total",
		Help: "Compilations by winning strategy and outcome.",
	}, []string{"strategy", "outcome"})

	compileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quill_compile_duration_seconds",
		Help:    "End-to-end compile latency by winning strategy.",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})
)

// Result is what the facade hands to callers: the qualification, which
// strategy produced it, the resolved IDs per category and the collected
// diagnostics.
type Result struct {
	Payload     qual.Payload
	Strategy    string
	IncludedIDs map[string][]int64
	Diagnostics []string
}

// Config wires a Facade.
type Config struct {
	// Chat is the optional LLM backend. Nil disables the LLM strategy.
	Chat providers.ChatClient

	// Assembler is the rule pipeline. Required unless Strict is set and
	// Chat is non-nil.
	Assembler *extract.Assembler

	// Cache supplies reference mappings to the LLM strategy's context.
	Cache *refdata.Cache

	// Strict restricts compilation to the first configured strategy and
	// propagates its failure instead of falling through.
	Strict bool

	// History optionally journals every compilation and, when
	// ReuseHistory is set, answers repeated prompts from the journal.
	History      *history.Store
	ReuseHistory bool

	Logger *slog.Logger
}

// Facade dispatches a prompt across the ordered strategy chain.
//
// Description:
//
//	Strategies run in order (LLM if configured, rules, static empty);
//	the first structurally valid answer wins. A strategy failure is
//	logged and the chain advances, so callers always get a valid
//	qualification. In strict mode only the first strategy runs and its
//	error propagates.
//
// Thread Safety: Facade is safe for concurrent use.
type Facade struct {
	strategies []Strategy
	strict     bool
	hist       *history.Store
	reuse      bool
	logger     *slog.Logger
}

// New builds a Facade from the configuration.
func New(cfg Config) (*Facade, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var strategies []Strategy
	if cfg.Chat != nil {
		if cfg.Cache == nil {
			return nil, fmt.Errorf("compiler.New: LLM strategy requires a reference cache")
		}
		strategies = append(strategies, newLLMStrategy(cfg.Chat, cfg.Cache, cfg.Logger))
	}
	if cfg.Assembler != nil {
		strategies = append(strategies, &ruleStrategy{assembler: cfg.Assembler})
	}
	strategies = append(strategies, staticStrategy{})

	if cfg.Strict && len(strategies) == 1 {
		return nil, fmt.Errorf("compiler.New: strict mode needs a configured strategy besides the static fallback")
	}
	if cfg.ReuseHistory && cfg.History == nil {
		return nil, fmt.Errorf("compiler.New: ReuseHistory requires a history store")
	}

	return &Facade{
		strategies: strategies,
		strict:     cfg.Strict,
		hist:       cfg.History,
		reuse:      cfg.ReuseHistory,
		logger:     cfg.Logger,
	}, nil
}

// Compile runs the strategy chain for one prompt.
//
// Outputs:
//   - Result: Always structurally valid when error is nil.
//   - error: Only in strict mode, when the selected strategy fails.
func (f *Facade) Compile(ctx context.Context, prompt string) (Result, error) {
	ctx, span := facadeTracer.Start(ctx, "Facade.Compile")
	defer span.End()
	start := time.Now()

	if f.reuse {
		if res, ok := f.fromHistory(ctx, prompt); ok {
			span.SetAttributes(attribute.String("quill.strategy", StrategyHistory))
			compileTotal.WithLabelValues(StrategyHistory, "success").Inc()
			compileDuration.WithLabelValues(StrategyHistory).Observe(time.Since(start).Seconds())
			return res, nil
		}
	}

	var res Result
	var lastErr error
	for i, strategy := range f.strategies {
		out, err := strategy.Generate(ctx, prompt)
		if err != nil {
			lastErr = err
			compileTotal.WithLabelValues(strategy.Name(), "failure").Inc()
			f.logger.Warn("compile strategy failed",
				slog.String("strategy", strategy.Name()),
				slog.String("error", err.Error()))
			if f.strict {
				span.RecordError(err)
				return Result{}, fmt.Errorf("strict compile via %s: %w", strategy.Name(), err)
			}
			continue
		}

		res = Result{
			Payload:     out.Payload,
			Strategy:    strategy.Name(),
			IncludedIDs: out.IncludedIDs,
			Diagnostics: out.Diagnostics,
		}
		if i > 0 && lastErr != nil {
			res.Diagnostics = append(res.Diagnostics,
				fmt.Sprintf("fell back to %s strategy: %v", strategy.Name(), lastErr))
		}
		compileTotal.WithLabelValues(strategy.Name(), "success").Inc()
		compileDuration.WithLabelValues(strategy.Name()).Observe(time.Since(start).Seconds())
		span.SetAttributes(
			attribute.String("quill.strategy", strategy.Name()),
			attribute.Int("quill.leaves", len(res.Payload.QualDetails.Quals)),
		)

		f.journal(ctx, prompt, res)
		return res, nil

	}

	// Unreachable while the static fallback is in the chain.
	return Result{}, fmt.Errorf("all compile strategies failed: %w", lastErr)
}

// fromHistory answers a repeated prompt from the journal when the stored
// qualification still parses.
func (f *Facade) fromHistory(ctx context.Context, prompt string) (Result, bool) {
	entry, err := f.hist.LastForPrompt(ctx, prompt)
	if err != nil || entry == nil {
		return Result{}, false
	}
	payload, err := qual.ParsePayload(entry.Qualification)
	if err != nil {
		f.logger.Warn("journaled qualification no longer parses",
			slog.String("id", entry.ID),
			slog.String("error", err.Error()))
		return Result{}, false
	}
	return Result{
		Payload:     payload,
		Strategy:    StrategyHistory,
		Diagnostics: []string{fmt.Sprintf("reused journal entry %s", entry.ID)},
	}, true
}

func (f *Facade) journal(ctx context.Context, prompt string, res Result) {
	if f.hist == nil {
		return
	}
	data, err := json.Marshal(res.Payload)
	if err != nil {
		return
	}
	if _, err := f.hist.Record(ctx, history.Entry{
		Prompt:        prompt,
		Qualification: data,
		Strategy:      res.Strategy,
		Diagnostics:   res.Diagnostics,
	}); err != nil {
		f.logger.Warn("failed to journal compilation", slog.String("error", err.Error()))
	}
}
