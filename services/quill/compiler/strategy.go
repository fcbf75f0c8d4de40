// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compiler turns a natural-language prompt into a qualification
// payload by running an ordered chain of strategies: an optional LLM
// backend, the deterministic rule pipeline, and a static empty fallback.
package compiler

import (
	"context"

	"github.com/AleutianAI/Quill/services/quill/qual"
)

// Strategy names, used in metrics, history entries and diagnostics.
const (
	StrategyLLM     = "llm"
	StrategyRules   = "rules"
	StrategyStatic  = "static"
	StrategyHistory = "history"
)

// Outcome is one strategy's answer.
type Outcome struct {
	// Payload is the assembled qualification.
	Payload qual.Payload

	// IncludedIDs lists the resolved IDs per field category, for
	// observability. Strategies that do not resolve IDs leave it nil.
	IncludedIDs map[string][]int64

	// Diagnostics are advisory notes; they never invalidate the payload.
	Diagnostics []string
}

// Strategy is one way of compiling a prompt.
//
// Description:
//
//	Generate either returns a structurally valid qualification or an
//	error; the facade advances to the next strategy on error. Strategies
//	must not panic on malformed prompts.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Strategy interface {
	// Name identifies the strategy in logs and metrics.
	Name() string

	// Generate compiles the prompt.
	Generate(ctx context.Context, prompt string) (Outcome, error)
}
