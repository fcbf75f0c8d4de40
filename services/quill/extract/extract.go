// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract holds the filter extractors and the qualification
// assembler. Each extractor scans the prompt for one concern (status,
// priority, dates, assignment, tags, ...) and emits zero or more
// qualification leaves; the assembler concatenates them in a fixed order
// and applies the default and validation rules.
package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/Quill/services/quill/config"
	"github.com/AleutianAI/Quill/services/quill/qual"
	"github.com/AleutianAI/Quill/services/quill/refdata"
	"github.com/AleutianAI/Quill/services/quill/resolve"
)

// Result is one extractor's contribution: leaves, the IDs behind them,
// and any advisory diagnostics. An empty Result means the extractor saw
// nothing it recognizes, which is never an error.
type Result struct {
	Nodes       []qual.Node
	IncludedIDs []int64
	Diagnostics []string
}

func (r Result) empty() bool { return len(r.Nodes) == 0 }

// Extractors bundles the extractors that need live reference data. The
// purely textual extractors (text, date, tags, business) are package
// functions and need no receiver.
//
// Thread Safety: safe for concurrent use; all state is read-only after
// construction.
type Extractors struct {
	rules    *config.Rules
	resolver *resolve.Resolver
	cache    *refdata.Cache
	logger   *slog.Logger
}

// NewExtractors builds the reference-data-backed extractor set.
func NewExtractors(rules *config.Rules, resolver *resolve.Resolver, cache *refdata.Cache, logger *slog.Logger) (*Extractors, error) {
	if rules == nil || resolver == nil || cache == nil {
		return nil, fmt.Errorf("NewExtractors: rules, resolver and cache are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractors{rules: rules, resolver: resolver, cache: cache, logger: logger}, nil
}

// Status emits a statusId membership leaf from the status resolver.
func (e *Extractors) Status(ctx context.Context, prompt string) Result {
	return e.membership(ctx, prompt, "status", qual.PropStatusID)
}

// Priority emits a priorityId membership leaf from the priority resolver.
func (e *Extractors) Priority(ctx context.Context, prompt string) Result {
	return e.membership(ctx, prompt, "priority", qual.PropPriorityID)
}

// Urgency emits an urgencyId membership leaf from the urgency resolver.
func (e *Extractors) Urgency(ctx context.Context, prompt string) Result {
	return e.membership(ctx, prompt, "urgency", qual.PropUrgencyID)
}

// membership wraps a resolver result into a single in/not_in leaf. One
// leaf per category regardless of how many values resolved; multi-value
// prompts union into the list.
func (e *Extractors) membership(ctx context.Context, prompt, category string, prop qual.Property) Result {
	res := e.resolver.Resolve(ctx, prompt, category)
	out := Result{Diagnostics: res.Diagnostics}
	if res.Empty() {
		return out
	}

	if len(res.Included) > 0 {
		node, err := qual.InList(prop, res.IncludedIDs())
		if err != nil {
			out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("%s: %v", category, err))
		} else {
			out.Nodes = append(out.Nodes, node)
			out.IncludedIDs = res.IncludedIDs()
		}
	}
	if len(res.Excluded) > 0 {
		node, err := qual.NotInList(prop, res.ExcludedIDs())
		if err != nil {
			out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("%s: %v", category, err))
		} else {
			out.Nodes = append(out.Nodes, node)
		}
	}
	return out
}
