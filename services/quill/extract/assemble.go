// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/Quill/services/quill/config"
	"github.com/AleutianAI/Quill/services/quill/qual"
	"github.com/AleutianAI/Quill/services/quill/refdata"
)

var assembleTracer = otel.Tracer("quill/extract")

// Assembly is the assembler's output: the qualification payload, the
// resolved IDs per category for observability, and advisory diagnostics.
// Diagnostics never invalidate the payload.
type Assembly struct {
	Payload     qual.Payload
	IncludedIDs map[string][]int64
	Diagnostics []string
}

// Assembler runs every extractor over a prompt and combines their leaves
// into one flat qualification.
//
// Thread Safety: safe for concurrent use.
type Assembler struct {
	ex     *Extractors
	rules  *config.Rules
	logger *slog.Logger
}

// NewAssembler wires the assembler.
func NewAssembler(ex *Extractors, rules *config.Rules, logger *slog.Logger) (*Assembler, error) {
	if ex == nil || rules == nil {
		return nil, fmt.Errorf("NewAssembler: extractors and rules are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{ex: ex, rules: rules, logger: logger}, nil
}

// Assemble compiles the prompt into a qualification payload.
//
// Description:
//
//	Extractors run in a fixed order (status, priority, urgency, text,
//	date, assignment, tag, generic, business) and their leaves
//	concatenate into one flat list; the ordering is part of the output
//	contract. A prompt with no resolvable filters gets one of two
//	defaults: an explicit "all requests" phrasing yields an intentionally
//	empty list, while a prompt that mentions filter vocabulary without a
//	resolvable value gets the exclude-closed leaf. Conflicting filters
//	and oversized value lists are flagged as diagnostics, never errors.
func (a *Assembler) Assemble(ctx context.Context, prompt string) Assembly {
	ctx, span := assembleTracer.Start(ctx, "Assembler.Assemble")
	defer span.End()

	normalized := strings.ToLower(strings.TrimSpace(prompt))
	out := Assembly{IncludedIDs: map[string][]int64{}}
	claimed := map[qual.Property]bool{}

	collect := func(category string, res Result, props ...qual.Property) {
		out.Diagnostics = append(out.Diagnostics, res.Diagnostics...)
		if res.empty() {
			return
		}
		out.Payload.QualDetails.Quals = append(out.Payload.QualDetails.Quals, res.Nodes...)
		if category != "" && len(res.IncludedIDs) > 0 {
			out.IncludedIDs[category] = res.IncludedIDs
		}
		for _, p := range props {
			claimed[p] = true
		}
	}

	statusRes := a.ex.Status(ctx, normalized)
	collect("status", statusRes, qual.PropStatusID)
	collect("priority", a.ex.Priority(ctx, normalized), qual.PropPriorityID)
	collect("urgency", a.ex.Urgency(ctx, normalized), qual.PropUrgencyID)
	collect("", Text(normalized), qual.PropSubject, qual.PropDescription, qual.PropName)
	collect("", Date(normalized), qual.PropCreatedTime)
	collect("user", a.ex.Assignment(ctx, normalized), qual.PropTechnicianID)
	collect("", Tags(normalized), qual.PropTags)
	collect("", a.ex.Generic(ctx, normalized, claimed))
	collect("", Business(normalized))

	if len(out.Payload.QualDetails.Quals) == 0 {
		switch {
		case a.isGeneralQuery(normalized):
			out.Payload = qual.Empty()
		case a.hasGateKeyword(normalized):
			node, err := qual.NotInList(qual.PropStatusID, []int64{a.rules.DefaultStatus.ClosedID})
			if err == nil {
				out.Payload.QualDetails.Quals = []qual.Node{node}
				out.Diagnostics = append(out.Diagnostics, "applied default exclude-closed filter")
			}
		default:
			out.Payload = qual.Empty()
		}
	}

	a.flagConflicts(ctx, &out)
	a.validateValues(&out)

	span.SetAttributes(
		attribute.Int("quill.leaves", len(out.Payload.QualDetails.Quals)),
		attribute.Int("quill.diagnostics", len(out.Diagnostics)),
	)
	a.logger.Debug("qualification assembled",
		slog.Int("leaves", len(out.Payload.QualDetails.Quals)),
		slog.Int("diagnostics", len(out.Diagnostics)))
	return out
}

func (a *Assembler) isGeneralQuery(prompt string) bool {
	for _, phrase := range a.rules.GeneralQueryPhrases {
		if strings.Contains(prompt, phrase) {
			return true
		}
	}
	return false
}

func (a *Assembler) hasGateKeyword(prompt string) bool {
	for _, kw := range a.rules.DefaultStatus.GateKeywords {
		if strings.Contains(prompt, kw) {
			return true
		}
	}
	return false
}

// openLikeStatuses and closedLikeStatuses drive the contradictory-status
// diagnostic. Labels, not IDs, so the check tracks whatever the live
// mapping currently resolves them to.
var (
	openLikeStatuses   = []string{"open", "in progress", "pending"}
	closedLikeStatuses = []string{"resolved", "closed"}
)

// flagConflicts adds advisory diagnostics for contradictory filters. The
// payload is returned as assembled either way.
func (a *Assembler) flagConflicts(ctx context.Context, out *Assembly) {
	inclusion := map[string]bool{}
	exclusion := map[string]bool{}
	for _, node := range out.Payload.QualDetails.Quals {
		rel, ok := node.(qual.Relational)
		if !ok {
			continue
		}
		prop, ok := rel.Left.(qual.PropertyOperand)
		if !ok {
			continue
		}
		switch rel.Operator {
		case qual.OpIn, qual.OpEqual, qual.OpContains, qual.OpAllMembersExist:
			inclusion[string(prop.Key)] = true
		case qual.OpNotIn, qual.OpNotEqual:
			exclusion[string(prop.Key)] = true
		}
	}
	keys := make([]string, 0, len(inclusion))
	for key := range inclusion {
		if exclusion[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		out.Diagnostics = append(out.Diagnostics,
			fmt.Sprintf("conflict: %s has both inclusion and exclusion filters", key))
	}

	statusIDs, ok := out.IncludedIDs["status"]
	if !ok {
		return
	}
	mapping := a.ex.cache.Mapping(ctx, refdata.CategoryStatus)
	hasOpen, hasClosed := false, false
	for _, id := range statusIDs {
		for _, label := range openLikeStatuses {
			if mapping[label] == id {
				hasOpen = true
			}
		}
		for _, label := range closedLikeStatuses {
			if mapping[label] == id {
				hasClosed = true
			}
		}
	}
	if hasOpen && hasClosed {
		out.Diagnostics = append(out.Diagnostics,
			"conflict: status filter mixes open-like and closed-like values")
	}
}

// validateValues deduplicates list values and caps oversized lists, with
// a diagnostic whenever a list is touched.
func (a *Assembler) validateValues(out *Assembly) {
	maxValues := a.rules.Limits.MaxListValues
	for i, node := range out.Payload.QualDetails.Quals {
		rel, ok := node.(qual.Relational)
		if !ok {
			continue
		}
		vo, ok := rel.Right.(qual.ValueOperand)
		if !ok {
			continue
		}
		list, ok := vo.Value.(qual.ListLong)
		if !ok {
			continue
		}

		deduped := dedupeInt64(list)
		if len(deduped) != len(list) {
			out.Diagnostics = append(out.Diagnostics,
				fmt.Sprintf("dropped %d duplicate list values", len(list)-len(deduped)))
		}
		if len(deduped) > maxValues {
			out.Diagnostics = append(out.Diagnostics,
				fmt.Sprintf("list filter truncated from %d to %d values", len(deduped), maxValues))
			deduped = deduped[:maxValues]
		}
		rel.Right = qual.ValueOperand{Value: qual.ListLong(deduped)}
		out.Payload.QualDetails.Quals[i] = rel
	}
}

func dedupeInt64(in []int64) []int64 {
	seen := make(map[int64]bool, len(in))
	out := make([]int64, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
