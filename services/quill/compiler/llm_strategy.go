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
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/Quill/services/quill/providers"
	"github.com/AleutianAI/Quill/services/quill/qual"
	"github.com/AleutianAI/Quill/services/quill/refdata"
)

const llmMaxTokens = 1024

// llmStrategy asks a chat backend to emit the qualification JSON
// directly, then validates the answer against the grammar. Anything the
// validator rejects sends the facade on to the rule pipeline.
type llmStrategy struct {
	chat   providers.ChatClient
	cache  *refdata.Cache
	logger *slog.Logger
}

func newLLMStrategy(chat providers.ChatClient, cache *refdata.Cache, logger *slog.Logger) *llmStrategy {
	return &llmStrategy{chat: chat, cache: cache, logger: logger}
}

func (s *llmStrategy) Name() string { return StrategyLLM }

func (s *llmStrategy) Generate(ctx context.Context, prompt string) (Outcome, error) {
	start := time.Now()
	response, err := s.chat.Chat(ctx, []providers.Message{
		{Role: "system", Content: s.systemPrompt(ctx)},
		{Role: "user", Content: prompt},
	}, providers.ChatOptions{
		Temperature: 0.0,
		MaxTokens:   llmMaxTokens,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("llm strategy: %w", err)
	}

	payload, err := parseModelResponse(response)
	if err != nil {
		s.logger.Warn("model produced an unusable qualification",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return Outcome{}, err
	}

	return Outcome{Payload: payload}, nil
}

// systemPrompt describes the wire grammar and the current reference
// mappings so the model emits real IDs instead of labels.
func (s *llmStrategy) systemPrompt(ctx context.Context) string {
	var sb strings.Builder
	sb.WriteString(`You translate IT service desk queries into a JSON filter called a qualification.
Respond with ONLY the JSON object. No explanation, no markdown formatting.

The object has this shape:
{"qualDetails":{"type":"FlatQualificationRest","quals":[...]}}

Each element of quals is one of:
- {"type":"RelationalQualificationRest","leftOperand":{"type":"PropertyOperandRest","key":"<property>"},"operator":"<op>","rightOperand":{"type":"ValueOperandRest","value":{"type":"ListLongValueRest","value":[<ids>]}}}
- the same shape with a StringValueRest, BooleanValueRest or ListStringValueRest value
- {"type":"UnaryQualificationRest","operand":{"type":"PropertyOperandRest","key":"<property>"},"operator":"is_null"}

Allowed operators: in, not_in, contains, equal, not_equal, within_last, is_null, is_not_null, all_members_exist.
Properties: request.statusId, request.priorityId, request.urgencyId, request.technicianId, request.subject, request.tags, request.createdTime, request.vipRequest, request.slaViolated.
For "today" or "yesterday" use {"type":"VariableOperandRest","value":"today"} as the rightOperand with operator equal on request.createdTime.
For "last N days" use leftOperand {"type":"VariableOperandRest","key":"created_date"}, operator within_last and a DurationValueRest value like {"type":"DurationValueRest","value":7,"unit":"days"}.
An unfiltered query is {"qualDetails":{"type":"FlatQualificationRest","quals":[]}}.

Current ID mappings:
`)
	for _, cat := range []refdata.Category{refdata.CategoryStatus, refdata.CategoryPriority, refdata.CategoryUrgency} {
		mapping := s.cache.Mapping(ctx, cat)
		labels := make([]string, 0, len(mapping))
		for label := range mapping {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		sb.WriteString(string(cat))
		sb.WriteString(":")
		for _, label := range labels {
			fmt.Fprintf(&sb, " %s=%d", label, mapping[label])
		}
		sb.WriteString("\n")
	}

	sb.WriteString(`
Examples:
"show high priority open tickets" -> {"qualDetails":{"type":"FlatQualificationRest","quals":[{"type":"RelationalQualificationRest","leftOperand":{"type":"PropertyOperandRest","key":"request.statusId"},"operator":"in","rightOperand":{"type":"ValueOperandRest","value":{"type":"ListLongValueRest","value":[9]}}},{"type":"RelationalQualificationRest","leftOperand":{"type":"PropertyOperandRest","key":"request.priorityId"},"operator":"in","rightOperand":{"type":"ValueOperandRest","value":{"type":"ListLongValueRest","value":[3]}}}]}}
"get all requests" -> {"qualDetails":{"type":"FlatQualificationRest","quals":[]}}
"get all unassigned requests" -> {"qualDetails":{"type":"FlatQualificationRest","quals":[{"type":"UnaryQualificationRest","operand":{"type":"PropertyOperandRest","key":"request.technicianId"},"operator":"is_null"}]}}
`)
	return sb.String()
}

// parseModelResponse cleans markdown fences, isolates the outermost JSON
// object and validates it against the qualification grammar.
func parseModelResponse(response string) (qual.Payload, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return qual.Payload{}, fmt.Errorf("empty response from model")
	}

	// Clean up markdown code blocks
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")
	if startIdx == -1 || endIdx == -1 || endIdx <= startIdx {
		return qual.Payload{}, fmt.Errorf("no JSON object found in response: %s", snippet(response))
	}

	payload, err := qual.ParsePayload([]byte(response[startIdx : endIdx+1]))
	if err != nil {
		return qual.Payload{}, fmt.Errorf("model qualification rejected: %w", err)
	}
	return payload, nil
}

func snippet(s string) string {
	if len(s) <= 100 {
		return s
	}
	return s[:100] + "..."
}
