// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Quill/services/quill/config"
	"github.com/AleutianAI/Quill/services/quill/qual"
	"github.com/AleutianAI/Quill/services/quill/refdata"
)

// offlineTransport fails every request so the cache serves its fallback
// tables, which keeps resolver tests hermetic.
type offlineTransport struct{}

func (offlineTransport) AuthenticatedRequest(_ context.Context, _, url string, _ []byte) ([]byte, error) {
	return nil, fmt.Errorf("offline: %s", url)
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	config.ResetRules()
	t.Cleanup(config.ResetRules)

	rules, err := config.GetRules(context.Background())
	require.NoError(t, err)

	fallbacks := map[refdata.Category]map[string]int64{}
	for name, cat := range rules.Categories {
		fallbacks[refdata.Category(name)] = cat.Fallback
	}
	cache := refdata.NewCache(offlineTransport{}, refdata.CacheConfig{
		Fallbacks: fallbacks,
	})

	r, err := NewResolver(rules, cache, nil)
	require.NoError(t, err)
	return r
}

func ids(ms []Match) []int64 {
	out := make([]int64, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func TestResolveStatusDirectMention(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		prompt string
		want   []int64
	}{
		{"bare adjective", "show open tickets", []int64{9}},
		{"uppercase", "show OPEN tickets", []int64{9}},
		{"mixed case with filler", "Could you list the Closed requests please", []int64{13}},
		{"explicit status phrase", "requests with status pending", []int64{11}},
		{"multi word label", "tickets in progress", []int64{10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(ctx, tt.prompt, "status")
			assert.Equal(t, tt.want, ids(res.Included))
			assert.Empty(t, res.Excluded)
			assert.Equal(t, qual.OpIn, res.Hint)
		})
	}
}

func TestResolveStatusSynonyms(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	tests := []struct {
		prompt string
		want   []int64
	}{
		{"show solved tickets", []int64{12}},
		{"requests with status on hold", []int64{11}},
		{"archived requests", []int64{13}},
	}
	for _, tt := range tests {
		res := r.Resolve(ctx, tt.prompt, "status")
		assert.Equal(t, tt.want, ids(res.Included), "prompt %q", tt.prompt)
	}
}

func TestResolveStatusShortcuts(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	res := r.Resolve(ctx, "show me active tickets", "status")
	assert.Equal(t, []int64{9, 10}, ids(res.Included))

	res = r.Resolve(ctx, "list unresolved requests", "status")
	assert.Equal(t, []int64{9, 10, 11}, ids(res.Included))

	res = r.Resolve(ctx, "completed requests from last week", "status")
	assert.Equal(t, []int64{12, 13}, ids(res.Included))
}

func TestResolveStatusNegation(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	t.Run("exclusion phrase", func(t *testing.T) {
		res := r.Resolve(ctx, "requests except closed", "status")
		assert.Empty(t, res.Included)
		assert.Equal(t, []int64{13}, ids(res.Excluded))
		assert.Equal(t, qual.OpNotIn, res.Hint)
	})

	t.Run("negation cue flips bare mention", func(t *testing.T) {
		res := r.Resolve(ctx, "tickets that are not resolved", "status")
		assert.Empty(t, res.Included)
		assert.Equal(t, []int64{12}, ids(res.Excluded))
		assert.Equal(t, qual.OpNotIn, res.Hint)
	})

	t.Run("affirmative stays inclusive", func(t *testing.T) {
		res := r.Resolve(ctx, "requests with status closed", "status")
		assert.Equal(t, []int64{13}, ids(res.Included))
		assert.Empty(t, res.Excluded)
		assert.Equal(t, qual.OpIn, res.Hint)
	})
}

func TestResolvePriorityMultiValue(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	t.Run("conjunction preserves prompt order", func(t *testing.T) {
		res := r.Resolve(ctx, "tickets with high and low priority", "priority")
		assert.Equal(t, []int64{3, 1}, ids(res.Included))
	})

	t.Run("synonym in conjunction", func(t *testing.T) {
		res := r.Resolve(ctx, "show high and urgent priority tickets", "priority")
		assert.Equal(t, []int64{3, 4}, ids(res.Included))
	})

	t.Run("comma separated list", func(t *testing.T) {
		res := r.Resolve(ctx, "priority is low, medium, high", "priority")
		assert.Equal(t, []int64{1, 2, 3}, ids(res.Included))
	})

	t.Run("p notation", func(t *testing.T) {
		res := r.Resolve(ctx, "all p1 tickets", "priority")
		assert.Equal(t, []int64{4}, ids(res.Included))
	})
}

func TestResolvePriorityUrgentShortcut(t *testing.T) {
	r := newTestResolver(t)

	// "urgent tickets" resolves through the critical-adjective pattern,
	// not the shortcut, so it maps straight to critical.
	res := r.Resolve(context.Background(), "urgent tickets", "priority")
	assert.Equal(t, []int64{4}, ids(res.Included))
}

func TestResolveUrgency(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	res := r.Resolve(ctx, "requests with high urgency", "urgency")
	assert.Equal(t, []int64{3}, ids(res.Included))

	res = r.Resolve(ctx, "urgency is low", "urgency")
	assert.Equal(t, []int64{1}, ids(res.Included))
}

func TestResolveFuzzyThreshold(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	t.Run("typo close to a label resolves", func(t *testing.T) {
		res := r.Resolve(ctx, "requests with status pendin", "status")
		assert.Equal(t, []int64{11}, ids(res.Included))
	})

	t.Run("short fragments never fuzzy match", func(t *testing.T) {
		for _, frag := range []string{"op", "cl", "d"} {
			res := r.Resolve(ctx, "requests with status "+frag, "status")
			assert.Empty(t, res.Included, "fragment %q", frag)
			assert.Empty(t, res.Excluded, "fragment %q", frag)
		}
	})

	t.Run("unrelated term stays unresolved with diagnostic", func(t *testing.T) {
		res := r.Resolve(ctx, "requests with status zzzzqqq", "status")
		assert.Empty(t, res.Included)
		assert.NotEmpty(t, res.Diagnostics)
	})
}

func TestResolveIdempotent(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	prompt := "show open and pending tickets but not closed"
	first := r.Resolve(ctx, prompt, "status")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Resolve(ctx, prompt, "status"))
	}
}

func TestResolveUnknownCategory(t *testing.T) {
	r := newTestResolver(t)

	res := r.Resolve(context.Background(), "anything", "nonexistent")
	assert.True(t, res.Empty())
	assert.NotEmpty(t, res.Diagnostics)
}

func TestResolveNoSignal(t *testing.T) {
	r := newTestResolver(t)

	res := r.Resolve(context.Background(), "show me everything", "status")
	assert.True(t, res.Empty())
}

func TestNewResolverValidation(t *testing.T) {
	rules, err := config.LoadRules(context.Background(), []byte(`
fuzzy:
  threshold: 0.7
categories:
  status:
    property: request.statusId
    inclusion_patterns:
      - 'status is (\w+)'
`))
	require.NoError(t, err)

	cache := refdata.NewCache(offlineTransport{}, refdata.CacheConfig{})

	_, err = NewResolver(nil, cache, nil)
	assert.Error(t, err)

	_, err = NewResolver(rules, nil, nil)
	assert.Error(t, err)

	r, err := NewResolver(rules, cache, nil)
	require.NoError(t, err)
	assert.NotNil(t, r)
}
