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
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Quill/services/quill/qual"
)

func newTestAssembler(t *testing.T) *Assembler {
	t.Helper()
	ex, rules := newTestExtractors(t)
	a, err := NewAssembler(ex, rules, nil)
	require.NoError(t, err)
	return a
}

func TestAssembleScenarios(t *testing.T) {
	a := newTestAssembler(t)
	ctx := context.Background()

	t.Run("priority as low", func(t *testing.T) {
		out := a.Assemble(ctx, "Get all the request with priority as low")
		require.Len(t, out.Payload.QualDetails.Quals, 1)
		rel := relational(t, out.Payload.QualDetails.Quals[0])
		assert.Equal(t, qual.PropPriorityID, rel.Left.(qual.PropertyOperand).Key)
		assert.Equal(t, qual.OpIn, rel.Operator)
		assert.Equal(t, []int64{1}, listLongValue(t, rel))
	})

	t.Run("high and urgent priority", func(t *testing.T) {
		out := a.Assemble(ctx, "Find high and urgent priority requests")
		require.Len(t, out.Payload.QualDetails.Quals, 1)
		rel := relational(t, out.Payload.QualDetails.Quals[0])
		assert.Equal(t, []int64{3, 4}, listLongValue(t, rel))
	})

	t.Run("unassigned", func(t *testing.T) {
		out := a.Assemble(ctx, "Get all unassigned requests")
		require.Len(t, out.Payload.QualDetails.Quals, 1)
		un, ok := out.Payload.QualDetails.Quals[0].(qual.Unary)
		require.True(t, ok)
		assert.Equal(t, qual.OpIsNull, un.Operator)
		assert.Equal(t, qual.PropTechnicianID, un.Operand.Key)
	})

	t.Run("all requests is intentionally empty", func(t *testing.T) {
		out := a.Assemble(ctx, "Get all requests")
		assert.True(t, out.Payload.IsEmpty())
		data, err := json.Marshal(out.Payload)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"quals":[]`)
	})

	t.Run("created today", func(t *testing.T) {
		out := a.Assemble(ctx, "Show me requests created today")
		require.Len(t, out.Payload.QualDetails.Quals, 1)
		rel := relational(t, out.Payload.QualDetails.Quals[0])
		assert.Equal(t, qual.PropCreatedTime, rel.Left.(qual.PropertyOperand).Key)
		assert.Equal(t, qual.OpEqual, rel.Operator)
		assert.Equal(t, "today", rel.Right.(qual.VariableOperand).Value)
	})

	t.Run("tagged with hardware", func(t *testing.T) {
		out := a.Assemble(ctx, "Find requests tagged with 'hardware'")
		require.Len(t, out.Payload.QualDetails.Quals, 1)
		rel := relational(t, out.Payload.QualDetails.Quals[0])
		assert.Equal(t, qual.PropTags, rel.Left.(qual.PropertyOperand).Key)
		assert.Equal(t, qual.OpAllMembersExist, rel.Operator)
	})
}

func TestAssembleDefaultStatus(t *testing.T) {
	a := newTestAssembler(t)
	ctx := context.Background()

	t.Run("bare filter keyword injects exclude-closed", func(t *testing.T) {
		out := a.Assemble(ctx, "sort these by priority somehow")
		require.Len(t, out.Payload.QualDetails.Quals, 1)
		rel := relational(t, out.Payload.QualDetails.Quals[0])
		assert.Equal(t, qual.PropStatusID, rel.Left.(qual.PropertyOperand).Key)
		assert.Equal(t, qual.OpNotIn, rel.Operator)
		assert.Equal(t, []int64{13}, listLongValue(t, rel))
	})

	t.Run("no filter keyword yields empty", func(t *testing.T) {
		out := a.Assemble(ctx, "hello there")
		assert.True(t, out.Payload.IsEmpty())
	})

	t.Run("general query phrase overrides the default", func(t *testing.T) {
		for _, prompt := range []string{
			"get all requests",
			"show all requests",
			"list all the request",
		} {
			out := a.Assemble(ctx, prompt)
			assert.True(t, out.Payload.IsEmpty(), "prompt %q", prompt)
		}
	})
}

func TestAssembleFixedOrder(t *testing.T) {
	a := newTestAssembler(t)

	out := a.Assemble(context.Background(),
		"open tickets with high priority created today assigned to 'john doe' tagged with 'vpn'")
	quals := out.Payload.QualDetails.Quals
	require.Len(t, quals, 5)

	keys := make([]string, 0, len(quals))
	for _, node := range quals {
		switch n := node.(type) {
		case qual.Relational:
			switch op := n.Left.(type) {
			case qual.PropertyOperand:
				keys = append(keys, string(op.Key))
			case qual.VariableOperand:
				keys = append(keys, op.Key)
			}
		case qual.Unary:
			keys = append(keys, string(n.Operand.Key))
		}
	}
	assert.Equal(t, []string{
		string(qual.PropStatusID),
		string(qual.PropPriorityID),
		string(qual.PropCreatedTime),
		string(qual.PropTechnicianID),
		string(qual.PropTags),
	}, keys)
}

func TestAssembleIdempotent(t *testing.T) {
	a := newTestAssembler(t)
	ctx := context.Background()

	prompt := "show open and pending tickets with high priority from last week"
	first, err := json.Marshal(a.Assemble(ctx, prompt).Payload)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := json.Marshal(a.Assemble(ctx, prompt).Payload)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestAssembleConflictDiagnostics(t *testing.T) {
	a := newTestAssembler(t)

	out := a.Assemble(context.Background(), "open and closed tickets")
	found := false
	for _, d := range out.Diagnostics {
		if strings.Contains(d, "open-like and closed-like") {
			found = true
		}
	}
	assert.True(t, found, "diagnostics: %v", out.Diagnostics)
	// The payload is still produced; conflicts are advisory.
	assert.False(t, out.Payload.IsEmpty())
}

func TestValidateValuesDedupesAndTruncates(t *testing.T) {
	a := newTestAssembler(t)
	a.rules.Limits.MaxListValues = 3

	node, err := qual.InList(qual.PropStatusID, []int64{9, 9, 13, 13, 17, 21})
	require.NoError(t, err)
	out := Assembly{}
	out.Payload.QualDetails.Quals = append(out.Payload.QualDetails.Quals, node)

	a.validateValues(&out)

	rel := out.Payload.QualDetails.Quals[0].(qual.Relational)
	list := rel.Right.(qual.ValueOperand).Value.(qual.ListLong)
	assert.Equal(t, []int64{9, 13, 17}, []int64(list))

	require.Len(t, out.Diagnostics, 2)
	assert.Contains(t, out.Diagnostics[0], "2 duplicate list values")
	assert.Contains(t, out.Diagnostics[1], "truncated from 4 to 3")
}

func TestAssembleIncludedIDs(t *testing.T) {
	a := newTestAssembler(t)

	out := a.Assemble(context.Background(), "open tickets with high priority")
	assert.Equal(t, []int64{9}, out.IncludedIDs["status"])
	assert.Equal(t, []int64{3}, out.IncludedIDs["priority"])
}

func TestAssembleWireFormat(t *testing.T) {
	a := newTestAssembler(t)

	out := a.Assemble(context.Background(), "requests with status open")
	data, err := json.Marshal(out.Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"qualDetails": {
			"type": "FlatQualificationRest",
			"quals": [{
				"type": "RelationalQualificationRest",
				"leftOperand": {"type": "PropertyOperandRest", "key": "request.statusId"},
				"operator": "in",
				"rightOperand": {"type": "ValueOperandRest", "value": {"type": "ListLongValueRest", "value": [9]}}
			}]
		}
	}`, string(data))
}
