// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package qual

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelationalWireFormat(t *testing.T) {
	leaf, err := InList(PropStatusID, []int64{9, 10})
	require.NoError(t, err)

	payload := Payload{QualDetails: Flat{Quals: []Node{leaf}}}
	got, err := json.Marshal(payload)
	require.NoError(t, err)

	want := `{"qualDetails":{"type":"FlatQualificationRest","quals":[` +
		`{"type":"RelationalQualificationRest",` +
		`"leftOperand":{"type":"PropertyOperandRest","key":"request.statusId"},` +
		`"operator":"in",` +
		`"rightOperand":{"type":"ValueOperandRest","value":{"type":"ListLongValueRest","value":[9,10]}}}]}}`
	assert.JSONEq(t, want, string(got))
}

func TestUnaryWireFormat(t *testing.T) {
	leaf, err := NewUnary(PropTechnicianID, OpIsNull)
	require.NoError(t, err)

	got, err := json.Marshal(leaf)
	require.NoError(t, err)

	want := `{"type":"UnaryQualificationRest",` +
		`"operand":{"type":"PropertyOperandRest","key":"request.technicianId"},` +
		`"operator":"is_null"}`
	assert.JSONEq(t, want, string(got))
}

func TestVariableOperandWireFormat(t *testing.T) {
	t.Run("today equality uses bare variable right operand", func(t *testing.T) {
		leaf, err := EqualVariable(PropCreatedTime, "today")
		require.NoError(t, err)

		got, err := json.Marshal(leaf)
		require.NoError(t, err)

		want := `{"type":"RelationalQualificationRest",` +
			`"leftOperand":{"type":"PropertyOperandRest","key":"request.createdTime"},` +
			`"operator":"equal",` +
			`"rightOperand":{"type":"VariableOperandRest","value":"today"}}`
		assert.JSONEq(t, want, string(got))
	})

	t.Run("within_last uses created_date variable on the left", func(t *testing.T) {
		leaf, err := WithinLast(7, "days")
		require.NoError(t, err)

		got, err := json.Marshal(leaf)
		require.NoError(t, err)

		want := `{"type":"RelationalQualificationRest",` +
			`"leftOperand":{"type":"VariableOperandRest","key":"created_date"},` +
			`"operator":"within_last",` +
			`"rightOperand":{"type":"ValueOperandRest","value":{"type":"DurationValueRest","value":7,"unit":"days"}}}`
		assert.JSONEq(t, want, string(got))
	})
}

func TestTagWireFormat(t *testing.T) {
	leaf, err := TagsAllMembersExist([]string{"hardware", "network"})
	require.NoError(t, err)

	got, err := json.Marshal(leaf)
	require.NoError(t, err)

	want := `{"type":"RelationalQualificationRest",` +
		`"leftOperand":{"type":"PropertyOperandRest","key":"request.tags"},` +
		`"operator":"all_members_exist",` +
		`"rightOperand":{"type":"ValueOperandRest","value":{"type":"ListStringValueRest","value":["hardware","network"]}}}`
	assert.JSONEq(t, want, string(got))
}

func TestEmptyPayloadMarshalsEmptyQuals(t *testing.T) {
	got, err := json.Marshal(Empty())
	require.NoError(t, err)
	assert.JSONEq(t, `{"qualDetails":{"type":"FlatQualificationRest","quals":[]}}`, string(got))
	assert.True(t, Empty().IsEmpty())
}

func TestNewRelationalRejectsIllegalPairings(t *testing.T) {
	cases := []struct {
		name string
		op   Operator
		v    Value
	}{
		{"in with string value", OpIn, String("open")},
		{"contains with list value", OpContains, ListLong{1}},
		{"within_last with list value", OpWithinLast, ListLong{7}},
		{"all_members_exist with long list", OpAllMembersExist, ListLong{1, 2}},
		{"before with string value", OpBefore, String("2025-01-01")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRelational(PropStatusID, tc.op, tc.v)
			assert.Error(t, err)
		})
	}

	t.Run("unary operator rejected", func(t *testing.T) {
		_, err := NewRelational(PropStatusID, OpIsNull, String(""))
		assert.Error(t, err)
	})
	t.Run("unknown operator rejected", func(t *testing.T) {
		_, err := NewRelational(PropStatusID, Operator("like"), String("x"))
		assert.Error(t, err)
	})
	t.Run("nil value rejected", func(t *testing.T) {
		_, err := NewRelational(PropStatusID, OpIn, nil)
		assert.Error(t, err)
	})
}

func TestNewUnaryRejectsRelationalOperators(t *testing.T) {
	_, err := NewUnary(PropTechnicianID, OpIn)
	assert.Error(t, err)
}

func TestParsePayloadRoundTrip(t *testing.T) {
	statusLeaf, err := NotInList(PropStatusID, []int64{13})
	require.NoError(t, err)
	unaryLeaf, err := NewUnary(PropTechnicianID, OpIsNull)
	require.NoError(t, err)
	dateLeaf, err := EqualVariable(PropCreatedTime, "yesterday")
	require.NoError(t, err)
	durLeaf, err := WithinLast(30, "days")
	require.NoError(t, err)
	vipLeaf, err := EqualBool(PropVIPRequest, true)
	require.NoError(t, err)

	payload := Payload{QualDetails: Flat{Quals: []Node{statusLeaf, unaryLeaf, dateLeaf, durLeaf, vipLeaf}}}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	decoded, err := ParsePayload(data)
	require.NoError(t, err)

	redata, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(redata))
}

func TestParsePayloadRejectsMalformedDocuments(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"not json", `{{`},
		{"missing qualDetails", `{"other":1}`},
		{"non-flat top level", `{"qualDetails":{"type":"RelationalQualificationRest"}}`},
		{"missing quals", `{"qualDetails":{"type":"FlatQualificationRest"}}`},
		{"unknown operator", `{"qualDetails":{"type":"FlatQualificationRest","quals":[
			{"type":"RelationalQualificationRest",
			 "leftOperand":{"type":"PropertyOperandRest","key":"request.statusId"},
			 "operator":"matches",
			 "rightOperand":{"type":"ValueOperandRest","value":{"type":"ListLongValueRest","value":[1]}}}]}}`},
		{"missing left operand key", `{"qualDetails":{"type":"FlatQualificationRest","quals":[
			{"type":"RelationalQualificationRest",
			 "leftOperand":{"type":"PropertyOperandRest"},
			 "operator":"in",
			 "rightOperand":{"type":"ValueOperandRest","value":{"type":"ListLongValueRest","value":[1]}}}]}}`},
		{"operator value mismatch", `{"qualDetails":{"type":"FlatQualificationRest","quals":[
			{"type":"RelationalQualificationRest",
			 "leftOperand":{"type":"PropertyOperandRest","key":"request.subject"},
			 "operator":"contains",
			 "rightOperand":{"type":"ValueOperandRest","value":{"type":"ListLongValueRest","value":[1]}}}]}}`},
		{"unknown value type", `{"qualDetails":{"type":"FlatQualificationRest","quals":[
			{"type":"RelationalQualificationRest",
			 "leftOperand":{"type":"PropertyOperandRest","key":"request.subject"},
			 "operator":"contains",
			 "rightOperand":{"type":"ValueOperandRest","value":{"type":"FloatValueRest","value":1.5}}}]}}`},
		{"unary with relational operator", `{"qualDetails":{"type":"FlatQualificationRest","quals":[
			{"type":"UnaryQualificationRest",
			 "operand":{"type":"PropertyOperandRest","key":"request.technicianId"},
			 "operator":"in"}]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestParsePayloadAcceptsEmptyQuals(t *testing.T) {
	decoded, err := ParsePayload([]byte(`{"qualDetails":{"type":"FlatQualificationRest","quals":[]}}`))
	require.NoError(t, err)
	assert.True(t, decoded.IsEmpty())
}

func TestParsePayloadBinaryNode(t *testing.T) {
	doc := `{"qualDetails":{"type":"FlatQualificationRest","quals":[
		{"type":"BinaryQualificationRest",
		 "leftQual":{"type":"RelationalQualificationRest",
			"leftOperand":{"type":"PropertyOperandRest","key":"request.statusId"},
			"operator":"in",
			"rightOperand":{"type":"ValueOperandRest","value":{"type":"ListLongValueRest","value":[9]}}},
		 "operator":"or",
		 "rightQual":{"type":"RelationalQualificationRest",
			"leftOperand":{"type":"PropertyOperandRest","key":"request.priorityId"},
			"operator":"in",
			"rightOperand":{"type":"ValueOperandRest","value":{"type":"ListLongValueRest","value":[4]}}}}]}}`
	decoded, err := ParsePayload([]byte(doc))
	require.NoError(t, err)
	require.Len(t, decoded.QualDetails.Quals, 1)
	_, ok := decoded.QualDetails.Quals[0].(Binary)
	assert.True(t, ok)
}

// Compiling the same structure twice must yield byte-identical JSON.
func TestMarshalIdempotent(t *testing.T) {
	leaf, err := InList(PropPriorityID, []int64{3, 4})
	require.NoError(t, err)
	payload := Payload{QualDetails: Flat{Quals: []Node{leaf}}}

	a, err := json.Marshal(payload)
	require.NoError(t, err)
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
