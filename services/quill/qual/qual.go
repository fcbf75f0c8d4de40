// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package qual models the qualification tree sent to the target ITSM system.
//
// A qualification is a boolean filter tree whose wire format is fixed by the
// target API: a FlatQualificationRest holding RelationalQualificationRest and
// UnaryQualificationRest leaves, each pairing a property operand with an
// operator and a typed value. The types here are closed enumerations so that
// illegal operator/value pairings are rejected at construction time rather
// than by the remote server.
package qual

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Operators
// =============================================================================

// Operator is one of the closed set of comparison operators the target API
// understands. Each operator constrains the legal right-operand value type.
type Operator string

const (
	OpIn              Operator = "in"
	OpNotIn           Operator = "not_in"
	OpContains        Operator = "contains"
	OpStartWith       Operator = "start_with"
	OpEndWith         Operator = "end_with"
	OpEqual           Operator = "equal"
	OpNotEqual        Operator = "not_equal"
	OpBefore          Operator = "before"
	OpAfter           Operator = "after"
	OpBetween         Operator = "between"
	OpWithinLast      Operator = "within_last"
	OpIsNull          Operator = "is_null"
	OpIsNotNull       Operator = "is_not_null"
	OpAllMembersExist Operator = "all_members_exist"
)

// LogicalOperator joins two sub-qualifications in a BinaryQualificationRest.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "and"
	LogicalOr  LogicalOperator = "or"
)

// knownOperators is the full operator whitelist, used when validating
// qualifications produced by external strategies (e.g. an LLM backend).
var knownOperators = map[Operator]bool{
	OpIn: true, OpNotIn: true, OpContains: true, OpStartWith: true,
	OpEndWith: true, OpEqual: true, OpNotEqual: true, OpBefore: true,
	OpAfter: true, OpBetween: true, OpWithinLast: true, OpIsNull: true,
	OpIsNotNull: true, OpAllMembersExist: true,
}

// IsKnownOperator reports whether op is in the closed operator set.
func IsKnownOperator(op Operator) bool {
	return knownOperators[op]
}

// IsUnary reports whether op is a null-check operator that takes no
// right operand.
func (op Operator) IsUnary() bool {
	return op == OpIsNull || op == OpIsNotNull
}

// =============================================================================
// Properties
// =============================================================================

// Property is a dotted key naming a filterable field on the target system.
// The set is fixed; extractors never invent property keys.
type Property string

const (
	PropStatusID      Property = "request.statusId"
	PropPriorityID    Property = "request.priorityId"
	PropUrgencyID     Property = "request.urgencyId"
	PropTechnicianID  Property = "request.technicianId"
	PropRequesterID   Property = "request.requesterId"
	PropRequesterName Property = "request.requesterName"
	PropGroupID       Property = "request.groupId"
	PropCategoryID    Property = "request.categoryId"
	PropImpactID      Property = "request.impactId"
	PropLocationID    Property = "request.locationId"
	PropDepartmentID  Property = "request.departmentId"
	PropSubject       Property = "request.subject"
	PropDescription   Property = "request.description"
	PropName          Property = "request.name"
	PropTags          Property = "request.tags"
	PropCreatedTime   Property = "request.createdTime"
	PropVIPRequest    Property = "request.vipRequest"
	PropSLAViolated   Property = "request.slaViolated"
)

// VarCreatedDate is the server-side variable key used with within_last
// duration filters. Unlike Property keys, it is resolved by the target
// system at query time.
const VarCreatedDate = "created_date"

// =============================================================================
// Typed values
// =============================================================================

// Value is the tagged union of right-operand value types. Each concrete
// type marshals with its own "type" discriminator so the target system can
// deserialize unambiguously.
type Value interface {
	valueType() string
}

// ListLong is a list of numeric IDs (ListLongValueRest).
type ListLong []int64

// String is a free-text value (StringValueRest).
type String string

// Bool is a boolean flag value (BooleanValueRest).
type Bool bool

// Time is an ISO-8601 timestamp value (TimeValueRest).
type Time string

// Duration is a relative time window (DurationValueRest), e.g. 7 days.
type Duration struct {
	Value int64
	Unit  string
}

// ListString is a list of string values (ListStringValueRest), used for
// tag membership filters.
type ListString []string

func (ListLong) valueType() string   { return "ListLongValueRest" }
func (String) valueType() string     { return "StringValueRest" }
func (Bool) valueType() string       { return "BooleanValueRest" }
func (Time) valueType() string       { return "TimeValueRest" }
func (Duration) valueType() string   { return "DurationValueRest" }
func (ListString) valueType() string { return "ListStringValueRest" }

func (v ListLong) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string  `json:"type"`
		Value []int64 `json:"value"`
	}{v.valueType(), []int64(v)})
}

func (v String) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{v.valueType(), string(v)})
}

func (v Bool) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value bool   `json:"value"`
	}{v.valueType(), bool(v)})
}

func (v Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{v.valueType(), string(v)})
}

func (v Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value int64  `json:"value"`
		Unit  string `json:"unit"`
	}{v.valueType(), v.Value, v.Unit})
}

func (v ListString) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string   `json:"type"`
		Value []string `json:"value"`
	}{v.valueType(), []string(v)})
}

// operatorValueCompatible reports whether op may legally carry v as its
// right-operand value.
func operatorValueCompatible(op Operator, v Value) bool {
	switch op {
	case OpIn, OpNotIn, OpBetween:
		_, ok := v.(ListLong)
		return ok
	case OpAllMembersExist:
		_, ok := v.(ListString)
		return ok
	case OpContains, OpStartWith, OpEndWith:
		_, ok := v.(String)
		return ok
	case OpEqual, OpNotEqual:
		switch v.(type) {
		case String, Bool, Time, ListLong:
			return true
		}
		return false
	case OpBefore, OpAfter:
		_, ok := v.(Time)
		return ok
	case OpWithinLast:
		_, ok := v.(Duration)
		return ok
	}
	return false
}

// =============================================================================
// Operands
// =============================================================================

// Operand is the left or right side of a relational comparison.
type Operand interface {
	operandType() string
}

// PropertyOperand names a concrete field (PropertyOperandRest).
type PropertyOperand struct {
	Key Property
}

// VariableOperand is a server-resolved variable (VariableOperandRest). On
// the left side it carries a Key (e.g. created_date); on the right side it
// carries a Value (e.g. "today").
type VariableOperand struct {
	Key   string
	Value string
}

// ValueOperand wraps a typed literal value (ValueOperandRest).
type ValueOperand struct {
	Value Value
}

func (PropertyOperand) operandType() string { return "PropertyOperandRest" }
func (VariableOperand) operandType() string { return "VariableOperandRest" }
func (ValueOperand) operandType() string    { return "ValueOperandRest" }

func (o PropertyOperand) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string   `json:"type"`
		Key  Property `json:"key"`
	}{o.operandType(), o.Key})
}

func (o VariableOperand) MarshalJSON() ([]byte, error) {
	// The target system expects exactly one of key/value per side.
	if o.Key != "" {
		return json.Marshal(struct {
			Type string `json:"type"`
			Key  string `json:"key"`
		}{o.operandType(), o.Key})
	}
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{o.operandType(), o.Value})
}

func (o ValueOperand) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value Value  `json:"value"`
	}{o.operandType(), o.Value})
}

// =============================================================================
// Qualification nodes
// =============================================================================

// Node is one node of the qualification tree.
type Node interface {
	nodeType() string
}

// Relational is a single field-operator-value comparison
// (RelationalQualificationRest).
type Relational struct {
	Left     Operand
	Operator Operator
	Right    Operand
}

// Unary is a null/blank check on a field (UnaryQualificationRest). It has
// no right operand.
type Unary struct {
	Operand  PropertyOperand
	Operator Operator
}

// Binary joins two sub-qualifications with and/or
// (BinaryQualificationRest). The extractor pipeline never emits Binary
// nodes, but the grammar supports them and external strategies may.
type Binary struct {
	Left     Node
	Operator LogicalOperator
	Right    Node
}

// Flat is an implicit-AND list of qualifications
// (FlatQualificationRest) — the top-level form this system always emits.
type Flat struct {
	Quals []Node
}

func (Relational) nodeType() string { return "RelationalQualificationRest" }
func (Unary) nodeType() string      { return "UnaryQualificationRest" }
func (Binary) nodeType() string     { return "BinaryQualificationRest" }
func (Flat) nodeType() string       { return "FlatQualificationRest" }

func (n Relational) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string   `json:"type"`
		Left     Operand  `json:"leftOperand"`
		Operator Operator `json:"operator"`
		Right    Operand  `json:"rightOperand"`
	}{n.nodeType(), n.Left, n.Operator, n.Right})
}

func (n Unary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string          `json:"type"`
		Operand  PropertyOperand `json:"operand"`
		Operator Operator        `json:"operator"`
	}{n.nodeType(), n.Operand, n.Operator})
}

func (n Binary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string          `json:"type"`
		Left     Node            `json:"leftQual"`
		Operator LogicalOperator `json:"operator"`
		Right    Node            `json:"rightQual"`
	}{n.nodeType(), n.Left, n.Operator, n.Right})
}

func (n Flat) MarshalJSON() ([]byte, error) {
	quals := n.Quals
	if quals == nil {
		quals = []Node{}
	}
	return json.Marshal(struct {
		Type  string `json:"type"`
		Quals []Node `json:"quals"`
	}{n.nodeType(), quals})
}

// Payload is the outermost wire object: {"qualDetails": {...}}.
type Payload struct {
	QualDetails Flat `json:"qualDetails"`
}

// Empty returns a payload with zero filters, equivalent to "all records".
func Empty() Payload {
	return Payload{QualDetails: Flat{Quals: []Node{}}}
}

// IsEmpty reports whether the payload carries no filter leaves.
func (p Payload) IsEmpty() bool {
	return len(p.QualDetails.Quals) == 0
}

// =============================================================================
// Constructors
// =============================================================================

// NewRelational builds a property-vs-value comparison, rejecting
// operator/value pairings the target system would not accept.
//
// Inputs:
//   - prop: Target field key. Must be non-empty.
//   - op: Comparison operator. Must not be a unary operator.
//   - v: Typed right-operand value compatible with op.
//
// Outputs:
//   - Relational: The constructed leaf.
//   - error: Non-nil if the pairing is illegal.
func NewRelational(prop Property, op Operator, v Value) (Relational, error) {
	if prop == "" {
		return Relational{}, fmt.Errorf("NewRelational: empty property key")
	}
	if op.IsUnary() {
		return Relational{}, fmt.Errorf("NewRelational: operator %q takes no value", op)
	}
	if !IsKnownOperator(op) {
		return Relational{}, fmt.Errorf("NewRelational: unknown operator %q", op)
	}
	if v == nil {
		return Relational{}, fmt.Errorf("NewRelational: nil value for operator %q", op)
	}
	if !operatorValueCompatible(op, v) {
		return Relational{}, fmt.Errorf("NewRelational: operator %q incompatible with value type %s", op, v.valueType())
	}
	return Relational{
		Left:     PropertyOperand{Key: prop},
		Operator: op,
		Right:    ValueOperand{Value: v},
	}, nil
}

// NewUnary builds a null-check leaf.
func NewUnary(prop Property, op Operator) (Unary, error) {
	if prop == "" {
		return Unary{}, fmt.Errorf("NewUnary: empty property key")
	}
	if !op.IsUnary() {
		return Unary{}, fmt.Errorf("NewUnary: operator %q is not a null-check operator", op)
	}
	return Unary{Operand: PropertyOperand{Key: prop}, Operator: op}, nil
}

// InList builds `prop in [ids...]`. Panics never; invalid input returns error.
func InList(prop Property, ids []int64) (Relational, error) {
	return NewRelational(prop, OpIn, ListLong(ids))
}

// NotInList builds `prop not_in [ids...]`.
func NotInList(prop Property, ids []int64) (Relational, error) {
	return NewRelational(prop, OpNotIn, ListLong(ids))
}

// ContainsText builds `prop contains "text"`.
func ContainsText(prop Property, text string) (Relational, error) {
	return NewRelational(prop, OpContains, String(text))
}

// EqualVariable builds `prop equal <variable>` where the variable (e.g.
// "today", "yesterday") is resolved server-side. The right operand is a
// bare VariableOperandRest, not a wrapped literal.
func EqualVariable(prop Property, variable string) (Relational, error) {
	if prop == "" {
		return Relational{}, fmt.Errorf("EqualVariable: empty property key")
	}
	if variable == "" {
		return Relational{}, fmt.Errorf("EqualVariable: empty variable name")
	}
	return Relational{
		Left:     PropertyOperand{Key: prop},
		Operator: OpEqual,
		Right:    VariableOperand{Value: variable},
	}, nil
}

// WithinLast builds `created_date within_last <n> <unit>` using the
// server-side created_date variable as the left operand.
func WithinLast(n int64, unit string) (Relational, error) {
	if n <= 0 {
		return Relational{}, fmt.Errorf("WithinLast: duration must be positive, got %d", n)
	}
	if unit == "" {
		unit = "days"
	}
	return Relational{
		Left:     VariableOperand{Key: VarCreatedDate},
		Operator: OpWithinLast,
		Right:    ValueOperand{Value: Duration{Value: n, Unit: unit}},
	}, nil
}

// EqualBool builds `prop equal true|false` for flag fields such as
// vipRequest and slaViolated.
func EqualBool(prop Property, v bool) (Relational, error) {
	return NewRelational(prop, OpEqual, Bool(v))
}

// TagsAllMembersExist builds `tags all_members_exist [...]`.
func TagsAllMembersExist(tags []string) (Relational, error) {
	return NewRelational(PropTags, OpAllMembersExist, ListString(tags))
}
