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
	"fmt"
)

// =============================================================================
// Wire-format decoding
// =============================================================================
//
// External strategies (an LLM backend, the history store) hand back raw JSON
// that must be re-validated against the qualification grammar before it is
// trusted. Decoding is strict: unknown node/operand/value discriminators and
// illegal operator/value pairings are errors, never silently dropped.

type rawNode struct {
	Type      string          `json:"type"`
	Left      json.RawMessage `json:"leftOperand"`
	Right     json.RawMessage `json:"rightOperand"`
	Operand   json.RawMessage `json:"operand"`
	Operator  Operator        `json:"operator"`
	Quals     []rawNode       `json:"quals"`
	LeftQual  json.RawMessage `json:"leftQual"`
	RightQual json.RawMessage `json:"rightQual"`
}

type rawOperand struct {
	Type  string          `json:"type"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type rawValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
	Unit  string          `json:"unit"`
}

// ParsePayload decodes and validates a full {"qualDetails": ...} document.
//
// Description:
//
//	Decodes the outer payload, requires a FlatQualificationRest at the top
//	level, and recursively validates every node. A payload with an empty
//	quals list is valid (it means "all records").
//
// Inputs:
//   - data: Raw JSON bytes.
//
// Outputs:
//   - Payload: The decoded, validated payload.
//   - error: Non-nil on malformed JSON or grammar violations.
func ParsePayload(data []byte) (Payload, error) {
	var outer struct {
		QualDetails *rawNode `json:"qualDetails"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		return Payload{}, fmt.Errorf("ParsePayload: %w", err)
	}
	if outer.QualDetails == nil {
		return Payload{}, fmt.Errorf("ParsePayload: missing qualDetails")
	}
	if outer.QualDetails.Type != "FlatQualificationRest" {
		return Payload{}, fmt.Errorf("ParsePayload: top-level qualification must be FlatQualificationRest, got %q", outer.QualDetails.Type)
	}
	if outer.QualDetails.Quals == nil {
		return Payload{}, fmt.Errorf("ParsePayload: qualDetails missing quals list")
	}

	quals := make([]Node, 0, len(outer.QualDetails.Quals))
	for i, rn := range outer.QualDetails.Quals {
		node, err := decodeNode(rn)
		if err != nil {
			return Payload{}, fmt.Errorf("ParsePayload: quals[%d]: %w", i, err)
		}
		quals = append(quals, node)
	}
	return Payload{QualDetails: Flat{Quals: quals}}, nil
}

func decodeNode(rn rawNode) (Node, error) {
	switch rn.Type {
	case "RelationalQualificationRest":
		return decodeRelational(rn)
	case "UnaryQualificationRest":
		return decodeUnary(rn)
	case "BinaryQualificationRest":
		return decodeBinary(rn)
	case "FlatQualificationRest":
		quals := make([]Node, 0, len(rn.Quals))
		for i, child := range rn.Quals {
			node, err := decodeNode(child)
			if err != nil {
				return nil, fmt.Errorf("quals[%d]: %w", i, err)
			}
			quals = append(quals, node)
		}
		return Flat{Quals: quals}, nil
	case "":
		return nil, fmt.Errorf("qualification node missing type")
	default:
		return nil, fmt.Errorf("unknown qualification type %q", rn.Type)
	}
}

func decodeRelational(rn rawNode) (Node, error) {
	if !IsKnownOperator(rn.Operator) {
		return nil, fmt.Errorf("unknown operator %q", rn.Operator)
	}
	if rn.Operator.IsUnary() {
		return nil, fmt.Errorf("operator %q requires a UnaryQualificationRest node", rn.Operator)
	}
	if len(rn.Left) == 0 {
		return nil, fmt.Errorf("relational node missing leftOperand")
	}
	if len(rn.Right) == 0 {
		return nil, fmt.Errorf("relational node missing rightOperand")
	}

	left, err := decodeLeftOperand(rn.Left)
	if err != nil {
		return nil, fmt.Errorf("leftOperand: %w", err)
	}
	right, err := decodeRightOperand(rn.Right, rn.Operator)
	if err != nil {
		return nil, fmt.Errorf("rightOperand: %w", err)
	}
	return Relational{Left: left, Operator: rn.Operator, Right: right}, nil
}

func decodeUnary(rn rawNode) (Node, error) {
	if !rn.Operator.IsUnary() {
		return nil, fmt.Errorf("unary node requires is_null/is_not_null, got %q", rn.Operator)
	}
	if len(rn.Operand) == 0 {
		return nil, fmt.Errorf("unary node missing operand")
	}
	var ro rawOperand
	if err := json.Unmarshal(rn.Operand, &ro); err != nil {
		return nil, fmt.Errorf("operand: %w", err)
	}
	if ro.Type != "PropertyOperandRest" || ro.Key == "" {
		return nil, fmt.Errorf("unary operand must be a PropertyOperandRest with a key")
	}
	return Unary{Operand: PropertyOperand{Key: Property(ro.Key)}, Operator: rn.Operator}, nil
}

func decodeBinary(rn rawNode) (Node, error) {
	if rn.Operator != Operator(LogicalAnd) && rn.Operator != Operator(LogicalOr) {
		return nil, fmt.Errorf("binary node requires and/or, got %q", rn.Operator)
	}
	if len(rn.LeftQual) == 0 || len(rn.RightQual) == 0 {
		return nil, fmt.Errorf("binary node missing leftQual/rightQual")
	}
	var leftRaw, rightRaw rawNode
	if err := json.Unmarshal(rn.LeftQual, &leftRaw); err != nil {
		return nil, fmt.Errorf("leftQual: %w", err)
	}
	if err := json.Unmarshal(rn.RightQual, &rightRaw); err != nil {
		return nil, fmt.Errorf("rightQual: %w", err)
	}
	left, err := decodeNode(leftRaw)
	if err != nil {
		return nil, fmt.Errorf("leftQual: %w", err)
	}
	right, err := decodeNode(rightRaw)
	if err != nil {
		return nil, fmt.Errorf("rightQual: %w", err)
	}
	return Binary{Left: left, Operator: LogicalOperator(rn.Operator), Right: right}, nil
}

func decodeLeftOperand(data json.RawMessage) (Operand, error) {
	var ro rawOperand
	if err := json.Unmarshal(data, &ro); err != nil {
		return nil, err
	}
	switch ro.Type {
	case "PropertyOperandRest":
		if ro.Key == "" {
			return nil, fmt.Errorf("PropertyOperandRest missing key")
		}
		return PropertyOperand{Key: Property(ro.Key)}, nil
	case "VariableOperandRest":
		if ro.Key == "" {
			return nil, fmt.Errorf("left-side VariableOperandRest missing key")
		}
		return VariableOperand{Key: ro.Key}, nil
	default:
		return nil, fmt.Errorf("unknown left operand type %q", ro.Type)
	}
}

func decodeRightOperand(data json.RawMessage, op Operator) (Operand, error) {
	var ro rawOperand
	if err := json.Unmarshal(data, &ro); err != nil {
		return nil, err
	}
	switch ro.Type {
	case "VariableOperandRest":
		var v string
		if err := json.Unmarshal(ro.Value, &v); err != nil || v == "" {
			return nil, fmt.Errorf("right-side VariableOperandRest requires a string value")
		}
		return VariableOperand{Value: v}, nil
	case "ValueOperandRest":
		val, err := decodeValue(ro.Value)
		if err != nil {
			return nil, err
		}
		if !operatorValueCompatible(op, val) {
			return nil, fmt.Errorf("operator %q incompatible with value type %s", op, val.valueType())
		}
		return ValueOperand{Value: val}, nil
	default:
		return nil, fmt.Errorf("unknown right operand type %q", ro.Type)
	}
}

func decodeValue(data json.RawMessage) (Value, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("ValueOperandRest missing value")
	}
	var rv rawValue
	if err := json.Unmarshal(data, &rv); err != nil {
		return nil, err
	}
	switch rv.Type {
	case "ListLongValueRest":
		var v []int64
		if err := json.Unmarshal(rv.Value, &v); err != nil {
			return nil, fmt.Errorf("ListLongValueRest: %w", err)
		}
		return ListLong(v), nil
	case "StringValueRest":
		var v string
		if err := json.Unmarshal(rv.Value, &v); err != nil {
			return nil, fmt.Errorf("StringValueRest: %w", err)
		}
		return String(v), nil
	case "BooleanValueRest":
		var v bool
		if err := json.Unmarshal(rv.Value, &v); err != nil {
			return nil, fmt.Errorf("BooleanValueRest: %w", err)
		}
		return Bool(v), nil
	case "TimeValueRest":
		var v string
		if err := json.Unmarshal(rv.Value, &v); err != nil {
			return nil, fmt.Errorf("TimeValueRest: %w", err)
		}
		return Time(v), nil
	case "DurationValueRest":
		var v int64
		if err := json.Unmarshal(rv.Value, &v); err != nil {
			return nil, fmt.Errorf("DurationValueRest: %w", err)
		}
		if rv.Unit == "" {
			return nil, fmt.Errorf("DurationValueRest missing unit")
		}
		return Duration{Value: v, Unit: rv.Unit}, nil
	case "ListStringValueRest":
		var v []string
		if err := json.Unmarshal(rv.Value, &v); err != nil {
			return nil, fmt.Errorf("ListStringValueRest: %w", err)
		}
		return ListString(v), nil
	default:
		return nil, fmt.Errorf("unknown value type %q", rv.Type)
	}
}
