// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package format turns raw execution responses into the API-facing
// result shape: a record list, a short human summary and the compiled
// qualification for transparency.
package format

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/Quill/services/quill/compiler"
	"github.com/AleutianAI/Quill/services/quill/exec"
)

// Response is what the web layer returns to the caller.
type Response struct {
	Summary       string               `json:"summary"`
	Count         int                  `json:"count"`
	Endpoint      string               `json:"endpoint,omitempty"`
	Records       []map[string]any     `json:"records"`
	Qualification json.RawMessage      `json:"qualification"`
	Strategy      string               `json:"strategy"`
	IncludedIDs   map[string][]int64   `json:"included_ids,omitempty"`
	Diagnostics   []string             `json:"diagnostics,omitempty"`
	Page          *exec.Page           `json:"page,omitempty"`
}

// Build combines the compile result and the execution response.
//
// The target system answers in several shapes (bare array, objectList,
// content, single object); all collapse into one record list.
func Build(compiled compiler.Result, executed *exec.ExecutionResult) (Response, error) {
	qualJSON, err := json.Marshal(compiled.Payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal qualification: %w", err)
	}

	resp := Response{
		Qualification: qualJSON,
		Strategy:      compiled.Strategy,
		IncludedIDs:   compiled.IncludedIDs,
		Diagnostics:   compiled.Diagnostics,
		Records:       []map[string]any{},
	}
	if executed == nil {
		resp.Summary = "compiled qualification (not executed)"
		return resp, nil
	}

	resp.Endpoint = executed.Endpoint
	if executed.Page.Size > 0 {
		page := executed.Page
		resp.Page = &page
	}

	records, err := decodeRecords(executed.Body)
	if err != nil {
		// The raw body still reaches the caller through the summary so a
		// shape we have never seen is inspectable rather than swallowed.
		resp.Summary = fmt.Sprintf("unrecognized response shape: %v", err)
		return resp, nil
	}
	resp.Records = records
	resp.Count = len(records)
	switch resp.Count {
	case 0:
		resp.Summary = fmt.Sprintf("no matching records on %s", executed.Endpoint)
	case 1:
		resp.Summary = fmt.Sprintf("1 record from %s", executed.Endpoint)
	default:
		resp.Summary = fmt.Sprintf("%d records from %s", resp.Count, executed.Endpoint)
	}
	return resp, nil
}

func decodeRecords(body json.RawMessage) ([]map[string]any, error) {
	if len(body) == 0 {
		return []map[string]any{}, nil
	}

	var list []map[string]any
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	for _, key := range []string{"objectList", "content", "data"} {
		raw, ok := wrapper[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		return list, nil
	}

	// A single object (specific ticket fetch) becomes a one-record list.
	var single map[string]any
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("decode response object: %w", err)
	}
	return []map[string]any{single}, nil
}
