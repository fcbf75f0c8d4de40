// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Transport is the authenticated-request capability the cache consumes.
// Token acquisition, 401 retry, and TLS concerns live behind it.
type Transport interface {
	// AuthenticatedRequest issues one authenticated HTTP call and returns
	// the raw response body. Implementations retry an expired token at most
	// once before failing.
	AuthenticatedRequest(ctx context.Context, method, url string, body []byte) ([]byte, error)
}

// referenceItem is one entry of a reference list response. Alias fields are
// only present on user lists.
type referenceItem struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	SystemName string `json:"systemName"`
	LoginName  string `json:"loginName"`
	Email      string `json:"email"`
}

// parseReferenceList flattens a reference list response into a lower-cased
// name->ID map.
//
// Description:
//
//	Accepts the three response shapes the target API produces: a bare array,
//	{"objectList": [...]}, or {"content": [...]} (plus the rarer
//	{"data": [...]} and single-object forms). Items with an empty name are
//	skipped. Alias keys (systemName, loginName, email) map to the same ID
//	when present.
//
// Inputs:
//   - data: Raw JSON response body.
//
// Outputs:
//   - map[string]int64: Lower-cased label -> ID. Never nil on success.
//   - error: Non-nil when no recognizable list shape is found.
func parseReferenceList(data []byte) (map[string]int64, error) {
	items, err := extractItems(data)
	if err != nil {
		return nil, err
	}

	mapping := make(map[string]int64, len(items))
	for _, item := range items {
		name := strings.ToLower(strings.TrimSpace(item.Name))
		if name == "" {
			continue
		}
		mapping[name] = item.ID
		for _, alias := range []string{item.SystemName, item.LoginName, item.Email} {
			alias = strings.ToLower(strings.TrimSpace(alias))
			if alias != "" && alias != name {
				mapping[alias] = item.ID
			}
		}
	}
	return mapping, nil
}

func extractItems(data []byte) ([]referenceItem, error) {
	// Bare array first.
	var list []referenceItem
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var wrapper struct {
		ObjectList []referenceItem `json:"objectList"`
		Content    []referenceItem `json:"content"`
		Data       []referenceItem `json:"data"`
		// Single-object form.
		ID   *int64 `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parseReferenceList: unrecognized response: %w", err)
	}
	switch {
	case wrapper.ObjectList != nil:
		return wrapper.ObjectList, nil
	case wrapper.Content != nil:
		return wrapper.Content, nil
	case wrapper.Data != nil:
		return wrapper.Data, nil
	case wrapper.ID != nil && wrapper.Name != "":
		return []referenceItem{{ID: *wrapper.ID, Name: wrapper.Name}}, nil
	}
	return nil, fmt.Errorf("parseReferenceList: no objectList/content/data list in response")
}
