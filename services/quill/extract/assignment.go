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
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/Quill/services/quill/qual"
	"github.com/AleutianAI/Quill/services/quill/refdata"
)

var (
	unassignedRe = regexp.MustCompile(
		`\bunassigned\b|\bnot\s+assigned\b|\bno\s+technician\b|\bwithout\s+(?:a\s+)?technician\b`)
	hasTechnicianRe = regexp.MustCompile(`\b(?:has|with)\s+(?:a\s+)?technician\b`)

	assigneeValueRe = regexp.MustCompile(
		`\b(?:assignee|technician)\s+(?:is|=|equals?|contains|includes?|has|named|called)\s+(?:'([^']+)'|"([^"]+)"|([\w@.]+))`)
	assignedToRe = regexp.MustCompile(
		`\bassigned\s+to\s+(?:'([^']+)'|"([^"]+)"|([\w@.]+))`)
)

// nullAssigneeTerms are explicit values that mean "nobody".
var nullAssigneeTerms = map[string]bool{
	"unassigned": true,
	"none":       true,
	"null":       true,
	"nobody":     true,
	"0":          true,
}

// Assignment resolves technician filters.
//
// Description:
//
//	Blanket unassigned phrasing becomes a technicianId is_null check and
//	"has technician" its is_not_null mirror. A named assignee is resolved
//	against the user reference mapping, exactly first, then by substring
//	partial match. A name that resolves to no ID degrades to a literal
//	string-contains filter against the requester name so the query still
//	narrows on the text the user gave.
func (e *Extractors) Assignment(ctx context.Context, prompt string) Result {
	normalized := strings.ToLower(prompt)
	var out Result

	name := ""
	if sub := assigneeValueRe.FindStringSubmatch(normalized); sub != nil {
		name = firstNonEmpty(sub[1], sub[2], sub[3])
	} else if sub := assignedToRe.FindStringSubmatch(normalized); sub != nil {
		name = firstNonEmpty(sub[1], sub[2], sub[3])
	}

	if name == "" {
		if unassignedRe.MatchString(normalized) {
			return unaryAssignee(qual.OpIsNull)
		}
		if hasTechnicianRe.MatchString(normalized) {
			return unaryAssignee(qual.OpIsNotNull)
		}
		return out
	}

	if nullAssigneeTerms[name] {
		return unaryAssignee(qual.OpIsNull)
	}

	if id, err := strconv.ParseInt(name, 10, 64); err == nil {
		node, nerr := qual.InList(qual.PropTechnicianID, []int64{id})
		if nerr != nil {
			out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("assignment: %v", nerr))
			return out
		}
		out.Nodes = append(out.Nodes, node)
		out.IncludedIDs = []int64{id}
		return out
	}

	users := e.cache.Mapping(ctx, refdata.CategoryUser)
	if id, ok := users[name]; ok {
		return assigneeByID(id)
	}
	if id, ok := partialUserMatch(name, users); ok {
		out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("assignment: partial match for %q", name))
		res := assigneeByID(id)
		res.Diagnostics = append(out.Diagnostics, res.Diagnostics...)
		return res
	}

	// No user resolved; fall back to a text filter on the requester name.
	node, err := qual.ContainsText(qual.PropRequesterName, name)
	if err != nil {
		out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("assignment: %v", err))
		return out
	}
	out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("assignment: no user id for %q, using name filter", name))
	out.Nodes = append(out.Nodes, node)
	return out
}

func unaryAssignee(op qual.Operator) Result {
	node, err := qual.NewUnary(qual.PropTechnicianID, op)
	if err != nil {
		return Result{Diagnostics: []string{fmt.Sprintf("assignment: %v", err)}}
	}
	return Result{Nodes: []qual.Node{node}}
}

func assigneeByID(id int64) Result {
	node, err := qual.InList(qual.PropTechnicianID, []int64{id})
	if err != nil {
		return Result{Diagnostics: []string{fmt.Sprintf("assignment: %v", err)}}
	}
	return Result{Nodes: []qual.Node{node}, IncludedIDs: []int64{id}}
}

// partialUserMatch finds the first user label (alphabetically, for
// determinism) that contains the name or is contained by it.
func partialUserMatch(name string, users map[string]int64) (int64, bool) {
	labels := make([]string, 0, len(users))
	for label := range users {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		if strings.Contains(label, name) || strings.Contains(name, label) {
			return users[label], true
		}
	}
	return 0, false
}
