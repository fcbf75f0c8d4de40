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
	"strconv"
	"strings"

	"github.com/AleutianAI/Quill/services/quill/qual"
	"github.com/AleutianAI/Quill/services/quill/refdata"
)

// genericField describes one loose field name the fallback extractor
// understands. Fields with a reference category try an ID lookup before
// degrading to a text filter.
type genericField struct {
	prop     qual.Property
	category refdata.Category
}

var genericFields = map[string]genericField{
	"requester":  {prop: qual.PropRequesterID, category: refdata.CategoryUser},
	"group":      {prop: qual.PropGroupID},
	"category":   {prop: qual.PropCategoryID, category: refdata.CategoryCategory},
	"impact":     {prop: qual.PropImpactID},
	"urgency":    {prop: qual.PropUrgencyID, category: refdata.CategoryUrgency},
	"location":   {prop: qual.PropLocationID, category: refdata.CategoryLocation},
	"department": {prop: qual.PropDepartmentID},
}

var genericFieldRe = regexp.MustCompile(
	`\b(requester|group|category|impact|urgency|location|department)\s+(?:is|=|equals?|contains|includes?|named|called)\s+(?:'([^']+)'|"([^"]+)"|([\w\s]+?))(?:\s+(?:and|or|with|from)\b|[,.]|$)`)

// Generic is the fallback field extractor for loose field mentions like
// "group is networking" or "impact equals 3".
//
// Numeric values become ID membership filters; text values try the
// field's reference mapping first and degrade to contains. Properties in
// claimed were already filtered by a dedicated extractor and are skipped
// so the same field never appears twice.
func (e *Extractors) Generic(ctx context.Context, prompt string, claimed map[qual.Property]bool) Result {
	normalized := strings.ToLower(prompt)
	var out Result

	for _, sub := range genericFieldRe.FindAllStringSubmatch(normalized, -1) {
		field := genericFields[sub[1]]
		if claimed[field.prop] {
			continue
		}
		value := firstNonEmpty(sub[2], sub[3], sub[4])
		if value == "" {
			continue
		}

		if id, err := strconv.ParseInt(value, 10, 64); err == nil {
			node, nerr := qual.InList(field.prop, []int64{id})
			if nerr != nil {
				out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("generic: %v", nerr))
				continue
			}
			out.Nodes = append(out.Nodes, node)
			claimed[field.prop] = true
			continue
		}

		if field.category != "" {
			mapping := e.cache.Mapping(ctx, field.category)
			if id, ok := mapping[value]; ok {
				node, nerr := qual.InList(field.prop, []int64{id})
				if nerr != nil {
					out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("generic: %v", nerr))
					continue
				}
				out.Nodes = append(out.Nodes, node)
				claimed[field.prop] = true
				continue
			}
		}

		node, err := qual.ContainsText(field.prop, value)
		if err != nil {
			out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("generic: %v", err))
			continue
		}
		out.Nodes = append(out.Nodes, node)
		claimed[field.prop] = true
	}
	return out
}
