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
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/Quill/services/quill/qual"
)

var (
	vipRe = regexp.MustCompile(`\bvip\b`)
	slaRe = regexp.MustCompile(`\bsla\s+(?:violat\w*|breach\w*)\b|\b(?:violat\w*|breach\w*)\s+(?:the\s+)?sla\b|\bsla\b`)
)

// Business detects boolean business flags: VIP requests and SLA
// violations.
func Business(prompt string) Result {
	normalized := strings.ToLower(prompt)
	var out Result

	if vipRe.MatchString(normalized) {
		node, err := qual.EqualBool(qual.PropVIPRequest, true)
		if err != nil {
			out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("business: %v", err))
		} else {
			out.Nodes = append(out.Nodes, node)
		}
	}
	if slaRe.MatchString(normalized) {
		node, err := qual.EqualBool(qual.PropSLAViolated, true)
		if err != nil {
			out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("business: %v", err))
		} else {
			out.Nodes = append(out.Nodes, node)
		}
	}
	return out
}
