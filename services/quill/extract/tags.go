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
	taggedWithRe = regexp.MustCompile(
		`\btagged\s+with\s+((?:'[^']+'|"[^"]+")(?:\s*(?:,|and)\s*(?:'[^']+'|"[^"]+"))*|\w+)`)
	quotedRe      = regexp.MustCompile(`'([^']+)'|"([^"]+)"`)
	tagContainsRe = regexp.MustCompile(
		`\btags?\s+contains?\s+(?:'([^']+)'|"([^"]+)"|(\w+))`)
)

// Tags detects tag membership filters. "tagged with 'a', 'b'" requires
// every listed tag to be present (all_members_exist); "tag contains x"
// is a plain substring filter.
func Tags(prompt string) Result {
	normalized := strings.ToLower(prompt)
	var out Result

	if sub := taggedWithRe.FindStringSubmatch(normalized); sub != nil {
		var tags []string
		if quoted := quotedRe.FindAllStringSubmatch(sub[1], -1); len(quoted) > 0 {
			for _, q := range quoted {
				tags = append(tags, firstNonEmpty(q[1], q[2]))
			}
		} else {
			tags = append(tags, strings.TrimSpace(sub[1]))
		}
		node, err := qual.TagsAllMembersExist(tags)
		if err != nil {
			out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("tags: %v", err))
		} else {
			out.Nodes = append(out.Nodes, node)
		}
		return out
	}

	if sub := tagContainsRe.FindStringSubmatch(normalized); sub != nil {
		text := firstNonEmpty(sub[1], sub[2], sub[3])
		node, err := qual.ContainsText(qual.PropTags, text)
		if err != nil {
			out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("tags: %v", err))
			return out
		}
		out.Nodes = append(out.Nodes, node)
	}
	return out
}
