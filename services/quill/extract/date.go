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
	"strconv"
	"strings"

	"github.com/AleutianAI/Quill/services/quill/qual"
)

var (
	todayRe     = regexp.MustCompile(`\btoday\b`)
	yesterdayRe = regexp.MustCompile(`\byesterday\b`)
	lastWeekRe  = regexp.MustCompile(`\blast\s+week\b`)
	lastMonthRe = regexp.MustCompile(`\blast\s+month\b`)
	recentRe    = regexp.MustCompile(`\brecent(?:ly)?\b`)

	lastNDaysRe = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:last|past)\s+(\d+)\s+days?\b`),
		regexp.MustCompile(`\bin\s+the\s+last\s+(\d+)\s+days?\b`),
		regexp.MustCompile(`\bwithin\s+(?:the\s+last\s+)?(\d+)\s+days?\b`),
	}
)

const recentWindowDays = 7

// Date recognizes literal time cues and produces either a system-variable
// equality against createdTime (today, yesterday) or a within_last
// duration filter (last week, last month, last N days, recently).
//
// Today and yesterday are resolved server-side by the target system, so
// they travel as bare variable operands rather than concrete timestamps.
func Date(prompt string) Result {
	normalized := strings.ToLower(prompt)
	var out Result

	if todayRe.MatchString(normalized) {
		return variableEquality(qual.PropCreatedTime, "today")
	}
	if yesterdayRe.MatchString(normalized) {
		return variableEquality(qual.PropCreatedTime, "yesterday")
	}

	days := int64(0)
	switch {
	case lastWeekRe.MatchString(normalized):
		days = 7
	case lastMonthRe.MatchString(normalized):
		days = 30
	default:
		for _, re := range lastNDaysRe {
			sub := re.FindStringSubmatch(normalized)
			if sub == nil {
				continue
			}
			n, err := strconv.ParseInt(sub[1], 10, 64)
			if err != nil || n <= 0 {
				out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("date: unusable day count %q", sub[1]))
				continue
			}
			days = n
			break
		}
		if days == 0 && recentRe.MatchString(normalized) {
			days = recentWindowDays
		}
	}
	if days == 0 {
		return out
	}

	node, err := qual.WithinLast(days, "days")
	if err != nil {
		out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("date: %v", err))
		return out
	}
	out.Nodes = append(out.Nodes, node)
	return out
}

func variableEquality(prop qual.Property, variable string) Result {
	node, err := qual.EqualVariable(prop, variable)
	if err != nil {
		return Result{Diagnostics: []string{fmt.Sprintf("date: %v", err)}}
	}
	return Result{Nodes: []qual.Node{node}}
}
