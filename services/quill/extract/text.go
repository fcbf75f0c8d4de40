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

var textFieldProps = map[string]qual.Property{
	"subject":     qual.PropSubject,
	"description": qual.PropDescription,
	"name":        qual.PropName,
}

var (
	// "subject contains 'printer'" / "description has vpn"
	textFieldRe = regexp.MustCompile(
		`\b(subject|description|name)\s+(?:contains|has|includes|with|is|equals?)\s+(?:'([^']+)'|"([^"]+)"|(\w+))`)

	// Bare "containing 'foo'" fallback, only used when no field keyword
	// is present anywhere in the prompt.
	genericTextRe = regexp.MustCompile(
		`\b(?:contains|containing|having|includes|including)\s+(?:'([^']+)'|"([^"]+)"|(\w+))`)
)

// reservedTextTerms are operational words the generic fallback must not
// treat as search text; they belong to other extractors.
var reservedTextTerms = map[string]bool{
	"unassigned": true,
	"assigned":   true,
	"technician": true,
	"assignee":   true,
	"status":     true,
	"priority":   true,
	"urgency":    true,
	"tag":        true,
	"tags":       true,
}

// Text detects free-text search filters against subject, description and
// name, plus a generic subject-contains fallback for prompts like
// "requests containing 'vpn'".
func Text(prompt string) Result {
	normalized := strings.ToLower(prompt)
	var out Result
	matchedField := false

	for _, sub := range textFieldRe.FindAllStringSubmatch(normalized, -1) {
		field := sub[1]
		value := firstNonEmpty(sub[2], sub[3], sub[4])
		if value == "" || reservedTextTerms[value] {
			continue
		}
		node, err := qual.ContainsText(textFieldProps[field], value)
		if err != nil {
			out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("text: %v", err))
			continue
		}
		out.Nodes = append(out.Nodes, node)
		matchedField = true
	}
	if matchedField {
		return out
	}

	// Generic fallback applies only when no text field was named at all.
	if strings.Contains(normalized, "subject") ||
		strings.Contains(normalized, "description") ||
		strings.Contains(normalized, "name") {
		return out
	}
	for _, sub := range genericTextRe.FindAllStringSubmatch(normalized, -1) {
		value := firstNonEmpty(sub[1], sub[2], sub[3])
		if value == "" || reservedTextTerms[value] {
			continue
		}
		node, err := qual.ContainsText(qual.PropSubject, value)
		if err != nil {
			out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("text: %v", err))
			continue
		}
		out.Nodes = append(out.Nodes, node)
		// One generic leaf is plenty; further matches are usually noise.
		break
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
