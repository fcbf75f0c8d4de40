// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import "strings"

// Score returns the similarity between a search term and a mapping label
// in [0, 1].
//
// Description:
//
//	Tiered heuristic, highest tier wins:
//	  exact match            -> 1.0
//	  substring containment  -> 0.8
//	  shared-word overlap    -> 0.6 + (overlap/total)*0.2
//	  shared characters      -> ratio scaled into (0, 0.4]
//	The thresholding logic lives with the caller so the heuristic can be
//	tuned and tested on its own.
//
// Inputs:
//   - term: Lower-cased search term.
//   - candidate: Lower-cased mapping label.
//
// Outputs:
//   - float64: Similarity score; 0 when nothing is shared.
func Score(term, candidate string) float64 {
	if term == candidate {
		return 1.0
	}
	if term == "" || candidate == "" {
		return 0.0
	}

	if strings.Contains(candidate, term) || strings.Contains(term, candidate) {
		return 0.8
	}

	termWords := fieldsSet(term)
	candWords := fieldsSet(candidate)
	overlap := 0
	for w := range termWords {
		if candWords[w] {
			overlap++
		}
	}
	if overlap > 0 {
		total := len(termWords) + len(candWords) - overlap
		return 0.6 + (float64(overlap)/float64(total))*0.2
	}

	common := 0
	seen := map[rune]bool{}
	for _, r := range term {
		seen[r] = true
	}
	counted := map[rune]bool{}
	for _, r := range candidate {
		if seen[r] && !counted[r] {
			common++
			counted[r] = true
		}
	}
	if common == 0 {
		return 0.0
	}
	longer := len(term)
	if len(candidate) > longer {
		longer = len(candidate)
	}
	return float64(common) / float64(longer) * 0.4
}

func fieldsSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(s) {
		out[w] = true
	}
	return out
}
