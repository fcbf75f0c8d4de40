// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve extracts candidate field values from a prompt and
// resolves them to numeric IDs against the reference data cache.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/Quill/services/quill/config"
	"github.com/AleutianAI/Quill/services/quill/qual"
	"github.com/AleutianAI/Quill/services/quill/refdata"
)

// Match is one resolved label.
type Match struct {
	Label string
	ID    int64
}

// Result is the outcome of resolving one category against a prompt.
//
// Included and Excluded preserve first-detection order, which follows the
// term's position in the prompt. That ordering is visible in the emitted
// qualification and must stay deterministic.
type Result struct {
	Included    []Match
	Excluded    []Match
	Hint        qual.Operator
	Diagnostics []string
}

// IncludedIDs returns the included IDs in detection order.
func (r Result) IncludedIDs() []int64 {
	out := make([]int64, 0, len(r.Included))
	for _, m := range r.Included {
		out = append(out, m.ID)
	}
	return out
}

// ExcludedIDs returns the excluded IDs in detection order.
func (r Result) ExcludedIDs() []int64 {
	out := make([]int64, 0, len(r.Excluded))
	for _, m := range r.Excluded {
		out = append(out, m.ID)
	}
	return out
}

// Empty reports whether nothing was resolved.
func (r Result) Empty() bool {
	return len(r.Included) == 0 && len(r.Excluded) == 0
}

// compiledPattern pairs a pattern with its compiled form for logging.
type compiledPattern struct {
	raw string
	re  *regexp.Regexp
}

type categoryMatcher struct {
	cfg       config.CategoryRules
	inclusion []compiledPattern
	exclusion []compiledPattern
}

// separatorRe splits multi-value phrases ("high, medium and low").
var separatorRe = regexp.MustCompile(`\s*(?:,|;|&|\+|\band\b|\bor\b)\s*`)

// punctRe strips stray punctuation from a captured term.
var punctRe = regexp.MustCompile(`[^\w\s@.]`)

// Resolver resolves prompt terms to reference IDs for every configured
// category.
//
// Thread Safety: Resolver is immutable after construction and safe for
// concurrent use.
type Resolver struct {
	rules    *config.Rules
	cache    *refdata.Cache
	cats     map[string]*categoryMatcher
	negation []compiledPattern
	logger   *slog.Logger
}

// NewResolver compiles the rule patterns and builds a resolver.
//
// Inputs:
//   - rules: Loaded extraction rules. Must not be nil.
//   - cache: Reference data cache. Must not be nil.
//   - logger: Structured logger; nil means slog.Default.
//
// Outputs:
//   - *Resolver: The configured resolver.
//   - error: Non-nil if any pattern fails to compile.
func NewResolver(rules *config.Rules, cache *refdata.Cache, logger *slog.Logger) (*Resolver, error) {
	if rules == nil {
		return nil, fmt.Errorf("NewResolver: rules must not be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("NewResolver: cache must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Resolver{
		rules:  rules,
		cache:  cache,
		cats:   make(map[string]*categoryMatcher, len(rules.Categories)),
		logger: logger,
	}

	for name, cat := range rules.Categories {
		m := &categoryMatcher{cfg: cat}
		for _, p := range cat.InclusionPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("NewResolver: category %s: %w", name, err)
			}
			m.inclusion = append(m.inclusion, compiledPattern{raw: p, re: re})
		}
		for _, p := range cat.ExclusionPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("NewResolver: category %s: %w", name, err)
			}
			m.exclusion = append(m.exclusion, compiledPattern{raw: p, re: re})
		}
		r.cats[name] = m
	}

	for _, cue := range rules.NegationCues {
		re, err := regexp.Compile(cue)
		if err != nil {
			return nil, fmt.Errorf("NewResolver: negation cue: %w", err)
		}
		r.negation = append(r.negation, compiledPattern{raw: cue, re: re})
	}

	return r, nil
}

// Resolve extracts and resolves one category's terms from the prompt.
//
// Description:
//
//	Runs the category's exclusion and inclusion patterns over the
//	lower-cased prompt, splits captured phrases on separators, and resolves
//	each term exactly, via the synonym table, or via the fuzzy scorer.
//	Explicit mentions of mapping labels win over fuzzy guesses; result
//	counts are capped to suppress runaway false positives. Negation cues
//	anywhere in the prompt flip the result to exclusion when no explicit
//	exclusion phrase was captured. When nothing explicit resolved,
//	business-logic shortcuts (active, unresolved, completed, ...) may fill
//	the included set.
//
// Inputs:
//   - ctx: Context for the reference data fetch.
//   - prompt: Raw natural-language input.
//   - category: Rule category name (status, priority, urgency, user, ...).
//
// Outputs:
//   - Result: Resolved IDs with operator hint and diagnostics. Unknown
//     categories yield an empty Result with a diagnostic.
func (r *Resolver) Resolve(ctx context.Context, prompt, category string) Result {
	matcher, ok := r.cats[category]
	if !ok {
		return Result{
			Hint:        qual.OpIn,
			Diagnostics: []string{fmt.Sprintf("no rules for category %q", category)},
		}
	}

	normalized := strings.ToLower(strings.TrimSpace(prompt))
	mapping := r.cache.Mapping(ctx, refdata.Category(category))

	res := Result{Hint: qual.OpIn}
	included := newMatchSet()
	excluded := newMatchSet()

	for _, p := range matcher.exclusion {
		for _, sub := range p.re.FindAllStringSubmatch(normalized, -1) {
			if len(sub) < 2 {
				continue
			}
			r.resolvePhrase(sub[1], matcher.cfg, mapping, excluded, &res.Diagnostics)
		}
	}

	for _, p := range matcher.inclusion {
		for _, sub := range p.re.FindAllStringSubmatch(normalized, -1) {
			if len(sub) < 2 {
				continue
			}
			r.resolvePhrase(sub[1], matcher.cfg, mapping, included, &res.Diagnostics)
		}
	}

	if matcher.cfg.ScanMentions {
		scanMentions(normalized, mapping, matcher.cfg.Synonyms, included)
	}

	// A bare mention that an exclusion phrase already claimed stays excluded.
	included.subtract(excluded)

	r.prioritizeExplicit(normalized, matcher.cfg, mapping, included, &res.Diagnostics)

	if included.len() == 0 && excluded.len() == 0 {
		r.applyShortcuts(normalized, matcher.cfg, mapping, included)
	}

	// Negation cues flip inclusion to exclusion unless an explicit
	// exclusion phrase already captured the negated terms. The scan covers
	// the whole prompt, not just the clause near the match; see the
	// assembler's conflict diagnostics for the misfire escape hatch.
	if excluded.len() == 0 && included.len() > 0 && r.negated(normalized) {
		excluded.absorb(included)
	}

	res.Included = included.ordered()
	res.Excluded = excluded.ordered()
	if len(res.Excluded) > 0 && len(res.Included) == 0 {
		res.Hint = qual.OpNotIn
	}

	if !res.Empty() {
		r.logger.Debug("category resolved",
			slog.String("category", category),
			slog.Int("included", len(res.Included)),
			slog.Int("excluded", len(res.Excluded)),
			slog.String("hint", string(res.Hint)))
	}
	return res
}

// resolvePhrase splits a captured phrase and resolves each term.
func (r *Resolver) resolvePhrase(phrase string, cfg config.CategoryRules, mapping map[string]int64, into *matchSet, diags *[]string) {
	for _, term := range splitTerms(phrase) {
		label, id, ok := r.resolveTerm(term, cfg, mapping)
		if !ok {
			if len(term) >= 2 {
				*diags = append(*diags, fmt.Sprintf("unresolved %s term %q", cfg.Property, term))
			}
			continue
		}
		into.add(label, id)
	}
}

// resolveTerm maps one cleaned term to a mapping entry: exact first, then
// the synonym table, then the fuzzy scorer for terms long enough to trust.
func (r *Resolver) resolveTerm(term string, cfg config.CategoryRules, mapping map[string]int64) (string, int64, bool) {
	if id, ok := mapping[term]; ok {
		return term, id, true
	}

	if canonical, ok := cfg.Synonyms[term]; ok {
		if id, ok := mapping[canonical]; ok {
			return canonical, id, true
		}
	}

	if len(term) < r.rules.Fuzzy.MinTermLength {
		return "", 0, false
	}

	bestLabel := ""
	bestScore := 0.0
	for _, label := range sortedKeys(mapping) {
		s := Score(term, label)
		if s > bestScore {
			bestScore = s
			bestLabel = label
		}
	}
	if bestScore >= r.rules.Fuzzy.Threshold {
		return bestLabel, mapping[bestLabel], true
	}
	return "", 0, false
}

// prioritizeExplicit keeps only labels literally present in the prompt
// (directly or via a synonym) when any are, and otherwise trims oversized
// detection sets.
func (r *Resolver) prioritizeExplicit(prompt string, cfg config.CategoryRules, mapping map[string]int64, included *matchSet, diags *[]string) {
	if included.len() == 0 {
		return
	}

	explicit := map[string]bool{}
	for _, label := range sortedKeys(mapping) {
		re := wordBoundaryPattern(label)
		if re != nil && re.MatchString(prompt) {
			explicit[label] = true
		}
	}
	synTerms := make([]string, 0, len(cfg.Synonyms))
	for term := range cfg.Synonyms {
		synTerms = append(synTerms, term)
	}
	sort.Strings(synTerms)
	for _, term := range synTerms {
		if re := wordBoundaryPattern(term); re != nil && re.MatchString(prompt) {
			explicit[cfg.Synonyms[term]] = true
		}
	}

	if len(explicit) > 0 {
		if kept := included.filter(func(m Match) bool { return explicit[m.Label] }); kept > 0 {
			return
		}
		// Nothing detected was literally mentioned; fall through to the cap.
	}

	if included.len() > r.rules.Limits.SpuriousDetectLimit {
		dropped := included.truncate(r.rules.Limits.ExplicitCap)
		*diags = append(*diags, fmt.Sprintf("trimmed %d spurious matches", dropped))
	}
}

// applyShortcuts resolves business cue words (active, unresolved, ...) to
// their configured label sets.
func (r *Resolver) applyShortcuts(prompt string, cfg config.CategoryRules, mapping map[string]int64, included *matchSet) {
	cues := make([]string, 0, len(cfg.Shortcuts))
	for cue := range cfg.Shortcuts {
		cues = append(cues, cue)
	}
	sort.Strings(cues)

	for _, cue := range cues {
		re := wordBoundaryPattern(cue)
		if re == nil || !re.MatchString(prompt) {
			continue
		}
		for _, label := range cfg.Shortcuts[cue] {
			if id, ok := mapping[label]; ok {
				included.add(label, id)
			}
		}
	}
}

func (r *Resolver) negated(prompt string) bool {
	for _, p := range r.negation {
		if p.re.MatchString(prompt) {
			return true
		}
	}
	return false
}

// scanMentions adds mapping labels that appear bare anywhere in the prompt.
// Multi-word labels must appear as a word sequence; single-word labels need
// length > 3 to avoid false positives.
func scanMentions(prompt string, mapping map[string]int64, synonyms map[string]string, into *matchSet) {
	for _, label := range sortedKeys(mapping) {
		words := strings.Fields(label)
		switch {
		case len(words) > 1:
			parts := make([]string, len(words))
			for i, w := range words {
				parts[i] = regexp.QuoteMeta(w)
			}
			re := regexp.MustCompile(`\b` + strings.Join(parts, `\s+`) + `\b`)
			if re.MatchString(prompt) {
				into.add(label, mapping[label])
			}
		case len(label) > 3:
			if re := wordBoundaryPattern(label); re != nil && re.MatchString(prompt) {
				into.add(label, mapping[label])
			}
		}
	}

	terms := make([]string, 0, len(synonyms))
	for term := range synonyms {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	for _, term := range terms {
		canonical := synonyms[term]
		id, ok := mapping[canonical]
		if !ok {
			continue
		}
		if re := wordBoundaryPattern(term); re != nil && re.MatchString(prompt) {
			into.add(canonical, id)
		}
	}
}

func splitTerms(phrase string) []string {
	var out []string
	for _, part := range separatorRe.Split(phrase, -1) {
		term := strings.TrimSpace(punctRe.ReplaceAllString(part, ""))
		term = strings.Join(strings.Fields(term), " ")
		if len(term) < 2 {
			continue
		}
		out = append(out, term)
	}
	return out
}

func wordBoundaryPattern(term string) *regexp.Regexp {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}
	words := strings.Fields(term)
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b` + strings.Join(parts, `\s+`) + `\b`)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// Ordered match set
// =============================================================================

// matchSet is an insertion-ordered set of label matches. Order matters: the
// emitted qualification lists IDs in detection order and must be stable
// across runs.
type matchSet struct {
	order []Match
	seen  map[string]bool
}

func newMatchSet() *matchSet {
	return &matchSet{seen: map[string]bool{}}
}

func (s *matchSet) add(label string, id int64) {
	if s.seen[label] {
		return
	}
	s.seen[label] = true
	s.order = append(s.order, Match{Label: label, ID: id})
}

func (s *matchSet) len() int { return len(s.order) }

func (s *matchSet) ordered() []Match { return s.order }

// absorb moves every match from other into s and clears other.
func (s *matchSet) absorb(other *matchSet) {
	for _, m := range other.order {
		s.add(m.Label, m.ID)
	}
	other.order = nil
	other.seen = map[string]bool{}
}

// subtract removes every match also present in other. Unlike filter it may
// leave the set empty.
func (s *matchSet) subtract(other *matchSet) {
	if other.len() == 0 || s.len() == 0 {
		return
	}
	var kept []Match
	seen := map[string]bool{}
	for _, m := range s.order {
		if other.seen[m.Label] {
			continue
		}
		kept = append(kept, m)
		seen[m.Label] = true
	}
	s.order = kept
	s.seen = seen
}

// filter keeps matches satisfying keep, returning how many remain. When
// nothing would remain the set is left untouched.
func (s *matchSet) filter(keep func(Match) bool) int {
	var kept []Match
	seen := map[string]bool{}
	for _, m := range s.order {
		if keep(m) {
			kept = append(kept, m)
			seen[m.Label] = true
		}
	}
	if len(kept) == 0 {
		return 0
	}
	s.order = kept
	s.seen = seen
	return len(kept)
}

// truncate keeps the first n matches, returning how many were dropped.
func (s *matchSet) truncate(n int) int {
	if len(s.order) <= n {
		return 0
	}
	dropped := len(s.order) - n
	s.order = s.order[:n]
	seen := map[string]bool{}
	for _, m := range s.order {
		seen[m.Label] = true
	}
	s.seen = seen
	return dropped
}
