// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the extraction rule set that drives the qualification
// compiler: per-category regex patterns, synonym and shortcut tables,
// fallback ID mappings, negation cues, and the default-status gate.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

var rulesTracer = otel.Tracer("aleutian.quill.config")

// =============================================================================
// Embedded Default Rules
// =============================================================================

//go:embed rules.yaml
var defaultRulesYAML []byte

// MaxYAMLFileSize bounds rule files to guard against accidental huge loads.
const MaxYAMLFileSize = 1 << 20 // 1 MiB

// =============================================================================
// Rule Types
// =============================================================================

// Rules is the full extraction rule set.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Rules struct {
	// Fuzzy controls the partial-match scorer used by the field resolver.
	Fuzzy FuzzyRules `yaml:"fuzzy"`

	// Limits bound list sizes and spurious-match behavior.
	Limits LimitRules `yaml:"limits"`

	// NegationCues are regex fragments that flip a category filter from
	// inclusion (in) to exclusion (not_in) when found in the prompt.
	NegationCues []string `yaml:"negation_cues"`

	// GeneralQueryPhrases mark a prompt as an explicit "all records" query.
	// Such prompts produce an intentionally empty qualification.
	GeneralQueryPhrases []string `yaml:"general_query_phrases"`

	// DefaultStatus configures the keyword-gated exclude-closed default.
	DefaultStatus DefaultStatusRule `yaml:"default_status"`

	// Categories holds per-field-category extraction rules, keyed by
	// category name (status, priority, urgency, category, location, user).
	Categories map[string]CategoryRules `yaml:"categories"`

	// Endpoints lists target endpoints with their detection keywords.
	Endpoints []EndpointRule `yaml:"endpoints"`
}

// FuzzyRules tunes the similarity scorer.
type FuzzyRules struct {
	// Threshold is the minimum score to accept a partial match.
	Threshold float64 `yaml:"threshold" validate:"gt=0,lte=1"`

	// MinTermLength is the shortest term eligible for fuzzy matching.
	// Shorter terms must match exactly.
	MinTermLength int `yaml:"min_term_length" validate:"gte=1"`
}

// LimitRules bounds filter sizes.
type LimitRules struct {
	// MaxListValues triggers a diagnostic when a list filter exceeds it.
	MaxListValues int `yaml:"max_list_values" validate:"gte=1"`

	// ExplicitCap limits results when spurious matches are trimmed.
	ExplicitCap int `yaml:"explicit_cap" validate:"gte=1"`

	// SpuriousDetectLimit is the detection count above which results are
	// trimmed to ExplicitCap.
	SpuriousDetectLimit int `yaml:"spurious_detect_limit" validate:"gte=1"`
}

// DefaultStatusRule configures the default exclude-closed leaf.
type DefaultStatusRule struct {
	// ClosedID is the status ID excluded by the default leaf.
	ClosedID int64 `yaml:"closed_id" validate:"gte=1"`

	// GateKeywords must appear in the prompt for the default leaf to be
	// injected; without any of them the qualification stays empty.
	GateKeywords []string `yaml:"gate_keywords"`
}

// CategoryRules describes how one field category is extracted and resolved.
type CategoryRules struct {
	// Property is the target property key for this category.
	Property string `yaml:"property"`

	// ScanMentions enables a whole-prompt scan for mapping labels in
	// addition to the capture patterns. Used for categories whose labels
	// appear bare in prompts (status), not for open vocabularies (users).
	ScanMentions bool `yaml:"scan_mentions"`

	// InclusionPatterns capture candidate value phrases.
	InclusionPatterns []string `yaml:"inclusion_patterns"`

	// ExclusionPatterns capture negated value phrases.
	ExclusionPatterns []string `yaml:"exclusion_patterns"`

	// Synonyms map loose terms to canonical mapping labels.
	Synonyms map[string]string `yaml:"synonyms"`

	// Shortcuts map business cue words to sets of canonical labels
	// (e.g. active -> [open, in progress]).
	Shortcuts map[string][]string `yaml:"shortcuts"`

	// Fallback is the built-in label->ID table used when live reference
	// data cannot be fetched.
	Fallback map[string]int64 `yaml:"fallback"`
}

// EndpointRule pairs a target endpoint with its detection keywords.
type EndpointRule struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultFuzzyThreshold is the partial-match acceptance score.
	DefaultFuzzyThreshold = 0.7

	// DefaultMinTermLength is the shortest fuzzy-eligible term.
	DefaultMinTermLength = 3

	// DefaultMaxListValues is the large-list diagnostic threshold.
	DefaultMaxListValues = 100

	// DefaultExplicitCap trims spurious match sets to this size.
	DefaultExplicitCap = 3

	// DefaultSpuriousDetectLimit triggers trimming above this count.
	DefaultSpuriousDetectLimit = 5
)

// =============================================================================
// Singleton Rules
// =============================================================================

var (
	rulesMu      sync.RWMutex
	rulesOnce    sync.Once
	cachedRules  *Rules
	rulesLoadErr error
)

// GetRules returns the cached extraction rules, loading the embedded
// defaults on first call.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func GetRules(ctx context.Context) (*Rules, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetRules: ctx must not be nil")
	}

	rulesMu.RLock()
	if cachedRules != nil || rulesLoadErr != nil {
		r, err := cachedRules, rulesLoadErr
		rulesMu.RUnlock()
		return r, err
	}
	rulesMu.RUnlock()

	rulesMu.Lock()
	defer rulesMu.Unlock()

	if cachedRules != nil || rulesLoadErr != nil {
		return cachedRules, rulesLoadErr
	}

	rulesOnce.Do(func() {
		cachedRules, rulesLoadErr = LoadRules(ctx, defaultRulesYAML)
	})

	return cachedRules, rulesLoadErr
}

// ResetRules clears the cached rules so tests can reload with different data.
//
// Thread Safety: Safe for concurrent use.
func ResetRules() {
	rulesMu.Lock()
	defer rulesMu.Unlock()
	cachedRules = nil
	rulesLoadErr = nil
	rulesOnce = sync.Once{}
}

// SetRules replaces the cached rules, used by the hot-reload watcher.
func SetRules(r *Rules) {
	rulesMu.Lock()
	defer rulesMu.Unlock()
	cachedRules = r
	rulesLoadErr = nil
}

// LoadRules parses and validates a rule set from YAML bytes.
//
// Description:
//
//	Parses the YAML, applies defaults for missing numeric fields, compiles
//	every regex pattern to catch syntax errors at load time, and validates
//	category tables for consistency.
//
// Inputs:
//   - ctx: Context for tracing.
//   - data: Raw YAML bytes.
//
// Outputs:
//   - *Rules: The validated rule set.
//   - error: Non-nil if parsing or validation fails.
func LoadRules(ctx context.Context, data []byte) (*Rules, error) {
	_, span := rulesTracer.Start(ctx, "config.LoadRules")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadRules: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadRules: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("LoadRules: parsing YAML: %w", err)
	}

	if r.Fuzzy.Threshold <= 0 || r.Fuzzy.Threshold > 1 {
		r.Fuzzy.Threshold = DefaultFuzzyThreshold
	}
	if r.Fuzzy.MinTermLength <= 0 {
		r.Fuzzy.MinTermLength = DefaultMinTermLength
	}
	if r.Limits.MaxListValues <= 0 {
		r.Limits.MaxListValues = DefaultMaxListValues
	}
	if r.Limits.ExplicitCap <= 0 {
		r.Limits.ExplicitCap = DefaultExplicitCap
	}
	if r.Limits.SpuriousDetectLimit <= 0 {
		r.Limits.SpuriousDetectLimit = DefaultSpuriousDetectLimit
	}
	if r.DefaultStatus.ClosedID == 0 {
		r.DefaultStatus.ClosedID = 13
	}

	if err := validateRules(&r); err != nil {
		return nil, fmt.Errorf("LoadRules: validation: %w", err)
	}

	span.SetAttributes(
		attribute.Int("categories", len(r.Categories)),
		attribute.Int("negation_cues", len(r.NegationCues)),
		attribute.Int("endpoints", len(r.Endpoints)),
	)

	slog.Info("extraction rules loaded",
		slog.Int("categories", len(r.Categories)),
		slog.Int("negation_cues", len(r.NegationCues)),
		slog.Int("endpoints", len(r.Endpoints)),
		slog.Float64("fuzzy_threshold", r.Fuzzy.Threshold),
	)

	return &r, nil
}

var rulesValidator = validator.New()

// validateRules checks all tables for consistency. Numeric bounds go
// through the struct validator; cross-field checks stay hand-written.
func validateRules(r *Rules) error {
	if err := rulesValidator.Struct(r); err != nil {
		return err
	}
	if len(r.Categories) == 0 {
		return fmt.Errorf("no categories defined")
	}
	for name, cat := range r.Categories {
		if cat.Property == "" {
			return fmt.Errorf("category %q: property must not be empty", name)
		}
		if len(cat.InclusionPatterns) == 0 {
			return fmt.Errorf("category %q: inclusion_patterns must not be empty", name)
		}
		for i, p := range append(append([]string{}, cat.InclusionPatterns...), cat.ExclusionPatterns...) {
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("category %q: pattern[%d] %q: %w", name, i, p, err)
			}
		}
		for cue, labels := range cat.Shortcuts {
			if len(labels) == 0 {
				return fmt.Errorf("category %q: shortcut %q maps to no labels", name, cue)
			}
		}
	}
	for i, cue := range r.NegationCues {
		if _, err := regexp.Compile(cue); err != nil {
			return fmt.Errorf("negation_cues[%d] %q: %w", i, cue, err)
		}
	}
	seen := map[string]bool{}
	for i, ep := range r.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoints[%d]: name must not be empty", i)
		}
		if seen[ep.Name] {
			return fmt.Errorf("endpoints[%d]: duplicate name %q", i, ep.Name)
		}
		seen[ep.Name] = true
		if len(ep.Keywords) == 0 {
			return fmt.Errorf("endpoints[%d] (%s): keywords must not be empty", i, ep.Name)
		}
	}
	return nil
}

// Category returns the rules for one category, or nil if undefined.
func (r *Rules) Category(name string) *CategoryRules {
	cat, ok := r.Categories[name]
	if !ok {
		return nil
	}
	return &cat
}
