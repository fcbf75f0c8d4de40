// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package refdata caches the reference mappings (label -> numeric ID) the
// compiler resolves prompts against.
//
// Design notes:
//
//   - Mappings are fetched lazily per category and held for a TTL. Expired
//     entries are re-fetched on next read; concurrent reads of an expired
//     category share one fetch via singleflight.
//   - Fetch failures degrade to a per-category built-in fallback table.
//     Resolution failures must never abort a request, so Mapping has no
//     error return.
//   - The only cross-request mutable state is the entry map, guarded by a
//     RWMutex. Refresh is idempotent, so last-writer-wins on overlapping
//     refreshes is acceptable.
package refdata

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

var cacheTracer = otel.Tracer("aleutian.quill.refdata")

var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_refdata_refresh_total",
		Help: "Reference data refresh attempts by category and outcome.",
	}, []string{"category", "outcome"})

	fallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_refdata_fallback_total",
		Help: "Reads served from the built-in fallback table.",
	}, []string{"category"})

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quill_refdata_refresh_duration_seconds",
		Help:    "Reference data refresh latency.",
		Buckets: prometheus.DefBuckets,
	})
)

// Category names one reference mapping scope.
type Category string

const (
	CategoryStatus         Category = "status"
	CategoryPriority       Category = "priority"
	CategoryUrgency        Category = "urgency"
	CategoryUser           Category = "user"
	CategoryCategory       Category = "category"
	CategoryLocation       Category = "location"
	CategoryServiceCatalog Category = "service_catalog"
)

// DefaultTTL is the reference data freshness window.
const DefaultTTL = 5 * time.Minute

// CacheConfig configures a Cache.
type CacheConfig struct {
	// TTL is the freshness window; entries older than TTL are re-fetched
	// on next read. Zero means DefaultTTL.
	TTL time.Duration

	// Endpoints maps each category to its fetch URL. Categories without an
	// endpoint resolve from the fallback table only.
	Endpoints map[Category]string

	// Fallbacks holds the built-in label->ID tables per category.
	Fallbacks map[Category]map[string]int64

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

type entry struct {
	mapping   map[string]int64
	fetchedAt time.Time
	degraded  bool
}

// Cache is the process-wide reference data cache.
//
// Thread Safety: Cache is safe for concurrent use.
type Cache struct {
	mu        sync.RWMutex
	entries   map[Category]*entry
	ttl       time.Duration
	transport Transport
	endpoints map[Category]string
	fallbacks map[Category]map[string]int64
	group     singleflight.Group
	logger    *slog.Logger
}

// NewCache creates a reference data cache over the given transport.
//
// Inputs:
//   - transport: Authenticated-request capability. May be nil, in which
//     case every category resolves from its fallback table.
//   - cfg: Cache configuration.
//
// Outputs:
//   - *Cache: The configured cache.
func NewCache(transport Transport, cfg CacheConfig) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fallbacks := cfg.Fallbacks
	if fallbacks == nil {
		fallbacks = map[Category]map[string]int64{}
	}
	return &Cache{
		entries:   make(map[Category]*entry),
		ttl:       ttl,
		transport: transport,
		endpoints: cfg.Endpoints,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

// Mapping returns the label->ID mapping for a category.
//
// Description:
//
//	Serves from memory while fresh; otherwise fetches from the reference
//	endpoint, falling back to the built-in table on any failure. Never
//	returns nil and never fails: a resolution failure degrades the mapping
//	rather than aborting the caller's request.
//
// Inputs:
//   - ctx: Context for the fetch; honored only when a refresh is needed.
//   - cat: Reference category.
//
// Outputs:
//   - map[string]int64: Lower-cased label -> ID. Possibly empty, never nil.
//
// Thread Safety: Safe for concurrent use. Concurrent refreshes of the same
// category collapse into one fetch.
func (c *Cache) Mapping(ctx context.Context, cat Category) map[string]int64 {
	c.mu.RLock()
	e, ok := c.entries[cat]
	if ok && time.Since(e.fetchedAt) < c.ttl {
		m := e.mapping
		c.mu.RUnlock()
		return m
	}
	c.mu.RUnlock()

	v, _, _ := c.group.Do(string(cat), func() (any, error) {
		return c.refresh(ctx, cat), nil
	})
	return v.(map[string]int64)
}

// Degraded reports whether the category is currently served from its
// fallback table rather than live data.
func (c *Cache) Degraded(cat Category) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cat]
	return ok && e.degraded
}

// Invalidate drops one category so the next read re-fetches. Used when the
// transport reports the upstream rejected a stale mapping.
func (c *Cache) Invalidate(cat Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cat)
}

// InvalidateAll drops every cached category.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Category]*entry)
}

// refresh fetches one category and stores the result, degrading to the
// fallback table on failure. Always returns a usable mapping.
func (c *Cache) refresh(ctx context.Context, cat Category) map[string]int64 {
	// Re-check under the flight lock: a racing reader may have refreshed
	// this category while we waited.
	c.mu.RLock()
	if e, ok := c.entries[cat]; ok && time.Since(e.fetchedAt) < c.ttl {
		m := e.mapping
		c.mu.RUnlock()
		return m
	}
	c.mu.RUnlock()

	ctx, span := cacheTracer.Start(ctx, "refdata.refresh")
	defer span.End()
	span.SetAttributes(attribute.String("category", string(cat)))

	start := time.Now()
	mapping, degraded := c.fetch(ctx, cat)
	refreshDuration.Observe(time.Since(start).Seconds())

	outcome := "ok"
	if degraded {
		outcome = "fallback"
		fallbackTotal.WithLabelValues(string(cat)).Inc()
	}
	refreshTotal.WithLabelValues(string(cat), outcome).Inc()
	span.SetAttributes(
		attribute.Bool("degraded", degraded),
		attribute.Int("labels", len(mapping)),
	)

	c.mu.Lock()
	c.entries[cat] = &entry{mapping: mapping, fetchedAt: time.Now(), degraded: degraded}
	c.mu.Unlock()

	return mapping
}

func (c *Cache) fetch(ctx context.Context, cat Category) (map[string]int64, bool) {
	url := c.endpoints[cat]
	if url == "" || c.transport == nil {
		return c.fallback(cat), true
	}

	body, err := c.transport.AuthenticatedRequest(ctx, http.MethodPost, url, []byte(`{}`))
	if err != nil {
		c.logger.Warn("reference data fetch failed, using fallback",
			slog.String("category", string(cat)),
			slog.String("error", err.Error()))
		return c.fallback(cat), true
	}

	mapping, err := parseReferenceList(body)
	if err != nil {
		c.logger.Warn("reference data parse failed, using fallback",
			slog.String("category", string(cat)),
			slog.String("error", err.Error()))
		return c.fallback(cat), true
	}
	if len(mapping) == 0 {
		c.logger.Warn("reference data response empty, using fallback",
			slog.String("category", string(cat)))
		return c.fallback(cat), true
	}

	c.logger.Info("reference data refreshed",
		slog.String("category", string(cat)),
		slog.Int("labels", len(mapping)))
	return mapping, false
}

// fallback returns a copy of the built-in table so callers cannot mutate
// the shared map.
func (c *Cache) fallback(cat Category) map[string]int64 {
	src := c.fallbacks[cat]
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
