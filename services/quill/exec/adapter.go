// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package exec executes compiled qualifications against the target ITSM
// REST API: endpoint selection, pagination, authentication and the
// single retry on an expired token.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/Quill/services/quill/config"
	"github.com/AleutianAI/Quill/services/quill/qual"
	"github.com/AleutianAI/Quill/services/quill/refdata"
)

// The adapter doubles as the reference-data transport.
var _ refdata.Transport = (*Adapter)(nil)

var requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quill_itsm_requests_total",
	Help: "Calls to the target ITSM API by endpoint and status class.",
}, []string{"endpoint", "status"})

// Search endpoint paths by logical endpoint name.
var endpointPaths = map[string]string{
	"requests":        "/api/request/search",
	"service_catalog": "/api/service_catalog/search",
	"users":           "/api/technician/search",
	"urgency":         "/api/urgency/search",
}

// DefaultEndpoint is used when no endpoint keywords score.
const DefaultEndpoint = "requests"

// requestIDRe spots explicit ticket identifiers like INC-42 or REQ-1007.
var requestIDRe = regexp.MustCompile(`(?i)\b((?:INC|REQ)-\d+)\b`)

// Page is the pagination and sorting extracted from the prompt.
type Page struct {
	Offset int    `json:"offset"`
	Size   int    `json:"size"`
	SortBy string `json:"sort_by"`
}

const (
	defaultPageSize = 25
	largePageSize   = 50
	defaultSortBy   = "createdTime"
)

// ExecutionResult is the raw answer from the target system plus the
// routing decisions that produced it.
type ExecutionResult struct {
	Endpoint string          `json:"endpoint"`
	Page     Page            `json:"page"`
	Body     json.RawMessage `json:"body"`
}

// AdapterConfig configures the execution adapter.
type AdapterConfig struct {
	// BaseURL of the target ITSM system, without trailing slash.
	BaseURL string

	// Auth supplies bearer tokens. Required.
	Auth *OAuthClient

	// Timeout bounds each HTTP call. Defaults to 30s.
	Timeout time.Duration

	// RequestsPerSecond throttles outbound calls. Defaults to 10.
	RequestsPerSecond float64

	Logger *slog.Logger
}

// Adapter issues authenticated calls against the target system.
//
// Thread Safety: Adapter is safe for concurrent use.
type Adapter struct {
	baseURL    string
	auth       *OAuthClient
	httpClient *http.Client
	limiter    *rate.Limiter
	rules      *config.Rules
	logger     *slog.Logger
}

// NewAdapter builds the adapter. rules supplies the endpoint keyword
// tables for DetectEndpoint.
func NewAdapter(cfg AdapterConfig, rules *config.Rules) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("NewAdapter: base URL is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("NewAdapter: auth client is required")
	}
	if rules == nil {
		return nil, fmt.Errorf("NewAdapter: rules are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		auth:       cfg.Auth,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		rules:      rules,
		logger:     cfg.Logger,
	}, nil
}

// DetectEndpoint scores the prompt against each endpoint's keyword list
// and returns the best-scoring endpoint name, defaulting to requests.
func (a *Adapter) DetectEndpoint(prompt string) string {
	normalized := strings.ToLower(prompt)
	best := DefaultEndpoint
	bestScore := 0
	for _, ep := range a.rules.Endpoints {
		score := 0
		for _, kw := range ep.Keywords {
			if strings.Contains(normalized, kw) {
				score++
			}
		}
		if score > bestScore {
			best = ep.Name
			bestScore = score
		}
	}
	return best
}

// ParsePage extracts pagination and sorting cues from the prompt.
func ParsePage(prompt string) Page {
	normalized := strings.ToLower(prompt)
	page := Page{Offset: 0, Size: defaultPageSize, SortBy: defaultSortBy}

	switch {
	case strings.Contains(normalized, "next page") || strings.Contains(normalized, "page 2"):
		page.Offset = defaultPageSize
	case strings.Contains(normalized, "first page") || strings.Contains(normalized, "page 1"):
		page.Offset = 0
	}
	if strings.Contains(normalized, "more results") || strings.Contains(normalized, "show more") {
		page.Size = largePageSize
	}

	if m := regexp.MustCompile(`\bsort(?:ed)?\s+by\s+(\w+)`).FindStringSubmatch(normalized); m != nil {
		switch m[1] {
		case "priority":
			page.SortBy = "priority"
		case "status":
			page.SortBy = "status"
		case "subject":
			page.SortBy = "subject"
		case "created", "createdtime", "date":
			page.SortBy = defaultSortBy
		}
	}
	return page
}

// RequestID returns the explicit ticket identifier mentioned in the
// prompt, if any.
func RequestID(prompt string) (string, bool) {
	m := requestIDRe.FindStringSubmatch(prompt)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// Execute runs the compiled qualification against the target system.
//
// Description:
//
//	A prompt naming a specific ticket (INC-42, REQ-1007) fetches that
//	ticket directly and ignores the qualification. Otherwise the
//	qualification is POSTed to the detected endpoint's search path with
//	pagination taken from the prompt.
func (a *Adapter) Execute(ctx context.Context, prompt string, payload qual.Payload) (*ExecutionResult, error) {
	if id, ok := RequestID(prompt); ok {
		body, err := a.AuthenticatedRequest(ctx, http.MethodGet,
			fmt.Sprintf("%s/api/request/name/%s", a.baseURL, id), nil)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", id, err)
		}
		return &ExecutionResult{Endpoint: DefaultEndpoint, Body: body}, nil
	}

	endpoint := a.DetectEndpoint(prompt)
	path, ok := endpointPaths[endpoint]
	if !ok {
		path = endpointPaths[DefaultEndpoint]
		endpoint = DefaultEndpoint
	}
	page := ParsePage(prompt)

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal qualification: %w", err)
	}
	url := fmt.Sprintf("%s%s?offset=%d&size=%d&sort_by=%s", a.baseURL, path, page.Offset, page.Size, page.SortBy)
	body, err := a.AuthenticatedRequest(ctx, http.MethodPost, url, data)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", endpoint, err)
	}
	return &ExecutionResult{Endpoint: endpoint, Page: page, Body: body}, nil
}

// AuthenticatedRequest issues one bearer-authenticated call, retrying
// exactly once with a fresh token after an unauthorized response. It
// also serves as the reference-data transport.
func (a *Adapter) AuthenticatedRequest(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	data, status, err := a.do(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		a.logger.Info("unauthorized response, refreshing token", slog.String("url", url))
		a.auth.Invalidate()
		data, status, err = a.do(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%s %s returned %d: %s", method, url, status, snippet(data))
	}
	return data, nil
}

func (a *Adapter) do(ctx context.Context, method, url string, body []byte) ([]byte, int, error) {
	token, err := a.auth.Token(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("acquire token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	requestTotal.WithLabelValues(endpointLabel(url), statusClass(resp.StatusCode)).Inc()
	return data, resp.StatusCode, nil
}

func endpointLabel(url string) string {
	for name, path := range endpointPaths {
		if strings.Contains(url, path) {
			return name
		}
	}
	return "other"
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func snippet(data []byte) string {
	s := string(data)
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "..."
}
