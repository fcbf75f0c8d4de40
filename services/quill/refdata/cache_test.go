// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package refdata

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport scripts responses per URL and counts calls.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string][]byte
	err       error
	calls     int
}

func (f *fakeTransport) AuthenticatedRequest(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	resp, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("no response scripted for %s", url)
	}
	return resp, nil
}

func statusFallback() map[Category]map[string]int64 {
	return map[Category]map[string]int64{
		CategoryStatus: {
			"open": 9, "in progress": 10, "pending": 11, "resolved": 12, "closed": 13,
		},
	}
}

func TestMappingFetchesAndCaches(t *testing.T) {
	transport := &fakeTransport{responses: map[string][]byte{
		"https://example/status": []byte(`[{"id":9,"name":"Open"},{"id":13,"name":"Closed"}]`),
	}}
	cache := NewCache(transport, CacheConfig{
		Endpoints: map[Category]string{CategoryStatus: "https://example/status"},
		Fallbacks: statusFallback(),
	})

	m := cache.Mapping(context.Background(), CategoryStatus)
	assert.Equal(t, int64(9), m["open"])
	assert.Equal(t, int64(13), m["closed"])
	assert.False(t, cache.Degraded(CategoryStatus))

	// Second read within TTL must not hit the transport again.
	cache.Mapping(context.Background(), CategoryStatus)
	assert.Equal(t, 1, transport.calls)
}

func TestMappingResponseShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bare array", `[{"id":9,"name":"Open"}]`},
		{"objectList", `{"objectList":[{"id":9,"name":"Open"}]}`},
		{"content", `{"content":[{"id":9,"name":"Open"}]}`},
		{"data", `{"data":[{"id":9,"name":"Open"}]}`},
		{"single object", `{"id":9,"name":"Open"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			transport := &fakeTransport{responses: map[string][]byte{
				"https://example/status": []byte(tc.body),
			}}
			cache := NewCache(transport, CacheConfig{
				Endpoints: map[Category]string{CategoryStatus: "https://example/status"},
			})
			m := cache.Mapping(context.Background(), CategoryStatus)
			assert.Equal(t, int64(9), m["open"])
		})
	}
}

func TestMappingUserAliases(t *testing.T) {
	transport := &fakeTransport{responses: map[string][]byte{
		"https://example/users": []byte(`{"objectList":[
			{"id":42,"name":"John Doe","loginName":"jdoe","email":"john@example.com"}]}`),
	}}
	cache := NewCache(transport, CacheConfig{
		Endpoints: map[Category]string{CategoryUser: "https://example/users"},
	})
	m := cache.Mapping(context.Background(), CategoryUser)
	assert.Equal(t, int64(42), m["john doe"])
	assert.Equal(t, int64(42), m["jdoe"])
	assert.Equal(t, int64(42), m["john@example.com"])
}

func TestMappingSkipsUnnamedItems(t *testing.T) {
	transport := &fakeTransport{responses: map[string][]byte{
		"https://example/status": []byte(`[
			{"id":9,"name":"Open"},
			{"id":13,"name":""},
			{"id":17,"name":"   "},
			{"id":0,"name":"Draft"}]`),
	}}
	cache := NewCache(transport, CacheConfig{
		Endpoints: map[Category]string{CategoryStatus: "https://example/status"},
	})

	// Items with a blank name are dropped; a zero id is kept as-is.
	m := cache.Mapping(context.Background(), CategoryStatus)
	assert.Len(t, m, 2)
	assert.Equal(t, int64(9), m["open"])
	assert.Equal(t, int64(0), m["draft"])
}

func TestMappingFallsBackOnFetchError(t *testing.T) {
	transport := &fakeTransport{err: fmt.Errorf("connection refused")}
	cache := NewCache(transport, CacheConfig{
		Endpoints: map[Category]string{CategoryStatus: "https://example/status"},
		Fallbacks: statusFallback(),
	})

	m := cache.Mapping(context.Background(), CategoryStatus)
	assert.Equal(t, int64(9), m["open"])
	assert.Equal(t, int64(13), m["closed"])
	assert.True(t, cache.Degraded(CategoryStatus))
}

func TestMappingFallsBackOnGarbageResponse(t *testing.T) {
	transport := &fakeTransport{responses: map[string][]byte{
		"https://example/status": []byte(`not json`),
	}}
	cache := NewCache(transport, CacheConfig{
		Endpoints: map[Category]string{CategoryStatus: "https://example/status"},
		Fallbacks: statusFallback(),
	})
	m := cache.Mapping(context.Background(), CategoryStatus)
	assert.Equal(t, int64(10), m["in progress"])
	assert.True(t, cache.Degraded(CategoryStatus))
}

func TestMappingWithoutEndpointUsesFallback(t *testing.T) {
	cache := NewCache(nil, CacheConfig{Fallbacks: statusFallback()})
	m := cache.Mapping(context.Background(), CategoryStatus)
	assert.Equal(t, int64(12), m["resolved"])

	// Unknown category still yields a usable (empty) mapping.
	m = cache.Mapping(context.Background(), CategoryLocation)
	assert.NotNil(t, m)
	assert.Empty(t, m)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	transport := &fakeTransport{responses: map[string][]byte{
		"https://example/status": []byte(`[{"id":9,"name":"Open"}]`),
	}}
	cache := NewCache(transport, CacheConfig{
		Endpoints: map[Category]string{CategoryStatus: "https://example/status"},
	})

	cache.Mapping(context.Background(), CategoryStatus)
	cache.Invalidate(CategoryStatus)
	cache.Mapping(context.Background(), CategoryStatus)
	assert.Equal(t, 2, transport.calls)
}

func TestExpiredEntryRefetches(t *testing.T) {
	transport := &fakeTransport{responses: map[string][]byte{
		"https://example/status": []byte(`[{"id":9,"name":"Open"}]`),
	}}
	cache := NewCache(transport, CacheConfig{
		TTL:       10 * time.Millisecond,
		Endpoints: map[Category]string{CategoryStatus: "https://example/status"},
	})

	cache.Mapping(context.Background(), CategoryStatus)
	time.Sleep(20 * time.Millisecond)
	cache.Mapping(context.Background(), CategoryStatus)
	assert.Equal(t, 2, transport.calls)
}

func TestFallbackCopyIsNotShared(t *testing.T) {
	cache := NewCache(nil, CacheConfig{Fallbacks: statusFallback()})
	m := cache.Mapping(context.Background(), CategoryStatus)
	m["mutated"] = 99

	m2 := cache.Mapping(context.Background(), CategoryStatus)
	_, ok := m2["mutated"]
	// The cached entry holds the first copy; the point is the package-level
	// fallback table itself stays clean after InvalidateAll.
	cache.InvalidateAll()
	m3 := cache.Mapping(context.Background(), CategoryStatus)
	_, okAfter := m3["mutated"]
	assert.True(t, ok)
	assert.False(t, okAfter)
	require.Equal(t, int64(9), m3["open"])
}

func TestConcurrentReadsSingleFetch(t *testing.T) {
	transport := &fakeTransport{responses: map[string][]byte{
		"https://example/status": []byte(`[{"id":9,"name":"Open"}]`),
	}}
	cache := NewCache(transport, CacheConfig{
		Endpoints: map[Category]string{CategoryStatus: "https://example/status"},
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Mapping(context.Background(), CategoryStatus)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, transport.calls)
}
