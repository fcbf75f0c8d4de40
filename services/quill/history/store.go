// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists compiled qualifications so repeated prompts
// can be answered from the journal and operators can audit what the
// compiler produced.
package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key layout. The version prefix lets a future schema change coexist
// with old entries instead of requiring a migration.
const (
	entryKeyPrefix  = "v1:entry:"
	promptKeyPrefix = "v1:prompt:"
)

// DefaultTTL is how long journal entries live.
const DefaultTTL = 7 * 24 * time.Hour

// Entry is one recorded compilation.
type Entry struct {
	ID            string          `json:"id"`
	Prompt        string          `json:"prompt"`
	Qualification json.RawMessage `json:"qualification"`
	Strategy      string          `json:"strategy"`
	Endpoint      string          `json:"endpoint,omitempty"`
	Diagnostics   []string        `json:"diagnostics,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Store is a TTL-bounded journal of compilations on badger.
//
// Thread Safety: Store is safe for concurrent use.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// Open opens (or creates) a store at the given path.
func Open(path string, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history store at %s: %w", path, err)
	}
	return NewStore(db, ttl, logger), nil
}

// NewStore wraps an already-open badger DB. The caller keeps ownership
// of the DB only if it never calls Close.
func NewStore(db *badger.DB, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, ttl: ttl, logger: logger}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record journals one compilation and returns its ID. A missing ID or
// timestamp is filled in.
func (s *Store) Record(ctx context.Context, e Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal history entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(entryKeyPrefix+e.ID), data).WithTTL(s.ttl)
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		// Prompt index points at the latest entry for that prompt.
		idx := badger.NewEntry(promptKey(e.Prompt), []byte(e.ID)).WithTTL(s.ttl)
		return txn.SetEntry(idx)
	})
	if err != nil {
		return "", fmt.Errorf("record history entry: %w", err)
	}

	s.logger.Debug("compilation journaled",
		slog.String("id", e.ID),
		slog.String("strategy", e.Strategy))
	return e.ID, nil
}

// Get fetches an entry by ID. A miss returns (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(entryKeyPrefix + id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var e Entry
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("decode history entry %s: %w", id, err)
			}
			out = &e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LastForPrompt fetches the most recent entry recorded for the exact
// prompt text (case-insensitive). A miss returns (nil, nil).
func (s *Store) LastForPrompt(ctx context.Context, prompt string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := ""
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(promptKey(prompt))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	// The index can outlive its entry by a TTL race; treat that as a miss.
	return s.Get(ctx, id)
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 25
	}

	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					// Skip undecodable entries rather than failing the scan.
					s.logger.Warn("skipping corrupt history entry",
						slog.String("key", string(it.Item().Key())))
					return nil
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func promptKey(prompt string) []byte {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(prompt))))
	return []byte(promptKeyPrefix + hex.EncodeToString(sum[:]))
}
