// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
)

// LoadRulesFile loads a rule set from a file path, replacing the cached
// rules on success.
func LoadRulesFile(ctx context.Context, path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRulesFile: %w", err)
	}
	r, err := LoadRules(ctx, data)
	if err != nil {
		return nil, err
	}
	SetRules(r)
	return r, nil
}

// WatchRules hot-reloads the rules file on change.
//
// Description:
//
//	Watches path with fsnotify and reloads on write/create events. A rule
//	file that fails to parse is logged and skipped; the previous rules stay
//	active. Returns when ctx is cancelled.
//
// Inputs:
//   - ctx: Cancellation context.
//   - path: Rules file to watch. Must exist at call time.
//
// Outputs:
//   - error: Non-nil only if the watcher cannot be established.
//
// Thread Safety: Safe to run in a background goroutine; reloads go through
// SetRules which synchronizes with readers.
func WatchRules(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("WatchRules: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("WatchRules: watching %s: %w", path, err)
	}

	slog.Info("watching rules file for changes", slog.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, err := LoadRulesFile(ctx, path); err != nil {
				slog.Warn("rules reload failed, keeping previous rules",
					slog.String("path", path),
					slog.String("error", err.Error()))
				continue
			}
			slog.Info("rules reloaded", slog.String("path", path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("rules watcher error", slog.String("error", err.Error()))
		}
	}
}
