// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package trigger watches the on-disk definitions tree and reloads it when
// service or workflow files change, debouncing editor write bursts.
package trigger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/netrunner/netrunner/internal/definition"
)

// ReloadFunc receives the freshly parsed library after a change.
type ReloadFunc func(lib *definition.Library)

// Watcher hot-reloads a definitions directory.
type Watcher struct {
	root     string
	reload   ReloadFunc
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher builds a watcher over root calling reload on changes.
func NewWatcher(root string, reload ReloadFunc, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		root:     root,
		reload:   reload,
		logger:   logger,
		debounce: 500 * time.Millisecond,
	}
}

// Run watches until ctx is cancelled. The initial load happens before the
// first watch event so a daemon never starts with an empty library.
func (w *Watcher) Run(ctx context.Context) error {
	if lib, err := definition.LoadDir(w.root); err == nil {
		w.reload(lib)
	} else {
		w.logger.Error("initial definitions load failed", "dir", w.root, "error", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.addRecursive(fsw, w.root); err != nil {
		return err
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			// New subdirectories need watching too.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(fsw, event.Name)
				}
			}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("definitions watch error", "error", err)
		case <-fire:
			timer = nil
			lib, err := definition.LoadDir(w.root)
			if err != nil {
				w.logger.Error("definitions reload rejected", "dir", w.root, "error", err)
				continue
			}
			w.logger.Info("definitions reloaded",
				"services", len(lib.Services), "workflows", len(lib.Workflows))
			w.reload(lib)
		}
	}
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				w.logger.Warn("watch add failed", "path", path, "error", err)
			}
		}
		return nil
	})
}

func relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(event.Name))
	if ext == ".yaml" || ext == ".yml" {
		return true
	}
	// Directory events carry no extension.
	return ext == ""
}
