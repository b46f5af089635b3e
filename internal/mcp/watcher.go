// Copyright 2025 the vcode authors
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

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	vlog "github.com/vibe-stack/vcode-sub002/internal/log"
)

// defaultDebounce coalesces the burst of filesystem events an editor
// or atomic save produces into one reload.
const defaultDebounce = 300 * time.Millisecond

// reloadTimeout bounds a single watcher-triggered reload, including
// any server restarts it causes.
const reloadTimeout = 2 * time.Minute

// SettingsWatcher reloads the registry when the settings file changes
// on disk, so edits made outside the CLI take effect without a restart.
type SettingsWatcher struct {
	registry *Registry
	path     string
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSettingsWatcher creates a watcher for the registry's settings
// file. Call Start to begin watching.
func NewSettingsWatcher(registry *Registry, logger *slog.Logger) *SettingsWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsWatcher{
		registry: registry,
		path:     registry.store.Path(),
		debounce: defaultDebounce,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins watching. The settings file's directory is watched
// rather than the file itself, because saves replace the file by
// rename.
func (w *SettingsWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating settings watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching settings directory: %w", err)
	}
	w.watcher = watcher

	go w.loop()
	w.logger.Debug("watching settings file", "path", w.path)
	return nil
}

// Stop ends watching. Safe to call more than once.
func (w *SettingsWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}

func (w *SettingsWatcher) loop() {
	var timer *time.Timer
	var timerC <-chan time.Time

	base := filepath.Base(w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("settings watcher error", vlog.Error(err))

		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *SettingsWatcher) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	w.logger.Info("settings file changed, reloading")
	if err := w.registry.Reload(ctx); err != nil {
		w.logger.Error("settings reload failed", vlog.Error(err))
	}
}
