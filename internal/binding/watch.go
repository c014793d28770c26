/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package binding

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	applog "sslstudio/internal/log"
)

// DefaultDebounce collapses the burst of events a single editor save emits.
const DefaultDebounce = 150 * time.Millisecond

// Watcher fires a Trigger with the file's contents whenever it changes on
// disk. The parent directory is watched so atomic-rename saves are seen.
type Watcher struct {
	Path     string
	Debounce time.Duration
	Trigger  Trigger
	Logger   *slog.Logger
}

// Run watches until ctx is done. The file is read and triggered once on
// start.
func (w *Watcher) Run(ctx context.Context) error {
	if w.Trigger == nil {
		return fmt.Errorf("watch %s: no trigger", w.Path)
	}
	abs, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.Path, err)
	}
	l := w.Logger
	if l == nil {
		l = applog.WithComponent("watch")
	}
	l = l.With(slog.String("path", abs))
	delay := w.Debounce
	if delay <= 0 {
		delay = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.Path, err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", w.Path, err)
	}

	fire := func() {
		b, err := os.ReadFile(abs)
		if err != nil {
			l.Warn("read source failed", slog.Any("err", err))
			return
		}
		l.Debug("source changed", slog.Int("bytes", len(b)))
		w.Trigger(string(b))
	}
	fire()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer == nil {
				timer = time.AfterFunc(delay, fire)
			} else {
				timer.Reset(delay)
			}
			mu.Unlock()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			l.Warn("watch error", slog.Any("err", err))
		}
	}
}
