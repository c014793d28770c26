/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package binding maps user gestures onto render triggers independently of
// the widget toolkit.
package binding

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"sslstudio/internal/engine"
	"sslstudio/internal/geometry"
	applog "sslstudio/internal/log"
	"sslstudio/internal/render"
)

// Trigger requests a render of source.
type Trigger func(source string)

// Modifier is a bit set of held modifier keys.
type Modifier uint8

const (
	ModShift Modifier = 1 << iota
	ModCtrl
	ModAlt
	ModSuper
)

// IsRunAccelerator reports whether key with mods is Ctrl+Enter. Other held
// modifiers do not matter.
func IsRunAccelerator(key string, mods Modifier) bool {
	if mods&ModCtrl == 0 {
		return false
	}
	switch strings.ToLower(key) {
	case "enter", "return", "kp_enter":
		return true
	}
	return false
}

// Renderer is the part of the orchestrator the bindings drive.
type Renderer interface {
	Trigger(ctx context.Context, source string) (<-chan render.Result, error)
	Geometry() (*geometry.Selector, error)
}

// Bindings connects the run button, the accelerator and the geometry
// selects to a Renderer. Source reads the current editor text.
type Bindings struct {
	ctx    context.Context
	r      Renderer
	source func() string
	log    *slog.Logger
}

func New(ctx context.Context, r Renderer, source func() string, logger *slog.Logger) *Bindings {
	if logger == nil {
		logger = applog.WithComponent("binding")
	}
	return &Bindings{ctx: ctx, r: r, source: source, log: logger}
}

// Trigger returns a Trigger bound to the renderer. Triggers before the
// engine is ready are dropped.
func (b *Bindings) Trigger() Trigger {
	return func(source string) { b.fire(source) }
}

func (b *Bindings) fire(source string) bool {
	_, err := b.r.Trigger(b.ctx, source)
	switch {
	case err == nil:
		return true
	case errors.Is(err, engine.ErrNotReady):
		b.log.Debug("engine not ready; trigger dropped")
	default:
		b.log.Warn("trigger failed", slog.Any("err", err))
	}
	return false
}

// Run handles the run button.
func (b *Bindings) Run() { b.fire(b.source()) }

// Key handles a key press on the editor or window and reports whether it
// was consumed.
func (b *Bindings) Key(key string, mods Modifier) bool {
	if !IsRunAccelerator(key, mods) {
		return false
	}
	b.fire(b.source())
	return true
}

// SelectAspectRatio switches the ratio, re-renders, and returns the new
// resolution list with the index now selected in it.
func (b *Bindings) SelectAspectRatio(i int) ([]string, int, error) {
	sel, err := b.r.Geometry()
	if err != nil {
		return nil, 0, err
	}
	if err := sel.SetAspectRatio(i); err != nil {
		return nil, 0, err
	}
	b.fire(b.source())
	return sel.Resolutions(), sel.Spec().Resolution, nil
}

// SelectResolution switches the resolution and re-renders.
func (b *Bindings) SelectResolution(i int) error {
	sel, err := b.r.Geometry()
	if err != nil {
		return err
	}
	if err := sel.SetResolution(i); err != nil {
		return err
	}
	b.fire(b.source())
	return nil
}
