/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package engine wraps the external shader evaluation engine.
//
// The engine is an opaque module with a tiny capability set: render a source
// text at a geometry, report the size of the last frame, and expose where that
// frame lives in its linear memory. A Handle owns the single-shot
// initialization and gates every call on readiness.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrNotReady is returned for any engine use before Initialize succeeded.
	ErrNotReady = errors.New("engine not ready")
	// ErrRenderFailed wraps failures reported by the engine while rendering,
	// typically malformed source text.
	ErrRenderFailed = errors.New("render failed")
)

// Engine is the capability set of a loaded engine instance.
//
// Dimensions and Buffer describe the most recent frame and must be queried
// again after every Render. The slice returned by Memory is owned by the
// engine and is only valid until the next call into it.
type Engine interface {
	Render(ctx context.Context, source string, aspectRatio, resolution int) error
	Dimensions(ctx context.Context) (width, height int, err error)
	Buffer(ctx context.Context) (ptr, size uint32, err error)
	Memory() []byte

	AspectRatios() []string
	Resolutions(aspectRatio int) []string
	DefaultGeometry() (aspectRatio, resolution int)

	Close(ctx context.Context) error
}

// Loader produces an Engine. It is invoked at most once per Handle.
type Loader func(ctx context.Context) (Engine, error)

// Handle is the session-wide lifecycle wrapper around an Engine.
type Handle struct {
	load  Loader
	once  sync.Once
	ready atomic.Bool
	eng   Engine
	err   error
}

// NewHandle returns a handle that will load its engine with load.
func NewHandle(load Loader) *Handle { return &Handle{load: load} }

// Initialize loads the engine exactly once. Concurrent and repeated callers
// all observe the result of the first load.
func (h *Handle) Initialize(ctx context.Context) error {
	h.once.Do(func() {
		if h.load == nil {
			h.err = errors.New("engine loader is nil")
			return
		}
		eng, err := h.load(ctx)
		if err != nil {
			h.err = fmt.Errorf("initialize engine: %w", err)
			return
		}
		if eng == nil {
			h.err = errors.New("initialize engine: loader returned nil engine")
			return
		}
		h.eng = eng
		h.ready.Store(true)
	})
	return h.err
}

// Ready reports whether Initialize completed successfully.
func (h *Handle) Ready() bool { return h.ready.Load() }

// Engine returns the loaded engine or ErrNotReady.
func (h *Handle) Engine() (Engine, error) {
	if !h.ready.Load() {
		return nil, ErrNotReady
	}
	return h.eng, nil
}

// Close releases the engine if it was loaded.
func (h *Handle) Close(ctx context.Context) error {
	if !h.ready.Swap(false) {
		return nil
	}
	return h.eng.Close(ctx)
}
