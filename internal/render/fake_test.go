/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"sslstudio/internal/geometry"
)

// fakeEngine synthesizes deterministic frames and, like a real module, moves
// its frame buffer to a fresh allocation on every render.
type fakeEngine struct {
	mu      sync.Mutex
	ratios  []string
	dims    [][]string
	defR    int
	defI    int
	mem     []byte
	ptr     uint32
	size    uint32
	w, h    int
	renders int

	// oversize inflates the reported buffer size past the end of memory.
	oversize uint32
	// gate, when set, blocks Render until it receives.
	gate     chan struct{}
	onRender func()
	active   int
	peak     int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		ratios: []string{"1:1", "16:9", "21:9", "9:16", "4:3"},
		dims: [][]string{
			{"2x2", "4x4", "8x8", "16x16", "32x32"},
			{"16x9", "32x18", "64x36"},
			{"21x9", "42x18", "84x36"},
			{"9x16", "18x32"},
			{"4x3", "8x6", "16x12", "32x24"},
		},
		defR: 0,
		defI: 2,
	}
}

func (f *fakeEngine) Render(_ context.Context, source string, ratio, res int) error {
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	gate, hook := f.gate, f.onRender
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	if hook != nil {
		hook()
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders++
	if source == "FAIL" {
		return errors.New("parse error at 1:1")
	}
	if ratio < 0 || ratio >= len(f.dims) || res < 0 || res >= len(f.dims[ratio]) {
		return fmt.Errorf("invalid geometry %d/%d", ratio, res)
	}
	w, h, err := geometry.ParseDim(f.dims[ratio][res])
	if err != nil {
		return err
	}
	size := uint32(w * h * 4)
	pad := uint32(64 * f.renders)
	mem := make([]byte, int(pad+size)+32)
	hs := fnv.New32a()
	_, _ = fmt.Fprintf(hs, "%s|%d|%d", source, ratio, res)
	seed := hs.Sum32()
	for i := uint32(0); i < size; i++ {
		if i%4 == 3 {
			mem[pad+i] = 255
			continue
		}
		mem[pad+i] = byte(seed>>(i%24) + i*7)
	}
	f.mem, f.ptr, f.size, f.w, f.h = mem, pad, size, w, h
	return nil
}

func (f *fakeEngine) Dimensions(context.Context) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w, f.h, nil
}

func (f *fakeEngine) Buffer(context.Context) (uint32, uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ptr, f.size + f.oversize, nil
}

func (f *fakeEngine) Memory() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem
}

func (f *fakeEngine) AspectRatios() []string { return f.ratios }

func (f *fakeEngine) Resolutions(i int) []string {
	if i < 0 || i >= len(f.dims) {
		return nil
	}
	return f.dims[i]
}

func (f *fakeEngine) DefaultGeometry() (int, int) { return f.defR, f.defI }

func (f *fakeEngine) Close(context.Context) error { return nil }

func (f *fakeEngine) renderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renders
}

// recorder collects busy toggles, states and presented frames.
type recorder struct {
	mu       sync.Mutex
	busy     []bool
	states   []State
	presents int
}

func (r *recorder) SetBusy(b bool) {
	r.mu.Lock()
	r.busy = append(r.busy, b)
	r.mu.Unlock()
}

func (r *recorder) state(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]bool, []State, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.busy...), append([]State(nil), r.states...), r.presents
}
