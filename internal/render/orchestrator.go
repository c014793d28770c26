/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package render orchestrates one render cycle: trigger, deferred engine
// invocation, frame extraction and painting onto the display surface.
//
// A cycle walks Idle -> Scheduled -> Rendering -> Painting -> Idle. The engine
// call is deferred to a Scheduler so the trigger returns immediately and the
// busy indicator can be drawn before a potentially long synchronous render.
// Cycles are never cancelled or coalesced; two triggers yield two full cycles.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sslstudio/internal/engine"
	"sslstudio/internal/frame"
	"sslstudio/internal/geometry"
	applog "sslstudio/internal/log"
)

// State is the phase of the render cycle in progress.
type State int32

const (
	Idle State = iota
	Scheduled
	Rendering
	Painting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Rendering:
		return "rendering"
	case Painting:
		return "painting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Presenter receives every committed frame.
type Presenter interface {
	Present(img *image.RGBA)
}

// BusyIndicator toggles the busy treatment of the input surface.
type BusyIndicator interface {
	SetBusy(busy bool)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(img *image.RGBA)

func (f PresenterFunc) Present(img *image.RGBA) { f(img) }

// BusyFunc adapts a function to BusyIndicator.
type BusyFunc func(busy bool)

func (f BusyFunc) SetBusy(busy bool) { f(busy) }

// Result describes a finished cycle.
type Result struct {
	Source   string
	Spec     geometry.Spec
	Width    int
	Height   int
	Bytes    int
	Duration time.Duration
	Err      error
}

// OK reports whether the cycle committed a new frame.
func (r Result) OK() bool { return r.Err == nil }

// Options wires an Orchestrator. Handle is required; everything else has a
// usable default.
type Options struct {
	Handle    *engine.Handle
	Scheduler Scheduler
	Surface   *Surface
	Presenter Presenter
	Busy      BusyIndicator
	// AfterPaint runs on the scheduler after cleanup of every cycle.
	AfterPaint func(Result)
	// OnState observes state transitions.
	OnState func(State)
	Logger  *slog.Logger
}

// Orchestrator coordinates render cycles for one engine.
type Orchestrator struct {
	handle     *engine.Handle
	sched      Scheduler
	surface    *Surface
	presenter  Presenter
	busy       BusyIndicator
	afterPaint func(Result)
	onState    func(State)
	log        *slog.Logger

	mu      sync.Mutex
	geom    *geometry.Selector
	pending int
	running bool
	state   atomic.Int32
}

// New builds an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Handle == nil {
		return nil, errors.New("render: engine handle is required")
	}
	o := &Orchestrator{
		handle:     opts.Handle,
		sched:      opts.Scheduler,
		surface:    opts.Surface,
		presenter:  opts.Presenter,
		busy:       opts.Busy,
		afterPaint: opts.AfterPaint,
		onState:    opts.OnState,
		log:        opts.Logger,
	}
	if o.sched == nil {
		o.sched = Inline{}
	}
	if o.surface == nil {
		o.surface = NewSurface()
	}
	if o.log == nil {
		o.log = applog.WithComponent("render")
	}
	return o, nil
}

// Surface returns the display surface.
func (o *Orchestrator) Surface() *Surface { return o.surface }

// State returns the current cycle state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Running reports whether a triggered cycle has not finished cleanup yet.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Geometry returns the geometry selector, creating it from the engine's
// default geometry on first use. It fails with engine.ErrNotReady until the
// engine is initialized.
func (o *Orchestrator) Geometry() (*geometry.Selector, error) {
	eng, err := o.handle.Engine()
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.geom != nil {
		return o.geom, nil
	}
	ratio, res := eng.DefaultGeometry()
	sel, err := geometry.New(eng, ratio, res)
	if err != nil {
		return nil, err
	}
	o.geom = sel
	return sel, nil
}

// Trigger requests a render of source at the current geometry. Before the
// engine is ready it does nothing and returns engine.ErrNotReady; triggers are
// not queued for later. The returned channel yields the cycle's Result once
// cleanup has run.
func (o *Orchestrator) Trigger(ctx context.Context, source string) (<-chan Result, error) {
	sel, err := o.Geometry()
	if err != nil {
		o.log.Debug("trigger ignored", slog.Any("err", err))
		return nil, err
	}
	return o.schedule(ctx, source, sel.Spec())
}

// TriggerWith selects spec and then triggers. An invalid spec is rejected
// before anything reaches the engine.
func (o *Orchestrator) TriggerWith(ctx context.Context, source string, spec geometry.Spec) (<-chan Result, error) {
	sel, err := o.Geometry()
	if err != nil {
		o.log.Debug("trigger ignored", slog.Any("err", err))
		return nil, err
	}
	if err := sel.Select(spec); err != nil {
		return nil, err
	}
	return o.schedule(ctx, source, spec)
}

func (o *Orchestrator) schedule(ctx context.Context, source string, spec geometry.Spec) (<-chan Result, error) {
	eng, err := o.handle.Engine()
	if err != nil {
		return nil, err
	}
	o.begin()
	out := make(chan Result, 1)
	err = o.sched.Defer(func() {
		res := o.cycle(ctx, eng, source, spec)
		if o.afterPaint != nil {
			o.afterPaint(res)
		}
		out <- res
		close(out)
	})
	if err != nil {
		o.end()
		return nil, fmt.Errorf("schedule render: %w", err)
	}
	return out, nil
}

func (o *Orchestrator) begin() {
	o.mu.Lock()
	o.pending++
	first := !o.running
	o.running = true
	o.mu.Unlock()
	if first {
		o.setState(Scheduled)
		if o.busy != nil {
			o.busy.SetBusy(true)
		}
	}
}

// end is the single exit point of a cycle. It runs on success, on failure and
// while unwinding a panic.
func (o *Orchestrator) end() {
	o.mu.Lock()
	o.pending--
	last := o.pending == 0
	if last {
		o.running = false
	}
	o.mu.Unlock()
	if last {
		if o.busy != nil {
			o.busy.SetBusy(false)
		}
		o.setState(Idle)
	}
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	if o.onState != nil {
		o.onState(s)
	}
}

func (o *Orchestrator) cycle(ctx context.Context, eng engine.Engine, source string, spec geometry.Spec) (res Result) {
	res = Result{Source: source, Spec: spec}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()
	defer o.end()

	l := applog.WithOperation(o.log, "render").With(slog.String("geometry", spec.String()))
	o.setState(Rendering)
	l.Info("running code", slog.Int("source_bytes", len(source)))
	if err := eng.Render(ctx, source, spec.AspectRatio, spec.Resolution); err != nil {
		if !errors.Is(err, engine.ErrRenderFailed) {
			err = fmt.Errorf("%w: %v", engine.ErrRenderFailed, err)
		}
		l.Warn("render failed; keeping previous frame", slog.Any("err", err))
		res.Err = err
		return res
	}

	o.setState(Painting)
	img, err := o.paint(ctx, eng)
	if err != nil {
		if errors.Is(err, frame.ErrMemoryRange) || errors.Is(err, frame.ErrSizeMismatch) {
			l.Error("frame buffer contract violated", slog.Any("err", err))
		} else {
			l.Warn("frame query failed; keeping previous frame", slog.Any("err", err))
		}
		res.Err = err
		return res
	}
	b := img.Bounds()
	res.Width, res.Height, res.Bytes = b.Dx(), b.Dy(), len(img.Pix)
	l.Info("rendered image", slog.Int("width", res.Width), slog.Int("height", res.Height))
	return res
}

// paint reads the frame the engine just produced and commits it. Pointer and
// size are queried after the render, never reused from an earlier cycle.
func (o *Orchestrator) paint(ctx context.Context, eng engine.Engine) (*image.RGBA, error) {
	w, h, err := eng.Dimensions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrRenderFailed, err)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	ptr, size, err := eng.Buffer(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrRenderFailed, err)
	}
	buf, err := frame.Read(eng.Memory(), ptr, size, w, h)
	if err != nil {
		return nil, err
	}
	copy(img.Pix, buf.Pix)
	o.surface.commit(img)
	if o.presenter != nil {
		o.presenter.Present(img)
	}
	return img, nil
}

// Wait blocks until ch yields a result or ctx is done.
func Wait(ctx context.Context, ch <-chan Result) (Result, error) {
	select {
	case res, ok := <-ch:
		if !ok {
			return Result{}, errors.New("render: result channel closed")
		}
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
