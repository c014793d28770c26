/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package ui

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"runtime/debug"
	"sync"

	"sslstudio/internal/binding"
	"sslstudio/internal/config"
	"sslstudio/internal/crash"
	"sslstudio/internal/engine"
	"sslstudio/internal/export"
	"sslstudio/internal/history"
	applog "sslstudio/internal/log"
	"sslstudio/internal/render"
	"sslstudio/internal/telemetry"
)

// Options configures the studio window.
type Options struct {
	Config    config.AppConfig
	Loader    engine.Loader
	History   *history.Store
	Telemetry *telemetry.Client
	Crash     *crash.Session
	Logger    *slog.Logger
}

// View is what the studio needs from a window.
type View interface {
	render.Presenter
	render.BusyIndicator
	// SetGeometry fills the two selects without firing their handlers.
	SetGeometry(ratios []string, ratio int, resolutions []string, res int)
	Notify(title, msg string)
}

// Studio wires the engine, the render loop, the bindings and the export
// controller together independently of the widget toolkit.
type Studio struct {
	opts   Options
	view   View
	log    *slog.Logger
	handle *engine.Handle
	loop   *render.Loop
	orch   *render.Orchestrator
	bind   *binding.Bindings
	exp    *export.Controller

	mu     sync.RWMutex
	source string
}

// NewStudio builds a studio rendering into view. picker may be nil.
func NewStudio(ctx context.Context, opts Options, view View, picker export.Picker, downloader export.Downloader) (*Studio, error) {
	if opts.Loader == nil {
		return nil, errors.New("ui: engine loader is required")
	}
	if view == nil {
		return nil, errors.New("ui: view is required")
	}
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("ui")
	}
	s := &Studio{opts: opts, view: view, log: l, source: opts.Config.Engine.DefaultSource}
	if opts.Crash != nil && opts.Crash.Source == nil {
		opts.Crash.Source = s.Source
	}
	s.handle = engine.NewHandle(opts.Loader)
	s.loop = render.NewLoop(func(v any) {
		crash.Handle(opts.Crash, v, debug.Stack())
	})

	orch, err := render.New(render.Options{
		Handle:     s.handle,
		Scheduler:  s.loop,
		Presenter:  view,
		Busy:       view,
		AfterPaint: s.afterPaint,
		Logger:     l.With(slog.String("component", "render")),
	})
	if err != nil {
		s.loop.Close()
		return nil, err
	}
	s.orch = orch
	s.bind = binding.New(ctx, orch, s.Source, l)

	format, err := export.ParseFormat(opts.Config.Export.Format)
	if err != nil {
		l.Warn("unknown export format; using png", slog.Any("err", err))
		format = export.FormatPNG
	}
	s.exp = export.NewController(export.Options{
		Picker:     picker,
		Downloader: downloader,
		Format:     format,
		FileName:   opts.Config.Export.FileName,
		Notify:     func(msg string) { view.Notify("Save", msg) },
		Logger:     l.With(slog.String("component", "export")),
	})
	return s, nil
}

func (s *Studio) afterPaint(res render.Result) {
	if s.opts.History != nil {
		s.opts.History.AfterPaint(s.orch.Surface())(res)
	}
	if s.opts.Telemetry != nil {
		s.opts.Telemetry.Render(res)
	}
}

// Start loads the engine, publishes its geometry to the view and renders
// the default source once. Triggers before Start completes are dropped.
func (s *Studio) Start(ctx context.Context) error {
	if err := s.handle.Initialize(ctx); err != nil {
		return err
	}
	sel, err := s.orch.Geometry()
	if err != nil {
		return err
	}
	spec := sel.Spec()
	s.view.SetGeometry(sel.AspectRatios(), spec.AspectRatio, sel.Resolutions(), spec.Resolution)
	s.log.Info("engine ready", slog.String("geometry", sel.Label()))
	s.bind.Trigger()(s.opts.Config.Engine.DefaultSource)
	return nil
}

// SetSource records the editor text; bindings read it at trigger time.
func (s *Studio) SetSource(src string) {
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
}

// Source returns the last recorded editor text.
func (s *Studio) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// Bindings exposes the gesture handlers.
func (s *Studio) Bindings() *binding.Bindings { return s.bind }

// Orchestrator exposes the render state machine.
func (s *Studio) Orchestrator() *render.Orchestrator { return s.orch }

// Frame returns the last painted frame or nil.
func (s *Studio) Frame() *image.RGBA { return s.orch.Surface().Image() }

// Export saves the current frame.
func (s *Studio) Export(ctx context.Context) export.Outcome {
	img := s.Frame()
	if img == nil {
		s.log.Info("nothing to export yet")
		return export.Outcome{Primary: export.ErrNothingToExport}
	}
	out := s.exp.Export(ctx, img)
	if s.opts.Telemetry != nil {
		s.opts.Telemetry.Export(out)
	}
	return out
}

// ExportFileName is the name offered to the save dialog.
func (s *Studio) ExportFileName() string { return s.exp.FileName() }

// Close drains pending renders and releases the engine.
func (s *Studio) Close(ctx context.Context) error {
	s.loop.Close()
	return s.handle.Close(ctx)
}
