/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	applog "sslstudio/internal/log"
)

// Export names of the engine module ABI.
const (
	fnAlloc        = "alloc"
	fnDealloc      = "dealloc"
	fnRender       = "render"
	fnLastError    = "last_error"
	fnWidth        = "canvas_width"
	fnHeight       = "canvas_height"
	fnAspectRatio  = "canvas_aspect_ratio"
	fnResolution   = "canvas_resolution"
	fnBufferPtr    = "get_buffer_ptr"
	fnBufferSize   = "get_buffer_size"
	fnAspectLabels = "aspect_ratio_strings"
	fnDimLabels    = "dim_strings"

	hostModule = "env"
	hostLog    = "console_log"
)

var requiredExports = []string{
	fnAlloc, fnDealloc, fnRender, fnWidth, fnHeight, fnBufferPtr, fnBufferSize, fnAspectLabels, fnDimLabels,
}

// WasmOptions configures the wazero runtime hosting the engine.
type WasmOptions struct {
	// MemoryLimitPages caps the engine's linear memory (64 KiB pages); 0 keeps
	// the wazero default.
	MemoryLimitPages uint32
	// CacheDir enables the on-disk compilation cache when non-empty.
	CacheDir string
	Logger   *slog.Logger
}

// WasmEngine runs the engine module inside a wazero runtime.
//
// Strings cross the boundary as UTF-8 in guest memory: the host asks the guest
// to alloc a region for the source text and hands it back with dealloc after
// the render, and label lists come back as a packed i64 (ptr<<32 | len) of
// newline-separated entries.
type WasmEngine struct {
	rt  wazero.Runtime
	mod api.Module
	log *slog.Logger

	ratios      []string
	resolutions [][]string
	defRatio    int
	defRes      int
}

// WasmLoader returns a Loader reading the engine binary from path.
func WasmLoader(path string, opts WasmOptions) Loader {
	return func(ctx context.Context) (Engine, error) {
		bin, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read engine module: %w", err)
		}
		return LoadWasm(ctx, bin, opts)
	}
}

// LoadWasm compiles and instantiates the engine module and caches its
// geometry catalog, which is stable for the session.
func LoadWasm(ctx context.Context, bin []byte, opts WasmOptions) (*WasmEngine, error) {
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("engine")
	}
	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if opts.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(opts.MemoryLimitPages)
	}
	if strings.TrimSpace(opts.CacheDir) != "" {
		cache, err := wazero.NewCompilationCacheWithDir(opts.CacheDir)
		if err != nil {
			l.Warn("compilation cache unavailable", slog.String("dir", opts.CacheDir), slog.Any("err", err))
		} else {
			rc = rc.WithCompilationCache(cache)
		}
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rc)

	e := &WasmEngine{rt: rt, log: l}
	if _, err := rt.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().WithFunc(e.consoleLog).Export(hostLog).
		Instantiate(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("compile engine module: %w", err)
	}
	exports := compiled.ExportedFunctions()
	var missing []string
	for _, name := range requiredExports {
		if _, ok := exports[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("engine module lacks exports: %s", strings.Join(missing, ", "))
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName("ssl").
		WithStartFunctions("_initialize"))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate engine module: %w", err)
	}
	if mod.Memory() == nil {
		_ = rt.Close(ctx)
		return nil, errors.New("engine module exports no memory")
	}
	e.mod = mod

	if err := e.loadCatalog(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	l.Info("engine ready",
		slog.Int("aspect_ratios", len(e.ratios)),
		slog.Int("memory_bytes", int(mod.Memory().Size())))
	return e, nil
}

func (e *WasmEngine) loadCatalog(ctx context.Context) error {
	packed, err := e.call(ctx, fnAspectLabels)
	if err != nil {
		return fmt.Errorf("query aspect ratios: %w", err)
	}
	ratios, err := e.readLabels(packed)
	if err != nil {
		return fmt.Errorf("read aspect ratios: %w", err)
	}
	e.ratios = ratios
	e.resolutions = make([][]string, len(ratios))
	for i := range ratios {
		packed, err := e.call(ctx, fnDimLabels, uint64(i))
		if err != nil {
			return fmt.Errorf("query resolutions of %q: %w", ratios[i], err)
		}
		if e.resolutions[i], err = e.readLabels(packed); err != nil {
			return fmt.Errorf("read resolutions of %q: %w", ratios[i], err)
		}
	}
	if e.mod.ExportedFunction(fnAspectRatio) != nil && e.mod.ExportedFunction(fnResolution) != nil {
		r, err1 := e.call(ctx, fnAspectRatio)
		i, err2 := e.call(ctx, fnResolution)
		if err1 == nil && err2 == nil {
			e.defRatio, e.defRes = int(int32(r)), int(int32(i))
		}
	}
	return nil
}

// Render writes the source into guest memory and runs the engine's render.
func (e *WasmEngine) Render(ctx context.Context, source string, aspectRatio, resolution int) error {
	src := []byte(source)
	ptr64, err := e.call(ctx, fnAlloc, uint64(len(src)))
	if err != nil {
		return fmt.Errorf("%w: alloc source: %v", ErrRenderFailed, err)
	}
	ptr := uint32(ptr64)
	if !e.mod.Memory().Write(ptr, src) {
		return fmt.Errorf("%w: source of %d bytes does not fit at %d", ErrRenderFailed, len(src), ptr)
	}
	status, err := e.call(ctx, fnRender, uint64(ptr), uint64(len(src)), uint64(aspectRatio), uint64(resolution))
	if _, derr := e.call(ctx, fnDealloc, uint64(ptr), uint64(len(src))); derr != nil {
		e.log.Warn("dealloc source failed", slog.Any("err", derr))
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	if int32(status) != 0 {
		return fmt.Errorf("%w: %s", ErrRenderFailed, e.lastError(ctx, int32(status)))
	}
	return nil
}

func (e *WasmEngine) lastError(ctx context.Context, status int32) string {
	if e.mod.ExportedFunction(fnLastError) == nil {
		return fmt.Sprintf("engine status %d", status)
	}
	packed, err := e.call(ctx, fnLastError)
	if err != nil {
		return fmt.Sprintf("engine status %d", status)
	}
	msg, err := e.readString(packed)
	if err != nil || msg == "" {
		return fmt.Sprintf("engine status %d", status)
	}
	return msg
}

// Dimensions reports the size of the last rendered frame.
func (e *WasmEngine) Dimensions(ctx context.Context) (int, int, error) {
	w, err := e.call(ctx, fnWidth)
	if err != nil {
		return 0, 0, fmt.Errorf("query width: %w", err)
	}
	h, err := e.call(ctx, fnHeight)
	if err != nil {
		return 0, 0, fmt.Errorf("query height: %w", err)
	}
	return int(uint32(w)), int(uint32(h)), nil
}

// Buffer reports where the last frame lives in linear memory.
func (e *WasmEngine) Buffer(ctx context.Context) (uint32, uint32, error) {
	ptr, err := e.call(ctx, fnBufferPtr)
	if err != nil {
		return 0, 0, fmt.Errorf("query buffer pointer: %w", err)
	}
	size, err := e.call(ctx, fnBufferSize)
	if err != nil {
		return 0, 0, fmt.Errorf("query buffer size: %w", err)
	}
	return uint32(ptr), uint32(size), nil
}

// Memory returns a view of the whole linear memory. The view is invalidated by
// the next call into the module.
func (e *WasmEngine) Memory() []byte {
	mem := e.mod.Memory()
	view, ok := mem.Read(0, mem.Size())
	if !ok {
		return nil
	}
	return view
}

func (e *WasmEngine) AspectRatios() []string { return append([]string(nil), e.ratios...) }

func (e *WasmEngine) Resolutions(aspectRatio int) []string {
	if aspectRatio < 0 || aspectRatio >= len(e.resolutions) {
		return nil
	}
	return append([]string(nil), e.resolutions[aspectRatio]...)
}

func (e *WasmEngine) DefaultGeometry() (int, int) { return e.defRatio, e.defRes }

// Close tears down the runtime and every module in it.
func (e *WasmEngine) Close(ctx context.Context) error { return e.rt.Close(ctx) }

func (e *WasmEngine) call(ctx context.Context, name string, params ...uint64) (uint64, error) {
	fn := e.mod.ExportedFunction(name)
	if fn == nil {
		return 0, fmt.Errorf("export %q not found", name)
	}
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

func (e *WasmEngine) readString(packed uint64) (string, error) {
	ptr, n := unpack(packed)
	b, ok := e.mod.Memory().Read(ptr, n)
	if !ok {
		return "", fmt.Errorf("string at %d+%d outside memory", ptr, n)
	}
	return string(b), nil
}

func (e *WasmEngine) readLabels(packed uint64) ([]string, error) {
	s, err := e.readString(packed)
	if err != nil {
		return nil, err
	}
	return splitLabels(s), nil
}

func (e *WasmEngine) consoleLog(_ context.Context, m api.Module, ptr, n uint32) {
	b, ok := m.Memory().Read(ptr, n)
	if !ok {
		e.log.Warn("engine log outside memory", slog.Uint64("ptr", uint64(ptr)), slog.Uint64("len", uint64(n)))
		return
	}
	e.log.Info("engine: " + string(b))
}

// unpack splits a packed (ptr<<32 | len) string reference.
func unpack(v uint64) (ptr, n uint32) { return uint32(v >> 32), uint32(v) }

func splitLabels(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
