//go:build fyne && cgo

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
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"path/filepath"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	fstorage "fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"sslstudio/internal/binding"
	"sslstudio/internal/crash"
	"sslstudio/internal/export"
	applog "sslstudio/internal/log"
	"sslstudio/internal/version"
)

// busyColor tints the editor while a render is pending.
var busyColor = color.NRGBA{R: 0x22, G: 0x11, B: 0x11, A: 0xb0}

// Run starts the Fyne-based studio window and blocks until it is closed.
func Run(opts Options) error {
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("ui")
		opts.Logger = l
	}
	l.Info("starting UI")
	defer crash.Recover(opts.Crash)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fyneApp := app.NewWithID("io.sslstudio")
	w := fyneApp.NewWindow("SSL Studio " + version.String())
	prefs := fyneApp.Preferences()
	winW := prefs.IntWithFallback("window.width", 1100)
	winH := prefs.IntWithFallback("window.height", 720)
	if winW < 640 {
		winW = 640
	}
	if winH < 480 {
		winH = 480
	}
	w.Resize(fyne.NewSize(float32(winW), float32(winH)))

	view := newFyneView(w)
	studio, err := NewStudio(ctx, opts, view, dialogPicker{w: w}, export.DirDownloader{Dir: opts.Config.Export.DownloadsDir})
	if err != nil {
		return err
	}
	bind := studio.Bindings()

	view.editor.SetText(studio.Source())
	view.editor.OnChanged = studio.SetSource
	view.editor.onRun = func() { go bind.Run() }

	view.ratio.OnChanged = func(string) {
		if view.updating {
			return
		}
		idx := view.ratio.SelectedIndex()
		go func() {
			res, sel, err := bind.SelectAspectRatio(idx)
			if err != nil {
				l.Warn("select aspect ratio failed", slog.Any("err", err))
				return
			}
			fyne.Do(func() { view.setResolutions(res, sel) })
		}()
	}
	view.res.OnChanged = func(string) {
		if view.updating {
			return
		}
		idx := view.res.SelectedIndex()
		go func() {
			if err := bind.SelectResolution(idx); err != nil {
				l.Warn("select resolution failed", slog.Any("err", err))
			}
		}()
	}

	runBtn := widget.NewButtonWithIcon("Run", theme.MediaPlayIcon(), func() { go bind.Run() })
	saveBtn := widget.NewButtonWithIcon("Save", theme.DocumentSaveIcon(), func() {
		go func() {
			out := studio.Export(ctx)
			fyne.Do(func() {
				switch {
				case out.Err() != nil:
					dialog.ShowError(out.Err(), w)
				case out.Path == export.PathDownload:
					view.status.SetText("Downloaded to " + out.Location)
				}
			})
		}()
	})

	for _, key := range []fyne.KeyName{fyne.KeyReturn, fyne.KeyEnter} {
		w.Canvas().AddShortcut(&desktop.CustomShortcut{KeyName: key, Modifier: fyne.KeyModifierControl}, func(fyne.Shortcut) {
			go bind.Run()
		})
	}

	toolbar := container.NewHBox(runBtn, saveBtn, widget.NewLabel("Aspect"), view.ratio, widget.NewLabel("Size"), view.res)
	editor := container.NewStack(view.editor, view.busy)
	split := container.NewHSplit(editor, container.NewStack(view.bg, view.image))
	split.Offset = prefs.FloatWithFallback("split.offset", 0.4)
	w.SetContent(container.NewBorder(toolbar, view.status, nil, nil, split))

	w.SetCloseIntercept(func() {
		sz := w.Canvas().Size()
		prefs.SetInt("window.width", int(sz.Width))
		prefs.SetInt("window.height", int(sz.Height))
		prefs.SetFloat("split.offset", split.Offset)
		if err := studio.Close(ctx); err != nil {
			l.Warn("close engine failed", slog.Any("err", err))
		}
		w.Close()
	})

	go func() {
		if err := studio.Start(ctx); err != nil {
			l.Error("engine failed to load", slog.Any("err", err))
			fyne.Do(func() {
				view.status.SetText("Engine failed to load")
				dialog.ShowError(err, w)
			})
		}
	}()

	w.ShowAndRun()
	return nil
}

// fyneView implements View on top of fyne widgets. All widget access goes
// through fyne.Do since callers run on the render loop.
type fyneView struct {
	w        fyne.Window
	editor   *sourceEntry
	busy     *canvas.Rectangle
	bg       *canvas.Rectangle
	image    *canvas.Image
	ratio    *widget.Select
	res      *widget.Select
	status   *widget.Label
	updating bool
}

func newFyneView(w fyne.Window) *fyneView {
	v := &fyneView{
		w:      w,
		editor: newSourceEntry(),
		busy:   canvas.NewRectangle(busyColor),
		bg:     canvas.NewRectangle(color.Black),
		image:  canvas.NewImageFromImage(nil),
		ratio:  widget.NewSelect(nil, nil),
		res:    widget.NewSelect(nil, nil),
		status: widget.NewLabel("Loading engine…"),
	}
	v.busy.Hide()
	v.image.FillMode = canvas.ImageFillContain
	v.image.ScaleMode = canvas.ImageScalePixels
	v.image.SetMinSize(fyne.NewSize(320, 240))
	return v
}

func (v *fyneView) Present(img *image.RGBA) {
	fyne.Do(func() {
		v.image.Image = img
		v.image.Refresh()
		b := img.Bounds()
		v.status.SetText(fmt.Sprintf("Rendered %dx%d", b.Dx(), b.Dy()))
	})
}

func (v *fyneView) SetBusy(busy bool) {
	fyne.Do(func() {
		if busy {
			v.busy.Show()
			v.status.SetText("Rendering…")
		} else {
			v.busy.Hide()
		}
	})
}

func (v *fyneView) SetGeometry(ratios []string, ratio int, resolutions []string, res int) {
	fyne.Do(func() {
		v.updating = true
		defer func() { v.updating = false }()
		v.ratio.SetOptions(ratios)
		v.ratio.SetSelectedIndex(ratio)
		v.res.SetOptions(resolutions)
		v.res.SetSelectedIndex(res)
	})
}

// setResolutions runs on the main goroutine.
func (v *fyneView) setResolutions(resolutions []string, res int) {
	v.updating = true
	defer func() { v.updating = false }()
	v.res.SetOptions(resolutions)
	v.res.SetSelectedIndex(res)
}

func (v *fyneView) Notify(title, msg string) {
	fyne.Do(func() { dialog.ShowInformation(title, msg, v.w) })
}

// sourceEntry is a multi-line editor that runs on Ctrl+Enter instead of
// inserting a newline.
type sourceEntry struct {
	widget.Entry
	onRun func()
}

func newSourceEntry() *sourceEntry {
	e := &sourceEntry{}
	e.MultiLine = true
	e.Wrapping = fyne.TextWrapWord
	e.TextStyle = fyne.TextStyle{Monospace: true}
	e.ExtendBaseWidget(e)
	return e
}

func (e *sourceEntry) TypedShortcut(s fyne.Shortcut) {
	if cs, ok := s.(*desktop.CustomShortcut); ok && binding.IsRunAccelerator(string(cs.KeyName), modifiers(cs.Modifier)) {
		if e.onRun != nil {
			e.onRun()
		}
		return
	}
	e.Entry.TypedShortcut(s)
}

func modifiers(m fyne.KeyModifier) binding.Modifier {
	var out binding.Modifier
	if m&fyne.KeyModifierShift != 0 {
		out |= binding.ModShift
	}
	if m&fyne.KeyModifierControl != 0 {
		out |= binding.ModCtrl
	}
	if m&fyne.KeyModifierAlt != 0 {
		out |= binding.ModAlt
	}
	if m&fyne.KeyModifierSuper != 0 {
		out |= binding.ModSuper
	}
	return out
}

// dialogPicker shows the fyne save dialog and waits for the user.
type dialogPicker struct {
	w fyne.Window
}

func (p dialogPicker) Pick(ctx context.Context, name string) (io.WriteCloser, error) {
	type result struct {
		uc  fyne.URIWriteCloser
		err error
	}
	ch := make(chan result, 1)
	fyne.Do(func() {
		d := dialog.NewFileSave(func(uc fyne.URIWriteCloser, err error) {
			ch <- result{uc: uc, err: err}
		}, p.w)
		d.SetFileName(name)
		if ext := filepath.Ext(name); ext != "" {
			d.SetFilter(fstorage.NewExtensionFileFilter([]string{ext}))
		}
		d.Show()
	})
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.uc == nil {
			return nil, export.ErrCancelled
		}
		return uriSink{r.uc}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type uriSink struct {
	fyne.URIWriteCloser
}

func (s uriSink) Location() string { return s.URI().Path() }
