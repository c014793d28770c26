/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	applog "sslstudio/internal/log"
)

// DefaultFileName is suggested to the picker and used for downloads.
const DefaultFileName = "ssl-output.png"

var (
	// ErrCancelled is returned by a Picker when the user dismisses the dialog.
	ErrCancelled = errors.New("export cancelled")
	// ErrNoPicker means the host offers no interactive save location.
	ErrNoPicker = errors.New("no save picker available")
	// ErrNothingToExport is returned when no frame has been rendered yet.
	ErrNothingToExport = errors.New("nothing to export")
)

// Picker asks the host for a save location and opens a sink on it.
type Picker interface {
	Pick(ctx context.Context, name string) (io.WriteCloser, error)
}

// Downloader persists a data URI without user interaction.
type Downloader interface {
	Download(ctx context.Context, name, dataURI string) (location string, err error)
}

// Locator is implemented by sinks that know where they write.
type Locator interface {
	Location() string
}

// Path identifies which persistence attempt produced the file.
type Path int

const (
	PathNone Path = iota
	PathPicker
	PathDownload
)

func (p Path) String() string {
	switch p {
	case PathPicker:
		return "picker"
	case PathDownload:
		return "download"
	default:
		return "none"
	}
}

// Outcome records both export attempts.
type Outcome struct {
	Path     Path
	Primary  error
	Fallback error
	Location string
	Bytes    int
}

// Err is nil when either attempt persisted the file.
func (o Outcome) Err() error {
	switch o.Path {
	case PathPicker, PathDownload:
		return nil
	}
	if o.Fallback != nil {
		return o.Fallback
	}
	return o.Primary
}

// Options configures a Controller.
type Options struct {
	Picker     Picker
	Downloader Downloader
	Format     Format
	// FileName defaults to DefaultFileName with the format's extension.
	FileName string
	// Notify receives the user-facing message after a picker save.
	Notify func(msg string)
	Logger *slog.Logger
}

// Controller serializes a frame and persists it, interactive path first.
type Controller struct {
	picker     Picker
	downloader Downloader
	format     Format
	name       string
	notify     func(string)
	log        *slog.Logger
}

// NewController applies defaults to opts.
func NewController(opts Options) *Controller {
	c := &Controller{
		picker:     opts.Picker,
		downloader: opts.Downloader,
		format:     opts.Format,
		name:       opts.FileName,
		notify:     opts.Notify,
		log:        opts.Logger,
	}
	if c.format == "" {
		c.format = FormatPNG
	}
	if c.name == "" {
		c.name = DefaultFileName
	}
	if ext := filepath.Ext(c.name); !strings.EqualFold(ext, c.format.Ext()) {
		c.name = strings.TrimSuffix(c.name, ext) + c.format.Ext()
	}
	if c.log == nil {
		c.log = applog.WithComponent("export")
	}
	return c
}

// FileName is the name offered to the picker and the downloader.
func (c *Controller) FileName() string { return c.name }

// Format is the configured encoding.
func (c *Controller) Format() Format { return c.format }

// Export encodes img and saves it through the picker, falling back to the
// downloader on any picker failure. Only the fallback's error is returned.
func (c *Controller) Export(ctx context.Context, img image.Image) Outcome {
	l := applog.WithOperation(c.log, "export").With(slog.String("file", c.name))
	data, err := Encode(img, c.format)
	if err != nil {
		l.Warn("encode failed", slog.Any("err", err))
		return Outcome{Primary: err}
	}
	out := Outcome{Bytes: len(data)}

	loc, err := c.viaPicker(ctx, data)
	if err == nil {
		out.Path, out.Location = PathPicker, loc
		l.Info("file saved", slog.String("location", loc), slog.Int("bytes", len(data)))
		if c.notify != nil {
			c.notify("File saved successfully!")
		}
		return out
	}
	out.Primary = err
	l.Info("could not use file picker; falling back to download", slog.Any("err", err))

	if c.downloader == nil {
		out.Fallback = errors.New("no downloader configured")
		return out
	}
	loc, err = c.downloader.Download(ctx, c.name, DataURI(c.format.MIME(), data))
	if err != nil {
		out.Fallback = err
		l.Error("download failed", slog.Any("err", err))
		return out
	}
	out.Path, out.Location = PathDownload, loc
	l.Info("file downloaded", slog.String("location", loc), slog.Int("bytes", len(data)))
	return out
}

func (c *Controller) viaPicker(ctx context.Context, data []byte) (string, error) {
	if c.picker == nil {
		return "", ErrNoPicker
	}
	w, err := c.picker.Pick(ctx, c.name)
	if err != nil {
		return "", err
	}
	if isNil(w) {
		return "", ErrCancelled
	}
	loc := ""
	if lc, ok := w.(Locator); ok {
		loc = lc.Location()
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return loc, fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return loc, fmt.Errorf("close: %w", err)
	}
	return loc, nil
}
