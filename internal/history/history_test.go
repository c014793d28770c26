/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package history

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"sslstudio/internal/engine"
	"sslstudio/internal/geometry"
	applog "sslstudio/internal/log"
	"sslstudio/internal/render"
)

func openTemp(t *testing.T, opts Options) *Store {
	t.Helper()
	opts.Logger = applog.Discard()
	s, err := Open(filepath.Join(t.TempDir(), "hist", FileName), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 200, 100, 50, 255
	}
	return img
}

func TestRecordAndRecent(t *testing.T) {
	s := openTemp(t, Options{ThumbSize: 16})
	ctx := context.Background()

	ok := render.Result{Source: "Stupid Shader Language", Spec: geometry.Spec{AspectRatio: 1, Resolution: 2}, Width: 64, Height: 36, Duration: 40 * time.Millisecond}
	id1, err := s.Record(ctx, ok, solid(64, 36))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	bad := render.Result{Source: "(", Spec: geometry.Spec{}, Err: engine.ErrRenderFailed}
	id2, err := s.Record(ctx, bad, nil)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("ids not increasing: %d, %d", id1, id2)
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != id2 || got[1].ID != id1 {
		t.Fatalf("Recent = %+v", got)
	}
	if got[0].OK() || got[0].Err == "" || got[0].Thumb != nil {
		t.Fatalf("failed entry = %+v", got[0])
	}
	e := got[1]
	if !e.OK() || e.Spec != ok.Spec || e.Width != 64 || e.Height != 36 || e.Duration != 40*time.Millisecond {
		t.Fatalf("entry = %+v", e)
	}
	if e.SourceHash != HashSource("Stupid Shader Language") || e.At.IsZero() {
		t.Fatalf("hash=%q at=%v", e.SourceHash, e.At)
	}
	thumb, err := png.Decode(bytes.NewReader(e.Thumb))
	if err != nil {
		t.Fatalf("decode thumb: %v", err)
	}
	if b := thumb.Bounds(); b.Dx() != 16 || b.Dy() != 9 {
		t.Fatalf("thumb bounds = %v", b)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTemp(t, Options{})
	if _, err := s.Get(context.Background(), 42); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("Get = %v", err)
	}
}

func TestRecordPrunesToMax(t *testing.T) {
	s := openTemp(t, Options{MaxEntries: 3})
	ctx := context.Background()
	var last int64
	for i := 0; i < 5; i++ {
		id, err := s.Record(ctx, render.Result{Source: string(rune('a' + i))}, nil)
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		last = id
	}
	got, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 || got[0].ID != last || got[2].Source != "c" {
		t.Fatalf("after prune = %+v", got)
	}
	n, err := s.Prune(ctx, 1)
	if err != nil || n != 2 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path, Options{Logger: applog.Discard()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Record(context.Background(), render.Result{Source: "x"}, solid(2, 2)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = s.Close()

	s, err = Open(path, Options{Logger: applog.Discard()})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	var schema int
	if err := s.db.QueryRow(`SELECT schema FROM version WHERE id=1`).Scan(&schema); err != nil || schema != schemaVersion {
		t.Fatalf("schema = %d, %v", schema, err)
	}
	got, _ := s.Recent(context.Background(), 1)
	if len(got) != 1 || got[0].Source != "x" || len(got[0].Thumb) == 0 {
		t.Fatalf("entries after reopen = %+v", got)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  ", Options{Logger: applog.Discard()}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAfterPaintRecordsSurface(t *testing.T) {
	s := openTemp(t, Options{})
	surf := render.NewSurface()
	hook := s.AfterPaint(surf)
	// No frame has been committed yet.
	hook(render.Result{Source: "first", Width: 4, Height: 4})
	hook(render.Result{Source: "broken", Err: errors.New("boom")})
	got, err := s.Recent(context.Background(), 10)
	if err != nil || len(got) != 2 {
		t.Fatalf("Recent = %+v, %v", got, err)
	}
	if got[0].Source != "broken" || got[0].Err != "boom" || got[1].Thumb != nil {
		t.Fatalf("entries = %+v", got)
	}
}

func TestThumbnailAspect(t *testing.T) {
	cases := []struct {
		w, h, edge, tw, th int
	}{
		{64, 36, 16, 16, 9},
		{36, 64, 16, 9, 16},
		{8, 8, 16, 8, 8},
		{1000, 1, 10, 10, 1},
	}
	for _, tc := range cases {
		b := Thumbnail(solid(tc.w, tc.h), tc.edge).Bounds()
		if b.Dx() != tc.tw || b.Dy() != tc.th {
			t.Fatalf("Thumbnail(%dx%d, %d) = %v", tc.w, tc.h, tc.edge, b)
		}
	}
	px := Thumbnail(solid(40, 40), 4).RGBAAt(1, 1)
	if px != (color.RGBA{200, 100, 50, 255}) {
		t.Fatalf("solid colour not preserved: %v", px)
	}
	if _, err := EncodeThumbnail(image.NewRGBA(image.Rect(0, 0, 0, 0)), 4); err == nil {
		t.Fatalf("expected error for empty image")
	}
}
