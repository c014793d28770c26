/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package geometry

import (
	"errors"
	"testing"
)

type tableCatalog struct {
	names []string
	dims  [][]string
}

func (c tableCatalog) AspectRatios() []string { return c.names }

func (c tableCatalog) Resolutions(i int) []string {
	if i < 0 || i >= len(c.dims) {
		return nil
	}
	return c.dims[i]
}

// demoCatalog mirrors the size table shipped with the demo engine.
func demoCatalog() tableCatalog {
	return tableCatalog{
		names: []string{"1:1", "16:9", "21:9", "9:16", "4:3", "3:2", "5:4", "1.91:1"},
		dims: [][]string{
			{"16x16", "100x100", "500x500", "720x720", "1080x1080", "1200x1200", "2048x2048"},
			{"640x360", "854x480", "1280x720", "1920x1080", "2560x1440"},
			{"1280x540", "2560x1080", "3440x1440"},
			{"360x640", "720x1280", "1080x1920", "1440x2560"},
			{"640x480", "1024x768", "1600x1200", "2048x1536"},
			{"600x400", "1200x800", "1800x1200"},
			{"800x640", "1280x1024"},
			{"600x314", "1200x628"},
		},
	}
}

func TestNewUsesEngineDefault(t *testing.T) {
	s, err := New(demoCatalog(), 0, 5)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if got := s.Spec(); got != (Spec{AspectRatio: 0, Resolution: 5}) {
		t.Fatalf("Spec = %v", got)
	}
	if got, want := s.Label(), "1:1 1200x1200"; got != want {
		t.Fatalf("Label = %q, want %q", got, want)
	}
}

func TestNewFallsBackToMidpoint(t *testing.T) {
	s, err := New(demoCatalog(), 1, 42)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if got := s.Spec(); got != (Spec{AspectRatio: 1, Resolution: 2}) {
		t.Fatalf("Spec = %v", got)
	}
	s, err = New(demoCatalog(), -3, 0)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if got := s.Spec().AspectRatio; got != 0 {
		t.Fatalf("invalid default ratio not reset: %d", got)
	}
}

func TestNewRejectsEmptyCatalog(t *testing.T) {
	if _, err := New(tableCatalog{}, 0, 0); !errors.Is(err, ErrIndexInvalid) {
		t.Fatalf("expected ErrIndexInvalid, got %v", err)
	}
}

func TestSetAspectRatioKeepsResolutionValid(t *testing.T) {
	c := demoCatalog()
	s, err := New(c, 0, 6)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	for i := range c.names {
		if err := s.SetAspectRatio(i); err != nil {
			t.Fatalf("SetAspectRatio(%d): %v", i, err)
		}
		spec := s.Spec()
		n := len(c.Resolutions(i))
		if spec.AspectRatio != i || spec.Resolution < 0 || spec.Resolution >= n {
			t.Fatalf("ratio %d: invalid spec %v for %d resolutions", i, spec, n)
		}
		if spec.Resolution != n/2 {
			t.Fatalf("ratio %d: resolution = %d, want midpoint %d", i, spec.Resolution, n/2)
		}
		if got := len(s.Resolutions()); got != n {
			t.Fatalf("ratio %d: resolution list has %d entries, want %d", i, got, n)
		}
	}
}

func TestSelectRatioTwoOfFive(t *testing.T) {
	c := demoCatalog()
	c.names = c.names[:5]
	c.dims = c.dims[:5]
	s, err := New(c, 0, 3)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := s.SetAspectRatio(2); err != nil {
		t.Fatalf("SetAspectRatio: %v", err)
	}
	if got := s.Resolutions(); len(got) != 3 || got[0] != "1280x540" {
		t.Fatalf("resolution list not switched: %v", got)
	}
	if got := s.Spec().Resolution; got != 1 {
		t.Fatalf("resolution = %d, want floor(3/2)=1", got)
	}
}

func TestSetAspectRatioRejectsOutOfRange(t *testing.T) {
	s, _ := New(demoCatalog(), 1, 3)
	for _, idx := range []int{-1, 8, 100} {
		if err := s.SetAspectRatio(idx); !errors.Is(err, ErrIndexInvalid) {
			t.Fatalf("SetAspectRatio(%d) = %v, want ErrIndexInvalid", idx, err)
		}
	}
	if got := s.Spec(); got != (Spec{AspectRatio: 1, Resolution: 3}) {
		t.Fatalf("rejected selection mutated state: %v", got)
	}
}

func TestSetResolutionNeverClamps(t *testing.T) {
	s, _ := New(demoCatalog(), 2, 0)
	if err := s.SetResolution(2); err != nil {
		t.Fatalf("SetResolution(2): %v", err)
	}
	if err := s.SetResolution(3); !errors.Is(err, ErrIndexInvalid) {
		t.Fatalf("SetResolution(3) = %v, want ErrIndexInvalid", err)
	}
	if got := s.Spec().Resolution; got != 2 {
		t.Fatalf("resolution changed after rejected selection: %d", got)
	}
}

func TestSelectValidatesAgainstTargetRatio(t *testing.T) {
	s, _ := New(demoCatalog(), 0, 0)
	// Index 6 is valid for 1:1 but not for 16:9.
	if err := s.Select(Spec{AspectRatio: 1, Resolution: 6}); !errors.Is(err, ErrIndexInvalid) {
		t.Fatalf("expected ErrIndexInvalid, got %v", err)
	}
	if err := s.Select(Spec{AspectRatio: 1, Resolution: 4}); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got := s.Label(); got != "16:9 2560x1440" {
		t.Fatalf("Label = %q", got)
	}
}

func TestParseDim(t *testing.T) {
	w, h, err := ParseDim("1920x1080")
	if err != nil || w != 1920 || h != 1080 {
		t.Fatalf("ParseDim = %d %d %v", w, h, err)
	}
	for _, bad := range []string{"", "1920", "ax1", "1x"} {
		if _, _, err := ParseDim(bad); err == nil {
			t.Fatalf("ParseDim(%q) expected error", bad)
		}
	}
}
