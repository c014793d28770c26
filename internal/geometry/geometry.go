/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package geometry tracks the user's output geometry: an aspect ratio and a
// resolution, both stored as indices into the engine's enumerations.
package geometry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ErrIndexInvalid is returned for an aspect ratio or resolution index outside
// the engine-provided lists. Explicit selections are never clamped.
var ErrIndexInvalid = errors.New("geometry index out of range")

// Catalog enumerates the geometries an engine supports. Both lists are
// expected to be stable for the lifetime of a session.
type Catalog interface {
	AspectRatios() []string
	Resolutions(aspectRatio int) []string
}

// Spec is a geometry selection.
type Spec struct {
	AspectRatio int `json:"aspect_ratio"`
	Resolution  int `json:"resolution"`
}

func (s Spec) String() string { return fmt.Sprintf("%d/%d", s.AspectRatio, s.Resolution) }

// Midpoint is the default resolution index for a list of n entries.
func Midpoint(n int) int { return n / 2 }

// Selector keeps a Spec consistent with its catalog. After every successful
// mutation the resolution index is valid for the current aspect ratio.
type Selector struct {
	mu      sync.RWMutex
	catalog Catalog
	ratios  []string
	res     []string
	spec    Spec
}

// New builds a selector starting at the engine-reported default geometry.
// An invalid default resolution falls back to the midpoint of the ratio's list;
// an invalid default ratio falls back to the first ratio.
func New(c Catalog, aspectRatio, resolution int) (*Selector, error) {
	ratios := c.AspectRatios()
	if len(ratios) == 0 {
		return nil, fmt.Errorf("%w: engine reports no aspect ratios", ErrIndexInvalid)
	}
	if aspectRatio < 0 || aspectRatio >= len(ratios) {
		aspectRatio = 0
	}
	res := c.Resolutions(aspectRatio)
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: aspect ratio %q has no resolutions", ErrIndexInvalid, ratios[aspectRatio])
	}
	if resolution < 0 || resolution >= len(res) {
		resolution = Midpoint(len(res))
	}
	return &Selector{
		catalog: c,
		ratios:  ratios,
		res:     res,
		spec:    Spec{AspectRatio: aspectRatio, Resolution: resolution},
	}, nil
}

// Spec returns the current selection.
func (s *Selector) Spec() Spec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spec
}

// AspectRatios returns a copy of the aspect ratio labels.
func (s *Selector) AspectRatios() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.ratios...)
}

// Resolutions returns a copy of the resolution labels for the current ratio.
func (s *Selector) Resolutions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.res...)
}

// SetAspectRatio selects a new aspect ratio, reloads its resolution list and
// resets the resolution to the middle entry of that list.
func (s *Selector) SetAspectRatio(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.ratios) {
		return fmt.Errorf("%w: aspect ratio %d not in [0,%d)", ErrIndexInvalid, index, len(s.ratios))
	}
	res := s.catalog.Resolutions(index)
	if len(res) == 0 {
		return fmt.Errorf("%w: aspect ratio %q has no resolutions", ErrIndexInvalid, s.ratios[index])
	}
	s.res = res
	s.spec = Spec{AspectRatio: index, Resolution: Midpoint(len(res))}
	return nil
}

// SetResolution selects a resolution of the current aspect ratio.
func (s *Selector) SetResolution(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.res) {
		return fmt.Errorf("%w: resolution %d not in [0,%d)", ErrIndexInvalid, index, len(s.res))
	}
	s.spec.Resolution = index
	return nil
}

// Select applies both indices; the resolution is validated against the list
// of the requested ratio. On error the selection is left unchanged.
func (s *Selector) Select(spec Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec.AspectRatio < 0 || spec.AspectRatio >= len(s.ratios) {
		return fmt.Errorf("%w: aspect ratio %d not in [0,%d)", ErrIndexInvalid, spec.AspectRatio, len(s.ratios))
	}
	res := s.res
	if spec.AspectRatio != s.spec.AspectRatio {
		res = s.catalog.Resolutions(spec.AspectRatio)
	}
	if spec.Resolution < 0 || spec.Resolution >= len(res) {
		return fmt.Errorf("%w: resolution %d not in [0,%d)", ErrIndexInvalid, spec.Resolution, len(res))
	}
	s.res = res
	s.spec = spec
	return nil
}

// Label renders the current selection, e.g. "16:9 1280x720".
func (s *Selector) Label() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ratios[s.spec.AspectRatio] + " " + s.res[s.spec.Resolution]
}

// ParseDim parses a "WxH" resolution label.
func ParseDim(label string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.TrimSpace(label), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid resolution label %q", label)
	}
	if width, err = strconv.Atoi(w); err != nil {
		return 0, 0, fmt.Errorf("invalid width in %q: %w", label, err)
	}
	if height, err = strconv.Atoi(h); err != nil {
		return 0, 0, fmt.Errorf("invalid height in %q: %w", label, err)
	}
	return width, height, nil
}
