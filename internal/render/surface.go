/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"image"
	"sync"
)

// Surface is the display surface: the last successfully rendered frame.
// A committed image is never written to again; every render commits a fresh
// image sized to that render's dimensions.
type Surface struct {
	mu  sync.RWMutex
	img *image.RGBA
}

// NewSurface returns an empty surface.
func NewSurface() *Surface { return &Surface{} }

// Image returns the committed frame, or nil before the first render.
func (s *Surface) Image() *image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img
}

// Size returns the dimensions of the committed frame.
func (s *Surface) Size() (width, height int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.img == nil {
		return 0, 0
	}
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

// Pixels returns a copy of the committed RGBA bytes.
func (s *Surface) Pixels() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.img == nil {
		return nil
	}
	return append([]byte(nil), s.img.Pix...)
}

func (s *Surface) commit(img *image.RGBA) {
	s.mu.Lock()
	s.img = img
	s.mu.Unlock()
}
