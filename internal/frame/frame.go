/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package frame copies rendered frames out of the engine's linear memory.
//
// The engine exposes its frame buffer as a (pointer, size) pair inside a byte
// slice it owns. That slice is only valid until the next call into the engine:
// a subsequent render may grow the engine's memory and move the backing array.
// Everything in this package therefore copies; nothing retains the input.
package frame

import (
	"errors"
	"fmt"
	"image"
)

// BytesPerPixel is the size of one RGBA8 pixel.
const BytesPerPixel = 4

var (
	// ErrMemoryRange reports a (pointer, size) pair that does not fit inside the
	// engine memory. It indicates a sequencing bug, never bad user input.
	ErrMemoryRange = errors.New("frame buffer outside engine memory")
	// ErrSizeMismatch reports a byte count that disagrees with width*height*4.
	ErrSizeMismatch = errors.New("frame size mismatch")
)

// RangeError carries the offending range of a failed extraction.
type RangeError struct {
	Pointer uint32
	Size    uint32
	MemLen  int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%v: ptr=%d size=%d memory=%d", ErrMemoryRange, e.Pointer, e.Size, e.MemLen)
}

func (e *RangeError) Unwrap() error { return ErrMemoryRange }

// Extract returns an owned copy of mem[ptr:ptr+size]. It fails with a
// *RangeError when the range does not fit; it never truncates.
func Extract(mem []byte, ptr, size uint32) ([]byte, error) {
	end := uint64(ptr) + uint64(size)
	if end > uint64(len(mem)) {
		return nil, &RangeError{Pointer: ptr, Size: size, MemLen: len(mem)}
	}
	out := make([]byte, size)
	copy(out, mem[ptr:end])
	return out, nil
}

// PixelBuffer is an owned RGBA8 frame, row-major, top-to-bottom.
type PixelBuffer struct {
	Width  int
	Height int
	Pix    []byte
}

// NewPixelBuffer validates that pix holds exactly width*height RGBA8 pixels.
func NewPixelBuffer(width, height int, pix []byte) (PixelBuffer, error) {
	if width < 0 || height < 0 {
		return PixelBuffer{}, fmt.Errorf("%w: negative dimensions %dx%d", ErrSizeMismatch, width, height)
	}
	if want := width * height * BytesPerPixel; len(pix) != want {
		return PixelBuffer{}, fmt.Errorf("%w: %dx%d needs %d bytes, got %d", ErrSizeMismatch, width, height, want, len(pix))
	}
	return PixelBuffer{Width: width, Height: height, Pix: pix}, nil
}

// Read extracts the frame buffer of a width x height frame located at
// (ptr, size) inside mem. The size reported by the engine must match the
// dimensions it reported.
func Read(mem []byte, ptr, size uint32, width, height int) (PixelBuffer, error) {
	pix, err := Extract(mem, ptr, size)
	if err != nil {
		return PixelBuffer{}, err
	}
	return NewPixelBuffer(width, height, pix)
}

// Len returns the number of bytes in the buffer.
func (b PixelBuffer) Len() int { return len(b.Pix) }

// Image returns a new *image.RGBA holding a byte-for-byte copy of the buffer.
// No scaling or colour conversion is applied.
func (b PixelBuffer) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
	copy(img.Pix, b.Pix)
	return img
}
