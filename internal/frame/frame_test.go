/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package frame

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestExtractCopiesExactRange(t *testing.T) {
	mem := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	got, err := Extract(mem, 2, 4)
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if !bytes.Equal(got, []byte{2, 3, 4, 5}) {
		t.Fatalf("Extract = %v", got)
	}
	// The result must not alias engine memory.
	mem[2] = 99
	if got[0] != 2 {
		t.Fatalf("extracted bytes alias engine memory")
	}
}

func TestExtractWholeMemoryAndEmpty(t *testing.T) {
	mem := []byte{1, 2, 3}
	got, err := Extract(mem, 0, 3)
	if err != nil || len(got) != 3 {
		t.Fatalf("full extract: %v %v", got, err)
	}
	got, err = Extract(mem, 3, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty extract at end: %v %v", got, err)
	}
}

func TestExtractRejectsOutOfRange(t *testing.T) {
	mem := make([]byte, 16)
	cases := []struct {
		name      string
		ptr, size uint32
	}{
		{"past end", 12, 8},
		{"pointer beyond", 17, 0},
		{"overflow", math.MaxUint32, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Extract(mem, tc.ptr, tc.size)
			if got != nil {
				t.Fatalf("expected no bytes, got %d", len(got))
			}
			if !errors.Is(err, ErrMemoryRange) {
				t.Fatalf("expected ErrMemoryRange, got %v", err)
			}
			var re *RangeError
			if !errors.As(err, &re) || re.MemLen != 16 || re.Pointer != tc.ptr {
				t.Fatalf("range error details wrong: %#v", re)
			}
		})
	}
}

func TestReadValidatesDimensions(t *testing.T) {
	mem := make([]byte, 64)
	for i := range mem {
		mem[i] = byte(i)
	}
	buf, err := Read(mem, 8, 2*3*4, 2, 3)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if buf.Len() != 24 || buf.Pix[0] != 8 {
		t.Fatalf("unexpected buffer: len=%d first=%d", buf.Len(), buf.Pix[0])
	}
	if _, err := Read(mem, 0, 20, 2, 3); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestImageIsVerbatimCopy(t *testing.T) {
	pix := []byte{
		255, 0, 0, 255, 0, 255, 0, 128,
		0, 0, 255, 255, 10, 20, 30, 40,
	}
	buf, err := NewPixelBuffer(2, 2, pix)
	if err != nil {
		t.Fatalf("NewPixelBuffer: %v", err)
	}
	img := buf.Image()
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 2 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	if !bytes.Equal(img.Pix, pix) {
		t.Fatalf("image pixels differ from buffer: %v", img.Pix)
	}
	pix[0] = 1
	if img.Pix[0] != 255 {
		t.Fatalf("image aliases pixel buffer")
	}
}
