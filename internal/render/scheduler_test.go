/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"sync"
	"testing"
	"time"
)

func TestLoopRunsStepsInOrder(t *testing.T) {
	l := NewLoop(nil)
	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		if err := l.Defer(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Defer: %v", err)
		}
	}
	l.Close()
	if len(got) != 50 {
		t.Fatalf("ran %d steps, want 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("step %d ran at position %d", v, i)
		}
	}
	if err := l.Defer(func() {}); err != ErrSchedulerClosed {
		t.Fatalf("Defer after Close = %v", err)
	}
}

func TestLoopDeferDoesNotRunInline(t *testing.T) {
	l := NewLoop(nil)
	defer l.Close()
	release := make(chan struct{})
	ran := make(chan struct{})
	_ = l.Defer(func() { <-release; close(ran) })
	// Defer returned although the step is blocked.
	close(release)
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatalf("step never ran")
	}
}

func TestLoopReportsPanics(t *testing.T) {
	got := make(chan any, 1)
	l := NewLoop(func(v any) { got <- v })
	_ = l.Defer(func() { panic("boom") })
	select {
	case v := <-got:
		if v != "boom" {
			t.Fatalf("panic value = %v", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("panic not reported")
	}
	l.Close()
	if err := l.Defer(func() {}); err != ErrSchedulerClosed {
		t.Fatalf("loop accepts work after panic: %v", err)
	}
}

func TestInlineRunsImmediately(t *testing.T) {
	ran := false
	if err := (Inline{}).Defer(func() { ran = true }); err != nil || !ran {
		t.Fatalf("Inline.Defer ran=%v err=%v", ran, err)
	}
}
