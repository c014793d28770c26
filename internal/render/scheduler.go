/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"errors"
	"sync"
)

// ErrSchedulerClosed is returned when a step is deferred to a stopped loop.
var ErrSchedulerClosed = errors.New("scheduler closed")

// Scheduler is the yield point between a trigger and the engine invocation.
// Defer must return promptly; the step runs later, to completion, and never
// concurrently with another step of the same scheduler.
type Scheduler interface {
	Defer(step func()) error
}

// Inline runs steps synchronously on the caller's goroutine. Meant for the
// headless CLI and tests, where there is no input thread to keep responsive.
type Inline struct{}

func (Inline) Defer(step func()) error {
	step()
	return nil
}

// Loop is a single goroutine executing deferred steps in FIFO order, the
// serialized executor every render cycle runs on.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	onPanic func(v any)
}

// NewLoop starts a loop. onPanic receives a value recovered from a failing
// step; the loop stops afterwards. With a nil onPanic the panic propagates.
func NewLoop(onPanic func(v any)) *Loop {
	l := &Loop{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		onPanic: onPanic,
	}
	go l.run()
	return l
}

// Defer enqueues step without blocking.
func (l *Loop) Defer(step func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrSchedulerClosed
	}
	l.queue = append(l.queue, step)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close stops accepting steps, runs the ones already queued and waits for
// the loop goroutine to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	defer func() {
		if r := recover(); r != nil {
			l.mu.Lock()
			l.closed = true
			l.queue = nil
			l.mu.Unlock()
			if l.onPanic == nil {
				panic(r)
			}
			l.onPanic(r)
		}
	}()
	for {
		l.mu.Lock()
		for len(l.queue) == 0 {
			if l.closed {
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			<-l.wake
			l.mu.Lock()
		}
		step := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		step()
	}
}
