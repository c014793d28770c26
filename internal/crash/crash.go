/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package crash turns panics into a report file plus an autosave of the
// source being edited, then exits.
package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	applog "sslstudio/internal/log"
	"sslstudio/internal/telemetry"
	"sslstudio/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// Session describes what to preserve when the process dies. The zero value
// writes reports to the temp dir and autosaves nothing.
type Session struct {
	// Dir receives crash reports and autosaves.
	Dir string
	// Source returns the current editor text.
	Source func() string
}

// Recover captures a panic, logs an error with stacktrace, writes an error
// report file, autosaves the session source and exits with code 2.
//
// Usage: defer crash.Recover(sess)
func Recover(s *Session) {
	if r := recover(); r != nil {
		Handle(s, r, debug.Stack())
	}
}

// Handle is Recover for panics that were already recovered elsewhere, for
// example by the render loop.
func Handle(s *Session, panicVal any, stack []byte) {
	l := applog.WithComponent("crash")
	l.Error("panic recovered", slog.Any("panic", panicVal), slog.String("stack", string(stack)))

	reportPath, err := Report(s, panicVal, stack)
	if err != nil {
		l.Error("write crash report failed", slog.Any("err", err))
	}
	if path, err := Autosave(s); err != nil {
		l.Error("autosave failed", slog.Any("err", err))
	} else if path != "" {
		l.Info("autosave written", slog.String("path", path))
	}

	if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
		l.Error("failed to write crash message to stderr", slog.Any("err", err))
	}
	if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
		l.Error("failed to write version info to stderr", slog.Any("err", err))
	}
	exitFn(2)
}

var stampMu sync.Mutex

func stamp() string {
	stampMu.Lock()
	defer stampMu.Unlock()
	return time.Now().Format("20060102-150405.000")
}

func (s *Session) dir() string {
	if s != nil && s.Dir != "" {
		_ = os.MkdirAll(s.Dir, 0o755)
		return s.Dir
	}
	return os.TempDir()
}

// Report writes crash-<stamp>.log and offers it to telemetry.
func Report(s *Session, panicVal any, stack []byte) (string, error) {
	path := filepath.Join(s.dir(), fmt.Sprintf("crash-%s.log", stamp()))

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "SSL Studio Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return path, err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return path, err
	}
	_ = f.Sync()
	if err := f.Close(); err != nil {
		return path, err
	}

	telemetry.Default().UploadCrash(buf.Bytes())
	return path, nil
}

// Autosave writes the current source to autosave-<stamp>.ssl. It returns
// an empty path when there is nothing to save.
func Autosave(s *Session) (string, error) {
	if s == nil || s.Source == nil {
		return "", nil
	}
	src := s.Source()
	if src == "" {
		return "", nil
	}
	path := filepath.Join(s.dir(), fmt.Sprintf("autosave-%s.ssl", stamp()))
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		return "", fmt.Errorf("autosave: %w", err)
	}
	return path, nil
}
