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
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FilePicker "picks" a fixed path; the CLI uses it for --out.
// An empty Path behaves like a host without a picker.
type FilePicker struct {
	Path string
}

func (p FilePicker) Pick(_ context.Context, name string) (io.WriteCloser, error) {
	if p.Path == "" {
		return nil, ErrNoPicker
	}
	target := p.Path
	if st, statErr := os.Stat(target); statErr == nil && st.IsDir() {
		target = filepath.Join(target, name)
	}
	s, err := createFile(target)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// fileSink writes to a temporary sibling and renames it into place on Close.
// After a failed write nothing is left at the target.
type fileSink struct {
	f      *os.File
	target string
	failed bool
}

func createFile(target string) (*fileSink, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*")
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	return &fileSink{f: f, target: target}, nil
}

func (s *fileSink) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	if err != nil {
		s.failed = true
	}
	return n, err
}

func (s *fileSink) Close() error {
	tmp := s.f.Name()
	if err := s.f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if s.failed {
		return os.Remove(tmp)
	}
	if err := os.Rename(tmp, s.target); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *fileSink) Location() string { return s.target }
