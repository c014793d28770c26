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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirDownloader stores data URIs in a downloads directory. Existing files are
// not overwritten; a numeric suffix is added instead, as browsers do.
type DirDownloader struct {
	Dir string
}

// DefaultDownloadsDir returns ~/Downloads, or the working directory when
// the home directory is unknown.
func DefaultDownloadsDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, "Downloads")
	}
	return "."
}

func (d DirDownloader) Download(_ context.Context, name, dataURI string) (string, error) {
	_, data, err := ParseDataURI(dataURI)
	if err != nil {
		return "", err
	}
	dir := d.Dir
	if dir == "" {
		dir = DefaultDownloadsDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure downloads dir: %w", err)
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(filepath.Base(name), ext)
	for i := 0; i < 1000; i++ {
		candidate := filepath.Join(dir, stem+ext)
		if i > 0 {
			candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		}
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create download: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(candidate)
			return "", fmt.Errorf("write download: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close download: %w", err)
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no free file name for %s in %s", name, dir)
}
