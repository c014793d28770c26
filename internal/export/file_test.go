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
	"os"
	"path/filepath"
	"testing"
)

func TestDirDownloaderAvoidsOverwrite(t *testing.T) {
	dir := t.TempDir()
	d := DirDownloader{Dir: dir}
	uri := DataURI("image/png", []byte("first"))
	loc1, err := d.Download(context.Background(), DefaultFileName, uri)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	loc2, err := d.Download(context.Background(), DefaultFileName, DataURI("image/png", []byte("second")))
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if loc1 != filepath.Join(dir, "ssl-output.png") || loc2 != filepath.Join(dir, "ssl-output (1).png") {
		t.Fatalf("locations = %q, %q", loc1, loc2)
	}
	b, _ := os.ReadFile(loc1)
	if string(b) != "first" {
		t.Fatalf("first download overwritten: %q", b)
	}
}

func TestDirDownloaderRejectsBadURI(t *testing.T) {
	if _, err := (DirDownloader{Dir: t.TempDir()}).Download(context.Background(), "x.png", "nope"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFilePickerEmptyPath(t *testing.T) {
	if _, err := (FilePicker{}).Pick(context.Background(), "x.png"); err != ErrNoPicker {
		t.Fatalf("Pick = %v, want ErrNoPicker", err)
	}
}

func TestFilePickerFixedPath(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "out.png")
	w, err := (FilePicker{Path: target}).Pick(context.Background(), DefaultFileName)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if _, err := w.Write([]byte("png")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("target visible before Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	b, err := os.ReadFile(target)
	if err != nil || string(b) != "png" {
		t.Fatalf("ReadFile = %q, %v", b, err)
	}
}
