/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package history keeps a local SQLite log of render cycles with a small
// PNG thumbnail of every successful frame.
package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sslstudio/internal/geometry"
	applog "sslstudio/internal/log"
	"sslstudio/internal/render"
	"sslstudio/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// FileName is the database file name inside the history directory.
	FileName = "history.sqlite"

	// DefaultMaxEntries bounds the table; older rows are pruned on insert.
	DefaultMaxEntries = 200
	// DefaultThumbSize is the longest thumbnail edge in pixels.
	DefaultThumbSize = 128

	schemaVersion = 2
)

// Entry is one recorded render cycle.
type Entry struct {
	ID         int64
	At         time.Time
	Source     string
	SourceHash string
	Spec       geometry.Spec
	Width      int
	Height     int
	Duration   time.Duration
	Err        string
	Thumb      []byte
}

// OK reports whether the cycle painted a frame.
func (e Entry) OK() bool { return e.Err == "" }

// Options tune a Store.
type Options struct {
	MaxEntries int
	ThumbSize  int
	Logger     *slog.Logger
}

// Store is a handle on the history database.
type Store struct {
	db    *sql.DB
	path  string
	max   int
	thumb int
	log   *slog.Logger
}

// Open creates or opens the database at path, enables WAL and brings the
// schema up to date.
func Open(path string, opts Options) (*Store, error) {
	lg := opts.Logger
	if lg == nil {
		lg = applog.WithComponent("history")
	}
	l := applog.WithOperation(lg, "open").With(slog.String("path", path))
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l.Error("create history dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure schema failed", slog.Any("err", err))
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}

	s := &Store{db: db, path: path, max: opts.MaxEntries, thumb: opts.ThumbSize, log: lg}
	if s.max <= 0 {
		s.max = DefaultMaxEntries
	}
	if s.thumb <= 0 {
		s.thumb = DefaultThumbSize
	}
	l.Debug("history ready")
	return s, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS renders (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			at           TEXT    NOT NULL,
			source       TEXT    NOT NULL,
			source_hash  TEXT    NOT NULL,
			ratio        INTEGER NOT NULL,
			resolution   INTEGER NOT NULL,
			width        INTEGER NOT NULL DEFAULT 0,
			height       INTEGER NOT NULL DEFAULT 0,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			err          TEXT    NOT NULL DEFAULT ''
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	var cur int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, 1, ?, ?, ?)`, version.String(), now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, version.String(), now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// migrate applies incremental steps up to schemaVersion.
func migrate(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for cur < schemaVersion {
		next := cur + 1
		var stmts []string
		switch next {
		case 2:
			// thumbnails and lookup by source
			stmts = []string{
				`ALTER TABLE renders ADD COLUMN thumb BLOB;`,
				`CREATE INDEX IF NOT EXISTS idx_renders_hash ON renders(source_hash);`,
			}
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		cur = next
	}
	return nil
}

// Path is the database file location.
func (s *Store) Path() string { return s.path }

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// HashSource returns the hex SHA-256 of source.
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Record stores res, with a thumbnail of frame when the render succeeded,
// and prunes the table to the configured size.
func (s *Store) Record(ctx context.Context, res render.Result, frame image.Image) (int64, error) {
	var thumb []byte
	if res.OK() && frame != nil {
		b, err := EncodeThumbnail(frame, s.thumb)
		if err != nil {
			s.log.Warn("thumbnail failed", slog.Any("err", err))
		} else {
			thumb = b
		}
	}
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	r, err := s.db.ExecContext(ctx, `INSERT INTO renders(at, source, source_hash, ratio, resolution, width, height, duration_ms, err, thumb)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), res.Source, HashSource(res.Source),
		res.Spec.AspectRatio, res.Spec.Resolution, res.Width, res.Height,
		res.Duration.Milliseconds(), errText, thumb)
	if err != nil {
		return 0, fmt.Errorf("insert render: %w", err)
	}
	id, err := r.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert render: %w", err)
	}
	if _, err := s.Prune(ctx, s.max); err != nil {
		s.log.Warn("prune failed", slog.Any("err", err))
	}
	return id, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = s.max
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, at, source, source_hash, ratio, resolution, width, height, duration_ms, err, thumb
		FROM renders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query renders: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns one entry by id; sql.ErrNoRows when absent.
func (s *Store) Get(ctx context.Context, id int64) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, at, source, source_hash, ratio, resolution, width, height, duration_ms, err, thumb
		FROM renders WHERE id=?`, id)
	return scanEntry(row)
}

// Prune deletes all but the newest keep entries.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	r, err := s.db.ExecContext(ctx, `DELETE FROM renders WHERE id NOT IN (SELECT id FROM renders ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune renders: %w", err)
	}
	return r.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e   Entry
		at  string
		ms  int64
		thb []byte
	)
	if err := sc.Scan(&e.ID, &at, &e.Source, &e.SourceHash, &e.Spec.AspectRatio, &e.Spec.Resolution,
		&e.Width, &e.Height, &ms, &e.Err, &thb); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan render: %w", err)
	}
	e.At, _ = time.Parse(time.RFC3339Nano, at)
	e.Duration = time.Duration(ms) * time.Millisecond
	e.Thumb = thb
	return e, nil
}

// AfterPaint returns a render hook that records every cycle, taking the
// frame from surface.
func (s *Store) AfterPaint(surface *render.Surface) func(render.Result) {
	return func(res render.Result) {
		var frame image.Image
		if res.OK() && surface != nil {
			if img := surface.Image(); img != nil {
				frame = img
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.Record(ctx, res, frame); err != nil {
			s.log.Warn("record render failed", slog.Any("err", err))
		}
	}
}
