package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite" // registers the "sqlite" driver

	"github.com/okian/facefx/pkg/logger"
	"github.com/okian/facefx/pkg/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
	id               TEXT PRIMARY KEY,
	filename         TEXT NOT NULL,
	path             TEXT NOT NULL,
	mime_type        TEXT NOT NULL,
	extension        TEXT NOT NULL,
	requested_format TEXT NOT NULL DEFAULT '',
	substituted      INTEGER NOT NULL DEFAULT 0,
	size_bytes       INTEGER NOT NULL,
	duration_ms      INTEGER NOT NULL,
	has_audio        INTEGER NOT NULL DEFAULT 0,
	sync_quality     TEXT NOT NULL DEFAULT '',
	avg_drift_ms     REAL NOT NULL DEFAULT 0,
	max_drift_ms     REAL NOT NULL DEFAULT 0,
	truncated        INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS recordings_created_at ON recordings (created_at DESC);
`

const columns = `id, filename, path, mime_type, extension, requested_format, substituted,
	size_bytes, duration_ms, has_audio, sync_quality, avg_drift_ms, max_drift_ms,
	truncated, error, created_at`

// SQLiteStore writes recordings into a directory and indexes them in sqlite.
type SQLiteStore struct {
	db  *sql.DB
	dir string
	log logger.Logger
}

// OpenSQLiteStore opens (creating if needed) the catalog at dsn. Use
// ":memory:" for a throwaway catalog.
func OpenSQLiteStore(ctx context.Context, dsn string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		dir: "recordings",
		log: logger.Named("recordings"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	s.db = db
	return s, nil
}

// Put writes blob next to the catalog and records its metadata.
func (s *SQLiteStore) Put(ctx context.Context, rec Recording, blob []byte) (Recording, error) {
	if rec.ID == "" || rec.Filename == "" || strings.ContainsAny(rec.Filename, `/\`) {
		return Recording{}, fmt.Errorf("%w: id and plain filename required", ErrInvalidRecording)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.Path = filepath.Join(s.dir, rec.ID+"-"+rec.Filename)
	rec.SizeBytes = int64(len(blob))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Recording{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx, `INSERT INTO recordings (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Filename, rec.Path, rec.MimeType, rec.Extension, rec.RequestedFormat,
		rec.Substituted, rec.SizeBytes, rec.DurationMs, rec.HasAudio, rec.SyncQuality,
		rec.AvgDriftMs, rec.MaxDriftMs, rec.Truncated, rec.Error, rec.CreatedAt.UnixMilli())
	if err != nil {
		metrics.RecordErrorByComponent("recordings", "insert")
		return Recording{}, fmt.Errorf("index recording: %w", err)
	}
	// the row is committed only once the file is on disk
	if err := os.WriteFile(rec.Path, blob, 0o644); err != nil {
		metrics.RecordErrorByComponent("recordings", "write_file")
		return Recording{}, fmt.Errorf("write recording: %w", err)
	}
	if err := tx.Commit(); err != nil {
		_ = os.Remove(rec.Path)
		return Recording{}, fmt.Errorf("commit: %w", err)
	}
	s.log.Info(ctx, "recording stored",
		logger.String("id", rec.ID),
		logger.String("path", rec.Path),
		logger.Int64("bytes", rec.SizeBytes))
	return rec, nil
}

// Get returns a recording's metadata.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Recording, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM recordings WHERE id = ?`, id)
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// Open returns the recording and its file.
func (s *SQLiteStore) Open(ctx context.Context, id string) (Recording, io.ReadCloser, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return Recording{}, nil, err
	}
	f, err := os.Open(rec.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Recording{}, nil, fmt.Errorf("%w: %s file missing", ErrNotFound, id)
		}
		return Recording{}, nil, fmt.Errorf("open recording: %w", err)
	}
	return rec, f, nil
}

// List returns up to limit recordings, newest first. Zero means all.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Recording, error) {
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	if limit == 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM recordings ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()
	var out []Recording
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes the recording and its file.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if err := os.Remove(rec.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove recording file: %w", err)
	}
	return nil
}

// Count returns the number of stored recordings.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recordings`).Scan(&n)
	return n, err
}

// Close closes the catalog.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(r scanner) (Recording, error) {
	var (
		rec     Recording
		created int64
	)
	err := r.Scan(&rec.ID, &rec.Filename, &rec.Path, &rec.MimeType, &rec.Extension,
		&rec.RequestedFormat, &rec.Substituted, &rec.SizeBytes, &rec.DurationMs, &rec.HasAudio,
		&rec.SyncQuality, &rec.AvgDriftMs, &rec.MaxDriftMs, &rec.Truncated, &rec.Error, &created)
	if err != nil {
		return Recording{}, err
	}
	rec.CreatedAt = time.UnixMilli(created)
	return rec, nil
}
