// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// schema is applied on every open.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	key        TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// SQLiteBackend keeps payloads in a local SQLite file. expires_at is unix
// milliseconds, 0 for no expiry.
type SQLiteBackend struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteBackend opens (creating if needed) the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.New("sqlite vault path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize vault database: %w", err)
		}
	}

	// The file holds session material.
	if err := os.Chmod(path, 0600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("failed to restrict vault permissions: %w", err)
	}

	return &SQLiteBackend{db: db, now: time.Now}, nil
}

// Save upserts the payload for key.
func (b *SQLiteBackend) Save(ctx context.Context, key, payload string, ttl time.Duration) error {
	var expires int64
	if ttl > 0 {
		expires = b.now().Add(ttl).UnixMilli()
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO sessions (key, payload, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		key, payload, expires)
	if err != nil {
		return fmt.Errorf("vault save: %w", err)
	}
	return nil
}

// Load returns the payload for key. Expired rows are purged and reported as
// ErrNotFound.
func (b *SQLiteBackend) Load(ctx context.Context, key string) (string, error) {
	var (
		payload string
		expires int64
	)
	err := b.db.QueryRowContext(ctx,
		"SELECT payload, expires_at FROM sessions WHERE key = ?", key).Scan(&payload, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("vault load: %w", err)
	}

	if expires != 0 && b.now().UnixMilli() >= expires {
		if err := b.Delete(ctx, key); err != nil {
			return "", err
		}
		return "", ErrNotFound
	}
	return payload, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM sessions WHERE key = ?", key); err != nil {
		return fmt.Errorf("vault delete: %w", err)
	}
	return nil
}

// Purge removes every expired row and returns how many were dropped.
func (b *SQLiteBackend) Purge(ctx context.Context) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at != 0 AND expires_at <= ?", b.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("vault purge: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
