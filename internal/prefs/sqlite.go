package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLiteStore keeps every namespace in one table of JSON payloads.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("prefs: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers; sqlite would otherwise
	// report SQLITE_BUSY under concurrent CLI invocations.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS prefs (
		bucket TEXT NOT NULL,
		key TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (bucket, key)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create prefs table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// DefaultPath is where the CLI keeps its state when no path is configured.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "leadflow", "prefs.db")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, ns Namespace, key string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM prefs WHERE bucket = ? AND key = ?`, string(ns), key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s/%s: %w", ns, key, err)
	}
	return payload, nil
}

func (s *SQLiteStore) Put(ctx context.Context, ns Namespace, key string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO prefs (bucket, key, payload) VALUES (?, ?, ?)
		ON CONFLICT (bucket, key) DO UPDATE SET payload = excluded.payload`, string(ns), key, payload)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, ns Namespace, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM prefs WHERE bucket = ? AND key = ?`, string(ns), key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", ns, key, err)
	}
	return nil
}
