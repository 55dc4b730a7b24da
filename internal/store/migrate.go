package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
)

var migrationName = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

// Migration is one numbered schema change with both directions.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// ID is the key recorded in schema_migrations.
func (m Migration) ID() string {
	return m.Version + "_" + m.Name + ".up.sql"
}

// LoadMigrations pairs NNNN_name.up.sql / .down.sql files, ordered by version.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		contents, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		m := byVersion[match[1]]
		if m == nil {
			m = &Migration{Version: match[1], Name: match[2]}
			byVersion[match[1]] = m
		}
		if m.Name != match[2] {
			return nil, fmt.Errorf("migration %s has conflicting names %q and %q", match[1], m.Name, match[2])
		}
		if match[3] == "up" {
			m.Up = string(contents)
		} else {
			m.Down = string(contents)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if strings.TrimSpace(m.Up) == "" {
			return nil, fmt.Errorf("migration %s is missing its up file", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ApplyMigrations runs pending up migrations from dir and returns the ids applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, dir string) ([]string, error) {
	return MigrateUp(ctx, db, os.DirFS(dir))
}

func MigrateUp(ctx context.Context, db *sql.DB, fsys fs.FS) ([]string, error) {
	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}

	applied := []string{}
	for _, m := range migrations {
		done, err := isMigrated(ctx, db, m.ID())
		if err != nil {
			return applied, err
		}
		if done {
			continue
		}
		err = inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return fmt.Errorf("execute migration %s: %w", m.ID(), err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.ID()); err != nil {
				return fmt.Errorf("record migration %s: %w", m.ID(), err)
			}
			return nil
		})
		if err != nil {
			return applied, err
		}
		applied = append(applied, m.ID())
	}
	return applied, nil
}

// MigrateDown reverts every applied migration, newest first.
func MigrateDown(ctx context.Context, db *sql.DB, fsys fs.FS) ([]string, error) {
	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}

	reverted := []string{}
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		done, err := isMigrated(ctx, db, m.ID())
		if err != nil {
			return reverted, err
		}
		if !done {
			continue
		}
		err = inTx(ctx, db, func(tx *sql.Tx) error {
			if strings.TrimSpace(m.Down) != "" {
				if _, err := tx.ExecContext(ctx, m.Down); err != nil {
					return fmt.Errorf("revert migration %s: %w", m.ID(), err)
				}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, m.ID()); err != nil {
				return fmt.Errorf("unrecord migration %s: %w", m.ID(), err)
			}
			return nil
		})
		if err != nil {
			return reverted, err
		}
		reverted = append(reverted, m.ID())
	}
	return reverted, nil
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
