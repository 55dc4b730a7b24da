package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("LEADFLOW_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("LEADFLOW_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	fsys := os.DirFS(filepath.Join("..", "..", "db", "migrations"))

	applied, err := MigrateUp(ctx, db, fsys)
	if err != nil {
		t.Fatalf("migrate up (pass 1): %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected migrations to apply on an empty schema")
	}

	again, err := MigrateUp(ctx, db, fsys)
	if err != nil {
		t.Fatalf("migrate up (idempotent): %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no pending migrations, got %v", again)
	}

	reverted, err := MigrateDown(ctx, db, fsys)
	if err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	if len(reverted) != len(applied) {
		t.Fatalf("expected %d reverted, got %d", len(applied), len(reverted))
	}

	if _, err := MigrateUp(ctx, db, fsys); err != nil {
		t.Fatalf("migrate up (pass 2): %v", err)
	}

	var hasMatchLeads bool
	if err := db.QueryRowContext(ctx,
		`SELECT to_regprocedure('match_leads(vector, uuid, double precision, integer)') IS NOT NULL`,
	).Scan(&hasMatchLeads); err != nil {
		t.Fatalf("lookup match_leads: %v", err)
	}
	if !hasMatchLeads {
		t.Fatal("expected match_leads to exist after migrations")
	}
}
