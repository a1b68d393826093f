package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestMigrationsRollBackAndReapply(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("SCRIVONO_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("SCRIVONO_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	applied, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	ups, _ := upMigrations(migrationsDir)
	if len(applied) != len(ups) {
		t.Fatalf("applied %d of %d migrations", len(applied), len(ups))
	}
	if again, err := ApplyMigrations(ctx, db, migrationsDir); err != nil || len(again) != 0 {
		t.Fatalf("second ApplyMigrations() = %v, %v; want no-op", again, err)
	}

	// Roll back the newest migration only, then everything.
	last, err := RollbackMigrations(ctx, db, migrationsDir, 1)
	if err != nil {
		t.Fatalf("RollbackMigrations(1) error = %v", err)
	}
	if len(last) != 1 || last[0] != applied[len(applied)-1] {
		t.Fatalf("RollbackMigrations(1) = %v, want [%s]", last, applied[len(applied)-1])
	}
	pending, err := PendingMigrations(ctx, db, migrationsDir)
	if err != nil || len(pending) != 1 {
		t.Fatalf("PendingMigrations() = %v, %v; want one", pending, err)
	}

	rest, err := RollbackMigrations(ctx, db, migrationsDir, len(ups))
	if err != nil {
		t.Fatalf("RollbackMigrations(all) error = %v", err)
	}
	if len(rest) != len(ups)-1 {
		t.Fatalf("rolled back %d migrations, want %d", len(rest), len(ups)-1)
	}
	var tables int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name <> 'schema_migrations'`).Scan(&tables); err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if tables != 0 {
		t.Fatalf("expected an empty schema after full rollback, found %d tables", tables)
	}

	if reapplied, err := ApplyMigrations(ctx, db, migrationsDir); err != nil || len(reapplied) != len(ups) {
		t.Fatalf("reapply = %v, %v", reapplied, err)
	}
}
