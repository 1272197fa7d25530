package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"lucledger/internal/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "luc.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenSQLiteCreatesTables(t *testing.T) {
	db := openTestDB(t)
	for _, table := range []string{"luc_sessions", "luc_usage_events", "luc_meter_events", "luc_receipts", "luc_pricing"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}

	// migration column present
	if _, err := db.Exec(`SELECT error FROM luc_meter_events LIMIT 1`); err != nil {
		t.Fatalf("expected error column after migration: %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	got := pg.Rebind("UPDATE t SET a = ?, b = ? WHERE id = ?")
	if got != "UPDATE t SET a = $1, b = $2 WHERE id = $3" {
		t.Fatalf("unexpected postgres rebind: %s", got)
	}
	if pg.ForUpdate() != " FOR UPDATE" {
		t.Fatalf("postgres must lock rows")
	}

	lite := &DB{dialect: DialectSQLite}
	if q := lite.Rebind("SELECT ?"); q != "SELECT ?" {
		t.Fatalf("sqlite query must be unchanged, got %s", q)
	}
	if lite.ForUpdate() != "" {
		t.Fatalf("sqlite has no FOR UPDATE")
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(ctx context.Context) error {
		if !InTx(ctx) {
			t.Fatalf("expected tx in context")
		}
		if _, err := db.Conn(ctx).ExecContext(ctx,
			`INSERT INTO luc_pricing (model, input_cost_per_million_usd, output_cost_per_million_usd) VALUES (?, ?, ?)`,
			"m", 1.0, 2.0); err != nil {
			t.Fatalf("insert: %v", err)
		}
		// nested call reuses the outer transaction
		return db.WithTx(ctx, func(ctx context.Context) error { return boom })
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM luc_pricing`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected rollback, found %d rows", n)
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open(configFor("mysql")); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func configFor(driver string) config.DatabaseConfig {
	return config.DatabaseConfig{Driver: driver}
}
