package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"lucledger/internal/config"
	"lucledger/internal/database"
	"lucledger/internal/model"
	"lucledger/internal/repository"
	"lucledger/internal/service"

	"github.com/tidwall/gjson"
)

func useTempDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "luc.db")
	t.Setenv("LUC_DB_DRIVER", "sqlite")
	t.Setenv("LUC_DB_PATH", path)
	t.Setenv("LUC_PRICING_FILE", "")
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	flagJSON = false
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestPricingSetListDelete(t *testing.T) {
	useTempDB(t)

	out, err := runCLI(t, "pricing", "set", "gpt-4o", "--input", "2.5", "--output", "10")
	if err != nil {
		t.Fatalf("pricing set: %v\n%s", err, out)
	}
	if !strings.Contains(out, "gpt-4o: $12.50/M blended") {
		t.Fatalf("unexpected set output %q", out)
	}

	out, err = runCLI(t, "pricing", "list", "--json")
	if err != nil {
		t.Fatalf("pricing list: %v\n%s", err, out)
	}
	if gjson.Get(out, "#").Int() != 1 {
		t.Fatalf("expected one override, got %s", out)
	}
	if gjson.Get(out, "0.model").String() != "gpt-4o" ||
		gjson.Get(out, "0.priceData.inputCostPerMillion").Float() != 2.5 ||
		gjson.Get(out, "0.priceData.outputCostPerMillion").Float() != 10 ||
		gjson.Get(out, "0.source").String() != "manual" {
		t.Fatalf("unexpected override %s", out)
	}

	out, err = runCLI(t, "pricing", "list")
	if err != nil {
		t.Fatalf("pricing list table: %v", err)
	}
	for _, want := range []string{"gpt-4o", "2.50", "10.00", "manual"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}

	if out, err = runCLI(t, "pricing", "delete", "gpt-4o"); err != nil {
		t.Fatalf("pricing delete: %v\n%s", err, out)
	}
	out, err = runCLI(t, "pricing", "list", "--json")
	if err != nil {
		t.Fatalf("pricing list after delete: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty table, got %s", out)
	}

	if _, err = runCLI(t, "pricing", "delete", "gpt-4o"); err == nil {
		t.Fatalf("deleting a missing override should fail")
	}
}

func TestSessionListAndShow(t *testing.T) {
	path := useTempDB(t)

	db, err := database.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sessions := repository.NewSessionRepository(db)
	s := &model.Session{SessionID: "sess-1", UserID: "user-1"}
	if err := sessions.Create(context.Background(), s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := sessions.AddUsage(context.Background(), s.SessionID, model.PhaseChat, 1200, 300, 75); err != nil {
		t.Fatalf("add usage: %v", err)
	}
	_ = db.Close()

	out, err := runCLI(t, "session", "list", "--user", "user-1", "--json")
	if err != nil {
		t.Fatalf("session list: %v\n%s", err, out)
	}
	if gjson.Get(out, "#").Int() != 1 || gjson.Get(out, "0.chatInputTokens").Int() != 1200 {
		t.Fatalf("unexpected sessions %s", out)
	}

	out, err = runCLI(t, "session", "show", "sess-1")
	if err != nil {
		t.Fatalf("session show: %v\n%s", err, out)
	}
	for _, want := range []string{"sess-1", "user-1", "1200 in / 300 out", "$0.75"} {
		if !strings.Contains(out, want) {
			t.Fatalf("show output missing %q:\n%s", want, out)
		}
	}

	if _, err := runCLI(t, "session", "show", "missing"); err == nil {
		t.Fatalf("unknown session should fail")
	}
}

func TestTokenMintsValidJWT(t *testing.T) {
	useTempDB(t)
	t.Setenv("JWT_SECRET", "cli-test-secret")

	out, err := runCLI(t, "token", "user-7", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v\n%s", err, out)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	claims, err := service.NewJWTService(cfg.Auth).ValidateToken(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "user-7" {
		t.Fatalf("unexpected user %q", claims.UserID)
	}
}
