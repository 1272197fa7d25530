package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.Database.Driver)
	}
	if cfg.Metering.Provider != "cloudflare" {
		t.Fatalf("expected cloudflare provider, got %q", cfg.Metering.Provider)
	}
	if cfg.Metering.Timeout != 5*time.Second {
		t.Fatalf("expected 5s meter timeout, got %v", cfg.Metering.Timeout)
	}
	if cfg.Ledger.AllowClientTracking {
		t.Fatalf("client tracking must default to disabled")
	}
	if cfg.Metering.Cloudflare.Configured() || cfg.Metering.Stripe.Configured() {
		t.Fatalf("no metering backend should be configured by default")
	}
}

func TestLoadLegacyEnvNames(t *testing.T) {
	t.Setenv("LUC_METER_PROVIDER", " Stripe ")
	t.Setenv("LUC_METER_FALLBACK", "true")
	t.Setenv("ALLOW_LUC_CLIENT_TRACKING", "true")
	t.Setenv("LUC_INTERNAL_TOKEN", "secret")
	t.Setenv("STRIPE_METER_ID", "mtr_123")
	t.Setenv("CLOUDFLARE_ACCOUNT_ID", "acct")
	t.Setenv("CLOUDFLARE_API_TOKEN", "tok")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Metering.Provider != "stripe" {
		t.Fatalf("expected normalized provider stripe, got %q", cfg.Metering.Provider)
	}
	if !cfg.Metering.Fallback || !cfg.Ledger.AllowClientTracking {
		t.Fatalf("expected boolean flags from env, got %+v %+v", cfg.Metering, cfg.Ledger)
	}
	if cfg.Ledger.InternalToken != "secret" {
		t.Fatalf("unexpected internal token %q", cfg.Ledger.InternalToken)
	}
	// cloudflare meter id falls back to STRIPE_METER_ID
	if cfg.Metering.Cloudflare.MeterID != "mtr_123" || !cfg.Metering.Cloudflare.Configured() {
		t.Fatalf("expected cloudflare meter id fallback, got %+v", cfg.Metering.Cloudflare)
	}
}

func TestLoadConfigFileWithExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "luc.yaml")
	content := "database:\n  driver: ${TEST_LUC_DRIVER:postgres}\n  dsn: ${TEST_LUC_DSN}\nserver:\n  port: \"9000\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LUC_CONFIG_FILE", path)
	t.Setenv("TEST_LUC_DSN", "postgres://localhost/luc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("expected default from placeholder, got %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN != "postgres://localhost/luc" {
		t.Fatalf("expected expanded dsn, got %q", cfg.Database.DSN)
	}
	if cfg.Server.Port != "9000" {
		t.Fatalf("expected file port, got %q", cfg.Server.Port)
	}
}

func TestAllowedOrigins(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{"*"}},
		{" , ", []string{"*"}},
		{"https://a.example, https://b.example", []string{"https://a.example", "https://b.example"}},
	}
	for _, tt := range tests {
		got := ServerConfig{CORSAllowedOrigins: tt.in}.AllowedOrigins()
		if len(got) != len(tt.want) {
			t.Fatalf("%q: got %v want %v", tt.in, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("%q: got %v want %v", tt.in, got, tt.want)
			}
		}
	}
}

func TestExpandEnvKeepsUnknown(t *testing.T) {
	if got := expandEnv("${LUC_SURELY_UNSET_VAR}"); got != "${LUC_SURELY_UNSET_VAR}" {
		t.Fatalf("unexpected expansion %q", got)
	}
}
