package billing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lucledger/internal/database"
	"lucledger/internal/repository"
)

type panickyLookup struct{}

func (panickyLookup) GetPrice(string) (PriceData, bool) { panic("lookup exploded") }

func TestHeuristicRate(t *testing.T) {
	tests := []struct {
		model  string
		rate   float64
		family string
	}{
		{"gemini-2.0-flash", 1.13, "gemini"},
		{"glm-4.6", 0.87, "glm"},
		{"@cf/zai-org/glm-4.7-flash", 0.87, "glm"},
		{"gpt-4o-mini", 5.0, "gpt-4o"},
		{"GPT-4o", 5.0, "gpt-4o"},
		{"@cf/meta/llama-3.1-8b-instruct", 0.10, "workers-ai"},
		{"claude-opus-4-1", 15.0, "opus"},
		{"gpt-4-turbo", 10.0, "gpt-4"},
		{"claude-sonnet-4-5", 3.0, "sonnet"},
		{"claude-3-5-haiku-latest", 0.80, "haiku"},
		{"o4-mini", 0.30, "small"},
		{"unknown", 1.0, "default"},
		{"", 1.0, "default"},
	}
	for _, tt := range tests {
		rate, family := HeuristicRate(tt.model)
		if rate != tt.rate || family != tt.family {
			t.Fatalf("%q: got %.2f/%s want %.2f/%s", tt.model, rate, family, tt.rate, tt.family)
		}
	}
}

func TestEstimateCostCents(t *testing.T) {
	store := NewPriceStore(nil)
	in, out := 2.0, 8.0
	if _, err := store.SetPrice(context.Background(), "custom-model", &in, &out); err != nil {
		t.Fatalf("set price: %v", err)
	}
	calc := NewCostCalculator(store)

	tests := []struct {
		name   string
		model  string
		tokens int64
		want   int64
	}{
		{"override blended rate", "custom-model", 1_000_000, 1000},
		{"override rounds half away from zero", "custom-model", 500, 1}, // 0.5 cents
		{"override rounds down", "custom-model", 400, 0},
		{"gpt-4o heuristic", "gpt-4o", 1_000_000, 500},
		{"gemini heuristic", "gemini-pro", 1_000_000, 113},
		{"default heuristic", "unknown", 1_800, 0},
		{"default heuristic large", "unknown", 2_500_000, 250},
		{"negative tokens clamp", "gpt-4o", -100, 0},
		{"zero tokens", "gpt-4o", 0, 0},
	}
	for _, tt := range tests {
		if got := calc.EstimateCostCents(tt.model, tt.tokens); got != tt.want {
			t.Fatalf("%s: got %d want %d", tt.name, got, tt.want)
		}
	}
}

func TestEstimateCostCentsNeverPanics(t *testing.T) {
	calc := NewCostCalculator(panickyLookup{})
	if got := calc.EstimateCostCents("gpt-4o", 1_000_000); got != 0 {
		t.Fatalf("expected 0 on lookup failure, got %d", got)
	}
	if res := calc.Calculate("gpt-4o", 10); res.PricingSource != "error" {
		t.Fatalf("expected error source, got %s", res.PricingSource)
	}

	if got := NewCostCalculator(nil).EstimateCostCents("gpt-4o", 1_000_000); got != 500 {
		t.Fatalf("nil store must fall back to heuristic, got %d", got)
	}
}

func TestSettle(t *testing.T) {
	tests := []struct {
		name       string
		totals     SessionTotals
		refund     int64
		total      int64
		isRefunded bool
	}{
		{"chat only", SessionTotals{ChatTokens: 1800, ChatCostCents: 5}, 0, 5, false},
		{"iteration exceeds chat", SessionTotals{ChatTokens: 1000, IterationTokens: 1500, ChatCostCents: 3, IterationCostCents: 4}, 3, 4, true},
		{"iteration equals chat", SessionTotals{ChatTokens: 1000, IterationTokens: 1000, ChatCostCents: 3, IterationCostCents: 3}, 3, 3, true},
		{"iteration below chat", SessionTotals{ChatTokens: 1000, IterationTokens: 999, ChatCostCents: 3, IterationCostCents: 2}, 0, 5, false},
		{"zero usage", SessionTotals{}, 0, 0, false},
		{"free chat no refund", SessionTotals{ChatTokens: 100, IterationTokens: 500, IterationCostCents: 9}, 0, 9, false},
	}
	for _, tt := range tests {
		s := Settle(tt.totals)
		if s.RefundCents != tt.refund || s.TotalChargeCents != tt.total || s.Refunded != tt.isRefunded {
			t.Fatalf("%s: got refund=%d total=%d refunded=%v", tt.name, s.RefundCents, s.TotalChargeCents, s.Refunded)
		}
		if s.TotalChargeCents+s.RefundCents != tt.totals.ChatCostCents+tt.totals.IterationCostCents {
			t.Fatalf("%s: settlement identity violated", tt.name)
		}
	}
}

func TestPriceStoreDBWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	db, err := database.OpenSQLite(filepath.Join(dir, "luc.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	path := filepath.Join(dir, "pricing.toml")
	content := `
[overrides."shared-model"]
input_per_mtok = 1.0
output_per_mtok = 1.0

[overrides."file-only"]
output_per_mtok = 4.0

[overrides."empty"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	repo := repository.NewPricingRepository(db)
	store := NewPriceStore(repo)
	if err := store.LoadFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}

	in := 10.0
	if _, err := store.SetPrice(context.Background(), "shared-model", &in, nil); err != nil {
		t.Fatalf("set price: %v", err)
	}

	// a fresh store reading the same DB sees the persisted override
	fresh := NewPriceStore(repo)
	if err := fresh.LoadFromDB(context.Background()); err != nil {
		t.Fatalf("load db: %v", err)
	}
	if err := fresh.LoadFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}

	for _, s := range []*PriceStore{store, fresh} {
		p, ok := s.GetPrice("shared-model")
		if !ok || p.Blended() != 10.0 {
			t.Fatalf("expected db override to win, got %+v ok=%v", p, ok)
		}
		p, ok = s.GetPrice("file-only")
		if !ok || p.Blended() != 4.0 {
			t.Fatalf("expected file override, got %+v ok=%v", p, ok)
		}
		if _, ok := s.GetPrice("empty"); ok {
			t.Fatalf("override without prices must be ignored")
		}
	}

	if len(fresh.ListPrices()) != 2 {
		t.Fatalf("expected 2 merged prices, got %d", len(fresh.ListPrices()))
	}

	if err := fresh.DeletePrice(context.Background(), "shared-model"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if p, _ := fresh.GetPrice("shared-model"); p.Blended() != 2.0 {
		t.Fatalf("expected file price after delete, got %+v", p)
	}
}

func TestSetPriceValidation(t *testing.T) {
	store := NewPriceStore(nil)
	neg := -1.0
	if _, err := store.SetPrice(context.Background(), "m", nil, nil); err == nil {
		t.Fatalf("expected error without prices")
	}
	if _, err := store.SetPrice(context.Background(), " ", &neg, nil); err == nil {
		t.Fatalf("expected error for empty model")
	}
	if _, err := store.SetPrice(context.Background(), "m", &neg, nil); err == nil {
		t.Fatalf("expected error for negative price")
	}
}

func TestPriceStoreWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.toml")
	if err := os.WriteFile(path, []byte("[overrides.\"m\"]\ninput_per_mtok = 1.0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewPriceStore(nil)
	if err := store.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := store.Watch(path); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer store.Stop()

	if err := os.WriteFile(path, []byte("[overrides.\"m\"]\ninput_per_mtok = 7.0\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p, ok := store.GetPrice("m"); ok && p.InputCostPerMillion == 7.0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("price file change was not picked up")
}
