package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestFormatCents(t *testing.T) {
	tests := map[int64]string{
		0:      "$0.00",
		5:      "$0.05",
		1234:   "$12.34",
		-250:   "-$2.50",
		100000: "$1000.00",
	}
	for in, want := range tests {
		if got := FormatCents(in); got != want {
			t.Fatalf("FormatCents(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatTokens(t *testing.T) {
	tests := map[int64]string{
		999:       "999",
		1234:      "1.2K",
		2_500_000: "2.5M",
	}
	for in, want := range tests {
		if got := FormatTokens(in); got != want {
			t.Fatalf("FormatTokens(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestTablePlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf)
	r.Table(Table{
		Headers: []string{"model", "cost"},
		Rows:    [][]string{{"gpt-4o", "$1.00"}},
	})
	out := buf.String()
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("expected no ANSI escapes in non-terminal output: %q", out)
	}
	if !strings.Contains(out, "│ gpt-4o │ $1.00 │") {
		t.Fatalf("unexpected table layout:\n%s", out)
	}
}
