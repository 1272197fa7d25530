package handler

import (
	"testing"

	"lucledger/internal/model"

	"github.com/tidwall/gjson"
)

func TestParseTrackRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
		want model.TrackRequest
	}{
		{
			name: "explicit fields",
			body: `{"provider":"groq","model":"llama","inputTokens":10,"outputTokens":"5","phase":"iteration"}`,
			want: model.TrackRequest{Provider: "groq", Model: "llama", InputTokens: 10, OutputTokens: 5, PhaseOverride: "iteration"},
		},
		{
			name: "completion only",
			body: `{"provider":"anthropic","completion":{"model":"claude-haiku","usage":{"input_tokens":7,"output_tokens":3}}}`,
			want: model.TrackRequest{Provider: "anthropic", Model: "claude-haiku", InputTokens: 7, OutputTokens: 3},
		},
		{
			name: "explicit fields win over completion",
			body: `{"completion":{"model":"gpt-4o","usage":{"prompt_tokens":100,"completion_tokens":50}},"model":"gpt-4o-mini","outputTokens":1}`,
			want: model.TrackRequest{Model: "gpt-4o-mini", InputTokens: 100, OutputTokens: 1},
		},
		{
			name: "garbage counts",
			body: `{"inputTokens":{"a":1},"outputTokens":null}`,
			want: model.TrackRequest{},
		},
	}
	for _, tt := range tests {
		got := parseTrackRequest(gjson.Parse(tt.body))
		if got != tt.want {
			t.Fatalf("%s: got %+v want %+v", tt.name, got, tt.want)
		}
	}
}
