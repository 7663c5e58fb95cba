package prompts

import (
	"strings"
	"testing"

	"github.com/rspicer/dissent/pkg/types"
)

// TestFormatInitial checks query embedding.
func TestFormatInitial(t *testing.T) {
	got := FormatInitial("why is the sky blue?")
	if !strings.Contains(got, "Query: why is the sky blue?") {
		t.Errorf("query not embedded:\n%s", got)
	}
	if !strings.Contains(got, "multi-model panel discussion") {
		t.Errorf("missing panel framing:\n%s", got)
	}
}

// TestFormatReflection checks own response, peer blocks, and query ordering.
func TestFormatReflection(t *testing.T) {
	got := FormatReflection("q?", "my answer", []PeerResponse{
		{Alias: "gpt", Content: "peer one"},
		{Alias: "gemini", Content: "peer two"},
	})
	if !strings.Contains(got, "my answer") {
		t.Error("own response missing")
	}
	if !strings.Contains(got, "[gpt]:\npeer one") || !strings.Contains(got, "[gemini]:\npeer two") {
		t.Errorf("peer blocks malformed:\n%s", got)
	}
	if !strings.Contains(got, "Original query: q?") {
		t.Error("query missing")
	}
	if strings.Index(got, "peer one") > strings.Index(got, "peer two") {
		t.Error("peer order not preserved")
	}
}

// TestFormatReflectionNoPeers checks the zero-peer case produces an empty
// peer section rather than failing.
func TestFormatReflectionNoPeers(t *testing.T) {
	got := FormatReflection("q?", NoResponsePlaceholder, nil)
	if !strings.Contains(got, NoResponsePlaceholder) {
		t.Error("placeholder missing")
	}
	if strings.Contains(got, "[") && strings.Contains(got, "]:") {
		t.Errorf("expected no peer blocks:\n%s", got)
	}
}

// TestFormatTranscript checks round headers and survivor blocks.
func TestFormatTranscript(t *testing.T) {
	got := FormatTranscript([]RoundSummary{
		{RoundType: types.RoundInitial, Responses: []PeerResponse{{Alias: "claude", Content: "a"}}},
		{RoundType: types.RoundReflection, Responses: []PeerResponse{{Alias: "gpt", Content: "b"}}},
	})
	if !strings.Contains(got, "=== INITIAL ROUND ===") {
		t.Errorf("missing initial header:\n%s", got)
	}
	if !strings.Contains(got, "=== REFLECTION ROUND ===") {
		t.Errorf("missing reflection header:\n%s", got)
	}
	if strings.Index(got, "INITIAL") > strings.Index(got, "REFLECTION") {
		t.Error("round order not preserved")
	}
}

// TestFormatSynthesis checks transcript and query embedding.
func TestFormatSynthesis(t *testing.T) {
	got := FormatSynthesis("q?", "=== INITIAL ROUND ===\n\n[claude]:\na")
	if !strings.Contains(got, "Original query: q?") {
		t.Error("query missing")
	}
	if !strings.Contains(got, "[claude]:\na") {
		t.Error("transcript missing")
	}
	if !strings.Contains(got, "designated synthesizer") {
		t.Error("synthesizer framing missing")
	}
}

// TestFormatScoring checks the fixed response-format instruction.
func TestFormatScoring(t *testing.T) {
	got := FormatScoring("q?", "the reference", "the candidate")
	for _, want := range []string{
		"Question: q?",
		"the reference",
		"the candidate",
		"ACCURACY: <1-5>",
		"COMPLETENESS: <1-5>",
		"EXPLANATION:",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q:\n%s", want, got)
		}
	}
}

// TestInjectContext checks prepending and the empty-context pass-through.
func TestInjectContext(t *testing.T) {
	if got := InjectContext("", "prompt"); got != "prompt" {
		t.Errorf("expected pass-through, got %q", got)
	}
	got := InjectContext("background info", "prompt")
	if got != "background info\n\nprompt" {
		t.Errorf("unexpected injection: %q", got)
	}
}
