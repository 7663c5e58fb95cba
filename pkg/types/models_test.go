package types

import (
	"encoding/json"
	"testing"
	"time"
)

// ── DebateTranscript ──────────────────────────────────────────────────────────

// TestNewTranscript checks that fresh transcripts carry a UUID, a UTC
// timestamp, and a copied panel slice.
func TestNewTranscript(t *testing.T) {
	panel := []string{"claude", "gpt"}
	tr := NewTranscript("why is the sky blue", panel, "claude", 2)

	if len(tr.TranscriptID) < 32 {
		t.Errorf("expected UUID-sized transcript ID, got %q", tr.TranscriptID)
	}
	if tr.CreatedAt.Location() != time.UTC {
		t.Errorf("expected UTC creation time, got %v", tr.CreatedAt.Location())
	}
	panel[0] = "mutated"
	if tr.Panel[0] != "claude" {
		t.Error("transcript panel aliases the caller's slice")
	}
	if tr.Metadata == nil {
		t.Error("expected non-nil metadata map")
	}
}

// TestShortID checks short-ID extraction including the degenerate short case.
func TestShortID(t *testing.T) {
	tr := &DebateTranscript{TranscriptID: "abcdef01-2345-6789-abcd-ef0123456789"}
	if got := tr.ShortID(); got != "abcdef01" {
		t.Errorf("expected abcdef01, got %q", got)
	}
	tr.TranscriptID = "abc"
	if got := tr.ShortID(); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
}

// TestRoundTrip checks that a fully populated transcript survives
// serialize → deserialize → re-serialize byte-identically.
func TestRoundTrip(t *testing.T) {
	tokens := 120
	in, out := 80, 40
	latency := 900
	tr := NewTranscript("q", []string{"claude", "gpt"}, "claude", 1)
	tr.Rounds = []DebateRound{{
		RoundNumber: 0,
		RoundType:   RoundInitial,
		Responses: []ModelResponse{{
			ModelID:      "anthropic/claude-sonnet-4.5",
			ModelAlias:   "claude",
			Content:      "because of Rayleigh scattering",
			Timestamp:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			TokenCount:   &tokens,
			InputTokens:  &in,
			OutputTokens: &out,
			LatencyMS:    &latency,
			Role:         RoleInitial,
			Routing:      &RoutingDecision{Vendor: VendorAnthropic, Mode: ModeAuto, ViaOpenRouter: true},
		}},
	}}

	first, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var loaded DebateTranscript
	if err := json.Unmarshal(first, &loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	second, err := json.Marshal(&loaded)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("round trip not stable:\n%s\n%s", first, second)
	}
}

// TestBackwardCompat checks that a transcript written before role tags,
// routing, the analysis map, and the token split loads with defaults.
func TestBackwardCompat(t *testing.T) {
	old := `{
		"transcript_id": "11112222-3333-4444-5555-666677778888",
		"query": "q",
		"panel": ["claude"],
		"synthesizer_id": "claude",
		"max_rounds": 1,
		"rounds": [{
			"round_number": 0,
			"round_type": "initial",
			"responses": [{
				"model_id": "anthropic/claude-3",
				"model_alias": "claude",
				"round_number": 0,
				"content": "old answer",
				"timestamp": "2024-01-01T00:00:00Z",
				"token_count": 50,
				"latency_ms": null
			}]
		}],
		"synthesis": null,
		"created_at": "2024-01-01T00:00:00Z",
		"metadata": {}
	}`
	var tr DebateTranscript
	if err := json.Unmarshal([]byte(old), &tr); err != nil {
		t.Fatalf("unmarshal old transcript: %v", err)
	}
	resp := tr.Rounds[0].Responses[0]
	if resp.Role != "" {
		t.Errorf("expected empty role, got %q", resp.Role)
	}
	if resp.Routing != nil {
		t.Error("expected nil routing")
	}
	if resp.InputTokens != nil || resp.OutputTokens != nil {
		t.Error("expected absent token split")
	}
	if resp.TokenCount == nil || *resp.TokenCount != 50 {
		t.Errorf("expected token_count 50, got %v", resp.TokenCount)
	}
	if resp.LatencyMS != nil {
		t.Error("expected absent latency")
	}
}

// TestAbsentSerializesAsNull checks that nil numeric fields serialize as
// JSON null, not zero.
func TestAbsentSerializesAsNull(t *testing.T) {
	data, err := json.Marshal(ModelResponse{ModelAlias: "claude"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"token_count", "input_tokens", "output_tokens", "latency_ms"} {
		v, present := raw[key]
		if !present {
			t.Errorf("expected %s present as null", key)
		}
		if v != nil {
			t.Errorf("expected %s null, got %v", key, v)
		}
	}
}

// TestAllResponses checks traversal order and synthesis inclusion.
func TestAllResponses(t *testing.T) {
	tr := NewTranscript("q", []string{"a", "b"}, "a", 1)
	tr.Rounds = []DebateRound{
		{RoundNumber: 0, Responses: []ModelResponse{{ModelAlias: "a"}, {ModelAlias: "b"}}},
		{RoundNumber: 1, Responses: []ModelResponse{{ModelAlias: "a"}, {ModelAlias: "b"}}},
	}
	tr.Synthesis = &ModelResponse{ModelAlias: "a", RoundNumber: SynthesisRound}

	all := tr.AllResponses()
	if len(all) != 5 {
		t.Fatalf("expected 5 responses, got %d", len(all))
	}
	if all[4].RoundNumber != SynthesisRound {
		t.Errorf("expected synthesis last, got round %d", all[4].RoundNumber)
	}
}

// TestExperimentRoundTrip checks that experiment metadata survives a
// JSON save/load cycle and is reconstituted from the decoded map.
func TestExperimentRoundTrip(t *testing.T) {
	tr := NewTranscript("q", []string{"a"}, "a", 1)
	tr.Metadata[MetaExperiment] = &ExperimentMetadata{
		ExperimentID: "exp-42",
		SourceTool:   "cli",
		Condition:    "baseline",
		Variables:    map[string]any{"temperature": "high"},
	}

	data, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var loaded DebateTranscript
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	exp := loaded.Experiment()
	if exp == nil {
		t.Fatal("expected experiment metadata after load")
	}
	if exp.ExperimentID != "exp-42" || exp.SourceTool != "cli" || exp.Condition != "baseline" {
		t.Errorf("experiment did not round-trip: %+v", exp)
	}
}

// TestExperimentAbsent checks the nil case.
func TestExperimentAbsent(t *testing.T) {
	tr := NewTranscript("q", []string{"a"}, "a", 1)
	if tr.Experiment() != nil {
		t.Error("expected nil experiment")
	}
}

// ── Vendor and RoutingMode ────────────────────────────────────────────────────

// TestVendorIsValid checks the closed vendor set.
func TestVendorIsValid(t *testing.T) {
	for _, v := range []Vendor{VendorAnthropic, VendorOpenAI, VendorGoogle, VendorXAI, VendorGroq, VendorOpenRouter, VendorLocal} {
		if !v.IsValid() {
			t.Errorf("expected %q valid", v)
		}
	}
	if Vendor("mistral").IsValid() {
		t.Error("expected unknown vendor invalid")
	}
}

// TestRoutingModeIsValid checks the mode set.
func TestRoutingModeIsValid(t *testing.T) {
	for _, m := range []RoutingMode{ModeAuto, ModeDirect, ModeOpenRouter} {
		if !m.IsValid() {
			t.Errorf("expected %q valid", m)
		}
	}
	if RoutingMode("proxy").IsValid() {
		t.Error("expected unknown mode invalid")
	}
}
