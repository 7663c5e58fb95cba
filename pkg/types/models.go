package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ModelResponse is a single response from one model in one round.
//
// Numeric fields are pointers because vendors do not always report them; a nil
// value serializes as null and must never be treated as zero.
type ModelResponse struct {
	// ModelID is the model identifier that was actually called — an OpenRouter
	// ID (e.g. "anthropic/claude-sonnet-4.5") or a vendor-native ID.
	ModelID string `json:"model_id"`

	// ModelAlias is the short name used to select the model (e.g. "claude").
	ModelAlias string `json:"model_alias"`

	// RoundNumber is 0 for initial, 1+ for reflection, -1 for synthesis,
	// -2 for scoring.
	RoundNumber int `json:"round_number"`

	// Content is the full response text. Empty when Error is set.
	Content string `json:"content"`

	// Timestamp records when the response completed (UTC).
	Timestamp time.Time `json:"timestamp"`

	// TokenCount is the total tokens used, if reported.
	TokenCount *int `json:"token_count"`

	// InputTokens is the prompt-side token count, if reported.
	InputTokens *int `json:"input_tokens"`

	// OutputTokens is the completion-side token count, if reported.
	OutputTokens *int `json:"output_tokens"`

	// LatencyMS is the wall-clock request latency in milliseconds.
	LatencyMS *int `json:"latency_ms"`

	// Error holds the failure description when the call did not succeed.
	// Empty on success.
	Error string `json:"error,omitempty"`

	// Role is the debate role tag: "initial", "reflection", "synthesis",
	// "scoring", or empty for transcripts predating role tags.
	Role string `json:"role,omitempty"`

	// Routing records how the request was dispatched. Nil in transcripts
	// written before routing was introduced.
	Routing *RoutingDecision `json:"routing,omitempty"`

	// Analysis carries scoring and other post-hoc annotations.
	Analysis map[string]any `json:"analysis,omitempty"`
}

// Succeeded reports whether the response completed without an error.
func (r *ModelResponse) Succeeded() bool {
	return r.Error == ""
}

// RoundType classifies a debate round.
type RoundType string

const (
	RoundInitial    RoundType = "initial"
	RoundReflection RoundType = "reflection"
	RoundSynthesis  RoundType = "synthesis"
)

// DebateRound holds all responses from one round, in panel order.
type DebateRound struct {
	RoundNumber int             `json:"round_number"`
	RoundType   RoundType       `json:"round_type"`
	Responses   []ModelResponse `json:"responses"`
}

// Metadata keys with fixed meaning in DebateTranscript.Metadata.
const (
	MetaVersion            = "version"
	MetaStats              = "stats"
	MetaScores             = "scores"
	MetaExperiment         = "experiment"
	MetaAborted            = "aborted"
	MetaResolvedConfig     = "resolved_config"
	MetaPanelistContext    = "panelist_context"
	MetaSourceTranscriptID = "source_transcript_id"
	MetaReplayConfig       = "replay_config"
)

// DebateTranscript is the complete record of a debate session.
//
// A transcript is mutated only by the orchestrator while its debate runs and
// is immutable after it is returned. Rounds copied into a replay transcript
// are structurally shared with the source and must not be mutated.
type DebateTranscript struct {
	// TranscriptID is a UUID string identifying this debate.
	TranscriptID string `json:"transcript_id"`

	// Query is the original user query.
	Query string `json:"query"`

	// Panel is the ordered list of aliases that participated. Duplicates are
	// preserved and treated as distinct slots.
	Panel []string `json:"panel"`

	// SynthesizerID is the alias selected for synthesis.
	SynthesizerID string `json:"synthesizer_id"`

	// MaxRounds is the configured number of reflection rounds.
	MaxRounds int `json:"max_rounds"`

	// Rounds holds the completed rounds in strictly increasing round order.
	Rounds []DebateRound `json:"rounds"`

	// Synthesis is the final consolidated response, duplicated here from the
	// synthesis round for convenient access. Nil if the debate was aborted
	// before synthesis.
	Synthesis *ModelResponse `json:"synthesis"`

	// CreatedAt records when the debate started (UTC).
	CreatedAt time.Time `json:"created_at"`

	// Metadata carries version info, resolved config, stats, scores, and
	// experiment linkage under the Meta* keys.
	Metadata map[string]any `json:"metadata"`
}

// NewTranscript creates an empty transcript with a fresh UUID and UTC
// creation timestamp.
func NewTranscript(query string, panel []string, synthesizer string, maxRounds int) *DebateTranscript {
	return &DebateTranscript{
		TranscriptID:  uuid.NewString(),
		Query:         query,
		Panel:         append([]string(nil), panel...),
		SynthesizerID: synthesizer,
		MaxRounds:     maxRounds,
		CreatedAt:     time.Now().UTC(),
		Metadata:      map[string]any{},
	}
}

// ShortID returns the first 8 characters of the transcript ID, used in
// filenames and display.
func (t *DebateTranscript) ShortID() string {
	if len(t.TranscriptID) < 8 {
		return t.TranscriptID
	}
	return t.TranscriptID[:8]
}

// AllResponses returns every response in the transcript: all round responses
// in order, then the synthesis if present. The judge's raw scoring response
// is not persisted; only the parsed score survives, on the synthesis
// response's analysis map and under metadata.
func (t *DebateTranscript) AllResponses() []*ModelResponse {
	var out []*ModelResponse
	for i := range t.Rounds {
		for j := range t.Rounds[i].Responses {
			out = append(out, &t.Rounds[i].Responses[j])
		}
	}
	if t.Synthesis != nil {
		out = append(out, t.Synthesis)
	}
	return out
}

// Experiment returns the experiment metadata attached to the transcript, or
// nil when none is present.
func (t *DebateTranscript) Experiment() *ExperimentMetadata {
	raw, ok := t.Metadata[MetaExperiment]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case *ExperimentMetadata:
		return v
	case ExperimentMetadata:
		return &v
	case map[string]any:
		exp, err := experimentFromMap(v)
		if err != nil {
			return nil
		}
		return exp
	}
	return nil
}

// ExperimentMetadata links a debate to a research experiment. It round-trips
// unchanged through transcript save/load.
type ExperimentMetadata struct {
	// ExperimentID groups related debate runs under one experiment. Required.
	ExperimentID string `json:"experiment_id"`

	// SourceTool names the originating tool. Defaults to "manual".
	SourceTool string `json:"source_tool"`

	// CampaignID optionally links to an external campaign or scan.
	CampaignID string `json:"campaign_id,omitempty"`

	// Condition describes the experimental variable being tested.
	Condition string `json:"condition,omitempty"`

	// Variables holds parameter values for this run.
	Variables map[string]any `json:"variables,omitempty"`

	// FindingRef is a reference code for a research finding.
	FindingRef string `json:"finding_ref,omitempty"`
}

// experimentFromMap rebuilds ExperimentMetadata from a decoded JSON object.
func experimentFromMap(m map[string]any) (*ExperimentMetadata, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	exp := &ExperimentMetadata{SourceTool: "manual"}
	if err := json.Unmarshal(raw, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// Stats summarizes token and cost usage over a completed transcript. Stored
// under Metadata[MetaStats].
type Stats struct {
	// TotalTokens sums per-response token counts, treating absent as zero.
	TotalTokens int `json:"total_tokens"`

	// TotalCostUSD sums per-response costs. Nil when no response yielded a
	// cost — unknown is never reported as zero.
	TotalCostUSD *float64 `json:"total_cost_usd"`

	// PerModel breaks usage down by model alias.
	PerModel map[string]ModelStats `json:"per_model"`
}

// ModelStats is per-alias usage within Stats.
type ModelStats struct {
	Tokens       int      `json:"tokens"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	Calls        int      `json:"calls"`
	CostUSD      *float64 `json:"cost_usd"`
}
