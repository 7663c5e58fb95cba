package debate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/rspicer/dissent/internal/prompts"
	"github.com/rspicer/dissent/pkg/pricing"
	"github.com/rspicer/dissent/pkg/provider"
	"github.com/rspicer/dissent/pkg/types"
)

// fakeDispatcher is a scripted Dispatcher. respond decides each response;
// the zero value answers every request with canned content.
type fakeDispatcher struct {
	mu      sync.Mutex
	reqs    []provider.Request
	respond func(req provider.Request) types.ModelResponse
}

func (f *fakeDispatcher) Route(aliasOrID string) types.RoutingDecision {
	return types.RoutingDecision{Vendor: types.VendorOpenRouter, Mode: types.ModeAuto, ViaOpenRouter: true}
}

func (f *fakeDispatcher) Complete(ctx context.Context, req provider.Request) (types.ModelResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	respond := f.respond
	f.mu.Unlock()

	var resp types.ModelResponse
	if respond != nil {
		resp = respond(req)
	} else {
		resp = provider.NewResponse(req)
		resp.Content = "answer from " + req.Alias
		resp.TokenCount = provider.IntPtr(10)
	}
	decision := f.Route(req.ModelID)
	resp.Routing = &decision
	return resp, nil
}

func (f *fakeDispatcher) CompleteParallel(ctx context.Context, reqs []provider.Request) ([]types.ModelResponse, error) {
	out := make([]types.ModelResponse, len(reqs))
	for i, req := range reqs {
		resp, err := f.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		out[i] = resp
	}
	return out, nil
}

// requests returns a copy of all recorded requests.
func (f *fakeDispatcher) requests() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Request(nil), f.reqs...)
}

// requestFor finds the recorded request for an alias and round.
func (f *fakeDispatcher) requestFor(alias string, round int) (provider.Request, bool) {
	for _, req := range f.requests() {
		if req.Alias == alias && req.Round == round {
			return req, true
		}
	}
	return provider.Request{}, false
}

// ── fresh debates ─────────────────────────────────────────────────────────────

// TestRunHappyPath checks the panel [A, B], rounds 1 scenario end to end:
// round structure, panel order, role tags, synthesis, stats, and callback
// count.
func TestRunHappyPath(t *testing.T) {
	d := &fakeDispatcher{}
	engine := New(d)

	var callbackRounds []int
	tr, err := engine.Run(context.Background(), "why?", Options{
		Panel:       []string{"claude", "gpt"},
		Synthesizer: "claude",
		Rounds:      1,
		OnRound: func(round types.DebateRound) {
			callbackRounds = append(callbackRounds, round.RoundNumber)
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(tr.Rounds) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(tr.Rounds))
	}
	for i, round := range tr.Rounds {
		if round.RoundNumber != i {
			t.Errorf("round %d numbered %d", i, round.RoundNumber)
		}
		if len(round.Responses) != 2 {
			t.Fatalf("round %d has %d responses", i, len(round.Responses))
		}
		if round.Responses[0].ModelAlias != "claude" || round.Responses[1].ModelAlias != "gpt" {
			t.Errorf("round %d not in panel order: %s, %s", i, round.Responses[0].ModelAlias, round.Responses[1].ModelAlias)
		}
	}
	if tr.Rounds[0].RoundType != types.RoundInitial || tr.Rounds[1].RoundType != types.RoundReflection {
		t.Error("round types wrong")
	}
	for _, resp := range tr.Rounds[0].Responses {
		if resp.Role != types.RoleInitial {
			t.Errorf("round 0 role = %q", resp.Role)
		}
		if resp.Routing == nil {
			t.Error("expected routing decision on every response")
		}
	}

	if tr.Synthesis == nil {
		t.Fatal("expected synthesis")
	}
	if tr.Synthesis.RoundNumber != types.SynthesisRound || tr.Synthesis.Role != types.RoleSynthesis {
		t.Errorf("synthesis round/role = %d/%q", tr.Synthesis.RoundNumber, tr.Synthesis.Role)
	}
	if tr.Synthesis.ModelAlias != "claude" {
		t.Errorf("synthesizer = %q", tr.Synthesis.ModelAlias)
	}

	// 5 dispatches: 2 + 2 + synthesis, each reporting 10 tokens.
	stats, ok := tr.Metadata[types.MetaStats].(*types.Stats)
	if !ok {
		t.Fatalf("stats missing: %T", tr.Metadata[types.MetaStats])
	}
	if stats.TotalTokens != 50 {
		t.Errorf("total tokens = %d, want 50", stats.TotalTokens)
	}
	if stats.TotalCostUSD != nil {
		t.Error("expected absent cost without pricing")
	}

	// Two debate rounds plus the synthetic synthesis round.
	wantCallbacks := []int{0, 1, types.SynthesisRound}
	if fmt.Sprint(callbackRounds) != fmt.Sprint(wantCallbacks) {
		t.Errorf("callback rounds = %v, want %v", callbackRounds, wantCallbacks)
	}

	if tr.Metadata[types.MetaVersion] != Version {
		t.Errorf("version = %v", tr.Metadata[types.MetaVersion])
	}
	if _, ok := tr.Metadata[types.MetaAborted]; ok {
		t.Error("aborted marker must be absent on success")
	}
}

// TestRunPeerError checks the panel [A, B, C] scenario where B errors in
// round 0: reflection prompts skip B's block, B itself retries with a
// placeholder, and the debate completes.
func TestRunPeerError(t *testing.T) {
	d := &fakeDispatcher{}
	d.respond = func(req provider.Request) types.ModelResponse {
		if req.Alias == "gpt" && req.Round == 0 {
			resp := provider.NewResponse(req)
			resp.Error = "upstream 500"
			return resp
		}
		resp := provider.NewResponse(req)
		resp.Content = "answer from " + req.Alias
		return resp
	}
	engine := New(d)

	tr, err := engine.Run(context.Background(), "why?", Options{
		Panel:  []string{"claude", "gpt", "gemini"},
		Rounds: 2,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	r0 := tr.Rounds[0].Responses
	if r0[1].Error == "" || r0[1].Content != "" {
		t.Errorf("expected B's round 0 entry error-bearing: %+v", r0[1])
	}

	claudeReq, ok := d.requestFor("claude", 1)
	if !ok {
		t.Fatal("no reflection request for claude")
	}
	if strings.Contains(claudeReq.Prompt, "[gpt]:") {
		t.Error("claude's reflection prompt includes the errored peer")
	}
	if !strings.Contains(claudeReq.Prompt, "[gemini]:") {
		t.Error("claude's reflection prompt is missing the surviving peer")
	}

	gptReq, ok := d.requestFor("gpt", 1)
	if !ok {
		t.Fatal("no reflection request for gpt")
	}
	if !strings.Contains(gptReq.Prompt, prompts.NoResponsePlaceholder) {
		t.Error("gpt's reflection prompt should carry the placeholder for its own response")
	}
	if !strings.Contains(gptReq.Prompt, "[claude]:") || !strings.Contains(gptReq.Prompt, "[gemini]:") {
		t.Error("gpt's reflection prompt should see both surviving peers")
	}

	synthReq, ok := d.requestFor("claude", types.SynthesisRound)
	if !ok {
		t.Fatal("no synthesis request")
	}
	if strings.Contains(synthReq.Prompt, "[gpt]:\nupstream") || strings.Contains(strings.Split(synthReq.Prompt, "REFLECTION")[0], "[gpt]:") {
		t.Error("synthesis prompt should omit B's errored round 0 entry")
	}

	if tr.Synthesis == nil {
		t.Error("debate should complete despite the peer error")
	}
}

// TestRunAllPeersError checks that a round where everyone fails still
// appends and the debate continues with empty peer sections.
func TestRunAllPeersError(t *testing.T) {
	d := &fakeDispatcher{}
	d.respond = func(req provider.Request) types.ModelResponse {
		if req.Round == 0 {
			resp := provider.NewResponse(req)
			resp.Error = "boom"
			return resp
		}
		resp := provider.NewResponse(req)
		resp.Content = "recovered"
		return resp
	}
	engine := New(d)

	tr, err := engine.Run(context.Background(), "why?", Options{
		Panel:  []string{"claude", "gpt"},
		Rounds: 1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tr.Rounds) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(tr.Rounds))
	}

	req, ok := d.requestFor("claude", 1)
	if !ok {
		t.Fatal("no reflection request")
	}
	if !strings.Contains(req.Prompt, prompts.NoResponsePlaceholder) {
		t.Error("expected placeholder for own errored response")
	}
	if strings.Contains(req.Prompt, "[gpt]:") {
		t.Error("expected zero peer blocks")
	}
	if tr.Synthesis == nil {
		t.Error("expected debate to complete")
	}
}

// TestRunDuplicatePanel checks that duplicate panelists collapse by alias in
// reflection prompts: the last response for an alias is every duplicate
// slot's "own previous" reference, and a same-alias sibling never appears as
// a peer.
func TestRunDuplicatePanel(t *testing.T) {
	d := &fakeDispatcher{}
	var dupTakes int
	d.respond = func(req provider.Request) types.ModelResponse {
		resp := provider.NewResponse(req)
		if req.Round == 0 && req.Alias == "dup" {
			dupTakes++
			if dupTakes == 1 {
				resp.Content = "first take"
			} else {
				resp.Content = "second take"
			}
			return resp
		}
		resp.Content = "view from " + req.Alias
		return resp
	}
	engine := New(d)

	tr, err := engine.Run(context.Background(), "why?", Options{
		Panel:  []string{"dup", "dup", "gpt"},
		Rounds: 1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tr.Rounds[0].Responses) != 3 {
		t.Fatalf("round 0 has %d responses, want one per slot", len(tr.Rounds[0].Responses))
	}

	var dupReqs []provider.Request
	for _, req := range d.requests() {
		if req.Alias == "dup" && req.Round == 1 {
			dupReqs = append(dupReqs, req)
		}
	}
	if len(dupReqs) != 2 {
		t.Fatalf("expected 2 reflection requests for dup, got %d", len(dupReqs))
	}
	for i, req := range dupReqs {
		if !strings.Contains(req.Prompt, "second take") {
			t.Errorf("dup slot %d: own reference should be the last response", i)
		}
		if strings.Contains(req.Prompt, "first take") {
			t.Errorf("dup slot %d: superseded response leaked into the prompt", i)
		}
		if strings.Contains(req.Prompt, "[dup]:") {
			t.Errorf("dup slot %d: same-alias sibling appeared as a peer", i)
		}
	}
	if dupReqs[0].Prompt != dupReqs[1].Prompt {
		t.Error("duplicate slots should receive identical reflection prompts")
	}

	gptReq, ok := d.requestFor("gpt", 1)
	if !ok {
		t.Fatal("no reflection request for gpt")
	}
	if got := strings.Count(gptReq.Prompt, "[dup]:"); got != 1 {
		t.Errorf("gpt saw %d dup peer blocks, want 1", got)
	}
	if !strings.Contains(gptReq.Prompt, "second take") || strings.Contains(gptReq.Prompt, "first take") {
		t.Error("gpt's dup peer block should carry the last response only")
	}
}

// TestRunPanelistContext checks context injection and its metadata record.
func TestRunPanelistContext(t *testing.T) {
	d := &fakeDispatcher{}
	engine := New(d)

	ctxMap := map[string]string{"claude": "you are a physicist"}
	tr, err := engine.Run(context.Background(), "why?", Options{
		Panel:   []string{"claude", "gpt"},
		Rounds:  1,
		Context: ctxMap,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	claudeReq, _ := d.requestFor("claude", 0)
	if !strings.HasPrefix(claudeReq.Prompt, "you are a physicist\n\n") {
		t.Error("context not injected for claude")
	}
	gptReq, _ := d.requestFor("gpt", 0)
	if strings.Contains(gptReq.Prompt, "physicist") {
		t.Error("context leaked to the wrong panelist")
	}

	stored, ok := tr.Metadata[types.MetaPanelistContext].(map[string]string)
	if !ok || stored["claude"] != "you are a physicist" {
		t.Errorf("panelist context not recorded: %v", tr.Metadata[types.MetaPanelistContext])
	}
}

// TestRunBadArguments checks option validation.
func TestRunBadArguments(t *testing.T) {
	engine := New(&fakeDispatcher{})
	ctx := context.Background()

	if _, err := engine.Run(ctx, "q", Options{Panel: nil, Rounds: 1}); !errors.Is(err, ErrBadArguments) {
		t.Errorf("empty panel: got %v", err)
	}
	if _, err := engine.Run(ctx, "q", Options{Panel: []string{"a"}, Rounds: 0}); !errors.Is(err, ErrBadArguments) {
		t.Errorf("rounds 0: got %v", err)
	}
	if _, err := engine.Run(ctx, "q", Options{Panel: []string{"a"}, Rounds: 4}); !errors.Is(err, ErrBadArguments) {
		t.Errorf("rounds 4: got %v", err)
	}
}

// TestRunCallbackPanic checks that a panicking progress hook does not abort
// the debate.
func TestRunCallbackPanic(t *testing.T) {
	engine := New(&fakeDispatcher{})
	tr, err := engine.Run(context.Background(), "q", Options{
		Panel:  []string{"claude"},
		Rounds: 1,
		OnRound: func(types.DebateRound) {
			panic("broken hook")
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tr.Synthesis == nil || len(tr.Rounds) != 2 {
		t.Error("debate should complete despite panicking callback")
	}
}

// ── cancellation ──────────────────────────────────────────────────────────────

// TestRunCancelledBeforeRoundZero checks the zero-round partial transcript.
func TestRunCancelledBeforeRoundZero(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &fakeDispatcher{}
	d.respond = func(req provider.Request) types.ModelResponse {
		cancel()
		resp := provider.NewResponse(req)
		resp.Error = context.Canceled.Error()
		return resp
	}
	engine := New(d)

	callbacks := 0
	tr, err := engine.Run(ctx, "q", Options{
		Panel:   []string{"claude", "gpt"},
		Rounds:  1,
		OnRound: func(types.DebateRound) { callbacks++ },
	})
	if err != nil {
		t.Fatalf("expected partial transcript with nil error, got %v", err)
	}
	if len(tr.Rounds) != 0 {
		t.Errorf("expected zero rounds, got %d", len(tr.Rounds))
	}
	if tr.Synthesis != nil {
		t.Error("expected no synthesis")
	}
	if aborted, _ := tr.Metadata[types.MetaAborted].(bool); !aborted {
		t.Error("expected aborted marker")
	}
	if callbacks != 0 {
		t.Errorf("expected no callbacks, got %d", callbacks)
	}
}

// TestRunCancelledMidRoundOne checks that a round whose dispatches complete
// is appended before cancellation is observed: 2 rounds, no synthesis,
// callback fired exactly twice.
func TestRunCancelledMidRoundOne(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &fakeDispatcher{}
	d.respond = func(req provider.Request) types.ModelResponse {
		if req.Round == 1 {
			// Cancellation fires while round 1 is in flight; its dispatches
			// still complete.
			cancel()
		}
		resp := provider.NewResponse(req)
		resp.Content = "answer from " + req.Alias
		return resp
	}
	engine := New(d)

	callbacks := 0
	tr, err := engine.Run(ctx, "q", Options{
		Panel:   []string{"claude", "gpt"},
		Rounds:  2,
		OnRound: func(types.DebateRound) { callbacks++ },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tr.Rounds) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(tr.Rounds))
	}
	if len(tr.Rounds[1].Responses) != 2 {
		t.Error("round 1 should not be truncated")
	}
	if tr.Synthesis != nil {
		t.Error("expected no synthesis after cancellation")
	}
	if aborted, _ := tr.Metadata[types.MetaAborted].(bool); !aborted {
		t.Error("expected aborted marker")
	}
	if callbacks != 2 {
		t.Errorf("expected exactly 2 callbacks, got %d", callbacks)
	}
}

// ── scoring ───────────────────────────────────────────────────────────────────

// TestRunScoring checks the judge dispatch and the dual score attachment.
func TestRunScoring(t *testing.T) {
	d := &fakeDispatcher{}
	d.respond = func(req provider.Request) types.ModelResponse {
		resp := provider.NewResponse(req)
		if req.Round == types.ScoringRound {
			resp.Content = "ACCURACY: 4\nCOMPLETENESS: 5\nEXPLANATION: thorough"
		} else {
			resp.Content = "answer"
		}
		return resp
	}
	engine := New(d)

	tr, err := engine.Run(context.Background(), "q", Options{
		Panel:       []string{"claude"},
		Rounds:      1,
		GroundTruth: "the reference",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	judgeReq, ok := d.requestFor("claude", types.ScoringRound)
	if !ok {
		t.Fatal("no scoring dispatch")
	}
	if !strings.Contains(judgeReq.Prompt, "the reference") {
		t.Error("ground truth missing from judge prompt")
	}

	attached, ok := tr.Synthesis.Analysis["ground_truth_score"].(map[string]any)
	if !ok {
		t.Fatal("score missing from synthesis analysis")
	}
	scores, ok := tr.Metadata[types.MetaScores].(map[string]any)
	if !ok {
		t.Fatal("score missing from metadata")
	}
	duplicated, ok := scores["synthesis_score"].(map[string]any)
	if !ok {
		t.Fatal("synthesis_score missing")
	}
	if fmt.Sprint(attached) != fmt.Sprint(duplicated) {
		t.Error("the two score copies differ")
	}
	if attached["accuracy"] != 4 || attached["completeness"] != 5 || attached["overall"] != 4.5 {
		t.Errorf("unexpected score: %v", attached)
	}
}

// TestRunScoringUnparseable checks the -1 marker path.
func TestRunScoringUnparseable(t *testing.T) {
	d := &fakeDispatcher{}
	d.respond = func(req provider.Request) types.ModelResponse {
		resp := provider.NewResponse(req)
		if req.Round == types.ScoringRound {
			resp.Content = "I would rather not assign numbers."
		} else {
			resp.Content = "answer"
		}
		return resp
	}
	engine := New(d)

	tr, err := engine.Run(context.Background(), "q", Options{
		Panel:       []string{"claude"},
		Rounds:      1,
		GroundTruth: "ref",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	score := tr.Synthesis.Analysis["ground_truth_score"].(map[string]any)
	if score["accuracy"] != -1 || score["completeness"] != -1 {
		t.Errorf("expected -1 markers, got %v", score)
	}
	expl, _ := score["explanation"].(string)
	if !strings.Contains(expl, "I would rather not") {
		t.Errorf("expected raw content preserved: %q", expl)
	}
}

// TestRunNoScoringWithoutGroundTruth checks that no judge dispatch happens
// without a reference.
func TestRunNoScoringWithoutGroundTruth(t *testing.T) {
	d := &fakeDispatcher{}
	engine := New(d)
	if _, err := engine.Run(context.Background(), "q", Options{Panel: []string{"a"}, Rounds: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, found := d.requestFor("a", types.ScoringRound); found {
		t.Error("unexpected scoring dispatch")
	}
}

// TestRunNoScoringOnSynthesisError checks that a failed synthesis skips
// scoring.
func TestRunNoScoringOnSynthesisError(t *testing.T) {
	d := &fakeDispatcher{}
	d.respond = func(req provider.Request) types.ModelResponse {
		resp := provider.NewResponse(req)
		if req.Round == types.SynthesisRound {
			resp.Error = "synthesizer down"
		} else {
			resp.Content = "answer"
		}
		return resp
	}
	engine := New(d)

	tr, err := engine.Run(context.Background(), "q", Options{
		Panel:       []string{"a"},
		Rounds:      1,
		GroundTruth: "ref",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tr.Synthesis == nil || tr.Synthesis.Error == "" {
		t.Fatal("expected error-bearing synthesis recorded")
	}
	if _, found := d.requestFor("a", types.ScoringRound); found {
		t.Error("scoring must not run after a failed synthesis")
	}
}

// ── stats ─────────────────────────────────────────────────────────────────────

// fakePricing answers lookups from a fixed table.
type fakePricing struct {
	prices map[string]pricing.ModelPricing
}

func (f fakePricing) Prefetch(ctx context.Context) {}

func (f fakePricing) GetPricing(ctx context.Context, modelID string) (pricing.ModelPricing, bool) {
	p, ok := f.prices[modelID]
	return p, ok
}

// TestComputeStats checks per-model aggregation and the cost formula.
func TestComputeStats(t *testing.T) {
	engine := New(&fakeDispatcher{}, WithPricing(fakePricing{prices: map[string]pricing.ModelPricing{
		"anthropic/claude-sonnet-4.5": {PromptPrice: 0.000003, CompletionPrice: 0.000015},
	}}))

	tr := types.NewTranscript("q", []string{"claude", "gpt"}, "claude", 1)
	tr.Rounds = []types.DebateRound{{
		RoundNumber: 0,
		Responses: []types.ModelResponse{
			{
				ModelID: "anthropic/claude-sonnet-4.5", ModelAlias: "claude",
				TokenCount: provider.IntPtr(150), InputTokens: provider.IntPtr(100), OutputTokens: provider.IntPtr(50),
			},
			// No token split reported: contributes tokens but no cost.
			{ModelID: "openai/gpt-5.2", ModelAlias: "gpt", TokenCount: provider.IntPtr(80)},
		},
	}}

	stats := engine.ComputeStats(context.Background(), tr)
	if stats.TotalTokens != 230 {
		t.Errorf("total tokens = %d", stats.TotalTokens)
	}
	wantCost := 100*0.000003 + 50*0.000015
	if stats.TotalCostUSD == nil || math.Abs(*stats.TotalCostUSD-wantCost) > 1e-12 {
		t.Errorf("total cost = %v, want %v", stats.TotalCostUSD, wantCost)
	}

	claude := stats.PerModel["claude"]
	if claude.Calls != 1 || claude.Tokens != 150 || claude.InputTokens != 100 || claude.OutputTokens != 50 {
		t.Errorf("claude stats = %+v", claude)
	}
	if claude.CostUSD == nil || math.Abs(*claude.CostUSD-wantCost) > 1e-12 {
		t.Errorf("claude cost = %v", claude.CostUSD)
	}
	gpt := stats.PerModel["gpt"]
	if gpt.CostUSD != nil {
		t.Error("expected absent cost without token split")
	}
}

// TestComputeStatsNoPricing checks that cost stays absent, never zero, when
// pricing is unavailable.
func TestComputeStatsNoPricing(t *testing.T) {
	engine := New(&fakeDispatcher{})
	tr := types.NewTranscript("q", []string{"a"}, "a", 1)
	tr.Rounds = []types.DebateRound{{Responses: []types.ModelResponse{{
		ModelAlias: "a", TokenCount: provider.IntPtr(10),
		InputTokens: provider.IntPtr(6), OutputTokens: provider.IntPtr(4),
	}}}}

	stats := engine.ComputeStats(context.Background(), tr)
	if stats.TotalCostUSD != nil {
		t.Errorf("expected nil cost, got %v", *stats.TotalCostUSD)
	}
	if stats.TotalTokens != 10 {
		t.Errorf("total tokens = %d", stats.TotalTokens)
	}
}
