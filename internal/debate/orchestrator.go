// Package debate implements the round-structured debate engine: parallel
// initial fan-out, reflection rounds, synthesis, optional ground-truth
// scoring, and replay of prior transcripts.
//
// Within one round all panel dispatches run concurrently and the engine
// waits for all of them; across rounds execution is strictly sequential. The
// transcript is mutated only between those parallel waits, so it needs no
// locking of its own.
package debate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rspicer/dissent/internal/observe"
	"github.com/rspicer/dissent/internal/prompts"
	"github.com/rspicer/dissent/internal/scoring"
	"github.com/rspicer/dissent/pkg/pricing"
	"github.com/rspicer/dissent/pkg/provider"
	"github.com/rspicer/dissent/pkg/types"
)

// Version is recorded under transcript metadata so old transcripts identify
// the engine that produced them.
const Version = "0.3.0"

// MaxReflectionRounds caps the reflection round count for fresh debates and
// replay extensions.
const MaxReflectionRounds = 3

// ErrBadArguments is returned for invalid debate parameters: empty panel,
// round count out of range, or a negative replay extension.
var ErrBadArguments = errors.New("debate: invalid arguments")

// Dispatcher is the routing surface the engine drives. *router.Router
// satisfies it; tests substitute scripted fakes.
type Dispatcher interface {
	Route(aliasOrID string) types.RoutingDecision
	Complete(ctx context.Context, req provider.Request) (types.ModelResponse, error)
	CompleteParallel(ctx context.Context, reqs []provider.Request) ([]types.ModelResponse, error)
}

// PricingSource answers per-token pricing lookups. *pricing.Cache satisfies
// it. Nil disables cost computation.
type PricingSource interface {
	Prefetch(ctx context.Context)
	GetPricing(ctx context.Context, modelID string) (pricing.ModelPricing, bool)
}

// ProgressFunc receives each round right after it is appended to the
// transcript. A panicking callback is logged and does not abort the debate.
type ProgressFunc func(round types.DebateRound)

// Options carries the per-debate parameters.
type Options struct {
	// Panel is the ordered alias list. Duplicates are distinct slots.
	Panel []string

	// Synthesizer is the alias that produces the final synthesis. Defaults
	// to the first panelist.
	Synthesizer string

	// Rounds is the reflection round count, 1 to MaxReflectionRounds.
	Rounds int

	// GroundTruth enables judge scoring of the synthesis when non-empty.
	GroundTruth string

	// Context maps aliases to per-panelist context injected ahead of every
	// prompt for that alias.
	Context map[string]string

	// Experiment links the transcript to a research experiment.
	Experiment *types.ExperimentMetadata

	// OnRound is the optional progress callback.
	OnRound ProgressFunc
}

// Engine runs debates over a Dispatcher.
type Engine struct {
	dispatcher Dispatcher
	pricing    PricingSource
	metrics    *observe.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithPricing attaches a pricing source for cost computation.
func WithPricing(p PricingSource) Option {
	return func(e *Engine) {
		e.pricing = p
	}
}

// WithMetrics overrides the metrics instance. Defaults to the package
// default instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine over an opened dispatcher.
func New(dispatcher Dispatcher, opts ...Option) *Engine {
	e := &Engine{dispatcher: dispatcher}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Run executes a fresh debate and returns its transcript.
//
// Per-response failures never abort the debate; they surface as
// error-bearing entries in the rounds. Cancellation lets the in-flight round
// finish, then returns the partial transcript with metadata aborted=true and
// a nil error. The error return is reserved for invalid arguments and
// unknown aliases.
func (e *Engine) Run(ctx context.Context, query string, opts Options) (*types.DebateTranscript, error) {
	if err := validateOptions(&opts); err != nil {
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "debate.run")
	defer span.End()
	started := time.Now()

	if e.pricing != nil {
		e.pricing.Prefetch(ctx)
	}

	t := types.NewTranscript(query, opts.Panel, opts.Synthesizer, opts.Rounds)
	e.stampMetadata(t, opts)

	initialReqs := make([]provider.Request, len(opts.Panel))
	for i, alias := range opts.Panel {
		initialReqs[i] = provider.Request{
			ModelID: alias,
			Alias:   alias,
			Prompt:  prompts.InjectContext(opts.Context[alias], prompts.FormatInitial(query)),
			Round:   0,
		}
	}
	responses, ok, err := e.dispatchRound(ctx, t, types.RoundInitial, types.RoleInitial, 0, initialReqs, opts.OnRound)
	if err != nil {
		return nil, err
	}
	if !ok {
		return e.finish(ctx, t, started, true), nil
	}

	if aborted, err := e.runReflections(ctx, t, query, opts, responses, 1, opts.Rounds); err != nil {
		return nil, err
	} else if aborted {
		return e.finish(ctx, t, started, true), nil
	}

	if err := e.runSynthesisAndScoring(ctx, t, query, opts); err != nil {
		return nil, err
	}
	if ctx.Err() != nil && t.Synthesis == nil {
		return e.finish(ctx, t, started, true), nil
	}
	return e.finish(ctx, t, started, false), nil
}

// runReflections executes count reflection rounds numbered first,
// first+1, ..., seeded with prev as the "previous round". Returns
// aborted=true when cancellation was observed.
func (e *Engine) runReflections(ctx context.Context, t *types.DebateTranscript, query string, opts Options, prev []types.ModelResponse, first, count int) (aborted bool, err error) {
	for r := first; r < first+count; r++ {
		reqs := e.reflectionRequests(query, opts, prev, r)
		responses, ok, err := e.dispatchRound(ctx, t, types.RoundReflection, types.RoleReflection, r, reqs, opts.OnRound)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		prev = responses
	}
	return false, nil
}

// reflectionRequests builds one reflection request per panel slot from the
// previous round's responses. Responses collapse by alias, last one wins, so
// duplicate panelists share the same "own previous" reference and never see a
// same-alias sibling as a peer. An alias with no surviving response gets a
// placeholder; errored responses are dropped entirely.
func (e *Engine) reflectionRequests(query string, opts Options, prev []types.ModelResponse, round int) []provider.Request {
	latest := make(map[string]string, len(prev))
	var order []string
	for _, r := range prev {
		if !r.Succeeded() || r.Content == "" {
			continue
		}
		if _, seen := latest[r.ModelAlias]; !seen {
			order = append(order, r.ModelAlias)
		}
		latest[r.ModelAlias] = r.Content
	}

	reqs := make([]provider.Request, len(opts.Panel))
	for i, alias := range opts.Panel {
		own := prompts.NoResponsePlaceholder
		if content, ok := latest[alias]; ok {
			own = content
		}
		var peers []prompts.PeerResponse
		for _, peerAlias := range order {
			if peerAlias == alias {
				continue
			}
			peers = append(peers, prompts.PeerResponse{Alias: peerAlias, Content: latest[peerAlias]})
		}
		reqs[i] = provider.Request{
			ModelID: alias,
			Alias:   alias,
			Prompt:  prompts.InjectContext(opts.Context[alias], prompts.FormatReflection(query, own, peers)),
			Round:   round,
		}
	}
	return reqs
}

// dispatchRound fans a round out, stamps roles, appends it, and fires the
// progress callback. ok=false signals that cancellation was observed; the
// round is still appended unless no response at all completed.
func (e *Engine) dispatchRound(ctx context.Context, t *types.DebateTranscript, rt types.RoundType, role string, roundNum int, reqs []provider.Request, onRound ProgressFunc) (responses []types.ModelResponse, ok bool, err error) {
	roundStart := time.Now()
	responses, err = e.dispatcher.CompleteParallel(ctx, reqs)
	if err != nil {
		return nil, false, err
	}

	anyCompleted := false
	for i := range responses {
		responses[i].Role = role
		e.recordResponse(ctx, &responses[i])
		if responses[i].Succeeded() {
			anyCompleted = true
		}
	}

	cancelled := ctx.Err() != nil
	if cancelled && !anyCompleted {
		// Nothing in this round survived the cancellation; discard it whole
		// rather than appending a round of pure context errors.
		return nil, false, nil
	}

	round := types.DebateRound{RoundNumber: roundNum, RoundType: rt, Responses: responses}
	t.Rounds = append(t.Rounds, round)
	e.metrics.RecordRoundDuration(ctx, string(rt), time.Since(roundStart).Seconds())
	fireCallback(onRound, round)

	return responses, !cancelled, nil
}

// runSynthesisAndScoring performs the synthesis dispatch and, when a ground
// truth is present and the synthesis succeeded, the judge scoring dispatch.
func (e *Engine) runSynthesisAndScoring(ctx context.Context, t *types.DebateTranscript, query string, opts Options) error {
	formatted := prompts.FormatTranscript(roundSummaries(t.Rounds))
	req := provider.Request{
		ModelID: opts.Synthesizer,
		Alias:   opts.Synthesizer,
		Prompt:  prompts.InjectContext(opts.Context[opts.Synthesizer], prompts.FormatSynthesis(query, formatted)),
		Round:   types.SynthesisRound,
	}
	resp, err := e.dispatcher.Complete(ctx, req)
	if err != nil {
		return err
	}
	resp.Role = types.RoleSynthesis
	e.recordResponse(ctx, &resp)

	if ctx.Err() != nil && !resp.Succeeded() {
		// Cancelled during synthesis; the transcript stays synthesis-less.
		return nil
	}
	t.Synthesis = &resp
	fireCallback(opts.OnRound, types.DebateRound{
		RoundNumber: types.SynthesisRound,
		RoundType:   types.RoundSynthesis,
		Responses:   []types.ModelResponse{resp},
	})

	if opts.GroundTruth == "" || !resp.Succeeded() {
		return nil
	}
	return e.runScoring(ctx, t, query, opts)
}

// runScoring dispatches the judge call and attaches the parsed score to both
// the synthesis response and the transcript metadata.
func (e *Engine) runScoring(ctx context.Context, t *types.DebateTranscript, query string, opts Options) error {
	req := provider.Request{
		ModelID: opts.Synthesizer,
		Alias:   opts.Synthesizer,
		Prompt:  prompts.FormatScoring(query, opts.GroundTruth, t.Synthesis.Content),
		Round:   types.ScoringRound,
	}
	resp, err := e.dispatcher.Complete(ctx, req)
	if err != nil {
		return err
	}
	resp.Role = types.RoleScoring
	e.recordResponse(ctx, &resp)

	var score scoring.GroundTruthScore
	if !resp.Succeeded() {
		score = scoring.Failed(opts.Synthesizer, resp.Error)
	} else if parsed, perr := scoring.NewScore(opts.Synthesizer, resp.Content); perr != nil {
		observe.Logger(ctx).Warn("debate: judge response unparseable, recording failure marker", "err", perr)
		score = scoring.Failed(opts.Synthesizer, resp.Content)
	} else {
		score = parsed
	}

	// Both attachment points receive the same map so the two copies stay
	// structurally identical.
	scoreMap := score.ToMap()
	if t.Synthesis.Analysis == nil {
		t.Synthesis.Analysis = map[string]any{}
	}
	t.Synthesis.Analysis["ground_truth_score"] = scoreMap
	t.Metadata[types.MetaScores] = map[string]any{"synthesis_score": scoreMap}
	return nil
}

// finish stamps stats and the aborted marker and records debate-level
// metrics.
func (e *Engine) finish(ctx context.Context, t *types.DebateTranscript, started time.Time, aborted bool) *types.DebateTranscript {
	if aborted {
		t.Metadata[types.MetaAborted] = true
		e.metrics.RecordAborted(ctx)
	}
	t.Metadata[types.MetaStats] = e.ComputeStats(ctx, t)
	e.metrics.RecordDebateDuration(ctx, time.Since(started).Seconds())
	return t
}

// stampMetadata records the resolved configuration, panelist context, and
// experiment linkage on a fresh transcript.
func (e *Engine) stampMetadata(t *types.DebateTranscript, opts Options) {
	t.Metadata[types.MetaVersion] = Version
	t.Metadata[types.MetaResolvedConfig] = map[string]any{
		"panel":       append([]string(nil), opts.Panel...),
		"synthesizer": opts.Synthesizer,
		"rounds":      opts.Rounds,
	}
	if len(opts.Context) > 0 {
		ctxCopy := make(map[string]string, len(opts.Context))
		for k, v := range opts.Context {
			ctxCopy[k] = v
		}
		t.Metadata[types.MetaPanelistContext] = ctxCopy
	}
	if opts.Experiment != nil {
		exp := *opts.Experiment
		if exp.SourceTool == "" {
			exp.SourceTool = "manual"
		}
		t.Metadata[types.MetaExperiment] = &exp
	}
}

// recordResponse emits per-dispatch metrics.
func (e *Engine) recordResponse(ctx context.Context, resp *types.ModelResponse) {
	vendor := ""
	via := false
	if resp.Routing != nil {
		vendor = string(resp.Routing.Vendor)
		via = resp.Routing.ViaOpenRouter
	}
	e.metrics.RecordRequest(ctx, vendor, via, resp.Succeeded())
	in, out := 0, 0
	if resp.InputTokens != nil {
		in = *resp.InputTokens
	}
	if resp.OutputTokens != nil {
		out = *resp.OutputTokens
	}
	e.metrics.RecordTokens(ctx, resp.ModelAlias, in, out)
}

// roundSummaries projects appended rounds into the synthesis transcript
// rendering, keeping surviving responses only.
func roundSummaries(rounds []types.DebateRound) []prompts.RoundSummary {
	out := make([]prompts.RoundSummary, 0, len(rounds))
	for _, r := range rounds {
		summary := prompts.RoundSummary{RoundType: r.RoundType}
		for _, resp := range r.Responses {
			if !resp.Succeeded() || resp.Content == "" {
				continue
			}
			summary.Responses = append(summary.Responses, prompts.PeerResponse{
				Alias:   resp.ModelAlias,
				Content: resp.Content,
			})
		}
		out = append(out, summary)
	}
	return out
}

// fireCallback invokes the progress callback, swallowing panics so a broken
// hook cannot abort the debate.
func fireCallback(fn ProgressFunc, round types.DebateRound) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("debate: progress callback panicked", "round", round.RoundNumber, "panic", r)
		}
	}()
	fn(round)
}

func validateOptions(opts *Options) error {
	if len(opts.Panel) == 0 {
		return fmt.Errorf("%w: panel must not be empty", ErrBadArguments)
	}
	if opts.Rounds < 1 || opts.Rounds > MaxReflectionRounds {
		return fmt.Errorf("%w: rounds %d out of range [1, %d]", ErrBadArguments, opts.Rounds, MaxReflectionRounds)
	}
	if opts.Synthesizer == "" {
		opts.Synthesizer = opts.Panel[0]
	}
	return nil
}
