package debate

import (
	"context"
	"fmt"
	"time"

	"github.com/rspicer/dissent/internal/observe"
	"github.com/rspicer/dissent/pkg/types"
)

// ReplayOptions carries the parameters for replaying a prior transcript.
type ReplayOptions struct {
	// SynthesizerOverride replaces the source transcript's synthesizer
	// alias. Empty keeps the original.
	SynthesizerOverride string

	// AdditionalRounds is the number of extra reflection rounds to run
	// before re-synthesizing, 0 to MaxReflectionRounds.
	AdditionalRounds int

	// GroundTruth enables judge scoring of the new synthesis.
	GroundTruth string

	// Context maps aliases to per-panelist context for the new rounds.
	Context map[string]string

	// Experiment links the replay transcript to a research experiment.
	Experiment *types.ExperimentMetadata

	// OnRound fires for each newly appended round, not for rounds copied
	// from the source.
	OnRound ProgressFunc
}

// Replay produces a new transcript from a completed one: the source's rounds
// are carried over, optionally extended with fresh reflection rounds, and a
// new synthesis (and optional scoring) is produced.
//
// The source transcript is never mutated. Copied rounds are structurally
// shared between the two transcripts.
func (e *Engine) Replay(ctx context.Context, source *types.DebateTranscript, opts ReplayOptions) (*types.DebateTranscript, error) {
	if opts.AdditionalRounds < 0 || opts.AdditionalRounds > MaxReflectionRounds {
		return nil, fmt.Errorf("%w: additional rounds %d out of range [0, %d]", ErrBadArguments, opts.AdditionalRounds, MaxReflectionRounds)
	}
	if len(source.Rounds) == 0 {
		return nil, fmt.Errorf("%w: source transcript %s has no rounds to replay", ErrBadArguments, source.ShortID())
	}

	ctx, span := observe.StartSpan(ctx, "debate.replay")
	defer span.End()
	started := time.Now()

	if e.pricing != nil {
		e.pricing.Prefetch(ctx)
	}

	synthesizer := source.SynthesizerID
	if opts.SynthesizerOverride != "" {
		synthesizer = opts.SynthesizerOverride
	}

	t := types.NewTranscript(source.Query, source.Panel, synthesizer, source.MaxRounds+opts.AdditionalRounds)
	t.Rounds = append([]types.DebateRound(nil), source.Rounds...)

	runOpts := Options{
		Panel:       source.Panel,
		Synthesizer: synthesizer,
		Rounds:      opts.AdditionalRounds,
		GroundTruth: opts.GroundTruth,
		Context:     opts.Context,
		Experiment:  opts.Experiment,
		OnRound:     opts.OnRound,
	}
	e.stampMetadata(t, runOpts)
	t.Metadata[types.MetaSourceTranscriptID] = source.TranscriptID
	t.Metadata[types.MetaReplayConfig] = map[string]any{
		"synthesizer_override": opts.SynthesizerOverride,
		"additional_rounds":    opts.AdditionalRounds,
	}

	if opts.AdditionalRounds > 0 {
		prev := source.Rounds[len(source.Rounds)-1].Responses
		first := len(source.Rounds)
		if aborted, err := e.runReflections(ctx, t, source.Query, runOpts, prev, first, opts.AdditionalRounds); err != nil {
			return nil, err
		} else if aborted {
			return e.finish(ctx, t, started, true), nil
		}
	}

	if err := e.runSynthesisAndScoring(ctx, t, source.Query, runOpts); err != nil {
		return nil, err
	}
	if ctx.Err() != nil && t.Synthesis == nil {
		return e.finish(ctx, t, started, true), nil
	}
	return e.finish(ctx, t, started, false), nil
}
