// Package prompts builds the four debate prompts — initial, reflection,
// synthesis, and scoring — from structured inputs.
//
// Templates are intentionally minimal and model-agnostic: no system prompts
// and no vendor-specific formatting, so the same prompt works across every
// provider the router can reach.
package prompts

import (
	"fmt"
	"strings"

	"github.com/rspicer/dissent/pkg/types"
)

const initialTemplate = `You are participating in a multi-model panel discussion. Answer the following query to the best of your ability. Be thorough but concise.

Query: %s`

const reflectionTemplate = `You previously answered a query as part of a multi-model panel. Below is your original response, followed by how other models on the panel responded.

Your previous response:
%s

Other panel members' responses:
%s

Reflect on the other responses. Where do you agree? Where do you disagree? What did they identify that you missed? What did you get right that they missed? Provide your refined answer to the original query.

Original query: %s`

const synthesisTemplate = `You are the designated synthesizer for a multi-model panel discussion. Below is the full debate transcript including initial responses and any reflection rounds from all panel members.

Original query: %s

%s

Synthesize the strongest elements from all panel members into a single, well-reasoned response. Note where the panel reached consensus and where significant disagreements remain. Do not simply concatenate — produce a coherent, unified answer.`

const scoringTemplate = `You are evaluating an answer against a known-correct reference. Compare the candidate answer to the reference and score it.

Question: %s

Reference answer:
%s

Candidate answer:
%s

Respond in exactly this format:
ACCURACY: <1-5>
COMPLETENESS: <1-5>
EXPLANATION: <one or two sentences justifying the scores>`

// NoResponsePlaceholder stands in for a model's own previous response when it
// was missing or errored.
const NoResponsePlaceholder = "[No response available]"

// PeerResponse labels one panel member's response text by alias.
type PeerResponse struct {
	Alias   string
	Content string
}

// RoundSummary is one round's surviving responses, prepared for the
// synthesis transcript rendering.
type RoundSummary struct {
	RoundType types.RoundType
	Responses []PeerResponse
}

// FormatInitial builds the initial round prompt.
func FormatInitial(query string) string {
	return fmt.Sprintf(initialTemplate, query)
}

// FormatReflection builds a reflection round prompt from the model's own
// previous response and its peers' surviving responses.
func FormatReflection(query, ownResponse string, peers []PeerResponse) string {
	return fmt.Sprintf(reflectionTemplate, ownResponse, formatPeers(peers), query)
}

// FormatSynthesis builds the synthesis prompt over a pre-rendered transcript
// string (see FormatTranscript).
func FormatSynthesis(query, formattedTranscript string) string {
	return fmt.Sprintf(synthesisTemplate, query, formattedTranscript)
}

// FormatScoring builds the judge prompt comparing a synthesis against a
// ground-truth reference.
func FormatScoring(query, groundTruth, synthesis string) string {
	return fmt.Sprintf(scoringTemplate, query, groundTruth, synthesis)
}

// FormatTranscript renders debate rounds into the readable transcript block
// embedded in the synthesis prompt: a section header per round, a labelled
// block per surviving response.
func FormatTranscript(rounds []RoundSummary) string {
	sections := make([]string, 0, len(rounds))
	for _, r := range rounds {
		header := fmt.Sprintf("=== %s ROUND ===", strings.ToUpper(string(r.RoundType)))
		sections = append(sections, header+"\n\n"+formatPeers(r.Responses))
	}
	return strings.Join(sections, "\n\n")
}

// InjectContext prepends per-panelist context to an assembled prompt with a
// blank-line separator. Empty context returns the prompt unchanged.
func InjectContext(context, prompt string) string {
	if context == "" {
		return prompt
	}
	return context + "\n\n" + prompt
}

func formatPeers(peers []PeerResponse) string {
	blocks := make([]string, 0, len(peers))
	for _, p := range peers {
		blocks = append(blocks, fmt.Sprintf("[%s]:\n%s", p.Alias, p.Content))
	}
	return strings.Join(blocks, "\n\n")
}
