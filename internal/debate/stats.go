package debate

import (
	"context"

	"github.com/rspicer/dissent/pkg/types"
)

// ComputeStats aggregates token usage and cost over every response in the
// transcript, including the synthesis.
//
// A per-response cost exists only when the response reports both token
// splits and the pricing source knows both prices for its model; everything
// else contributes no cost. TotalCostUSD stays nil unless at least one
// response yielded a cost — unknown is never reported as zero.
func (e *Engine) ComputeStats(ctx context.Context, t *types.DebateTranscript) *types.Stats {
	stats := &types.Stats{PerModel: map[string]types.ModelStats{}}

	for _, resp := range t.AllResponses() {
		m := stats.PerModel[resp.ModelAlias]
		m.Calls++
		if resp.TokenCount != nil {
			stats.TotalTokens += *resp.TokenCount
			m.Tokens += *resp.TokenCount
		}
		if resp.InputTokens != nil {
			m.InputTokens += *resp.InputTokens
		}
		if resp.OutputTokens != nil {
			m.OutputTokens += *resp.OutputTokens
		}
		if cost, ok := e.responseCost(ctx, resp); ok {
			addCost(&m.CostUSD, cost)
			addCost(&stats.TotalCostUSD, cost)
		}
		stats.PerModel[resp.ModelAlias] = m
	}
	return stats
}

// responseCost computes one response's cost from its token split and the
// cached pricing for the model it actually called.
func (e *Engine) responseCost(ctx context.Context, resp *types.ModelResponse) (float64, bool) {
	if e.pricing == nil || resp.InputTokens == nil || resp.OutputTokens == nil {
		return 0, false
	}
	p, ok := e.pricing.GetPricing(ctx, resp.ModelID)
	if !ok {
		return 0, false
	}
	cost := float64(*resp.InputTokens)*p.PromptPrice + float64(*resp.OutputTokens)*p.CompletionPrice
	return cost, true
}

func addCost(dst **float64, cost float64) {
	if *dst == nil {
		*dst = new(float64)
	}
	**dst += cost
}
