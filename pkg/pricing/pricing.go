// Package pricing fetches and caches per-token model pricing from the public
// OpenRouter models catalog.
//
// A Cache is scoped to one debate: it fetches the catalog at most once and
// answers lookups from memory afterwards. Pricing is best-effort — any fetch
// or parse failure leaves the cache empty and downstream costs absent, never
// failing the debate.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rspicer/dissent/pkg/registry"
)

// ModelsURL is the public OpenRouter catalog endpoint. No API key required.
const ModelsURL = "https://openrouter.ai/api/v1/models"

// FetchTimeout bounds the one-shot catalog fetch.
const FetchTimeout = 15 * time.Second

// ModelPricing holds per-token pricing and context metadata for one model.
type ModelPricing struct {
	// PromptPrice is USD per input token.
	PromptPrice float64

	// CompletionPrice is USD per output token.
	CompletionPrice float64

	// ContextLength is the maximum context window in tokens. Nil if unknown.
	ContextLength *int
}

// Cache is a debate-scoped pricing cache. Safe for concurrent use.
type Cache struct {
	reg     *registry.Registry
	baseURL string

	mu      sync.Mutex
	fetched bool
	prices  map[string]ModelPricing
}

// Option configures a Cache.
type Option func(*Cache)

// WithBaseURL overrides the catalog endpoint. Used in tests.
func WithBaseURL(url string) Option {
	return func(c *Cache) {
		c.baseURL = url
	}
}

// NewCache creates an empty cache. The registry is used to translate
// vendor-native model IDs to OpenRouter IDs for catalog lookups; it may be
// nil when only OpenRouter IDs will be queried.
func NewCache(reg *registry.Registry, opts ...Option) *Cache {
	c := &Cache{reg: reg, baseURL: ModelsURL}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Prefetch eagerly fetches and caches the catalog. Idempotent — subsequent
// calls are no-ops regardless of whether the first fetch succeeded.
func (c *Cache) Prefetch(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetched {
		return
	}
	c.fetchLocked(ctx)
}

// GetPricing looks up pricing for a model ID, fetching the catalog first if
// Prefetch has not run. Exact OpenRouter IDs match directly; vendor-native
// IDs are translated through the registry's direct→OpenRouter mapping.
// Returns false when the model is not in the catalog or the fetch failed.
func (c *Cache) GetPricing(ctx context.Context, modelID string) (ModelPricing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fetched {
		c.fetchLocked(ctx)
	}
	if p, ok := c.prices[modelID]; ok {
		return p, true
	}
	if c.reg != nil {
		if orID, ok := c.reg.DirectToOpenRouter(modelID); ok {
			p, ok := c.prices[orID]
			return p, ok
		}
	}
	return ModelPricing{}, false
}

// ContextLength returns the maximum context window for a model, or false when
// unknown.
func (c *Cache) ContextLength(ctx context.Context, modelID string) (int, bool) {
	p, ok := c.GetPricing(ctx, modelID)
	if !ok || p.ContextLength == nil {
		return 0, false
	}
	return *p.ContextLength, true
}

// fetchLocked performs the one-shot catalog fetch. On any failure the cache
// is marked fetched-but-empty and a warning is logged; cost tracking simply
// becomes unavailable.
func (c *Cache) fetchLocked(ctx context.Context) {
	c.fetched = true
	c.prices = map[string]ModelPricing{}

	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		slog.Warn("pricing: build catalog request failed, cost tracking unavailable", "err", err)
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Warn("pricing: catalog fetch failed, cost tracking unavailable", "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("pricing: catalog returned non-200, cost tracking unavailable", "status", resp.StatusCode)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Warn("pricing: read catalog body failed, cost tracking unavailable", "err", err)
		return
	}

	prices, err := parseCatalog(body)
	if err != nil {
		slog.Warn("pricing: parse catalog failed, cost tracking unavailable", "err", err)
		return
	}
	c.prices = prices
}

// catalog mirrors the subset of the OpenRouter /models response we consume.
// Prices arrive as strings denominated in USD per token.
type catalog struct {
	Data []struct {
		ID      string `json:"id"`
		Pricing *struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
		ContextLength *int `json:"context_length"`
	} `json:"data"`
}

// parseCatalog converts the catalog JSON into a pricing map. Entries with
// missing or unparseable pricing are skipped silently.
func parseCatalog(body []byte) (map[string]ModelPricing, error) {
	var cat catalog
	if err := json.Unmarshal(body, &cat); err != nil {
		return nil, fmt.Errorf("pricing: decode catalog: %w", err)
	}

	result := make(map[string]ModelPricing, len(cat.Data))
	for _, m := range cat.Data {
		if m.ID == "" || m.Pricing == nil {
			continue
		}
		prompt, err := strconv.ParseFloat(m.Pricing.Prompt, 64)
		if err != nil {
			continue
		}
		completion, err := strconv.ParseFloat(m.Pricing.Completion, 64)
		if err != nil {
			continue
		}
		result[m.ID] = ModelPricing{
			PromptPrice:     prompt,
			CompletionPrice: completion,
			ContextLength:   m.ContextLength,
		}
	}
	return result, nil
}
