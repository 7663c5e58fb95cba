// Package anyllm provides direct Provider clients for the vendors that do
// not have a dedicated implementation, backed by github.com/mozilla-ai/any-llm-go:
// OpenAI, Google (Gemini), Groq, xAI (OpenAI-compatible endpoint), and local
// Ollama inference.
package anyllm

import (
	"context"
	"fmt"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/rspicer/dissent/pkg/provider"
	"github.com/rspicer/dissent/pkg/types"
)

// xaiBaseURL is xAI's OpenAI-compatible API root.
const xaiBaseURL = "https://api.x.ai/v1"

// Client implements provider.Provider for one direct vendor through
// any-llm-go.
type Client struct {
	vendor types.Vendor
	apiKey string

	mu      sync.Mutex
	open    bool
	backend anyllmlib.Provider
}

// Supported reports whether a direct any-llm-go backend exists for the
// vendor. Anthropic has its own dedicated package and is not handled here.
func Supported(v types.Vendor) bool {
	switch v {
	case types.VendorOpenAI, types.VendorGoogle, types.VendorGroq, types.VendorXAI, types.VendorLocal:
		return true
	}
	return false
}

// New creates a direct client for the given vendor. The client must be
// opened before use. Local (Ollama) accepts an empty key.
func New(vendor types.Vendor, apiKey string) (*Client, error) {
	if !Supported(vendor) {
		return nil, fmt.Errorf("anyllm: no direct backend for vendor %q", vendor)
	}
	if apiKey == "" && vendor != types.VendorLocal {
		return nil, fmt.Errorf("anyllm: apiKey must not be empty for vendor %q", vendor)
	}
	return &Client{vendor: vendor, apiKey: apiKey}, nil
}

// Open implements provider.Provider.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return nil
	}
	backend, err := createBackend(c.vendor, c.apiKey)
	if err != nil {
		return fmt.Errorf("anyllm: create %q backend: %w", c.vendor, err)
	}
	c.backend = backend
	c.open = true
	return nil
}

// Close implements provider.Provider.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend = nil
	c.open = false
	return nil
}

// Complete implements provider.Provider.
func (c *Client) Complete(ctx context.Context, req provider.Request) (types.ModelResponse, error) {
	c.mu.Lock()
	isOpen := c.open
	backend := c.backend
	c.mu.Unlock()
	if !isOpen {
		return types.ModelResponse{}, provider.ErrNotOpen
	}

	messages, err := provider.ResolveMessages(req)
	if err != nil {
		return types.ModelResponse{}, err
	}

	params := anyllmlib.CompletionParams{
		Model:    req.ModelID,
		Messages: convertMessages(messages),
	}

	ctx, cancel := context.WithTimeout(ctx, provider.DefaultTimeout)
	defer cancel()

	start := time.Now()
	completion, err := backend.Completion(ctx, params)
	if err != nil {
		return provider.FailResponse(req, start, err.Error()), nil
	}

	resp := provider.NewResponse(req)
	resp.LatencyMS = provider.ElapsedMS(start)

	if len(completion.Choices) == 0 {
		resp.Content = fmt.Sprintf("[no choices in %s response]", c.vendor)
	} else {
		resp.Content = completion.Choices[0].Message.ContentString()
	}
	if completion.Usage != nil {
		resp.TokenCount = provider.IntPtr(completion.Usage.TotalTokens)
		resp.InputTokens = provider.IntPtr(completion.Usage.PromptTokens)
		resp.OutputTokens = provider.IntPtr(completion.Usage.CompletionTokens)
	}
	return resp, nil
}

// createBackend constructs the any-llm-go backend for a vendor. xAI exposes
// an OpenAI-compatible API, so it reuses the openai backend with the x.ai
// base URL.
func createBackend(vendor types.Vendor, apiKey string) (anyllmlib.Provider, error) {
	switch vendor {
	case types.VendorOpenAI:
		return anyllmoai.New(anyllmlib.WithAPIKey(apiKey))
	case types.VendorGoogle:
		return gemini.New(anyllmlib.WithAPIKey(apiKey))
	case types.VendorGroq:
		return groq.New(anyllmlib.WithAPIKey(apiKey))
	case types.VendorXAI:
		return anyllmoai.New(anyllmlib.WithAPIKey(apiKey), anyllmlib.WithBaseURL(xaiBaseURL))
	case types.VendorLocal:
		return ollama.New()
	default:
		return nil, fmt.Errorf("unsupported vendor %q", vendor)
	}
}

// convertMessages maps provider messages onto any-llm-go messages.
func convertMessages(messages []provider.Message) []anyllmlib.Message {
	out := make([]anyllmlib.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
