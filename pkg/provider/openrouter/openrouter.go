// Package openrouter provides the aggregator Provider backed by OpenRouter's
// unified chat completions API.
//
// OpenRouter speaks the OpenAI chat-completions protocol, so the client is
// the openai-go SDK pointed at the OpenRouter base URL with the attribution
// headers OpenRouter expects.
package openrouter

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/rspicer/dissent/pkg/provider"
	"github.com/rspicer/dissent/pkg/types"
)

const (
	// APIBaseURL is OpenRouter's OpenAI-compatible API root.
	APIBaseURL = "https://openrouter.ai/api/v1"

	// Attribution headers shown on openrouter.ai rankings.
	defaultSiteURL = "https://github.com/rspicer/dissent"
	appName        = "dissent"
)

// NoContentSentinel is recorded as the response content when the API returned
// a well-formed body with no message content. Deliberately not an error — a
// transcript entry with a diagnostic is more useful than a hard failure.
const NoContentSentinel = "[no message content in API response]"

// Client implements provider.Provider against OpenRouter.
type Client struct {
	apiKey  string
	baseURL string
	siteURL string
	timeout time.Duration

	mu     sync.Mutex
	open   bool
	client oai.Client
	httpc  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used in tests.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithTimeout sets the per-request wall-clock timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithSiteURL overrides the HTTP-Referer attribution header.
func WithSiteURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.siteURL = url
		}
	}
}

// New creates an OpenRouter client. The client must be opened before use.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter: apiKey must not be empty")
	}
	c := &Client{
		apiKey:  apiKey,
		baseURL: APIBaseURL,
		siteURL: defaultSiteURL,
		timeout: provider.DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Open implements provider.Provider.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return nil
	}
	c.httpc = &http.Client{Timeout: c.timeout}
	c.client = oai.NewClient(
		option.WithAPIKey(c.apiKey),
		option.WithBaseURL(c.baseURL),
		option.WithHTTPClient(c.httpc),
		option.WithHeader("HTTP-Referer", c.siteURL),
		option.WithHeader("X-Title", appName),
		// Failed calls surface in the transcript; they are not retried.
		option.WithMaxRetries(0),
	)
	c.open = true
	return nil
}

// Close implements provider.Provider.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.httpc != nil {
		c.httpc.CloseIdleConnections()
		c.httpc = nil
	}
	c.open = false
	return nil
}

// Complete implements provider.Provider.
func (c *Client) Complete(ctx context.Context, req Request) (types.ModelResponse, error) {
	c.mu.Lock()
	isOpen := c.open
	client := c.client
	c.mu.Unlock()
	if !isOpen {
		return types.ModelResponse{}, provider.ErrNotOpen
	}

	messages, err := provider.ResolveMessages(req)
	if err != nil {
		return types.ModelResponse{}, err
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.ModelID),
		Messages: convertMessages(messages),
	}

	start := time.Now()
	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return provider.FailResponse(req, start, err.Error()), nil
	}

	resp := provider.NewResponse(req)
	resp.LatencyMS = provider.ElapsedMS(start)

	if len(completion.Choices) == 0 {
		resp.Content = NoContentSentinel
	} else {
		resp.Content = completion.Choices[0].Message.Content
	}

	// Token accounting — only what the API actually reported.
	usage := completion.Usage
	if usage.JSON.TotalTokens.Valid() {
		resp.TokenCount = provider.IntPtr(int(usage.TotalTokens))
	}
	if usage.JSON.PromptTokens.Valid() {
		resp.InputTokens = provider.IntPtr(int(usage.PromptTokens))
	}
	if usage.JSON.CompletionTokens.Valid() {
		resp.OutputTokens = provider.IntPtr(int(usage.CompletionTokens))
	}
	return resp, nil
}

// Request aliases provider.Request for call sites that only import this
// package.
type Request = provider.Request

// convertMessages maps our chat messages onto openai-go message params.
// Unknown roles are sent as user messages.
func convertMessages(messages []provider.Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, oai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			out = append(out, oai.UserMessage(m.Content))
		}
	}
	return out
}
