// Package anthropic provides the direct Anthropic Provider backed by the
// official anthropic-sdk-go Messages API.
//
// The Messages API differs from the OpenAI-compatible shape in two ways this
// package normalizes away: system-role messages travel in a dedicated top-level
// system field, and max_tokens is mandatory on every request.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rspicer/dissent/pkg/provider"
	"github.com/rspicer/dissent/pkg/types"
)

// NoTextSentinel is recorded as the content when a response carried no text
// blocks (e.g. only thinking or tool_use blocks). Not an error.
const NoTextSentinel = "[no text content]"

// Client implements provider.Provider against the Anthropic Messages API.
type Client struct {
	apiKey    string
	baseURL   string
	timeout   time.Duration
	maxTokens int

	mu     sync.Mutex
	open   bool
	client anthropicsdk.Client
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

// WithMaxOutputTokens sets the mandatory max_tokens sent on every request.
func WithMaxOutputTokens(n int) Option {
	return func(c *Client) {
		c.maxTokens = n
	}
}

// New creates an Anthropic client. The client must be opened before use.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}
	c := &Client{
		apiKey:    apiKey,
		timeout:   provider.DefaultTimeout,
		maxTokens: provider.DefaultMaxOutputTokens,
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
	reqOpts := []option.RequestOption{
		option.WithAPIKey(c.apiKey),
		option.WithHTTPClient(c.httpc),
		option.WithMaxRetries(0),
	}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}
	c.client = anthropicsdk.NewClient(reqOpts...)
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
func (c *Client) Complete(ctx context.Context, req provider.Request) (types.ModelResponse, error) {
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

	system, converted := splitSystem(messages)
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.ModelID),
		MaxTokens: int64(c.maxTokens),
		Messages:  converted,
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return provider.FailResponse(req, start, err.Error()), nil
	}

	resp := provider.NewResponse(req)
	resp.LatencyMS = provider.ElapsedMS(start)
	resp.Content = extractText(msg.Content)

	input := int(msg.Usage.InputTokens)
	output := int(msg.Usage.OutputTokens)
	resp.InputTokens = provider.IntPtr(input)
	resp.OutputTokens = provider.IntPtr(output)
	resp.TokenCount = provider.IntPtr(input + output)
	return resp, nil
}

// splitSystem extracts system-role messages into a single system string
// (joined by blank lines) and converts the rest to Anthropic message params.
func splitSystem(messages []provider.Message) (string, []anthropicsdk.MessageParam) {
	var systems []string
	converted := make([]anthropicsdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			systems = append(systems, m.Content)
		case "assistant":
			converted = append(converted, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
		}
	}
	return strings.Join(systems, "\n\n"), converted
}

// extractText concatenates the text blocks of a response, ignoring other
// block types (thinking, tool_use). Responses without any text block get the
// NoTextSentinel.
func extractText(blocks []anthropicsdk.ContentBlockUnion) string {
	var sb strings.Builder
	for _, block := range blocks {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return NoTextSentinel
	}
	return sb.String()
}
