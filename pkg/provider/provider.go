// Package provider defines the Provider contract that all model API clients
// implement: OpenRouter, direct Anthropic, and the any-llm-backed direct
// vendors.
//
// Providers normalize every vendor's wire format into types.ModelResponse.
// Transport failures (timeouts, connection errors, non-2xx statuses) are
// captured in the response's Error field rather than returned as Go errors —
// the debate transcript is more useful with an error-bearing entry than with
// a hard failure. The error return of Complete is reserved for programmer
// mistakes: using a client outside its Open/Close scope, or supplying both
// (or neither) of Messages and Prompt.
package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rspicer/dissent/pkg/types"
)

// DefaultTimeout is the per-call wall-clock timeout. Generous, to
// accommodate slow models in long reflection rounds.
const DefaultTimeout = 120 * time.Second

// DefaultMaxOutputTokens is sent to vendors that require an explicit output
// cap (Anthropic).
const DefaultMaxOutputTokens = 8192

// ErrNotOpen is returned when a provider is used outside its Open/Close
// scope. This is a programmer error, not a transport failure.
var ErrNotOpen = errors.New("provider: not open")

// ErrBadArguments is returned when a request supplies both or neither of
// Messages and Prompt.
var ErrBadArguments = errors.New("provider: exactly one of Messages or Prompt must be set")

// Message is a single chat message in the OpenAI-compatible shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries one completion call.
type Request struct {
	// ModelID is the provider-specific model identifier.
	ModelID string

	// Messages is the chat-format conversation. Mutually exclusive with Prompt.
	Messages []Message

	// Prompt is a single-user-message convenience. Mutually exclusive with
	// Messages.
	Prompt string

	// Alias is the human-readable short name recorded on the response.
	// Defaults to the last path segment of ModelID.
	Alias string

	// Round is the debate round number recorded on the response.
	Round int
}

// Provider is the abstraction over one vendor's completion API.
//
// Implementations must be safe for concurrent use between Open and Close.
type Provider interface {
	// Open creates the underlying client and connection pool. Operations
	// before Open (or after Close) fail with ErrNotOpen.
	Open(ctx context.Context) error

	// Close releases the connection pool. Idempotent.
	Close() error

	// Complete issues one completion call. Transport and API failures are
	// reported inside the returned response; the error return is reserved
	// for ErrNotOpen and ErrBadArguments.
	Complete(ctx context.Context, req Request) (types.ModelResponse, error)
}

// ResolveMessages normalizes a request's Messages/Prompt pair into a message
// list, enforcing that exactly one was supplied.
func ResolveMessages(req Request) ([]Message, error) {
	switch {
	case req.Messages != nil && req.Prompt != "":
		return nil, ErrBadArguments
	case req.Messages == nil && req.Prompt == "":
		return nil, ErrBadArguments
	case req.Messages != nil:
		return req.Messages, nil
	default:
		return []Message{{Role: "user", Content: req.Prompt}}, nil
	}
}

// CompleteParallel fans requests out through p concurrently and returns the
// responses in request order.
func CompleteParallel(ctx context.Context, p Provider, reqs []Request) ([]types.ModelResponse, error) {
	responses := make([]types.ModelResponse, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := p.Complete(ctx, req)
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

// AliasFor returns the effective alias for a request: the explicit alias, or
// the last path segment of the model ID.
func AliasFor(req Request) string {
	if req.Alias != "" {
		return req.Alias
	}
	if i := strings.LastIndex(req.ModelID, "/"); i >= 0 {
		return req.ModelID[i+1:]
	}
	return req.ModelID
}

// NewResponse builds the success skeleton for a request: model ID, alias,
// round, and a UTC completion timestamp. Providers fill in content, tokens,
// and latency.
func NewResponse(req Request) types.ModelResponse {
	return types.ModelResponse{
		ModelID:     req.ModelID,
		ModelAlias:  AliasFor(req),
		RoundNumber: req.Round,
		Timestamp:   time.Now().UTC(),
	}
}

// FailResponse builds an error-bearing response with the real elapsed wall
// time since start.
func FailResponse(req Request, start time.Time, errMsg string) types.ModelResponse {
	resp := NewResponse(req)
	resp.Error = errMsg
	resp.LatencyMS = ElapsedMS(start)
	return resp
}

// ElapsedMS returns the milliseconds elapsed since start, as a pointer for
// direct assignment to ModelResponse.LatencyMS.
func ElapsedMS(start time.Time) *int {
	ms := int(time.Since(start).Milliseconds())
	return &ms
}

// IntPtr returns a pointer to v. Convenience for optional token counts.
func IntPtr(v int) *int {
	return &v
}
