// Package mock provides a test double for the provider.Provider interface.
//
// Use Provider in unit tests to feed controlled responses to the router and
// orchestrator without live API calls, and to inspect the requests they send.
//
// Example:
//
//	p := &mock.Provider{
//	    CompleteFunc: func(ctx context.Context, req provider.Request) (types.ModelResponse, error) {
//	        resp := provider.NewResponse(req)
//	        resp.Content = "canned answer"
//	        return resp, nil
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/rspicer/dissent/pkg/provider"
	"github.com/rspicer/dissent/pkg/types"
)

// Call records a single invocation of Complete.
type Call struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the request passed to Complete.
	Req provider.Request
}

// Provider is a mock implementation of provider.Provider. The zero value
// returns an empty success response for every request.
type Provider struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned from Open.
	OpenErr error

	// CompleteFunc, if non-nil, handles every Complete call.
	CompleteFunc func(ctx context.Context, req provider.Request) (types.ModelResponse, error)

	// Content is returned as the response content when CompleteFunc is nil.
	Content string

	// StrictOpen makes Complete fail with provider.ErrNotOpen unless Open
	// has been called (and Close has not).
	StrictOpen bool

	opened bool
	calls  []Call
	closes int
}

var _ provider.Provider = (*Provider)(nil)

// Open implements provider.Provider.
func (p *Provider) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenErr != nil {
		return p.OpenErr
	}
	p.opened = true
	return nil
}

// Close implements provider.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = false
	p.closes++
	return nil
}

// Complete implements provider.Provider.
func (p *Provider) Complete(ctx context.Context, req provider.Request) (types.ModelResponse, error) {
	p.mu.Lock()
	if p.StrictOpen && !p.opened {
		p.mu.Unlock()
		return types.ModelResponse{}, provider.ErrNotOpen
	}
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	content := p.Content
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	resp := provider.NewResponse(req)
	resp.Content = content
	return resp, nil
}

// Calls returns a copy of all recorded Complete invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CloseCount returns how many times Close has been called.
func (p *Provider) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// IsOpen reports whether the provider is currently open.
func (p *Provider) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}
