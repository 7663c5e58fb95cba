package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rspicer/dissent/pkg/provider"
	"github.com/rspicer/dissent/pkg/types"
)

// Breaker decorates a provider client with a circuit breaker. An
// error-bearing response counts as a failure; while the breaker is open the
// wrapper synthesizes the error response locally instead of dialing the
// vendor.
type Breaker struct {
	inner provider.Provider
	name  string
	cb    *CircuitBreaker
}

var _ provider.Provider = (*Breaker)(nil)

// WrapProvider wraps p in a circuit breaker labeled name.
func WrapProvider(p provider.Provider, name string, cfg Config) *Breaker {
	cfg.Name = name
	return &Breaker{inner: p, name: name, cb: NewCircuitBreaker(cfg)}
}

// Open forwards to the wrapped client.
func (b *Breaker) Open(ctx context.Context) error {
	return b.inner.Open(ctx)
}

// Close forwards to the wrapped client.
func (b *Breaker) Close() error {
	return b.inner.Close()
}

// State exposes the breaker state for diagnostics.
func (b *Breaker) State() State {
	return b.cb.State()
}

// Complete forwards through the breaker. Programmer errors from the wrapped
// client (ErrNotOpen, ErrBadArguments) pass through without counting against
// the breaker; only upstream failures recorded in the response do.
func (b *Breaker) Complete(ctx context.Context, req provider.Request) (types.ModelResponse, error) {
	var resp types.ModelResponse
	var callErr error

	execErr := b.cb.Execute(func() error {
		resp, callErr = b.inner.Complete(ctx, req)
		if callErr != nil {
			return nil
		}
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		return nil
	})
	if errors.Is(execErr, ErrCircuitOpen) {
		return provider.FailResponse(req, time.Now(),
			fmt.Sprintf("provider %s unavailable: %v", b.name, ErrCircuitOpen)), nil
	}
	return resp, callErr
}
