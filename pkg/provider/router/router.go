// Package router resolves model aliases to vendors, decides between direct
// and OpenRouter dispatch, and fans requests out across a mixed set of
// provider clients.
//
// The router owns the provider clients it opens: Open builds one client per
// configured credential (an OpenRouter client when an OpenRouter key is
// present, a direct client per vendor whose key is present and for which an
// implementation exists), and Close releases them all. A single parallel
// fan-out may legitimately dispatch different requests to different
// providers — that hybrid dispatch is the router's reason for existing.
//
// Every opened client is wrapped in a circuit breaker so that a vendor
// outage degrades into fast local error responses instead of repeated slow
// timeouts.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rspicer/dissent/internal/resilience"
	"github.com/rspicer/dissent/pkg/provider"
	"github.com/rspicer/dissent/pkg/provider/anthropic"
	"github.com/rspicer/dissent/pkg/provider/anyllm"
	"github.com/rspicer/dissent/pkg/provider/openrouter"
	"github.com/rspicer/dissent/pkg/registry"
	"github.com/rspicer/dissent/pkg/types"
)

// Config carries the routing policy and credentials.
type Config struct {
	// Registry resolves aliases. Defaults to registry.Default().
	Registry *registry.Registry

	// DefaultMode applies to aliases without an override. Defaults to auto.
	DefaultMode types.RoutingMode

	// Overrides maps aliases to per-alias routing modes.
	Overrides map[string]types.RoutingMode

	// Keys holds the configured API key per vendor. The OpenRouter key lives
	// under types.VendorOpenRouter. Vendors without a key open no client.
	Keys map[types.Vendor]string

	// SiteURL overrides the OpenRouter attribution referrer header.
	SiteURL string

	// Timeout is the per-call wall-clock timeout for opened clients.
	Timeout time.Duration

	// MaxOutputTokens is passed to vendors that require an explicit output
	// cap (Anthropic).
	MaxOutputTokens int
}

// Router composes the registry, the routing policy, and the set of live
// provider clients.
type Router struct {
	cfg Config

	newOpenRouter func(key string) (provider.Provider, error)
	newDirect     func(vendor types.Vendor, key string) (provider.Provider, error)

	opened     bool
	openRouter provider.Provider
	direct     map[types.Vendor]provider.Provider
}

// Option configures a Router.
type Option func(*Router)

// WithOpenRouterFactory replaces the OpenRouter client constructor. Used in
// tests to inject mocks.
func WithOpenRouterFactory(fn func(key string) (provider.Provider, error)) Option {
	return func(r *Router) {
		r.newOpenRouter = fn
	}
}

// WithDirectFactory replaces the direct client constructor. Used in tests.
func WithDirectFactory(fn func(vendor types.Vendor, key string) (provider.Provider, error)) Option {
	return func(r *Router) {
		r.newDirect = fn
	}
}

// New creates a Router. Call Open before dispatching.
func New(cfg Config, opts ...Option) *Router {
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = types.ModeAuto
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = provider.DefaultTimeout
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = provider.DefaultMaxOutputTokens
	}

	r := &Router{cfg: cfg, direct: map[types.Vendor]provider.Provider{}}
	r.newOpenRouter = func(key string) (provider.Provider, error) {
		return openrouter.New(key,
			openrouter.WithTimeout(cfg.Timeout),
			openrouter.WithSiteURL(cfg.SiteURL),
		)
	}
	r.newDirect = func(vendor types.Vendor, key string) (provider.Provider, error) {
		if vendor == types.VendorAnthropic {
			return anthropic.New(key,
				anthropic.WithTimeout(cfg.Timeout),
				anthropic.WithMaxOutputTokens(cfg.MaxOutputTokens),
			)
		}
		return anyllm.New(vendor, key)
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Open builds and opens provider clients for every configured credential.
// Unused credentials open no clients.
func (r *Router) Open(ctx context.Context) error {
	if r.opened {
		return nil
	}

	if key := r.cfg.Keys[types.VendorOpenRouter]; key != "" {
		client, err := r.newOpenRouter(key)
		if err != nil {
			return fmt.Errorf("router: create openrouter client: %w", err)
		}
		wrapped := resilience.WrapProvider(client, string(types.VendorOpenRouter), resilience.Config{})
		if err := wrapped.Open(ctx); err != nil {
			return fmt.Errorf("router: open openrouter client: %w", err)
		}
		r.openRouter = wrapped
	}

	for vendor, key := range r.cfg.Keys {
		if vendor == types.VendorOpenRouter || key == "" || !directSupported(vendor) {
			continue
		}
		client, err := r.newDirect(vendor, key)
		if err != nil {
			r.Close()
			return fmt.Errorf("router: create %s client: %w", vendor, err)
		}
		wrapped := resilience.WrapProvider(client, string(vendor), resilience.Config{})
		if err := wrapped.Open(ctx); err != nil {
			r.Close()
			return fmt.Errorf("router: open %s client: %w", vendor, err)
		}
		r.direct[vendor] = wrapped
	}

	r.opened = true
	return nil
}

// Close closes every client the router opened. Idempotent.
func (r *Router) Close() error {
	if r.openRouter != nil {
		r.openRouter.Close()
		r.openRouter = nil
	}
	for vendor, client := range r.direct {
		client.Close()
		delete(r.direct, vendor)
	}
	r.opened = false
	return nil
}

// Route computes the routing decision for an alias or model ID without
// issuing any call. Direct mode is a request, not a demand: when no direct
// client is available the decision falls back to OpenRouter with a warning.
// Auto mode falls back silently.
func (r *Router) Route(aliasOrID string) types.RoutingDecision {
	vendor := r.cfg.Registry.ResolveVendor(aliasOrID)
	mode := r.cfg.DefaultMode
	if override, ok := r.cfg.Overrides[aliasOrID]; ok {
		mode = override
	}

	decision := types.RoutingDecision{Vendor: vendor, Mode: mode}
	switch mode {
	case types.ModeOpenRouter:
		decision.ViaOpenRouter = true
	case types.ModeDirect:
		if r.hasDirect(vendor) {
			decision.ViaOpenRouter = false
		} else {
			decision.ViaOpenRouter = true
			slog.Warn("router: direct mode requested but no direct client available, falling back to openrouter",
				"alias", aliasOrID, "vendor", vendor)
		}
	default: // auto
		decision.ViaOpenRouter = !r.hasDirect(vendor)
	}
	return decision
}

// Complete routes and dispatches a single request. Req.ModelID holds the
// alias or fully-qualified model ID; the router rewrites it to the concrete
// ID appropriate for the chosen path. The routing decision is attached to
// the returned response, including error responses.
func (r *Router) Complete(ctx context.Context, req provider.Request) (types.ModelResponse, error) {
	decision := r.Route(req.ModelID)

	modelID, err := r.cfg.Registry.ResolveModelID(req.ModelID, !decision.ViaOpenRouter)
	if err != nil {
		return types.ModelResponse{}, err
	}
	if req.Alias == "" {
		req.Alias = req.ModelID
	}
	req.ModelID = modelID

	client := r.clientFor(decision)
	if client == nil {
		// Synthesize the failure locally so the transcript stays
		// structurally complete.
		resp := provider.NewResponse(req)
		resp.Error = fmt.Sprintf("no provider client open for vendor %q (mode %s)", decision.Vendor, decision.Mode)
		resp.Routing = &decision
		return resp, nil
	}

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return types.ModelResponse{}, err
	}
	resp.Routing = &decision
	return resp, nil
}

// CompleteParallel routes every request independently and dispatches them
// all concurrently, preserving input order in the returned slice.
func (r *Router) CompleteParallel(ctx context.Context, reqs []provider.Request) ([]types.ModelResponse, error) {
	responses := make([]types.ModelResponse, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := r.Complete(ctx, req)
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

// hasDirect reports whether a direct dispatch path exists for the vendor.
// Before Open this is derived from configuration so that Route gives the
// same answer in both states.
func (r *Router) hasDirect(vendor types.Vendor) bool {
	if r.opened {
		return r.direct[vendor] != nil
	}
	return r.cfg.Keys[vendor] != "" && directSupported(vendor)
}

// clientFor selects the provider client matching a routing decision. Nil
// when the required client is not open.
func (r *Router) clientFor(decision types.RoutingDecision) provider.Provider {
	if decision.ViaOpenRouter {
		return r.openRouter
	}
	return r.direct[decision.Vendor]
}

// directSupported reports whether a direct client implementation exists for
// the vendor.
func directSupported(vendor types.Vendor) bool {
	return vendor == types.VendorAnthropic || anyllm.Supported(vendor)
}
