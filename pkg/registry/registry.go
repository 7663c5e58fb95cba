// Package registry maps model aliases to vendors and concrete model IDs.
//
// An alias (e.g. "claude") resolves to a vendor identity and up to two model
// IDs: an OpenRouter ID (always present) and an optional vendor-native
// "direct" ID. A fully-qualified OpenRouter ID (containing a slash) is also a
// valid model reference and bypasses the alias table entirely.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rspicer/dissent/pkg/types"
)

// ModelIDs holds the concrete identifiers registered for one alias.
type ModelIDs struct {
	// OpenRouter is the aggregator model ID (e.g. "anthropic/claude-sonnet-4.5").
	// Required for every alias.
	OpenRouter string

	// Direct is the vendor-native model ID (e.g. "claude-sonnet-4-5").
	// Optional; aliases without a direct ID always dispatch via OpenRouter.
	Direct string

	// Vendor overrides the vendor derived from the OpenRouter ID prefix.
	// Leave empty to derive.
	Vendor types.Vendor
}

// UnknownAliasError is returned when a model reference is neither a known
// alias nor a fully-qualified model ID.
type UnknownAliasError struct {
	Alias string
	Known []string
}

func (e *UnknownAliasError) Error() string {
	return fmt.Sprintf(
		"registry: unknown model alias %q (known: %s; or pass a full OpenRouter model ID like \"anthropic/claude-sonnet-4.5\")",
		e.Alias, strings.Join(e.Known, ", "),
	)
}

// slash-prefix → vendor mapping for fully-qualified model IDs. Unknown
// prefixes default to OpenRouter.
var prefixVendors = map[string]types.Vendor{
	"anthropic": types.VendorAnthropic,
	"openai":    types.VendorOpenAI,
	"google":    types.VendorGoogle,
	"x-ai":      types.VendorXAI,
	"groq":      types.VendorGroq,
	"ollama":    types.VendorLocal,
}

// Registry is a read-only alias table. Construct with New and share freely;
// lookups are safe for concurrent use.
type Registry struct {
	aliases          map[string]ModelIDs
	directToOpenRtr  map[string]string
	sortedAliasNames []string
}

// New builds a Registry from the given alias table. Vendors left empty in the
// table are derived from each OpenRouter ID's prefix.
func New(aliases map[string]ModelIDs) *Registry {
	r := &Registry{
		aliases:         make(map[string]ModelIDs, len(aliases)),
		directToOpenRtr: make(map[string]string),
	}
	for alias, ids := range aliases {
		if ids.Vendor == "" {
			ids.Vendor = vendorFromID(ids.OpenRouter)
		}
		r.aliases[alias] = ids
		if ids.Direct != "" && ids.OpenRouter != "" {
			r.directToOpenRtr[ids.Direct] = ids.OpenRouter
		}
		r.sortedAliasNames = append(r.sortedAliasNames, alias)
	}
	sort.Strings(r.sortedAliasNames)
	return r
}

// Default returns a registry with the stock alias table.
func Default() *Registry {
	return New(map[string]ModelIDs{
		"claude": {OpenRouter: "anthropic/claude-sonnet-4.5", Direct: "claude-sonnet-4-5"},
		"gpt":    {OpenRouter: "openai/gpt-5.2", Direct: "gpt-5.2"},
		"gemini": {OpenRouter: "google/gemini-2.5-pro", Direct: "gemini-2.5-pro"},
		"grok":   {OpenRouter: "x-ai/grok-4", Direct: "grok-4"},
	})
}

// Aliases returns the registered alias names, sorted.
func (r *Registry) Aliases() []string {
	return append([]string(nil), r.sortedAliasNames...)
}

// ResolveVendor determines the vendor for an alias or model ID. The alias
// table wins even when the alias happens to contain a slash; otherwise a
// slash-qualified ID resolves by prefix, and anything else defaults to
// OpenRouter.
func (r *Registry) ResolveVendor(aliasOrID string) types.Vendor {
	if ids, ok := r.aliases[aliasOrID]; ok {
		return ids.Vendor
	}
	return vendorFromID(aliasOrID)
}

// ResolveModelID resolves an alias or ID to a concrete model ID. When direct
// is true and the alias has a registered direct ID it is returned; a missing
// direct ID falls back to the OpenRouter ID. Slash-qualified inputs are
// already fully qualified and returned unchanged.
func (r *Registry) ResolveModelID(aliasOrID string, direct bool) (string, error) {
	if ids, ok := r.aliases[aliasOrID]; ok {
		if direct && ids.Direct != "" {
			return ids.Direct, nil
		}
		return ids.OpenRouter, nil
	}
	if strings.Contains(aliasOrID, "/") {
		return aliasOrID, nil
	}
	return "", &UnknownAliasError{Alias: aliasOrID, Known: r.Aliases()}
}

// DirectToOpenRouter maps a vendor-native model ID back to its OpenRouter ID,
// using the alias table's registered pairs. Used by the pricing cache to look
// up direct IDs in the OpenRouter catalog. The mapping is one level deep — a
// direct ID that is itself another alias is not re-resolved.
func (r *Registry) DirectToOpenRouter(directID string) (string, bool) {
	id, ok := r.directToOpenRtr[directID]
	return id, ok
}

// vendorFromID derives a vendor from a model ID string. IDs with a slash map
// by prefix; everything else is assumed to be OpenRouter-routable.
func vendorFromID(id string) types.Vendor {
	if prefix, _, ok := strings.Cut(id, "/"); ok {
		if v, known := prefixVendors[prefix]; known {
			return v
		}
	}
	return types.VendorOpenRouter
}
