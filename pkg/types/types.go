// Package types defines the core data model shared across dissent: vendors,
// routing decisions, model responses, debate rounds, and transcripts.
//
// Everything in this package serializes to JSON for transcript storage. Absent
// numeric values are represented as nil pointers and serialize as null —
// "unknown" is distinct from zero throughout.
package types

// Vendor identifies an inference provider.
type Vendor string

const (
	VendorAnthropic  Vendor = "anthropic"
	VendorOpenAI     Vendor = "openai"
	VendorGoogle     Vendor = "google"
	VendorXAI        Vendor = "xai"
	VendorGroq       Vendor = "groq"
	VendorOpenRouter Vendor = "openrouter"
	VendorLocal      Vendor = "local"
)

// IsValid reports whether v is a recognised vendor.
func (v Vendor) IsValid() bool {
	switch v {
	case VendorAnthropic, VendorOpenAI, VendorGoogle, VendorXAI,
		VendorGroq, VendorOpenRouter, VendorLocal:
		return true
	}
	return false
}

// RoutingMode selects how requests for an alias reach their vendor.
type RoutingMode string

const (
	// ModeAuto prefers a direct provider client when one is open, falling
	// back to OpenRouter silently otherwise.
	ModeAuto RoutingMode = "auto"

	// ModeDirect requests the vendor's native endpoint. Direct mode is a
	// request, not a demand: when no direct client is available the router
	// falls back to OpenRouter and logs a warning.
	ModeDirect RoutingMode = "direct"

	// ModeOpenRouter always routes through the OpenRouter aggregator.
	ModeOpenRouter RoutingMode = "openrouter"
)

// IsValid reports whether m is a recognised routing mode.
func (m RoutingMode) IsValid() bool {
	return m == ModeAuto || m == ModeDirect || m == ModeOpenRouter
}

// RoutingDecision records how a request was (or would be) routed. A decision
// is attached to every ModelResponse for transcript provenance, including
// error responses.
type RoutingDecision struct {
	// Vendor is the provider that handled (or would handle) the request.
	Vendor Vendor `json:"vendor"`

	// Mode is the routing mode that was in effect when the decision was made.
	Mode RoutingMode `json:"mode"`

	// ViaOpenRouter reports whether the call traversed the aggregator. It can
	// be true even in direct mode when no direct client was available.
	ViaOpenRouter bool `json:"via_openrouter"`
}

// Round numbers for the out-of-band debate phases. Initial is round 0 and
// reflection rounds count up from 1.
const (
	SynthesisRound = -1
	ScoringRound   = -2
)

// Role tags stamped on responses by the orchestrator.
const (
	RoleInitial    = "initial"
	RoleReflection = "reflection"
	RoleSynthesis  = "synthesis"
	RoleScoring    = "scoring"
)
