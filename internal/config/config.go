// Package config provides the configuration schema and loader for the
// dissent debate engine.
package config

import (
	"log/slog"
	"time"

	"github.com/rspicer/dissent/pkg/registry"
	"github.com/rspicer/dissent/pkg/types"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel translates the config log level into an [slog.Level].
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for dissent. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader], then overlaid
// with environment credentials via [ApplyEnv].
type Config struct {
	// LogLevel controls verbosity. Defaults to info.
	LogLevel LogLevel `yaml:"log_level"`

	// TranscriptDir is where debate transcripts are written.
	// Defaults to "transcripts".
	TranscriptDir string `yaml:"transcript_dir"`

	Providers ProvidersConfig       `yaml:"providers"`
	Routing   RoutingConfig         `yaml:"routing"`
	Models    map[string]ModelEntry `yaml:"models"`
	Defaults  DefaultsConfig        `yaml:"defaults"`
}

// ProvidersConfig holds one credential block per vendor. A vendor without an
// API key simply opens no direct client; OpenRouter without a key disables
// aggregator dispatch.
type ProvidersConfig struct {
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
	Anthropic  ProviderEntry    `yaml:"anthropic"`
	OpenAI     ProviderEntry    `yaml:"openai"`
	Google     ProviderEntry    `yaml:"google"`
	XAI        ProviderEntry    `yaml:"xai"`
	Groq       ProviderEntry    `yaml:"groq"`
	Local      LocalConfig      `yaml:"local"`
}

// ProviderEntry is the credential block shared by direct vendors.
type ProviderEntry struct {
	// APIKey is the vendor API key. Empty disables the direct client for
	// this vendor; its models dispatch via OpenRouter instead.
	APIKey string `yaml:"api_key"`
}

// OpenRouterConfig configures the aggregator client.
type OpenRouterConfig struct {
	// APIKey is the OpenRouter API key.
	APIKey string `yaml:"api_key"`

	// SiteURL is sent as the HTTP-Referer attribution header.
	SiteURL string `yaml:"site_url"`
}

// LocalConfig enables the local (Ollama) backend. It needs no key, only an
// explicit opt-in.
type LocalConfig struct {
	// Enabled opens an Ollama client on the default local endpoint.
	Enabled bool `yaml:"enabled"`
}

// RoutingConfig sets the dispatch policy.
type RoutingConfig struct {
	// DefaultMode applies to aliases without an override: auto, direct, or
	// openrouter. Defaults to auto.
	DefaultMode types.RoutingMode `yaml:"default_mode"`

	// Overrides maps aliases to per-alias routing modes.
	Overrides map[string]types.RoutingMode `yaml:"overrides"`
}

// ModelEntry registers one alias in the model registry.
type ModelEntry struct {
	// OpenRouter is the aggregator model ID. Required.
	OpenRouter string `yaml:"openrouter"`

	// Direct is the vendor-native model ID. Optional.
	Direct string `yaml:"direct"`

	// Vendor overrides the vendor derived from the OpenRouter ID prefix.
	Vendor types.Vendor `yaml:"vendor"`
}

// DefaultsConfig sets the debate parameters used when CLI flags leave them
// unset.
type DefaultsConfig struct {
	// Panel is the ordered list of panelist aliases.
	Panel []string `yaml:"panel"`

	// Synthesizer is the alias that produces the final synthesis. Defaults
	// to the first panelist.
	Synthesizer string `yaml:"synthesizer"`

	// Rounds is the number of reflection rounds (1-3). Defaults to 1.
	Rounds int `yaml:"rounds"`

	// TimeoutSeconds is the per-call timeout. Defaults to 120.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// MaxOutputTokens caps completion length for vendors that require an
	// explicit cap. Defaults to 8192.
	MaxOutputTokens int `yaml:"max_output_tokens"`
}

// Default returns the built-in configuration used when no config file is
// present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills unset fields with their documented defaults.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = LogInfo
	}
	if c.TranscriptDir == "" {
		c.TranscriptDir = "transcripts"
	}
	if c.Routing.DefaultMode == "" {
		c.Routing.DefaultMode = types.ModeAuto
	}
	if len(c.Defaults.Panel) == 0 {
		c.Defaults.Panel = []string{"claude", "gpt", "gemini"}
	}
	if c.Defaults.Synthesizer == "" {
		c.Defaults.Synthesizer = c.Defaults.Panel[0]
	}
	if c.Defaults.Rounds == 0 {
		c.Defaults.Rounds = 1
	}
	if c.Defaults.TimeoutSeconds == 0 {
		c.Defaults.TimeoutSeconds = 120
	}
	if c.Defaults.MaxOutputTokens == 0 {
		c.Defaults.MaxOutputTokens = 8192
	}
}

// Registry builds the alias registry from the models table, falling back to
// the stock table when none is configured.
func (c *Config) Registry() *registry.Registry {
	if len(c.Models) == 0 {
		return registry.Default()
	}
	aliases := make(map[string]registry.ModelIDs, len(c.Models))
	for alias, entry := range c.Models {
		aliases[alias] = registry.ModelIDs{
			OpenRouter: entry.OpenRouter,
			Direct:     entry.Direct,
			Vendor:     entry.Vendor,
		}
	}
	return registry.New(aliases)
}

// Keys collects the configured credentials into the per-vendor key map the
// router consumes. The local backend needs no key; when enabled it gets a
// placeholder so the router opens a client for it.
func (c *Config) Keys() map[types.Vendor]string {
	keys := map[types.Vendor]string{}
	put := func(vendor types.Vendor, key string) {
		if key != "" {
			keys[vendor] = key
		}
	}
	put(types.VendorOpenRouter, c.Providers.OpenRouter.APIKey)
	put(types.VendorAnthropic, c.Providers.Anthropic.APIKey)
	put(types.VendorOpenAI, c.Providers.OpenAI.APIKey)
	put(types.VendorGoogle, c.Providers.Google.APIKey)
	put(types.VendorXAI, c.Providers.XAI.APIKey)
	put(types.VendorGroq, c.Providers.Groq.APIKey)
	if c.Providers.Local.Enabled {
		keys[types.VendorLocal] = "local"
	}
	return keys
}

// Timeout returns the per-call timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Defaults.TimeoutSeconds) * time.Second
}
