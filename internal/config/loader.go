package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// envKeys maps environment variables to the provider credential they
// populate when the config file leaves it empty.
var envKeys = []struct {
	env string
	set func(*Config, string)
}{
	{"OPENROUTER_API_KEY", func(c *Config, v string) { c.Providers.OpenRouter.APIKey = v }},
	{"ANTHROPIC_API_KEY", func(c *Config, v string) { c.Providers.Anthropic.APIKey = v }},
	{"OPENAI_API_KEY", func(c *Config, v string) { c.Providers.OpenAI.APIKey = v }},
	{"GEMINI_API_KEY", func(c *Config, v string) { c.Providers.Google.APIKey = v }},
	{"XAI_API_KEY", func(c *Config, v string) { c.Providers.XAI.APIKey = v }},
	{"GROQ_API_KEY", func(c *Config, v string) { c.Providers.Groq.APIKey = v }},
}

// Load reads the YAML configuration file at path, applies defaults and
// environment credentials, and returns a validated [Config]. A missing file
// is not an error: the built-in defaults are used.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			ApplyEnv(cfg)
			return cfg, Validate(cfg)
		}
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and applies defaults. Unknown
// fields are rejected. Useful in tests where configs are constructed from
// string literals. Environment overlay and validation are the caller's job.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ApplyEnv fills credentials left empty by the config file from the standard
// environment variables. File values win.
func ApplyEnv(cfg *Config) {
	current := map[string]string{
		"OPENROUTER_API_KEY": cfg.Providers.OpenRouter.APIKey,
		"ANTHROPIC_API_KEY":  cfg.Providers.Anthropic.APIKey,
		"OPENAI_API_KEY":     cfg.Providers.OpenAI.APIKey,
		"GEMINI_API_KEY":     cfg.Providers.Google.APIKey,
		"XAI_API_KEY":        cfg.Providers.XAI.APIKey,
		"GROQ_API_KEY":       cfg.Providers.Groq.APIKey,
	}
	for _, e := range envKeys {
		if current[e.env] != "" {
			continue
		}
		if v := os.Getenv(e.env); v != "" {
			e.set(cfg, v)
		}
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if !cfg.Routing.DefaultMode.IsValid() {
		errs = append(errs, fmt.Errorf("routing.default_mode %q is invalid; valid values: auto, direct, openrouter", cfg.Routing.DefaultMode))
	}
	for alias, mode := range cfg.Routing.Overrides {
		if !mode.IsValid() {
			errs = append(errs, fmt.Errorf("routing.overrides[%q] %q is invalid; valid values: auto, direct, openrouter", alias, mode))
		}
	}
	for alias, entry := range cfg.Models {
		if entry.OpenRouter == "" {
			errs = append(errs, fmt.Errorf("models[%q].openrouter is required", alias))
		}
		if entry.Vendor != "" && !entry.Vendor.IsValid() {
			errs = append(errs, fmt.Errorf("models[%q].vendor %q is not a known vendor", alias, entry.Vendor))
		}
	}
	if cfg.Defaults.Rounds < 1 || cfg.Defaults.Rounds > 3 {
		errs = append(errs, fmt.Errorf("defaults.rounds %d is out of range [1, 3]", cfg.Defaults.Rounds))
	}
	if cfg.Defaults.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("defaults.timeout_seconds %d must not be negative", cfg.Defaults.TimeoutSeconds))
	}
	if cfg.Defaults.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("defaults.max_output_tokens %d must not be negative", cfg.Defaults.MaxOutputTokens))
	}
	return errors.Join(errs...)
}
