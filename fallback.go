package zenllm

import (
	"fmt"
	"os"
	"strings"
)

// EnvFallbackChain is the environment variable holding the default fallback
// chain, encoded as "provider:model,provider:model,...".
const EnvFallbackChain = "ZENLLM_FALLBACK_CHAIN"

// ProviderChoice is one entry in a fallback chain. Options override the
// request's provider options for this choice only. Immutable once built.
type ProviderChoice struct {
	Provider string
	Model    string
	Options  map[string]interface{}
}

func (c ProviderChoice) String() string {
	return c.Provider + ":" + c.Model
}

// FallbackConfig describes an ordered chain of provider choices with a
// shared retry policy. The engine reads it and never mutates it.
type FallbackConfig struct {
	Chain []ProviderChoice
	Retry RetryPolicy
	// AllowMidStreamSwitch permits falling over to the next choice after a
	// stream has already delivered events. Off by default: callers would see
	// a discontinuity in the output.
	AllowMidStreamSwitch bool
}

func (c FallbackConfig) validate() error {
	if len(c.Chain) == 0 {
		return &ConfigurationError{SDKError: SDKError{
			Message: "fallback chain must contain at least one choice",
		}}
	}
	for _, choice := range c.Chain {
		if choice.Model == "" {
			return &ConfigurationError{SDKError: SDKError{
				Message: "fallback chain contains a choice without a model",
			}}
		}
	}
	return c.Retry.validate()
}

// ParseChain parses a "provider:model,provider:model" chain string. A bare
// model name without a provider prefix gets its provider detected from the
// model name.
func ParseChain(s string) ([]ProviderChoice, error) {
	var chain []ProviderChoice
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		provider, model, found := strings.Cut(entry, ":")
		if !found {
			model = entry
			provider = DetectProvider(entry)
		}
		provider = strings.TrimSpace(provider)
		model = strings.TrimSpace(model)
		if provider == "" || model == "" {
			return nil, &ConfigurationError{SDKError: SDKError{
				Message: fmt.Sprintf("invalid fallback chain entry %q", entry),
			}}
		}
		chain = append(chain, ProviderChoice{Provider: provider, Model: model})
	}
	if len(chain) == 0 {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "fallback chain is empty",
		}}
	}
	return chain, nil
}

// ChainFromEnv reads the default fallback chain from ZENLLM_FALLBACK_CHAIN.
// Returns nil when the variable is unset.
func ChainFromEnv() ([]ProviderChoice, error) {
	raw := os.Getenv(EnvFallbackChain)
	if raw == "" {
		return nil, nil
	}
	return ParseChain(raw)
}
