package zenllm

import (
	"context"
	"strings"
)

// ProviderAdapter is the capability interface implemented once per provider.
// The fallback engine is generic over this interface and never branches on
// provider identity.
type ProviderAdapter interface {
	// Name returns the provider identifier, e.g. "openai".
	Name() string
	// Complete issues a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
	// Stream issues a streaming request. The returned channel delivers
	// frames in transport order and is closed when the stream ends. A non
	// nil error means no stream was opened.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Model name prefixes mapped to provider identifiers. Checked in order so
// the more specific prefix wins.
var providerPrefixes = []struct {
	prefix   string
	provider string
}{
	{"claude", "anthropic"},
	{"gemini", "gemini"},
	{"deepseek", "deepseek"},
	{"grok", "xai"},
	{"gpt", "openai"},
	{"o1", "openai"},
	{"o3", "openai"},
	{"o4", "openai"},
}

// DetectProvider infers the provider identifier from a model name prefix.
// Unknown prefixes default to "openai", matching the behavior of most
// OpenAI-compatible gateways.
func DetectProvider(model string) string {
	lower := strings.ToLower(model)
	for _, p := range providerPrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			return p.provider
		}
	}
	return "openai"
}
