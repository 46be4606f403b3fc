package zenllm

import (
	"context"
	"net/http"
	"os"
	"sync"
)

// EnvDefaultModel names the environment variable holding the default model.
const EnvDefaultModel = "ZENLLM_DEFAULT_MODEL"

// DefaultModel returns the model used when none is specified.
func DefaultModel() string {
	if m := os.Getenv(EnvDefaultModel); m != "" {
		return m
	}
	return "gpt-5"
}

// Client routes provider-agnostic requests through the fallback engine to
// provider adapters. A Client is safe for concurrent use; each call builds
// its own engine and stream, and adapters share only the read-only HTTP
// client handle.
type Client struct {
	mu       sync.Mutex
	adapters map[string]ProviderAdapter

	httpc    *http.Client
	retry    RetryPolicy
	chain    []ProviderChoice
	switchOK bool
	sleeper  Sleeper
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers an adapter under a provider name, replacing any
// adapter the Client would construct from the environment.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.adapters[name] = adapter
	}
}

// WithHTTPClient injects the HTTP client handle used by adapters the Client
// constructs itself. The handle must be safe for concurrent use.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// WithFallback sets the default fallback chain used when a call does not
// name a model.
func WithFallback(chain ...ProviderChoice) ClientOption {
	return func(c *Client) {
		c.chain = chain
	}
}

// WithMidStreamSwitch permits falling over to the next choice after a stream
// has already delivered events.
func WithMidStreamSwitch(allow bool) ClientOption {
	return func(c *Client) {
		c.switchOK = allow
	}
}

// WithSleeper overrides the backoff sleeper. Used by tests.
func WithSleeper(s Sleeper) ClientOption {
	return func(c *Client) {
		c.sleeper = s
	}
}

// NewClient creates a Client. Without options, adapters are constructed on
// first use from provider API key environment variables, and the default
// fallback chain comes from ZENLLM_FALLBACK_CHAIN.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		adapters: map[string]ProviderAdapter{},
		retry:    DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// adapterFor resolves the adapter for a provider name, constructing it from
// the environment on first use. Construction failures are configuration
// errors and abort the whole call.
func (c *Client) adapterFor(provider string, cfg *callConfig) (ProviderAdapter, error) {
	if cfg.baseURL != "" {
		// An explicit base URL always uses the OpenAI-compatible adapter.
		return NewOpenAICompatAdapter(provider, cfg.baseURL, cfg.apiKey, WithOpenAIHTTPClient(c.httpc))
	}
	if cfg.apiKey != "" {
		return c.buildAdapter(provider, cfg.apiKey)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if adapter, ok := c.adapters[provider]; ok {
		return adapter, nil
	}
	adapter, err := c.buildAdapter(provider, "")
	if err != nil {
		return nil, err
	}
	c.adapters[provider] = adapter
	return adapter, nil
}

func (c *Client) buildAdapter(provider, apiKey string) (ProviderAdapter, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicAdapter(apiKey, WithAnthropicHTTPClient(c.httpc))
	case "gemini":
		return NewGeminiAdapter(apiKey, WithGeminiHTTPClient(c.httpc))
	case "openai", "deepseek", "together", "xai", "groq":
		service := openAICompatServices[provider]
		return newCompatAdapter(service, apiKey, []OpenAIAdapterOption{WithOpenAIHTTPClient(c.httpc)})
	default:
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "unknown provider " + provider,
		}}
	}
}

// callConfig carries per-call knobs shared by the generate and chat paths.
type callConfig struct {
	baseURL string
	apiKey  string
	chain   []ProviderChoice
	req     Request
}

// GenerateOptions configures a single-turn call.
type GenerateOptions struct {
	// Model selects the model; the provider is inferred from its prefix
	// unless Provider or BaseURL is set. Empty means the client's fallback
	// chain, the ZENLLM_FALLBACK_CHAIN env chain, or the default model.
	Model string
	// Provider forces a provider identifier.
	Provider string
	// BaseURL routes the call to an OpenAI-compatible endpoint.
	BaseURL string
	// APIKey overrides the provider's environment API key.
	APIKey string

	// Prompt is the user's message as plain text.
	Prompt string
	// Parts overrides Prompt with explicit content parts.
	Parts []ContentPart
	// Images is a convenience list of image parts appended to the turn.
	Images []ContentPart
	// System is the system instruction for the call.
	System string

	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	StopSequences   []string
	ResponseFormat  *ResponseFormat
	ProviderOptions map[string]interface{}
}

func (o GenerateOptions) messages() ([]Message, error) {
	var parts []ContentPart
	if len(o.Parts) > 0 {
		parts = append(parts, o.Parts...)
	} else if o.Prompt != "" {
		parts = append(parts, Text(o.Prompt))
	}
	parts = append(parts, o.Images...)

	if len(parts) == 0 {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "a prompt, parts, or images are required"},
		}}
	}

	var messages []Message
	if o.System != "" {
		messages = append(messages, SystemMessage(o.System))
	}
	messages = append(messages, UserParts(parts...))
	return messages, nil
}

// ChatOptions configures a multi-turn call. Field meanings match
// GenerateOptions.
type ChatOptions struct {
	Model    string
	Provider string
	BaseURL  string
	APIKey   string
	System   string

	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	StopSequences   []string
	ResponseFormat  *ResponseFormat
	ProviderOptions map[string]interface{}
}

// Generate performs a single-turn blocking call.
func (c *Client) Generate(ctx context.Context, opts GenerateOptions) (*Response, error) {
	messages, err := opts.messages()
	if err != nil {
		return nil, err
	}
	cfg, err := c.prepare(messages, opts.Model, opts.Provider, opts.BaseURL, opts.APIKey, requestKnobs{
		temperature:     opts.Temperature,
		topP:            opts.TopP,
		maxTokens:       opts.MaxTokens,
		stopSequences:   opts.StopSequences,
		responseFormat:  opts.ResponseFormat,
		providerOptions: opts.ProviderOptions,
	})
	if err != nil {
		return nil, err
	}
	return c.complete(ctx, cfg)
}

// GenerateStream performs a single-turn streaming call.
func (c *Client) GenerateStream(ctx context.Context, opts GenerateOptions) (*ResponseStream, error) {
	messages, err := opts.messages()
	if err != nil {
		return nil, err
	}
	cfg, err := c.prepare(messages, opts.Model, opts.Provider, opts.BaseURL, opts.APIKey, requestKnobs{
		temperature:     opts.Temperature,
		topP:            opts.TopP,
		maxTokens:       opts.MaxTokens,
		stopSequences:   opts.StopSequences,
		responseFormat:  opts.ResponseFormat,
		providerOptions: opts.ProviderOptions,
	})
	if err != nil {
		return nil, err
	}
	return c.stream(ctx, cfg)
}

// Chat performs a multi-turn blocking call over the given conversation.
func (c *Client) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*Response, error) {
	cfg, err := c.prepare(withSystem(messages, opts.System), opts.Model, opts.Provider, opts.BaseURL, opts.APIKey, requestKnobs{
		temperature:     opts.Temperature,
		topP:            opts.TopP,
		maxTokens:       opts.MaxTokens,
		stopSequences:   opts.StopSequences,
		responseFormat:  opts.ResponseFormat,
		providerOptions: opts.ProviderOptions,
	})
	if err != nil {
		return nil, err
	}
	return c.complete(ctx, cfg)
}

// ChatStream performs a multi-turn streaming call over the given conversation.
func (c *Client) ChatStream(ctx context.Context, messages []Message, opts ChatOptions) (*ResponseStream, error) {
	cfg, err := c.prepare(withSystem(messages, opts.System), opts.Model, opts.Provider, opts.BaseURL, opts.APIKey, requestKnobs{
		temperature:     opts.Temperature,
		topP:            opts.TopP,
		maxTokens:       opts.MaxTokens,
		stopSequences:   opts.StopSequences,
		responseFormat:  opts.ResponseFormat,
		providerOptions: opts.ProviderOptions,
	})
	if err != nil {
		return nil, err
	}
	return c.stream(ctx, cfg)
}

func withSystem(messages []Message, system string) []Message {
	if system == "" {
		return messages
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, SystemMessage(system))
	return append(out, messages...)
}

type requestKnobs struct {
	temperature     *float64
	topP            *float64
	maxTokens       *int
	stopSequences   []string
	responseFormat  *ResponseFormat
	providerOptions map[string]interface{}
}

// prepare resolves the fallback chain and builds the provider-agnostic
// request shared by every attempt.
func (c *Client) prepare(messages []Message, model, provider, baseURL, apiKey string, knobs requestKnobs) (*callConfig, error) {
	if len(messages) == 0 {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "messages list cannot be empty"},
		}}
	}

	chain, err := c.resolveChain(model, provider)
	if err != nil {
		return nil, err
	}

	return &callConfig{
		baseURL: baseURL,
		apiKey:  apiKey,
		chain:   chain,
		req: Request{
			Messages:        messages,
			Temperature:     knobs.temperature,
			TopP:            knobs.topP,
			MaxTokens:       knobs.maxTokens,
			StopSequences:   knobs.stopSequences,
			ResponseFormat:  knobs.responseFormat,
			ProviderOptions: knobs.providerOptions,
		},
	}, nil
}

// resolveChain picks the fallback chain for a call. An explicit model wins;
// then the client's configured chain; then the environment chain; then the
// default model.
func (c *Client) resolveChain(model, provider string) ([]ProviderChoice, error) {
	if model != "" {
		if provider == "" {
			provider = DetectProvider(model)
		}
		return []ProviderChoice{{Provider: provider, Model: model}}, nil
	}
	if len(c.chain) > 0 {
		return c.chain, nil
	}
	if envChain, err := ChainFromEnv(); err != nil {
		return nil, err
	} else if envChain != nil {
		return envChain, nil
	}
	m := DefaultModel()
	if provider == "" {
		provider = DetectProvider(m)
	}
	return []ProviderChoice{{Provider: provider, Model: m}}, nil
}

func (c *Client) engineFor(cfg *callConfig) *fallbackEngine {
	return newFallbackEngine(FallbackConfig{
		Chain:                cfg.chain,
		Retry:                c.retry,
		AllowMidStreamSwitch: c.switchOK,
	}, c.sleeper)
}

// requestFor specializes the shared request for one choice, merging the
// choice's options into the provider options without mutating shared state.
func (cfg *callConfig) requestFor(choice ProviderChoice) Request {
	req := cfg.req
	req.Model = choice.Model
	if len(choice.Options) > 0 {
		merged := map[string]interface{}{}
		if existing, ok := req.ProviderOptions[choice.Provider].(map[string]interface{}); ok {
			for k, v := range existing {
				merged[k] = v
			}
		}
		for k, v := range choice.Options {
			merged[k] = v
		}
		opts := map[string]interface{}{}
		for k, v := range req.ProviderOptions {
			opts[k] = v
		}
		opts[choice.Provider] = merged
		req.ProviderOptions = opts
	}
	return req
}

func (cfg *callConfig) promptChars() int {
	total := 0
	for _, msg := range cfg.req.Messages {
		for _, part := range msg.Content {
			if part.Kind == ContentText {
				total += len(part.Text)
			}
		}
	}
	return total
}

func (c *Client) complete(ctx context.Context, cfg *callConfig) (*Response, error) {
	engine := c.engineFor(cfg)
	return engine.Complete(ctx, func(ctx context.Context, choice ProviderChoice) (*Response, error) {
		adapter, err := c.adapterFor(choice.Provider, cfg)
		if err != nil {
			return nil, err
		}
		return adapter.Complete(ctx, cfg.requestFor(choice))
	})
}

func (c *Client) stream(ctx context.Context, cfg *callConfig) (*ResponseStream, error) {
	engine := c.engineFor(cfg)
	return engine.Stream(ctx, func(ctx context.Context, choice ProviderChoice) (<-chan StreamEvent, error) {
		adapter, err := c.adapterFor(choice.Provider, cfg)
		if err != nil {
			return nil, err
		}
		return adapter.Stream(ctx, cfg.requestFor(choice))
	}, cfg.promptChars())
}

// Generate is a package-level convenience that builds a fresh Client for one
// single-turn call. Calls share no mutable state.
func Generate(ctx context.Context, opts GenerateOptions) (*Response, error) {
	return NewClient().Generate(ctx, opts)
}

// GenerateStream is the streaming variant of Generate.
func GenerateStream(ctx context.Context, opts GenerateOptions) (*ResponseStream, error) {
	return NewClient().GenerateStream(ctx, opts)
}

// Chat is a package-level convenience for one multi-turn call.
func Chat(ctx context.Context, messages []Message, opts ChatOptions) (*Response, error) {
	return NewClient().Chat(ctx, messages, opts)
}

// ChatStream is the streaming variant of Chat.
func ChatStream(ctx context.Context, messages []Message, opts ChatOptions) (*ResponseStream, error) {
	return NewClient().ChatStream(ctx, messages, opts)
}
