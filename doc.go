// Package zenllm provides a unified LLM client with native HTTP provider
// adapters for OpenAI-compatible services, Anthropic, and Gemini, built
// around a fallback chain that retries transient failures and advances
// through providers until one succeeds.
//
// # Quick Start
//
// Using the high-level API with environment-based configuration:
//
//	resp, err := zenllm.Generate(ctx, zenllm.GenerateOptions{
//	    Model:  "claude-sonnet-4-20250514",
//	    Prompt: "Explain quantum computing in one paragraph",
//	})
//	fmt.Println(resp.Text())
//
// Streaming a response as it is produced:
//
//	stream, err := zenllm.GenerateStream(ctx, zenllm.GenerateOptions{
//	    Prompt: "Write a haiku about fallbacks",
//	})
//	for {
//	    ev, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Print(ev.Text)
//	}
//	final, err := stream.Finalize()
//
// # Fallback Chains
//
// A fallback chain is an ordered list of provider/model choices. Each choice
// is retried with exponential backoff on transient failures (429, 5xx,
// timeouts); client errors (400, 401, 403, 404, 422) advance to the next
// choice immediately; local configuration errors abort the whole call. The
// chain can be set per client, or via ZENLLM_FALLBACK_CHAIN:
//
//	client := zenllm.NewClient(zenllm.WithFallback(
//	    zenllm.ProviderChoice{Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
//	    zenllm.ProviderChoice{Provider: "openai", Model: "gpt-5-mini"},
//	))
//
// For streaming calls the chain only advances invisibly before the first
// event arrives; once a provider has produced output the call is committed
// to it, unless mid-stream switching is enabled with WithMidStreamSwitch.
//
// # Native Provider Adapters
//
// Adapters speak each provider's HTTP API directly, with no SDK dependency:
//
//   - OpenAIAdapter: Chat Completions (/chat/completions), parameterized by
//     base URL to also cover DeepSeek, Together, X.ai, Groq, and any
//     OpenAI-compatible endpoint such as a local model server
//   - AnthropicAdapter: Messages API (/v1/messages)
//   - GeminiAdapter: Gemini API (/v1beta/models/*/generateContent)
//
// API keys are read from the usual environment variables (OPENAI_API_KEY,
// ANTHROPIC_API_KEY, GEMINI_API_KEY, ...) when an adapter is constructed.
//
// # Cost Estimation
//
// A built-in pricing catalog estimates the cost of a response from its
// token usage:
//
//	if cost := resp.Cost(); cost != nil && cost.Total != nil {
//	    fmt.Printf("$%.6f\n", *cost.Total)
//	}
package zenllm
