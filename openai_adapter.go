package zenllm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// OpenAIAdapter implements ProviderAdapter for the OpenAI Chat Completions
// API. The same wire format is spoken by DeepSeek, Together, X.ai, Groq and
// most self-hosted gateways, so the adapter is parameterized by name, base
// URL and key environment variable; the New*Adapter constructors below cover
// the hosted services.
type OpenAIAdapter struct {
	name    string
	apiKey  string
	baseURL string
	http    *httpClient
}

// OpenAIAdapterOption configures an OpenAIAdapter.
type OpenAIAdapterOption func(*OpenAIAdapter)

// WithOpenAIBaseURL sets a custom base URL.
func WithOpenAIBaseURL(url string) OpenAIAdapterOption {
	return func(a *OpenAIAdapter) {
		a.baseURL = strings.TrimRight(url, "/")
	}
}

// WithOpenAIHTTPClient sets the HTTP client handle used for requests.
func WithOpenAIHTTPClient(c *http.Client) OpenAIAdapterOption {
	return func(a *OpenAIAdapter) {
		a.http = wrapHTTPClient(c)
	}
}

type openAICompatService struct {
	name    string
	baseURL string
	keyEnvs []string
}

var openAICompatServices = map[string]openAICompatService{
	"openai":   {name: "openai", baseURL: "https://api.openai.com/v1", keyEnvs: []string{"OPENAI_API_KEY"}},
	"deepseek": {name: "deepseek", baseURL: "https://api.deepseek.com/v1", keyEnvs: []string{"DEEPSEEK_API_KEY"}},
	"together": {name: "together", baseURL: "https://api.together.xyz/v1", keyEnvs: []string{"TOGETHER_API_KEY"}},
	"xai":      {name: "xai", baseURL: "https://api.x.ai/v1", keyEnvs: []string{"XAI_API_KEY"}},
	"groq":     {name: "groq", baseURL: "https://api.groq.com/openai/v1", keyEnvs: []string{"GROQ_API_KEY"}},
}

func newCompatAdapter(service openAICompatService, apiKey string, opts []OpenAIAdapterOption) (*OpenAIAdapter, error) {
	if apiKey == "" {
		for _, env := range service.keyEnvs {
			if v := os.Getenv(env); v != "" {
				apiKey = v
				break
			}
		}
	}

	a := &OpenAIAdapter{
		name:    service.name,
		apiKey:  apiKey,
		baseURL: service.baseURL,
		http:    newHTTPClient(),
	}
	for _, opt := range opts {
		opt(a)
	}

	// A key is only optional when pointing at a non-default base URL
	// (e.g. a local model server).
	if a.apiKey == "" && a.baseURL == service.baseURL {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("%s is required", strings.Join(service.keyEnvs, " or ")),
		}}
	}

	return a, nil
}

// NewOpenAIAdapter creates an adapter for the OpenAI API.
func NewOpenAIAdapter(apiKey string, opts ...OpenAIAdapterOption) (*OpenAIAdapter, error) {
	return newCompatAdapter(openAICompatServices["openai"], apiKey, opts)
}

// NewDeepSeekAdapter creates an adapter for the DeepSeek API.
func NewDeepSeekAdapter(apiKey string, opts ...OpenAIAdapterOption) (*OpenAIAdapter, error) {
	return newCompatAdapter(openAICompatServices["deepseek"], apiKey, opts)
}

// NewTogetherAdapter creates an adapter for the Together API.
func NewTogetherAdapter(apiKey string, opts ...OpenAIAdapterOption) (*OpenAIAdapter, error) {
	return newCompatAdapter(openAICompatServices["together"], apiKey, opts)
}

// NewXAIAdapter creates an adapter for the X.ai API.
func NewXAIAdapter(apiKey string, opts ...OpenAIAdapterOption) (*OpenAIAdapter, error) {
	return newCompatAdapter(openAICompatServices["xai"], apiKey, opts)
}

// NewGroqAdapter creates an adapter for the Groq API.
func NewGroqAdapter(apiKey string, opts ...OpenAIAdapterOption) (*OpenAIAdapter, error) {
	return newCompatAdapter(openAICompatServices["groq"], apiKey, opts)
}

// NewOpenAICompatAdapter creates an adapter for any OpenAI-compatible
// endpoint, e.g. a local model server. The API key may be empty.
func NewOpenAICompatAdapter(name, baseURL, apiKey string, opts ...OpenAIAdapterOption) (*OpenAIAdapter, error) {
	if baseURL == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "base URL is required for an OpenAI-compatible endpoint",
		}}
	}
	if name == "" {
		name = "openai"
	}
	a := &OpenAIAdapter{
		name:    name,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClient(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *OpenAIAdapter) Name() string { return a.name }

// Complete sends a blocking request to the Chat Completions API.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := a.buildRequestBody(req, false)
	if err != nil {
		return nil, err
	}

	resp, err := a.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, buildErrorFromResponse(resp, a.name)
	}

	return a.parseResponse(resp)
}

// Stream sends a streaming request to the Chat Completions API.
func (a *OpenAIAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	body, err := a.buildRequestBody(req, true)
	if err != nil {
		return nil, err
	}

	resp, err := a.post(ctx, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, buildErrorFromResponse(resp, a.name)
	}

	ch := make(chan StreamEvent, 64)
	go a.readStream(ctx, resp.Body, ch)
	return ch, nil
}

func (a *OpenAIAdapter) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "failed to create request", Cause: err}}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "request failed", Cause: err}}
	}
	return resp, nil
}

func (a *OpenAIAdapter) buildRequestBody(req Request, stream bool) ([]byte, error) {
	var messages []interface{}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, map[string]interface{}{
				"role":    "system",
				"content": msg.TextContent(),
			})
		case RoleAssistant:
			messages = append(messages, map[string]interface{}{
				"role":    "assistant",
				"content": msg.TextContent(),
			})
		case RoleUser:
			messages = append(messages, a.translateUserMessage(msg))
		}
	}

	if len(messages) == 0 {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "messages list cannot be empty"},
			Provider: a.name,
		}}
	}

	body := map[string]interface{}{
		"model":    req.Model,
		"messages": messages,
	}

	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		body["stop"] = req.StopSequences
	}

	if req.ResponseFormat != nil {
		switch req.ResponseFormat.Type {
		case "json_schema":
			body["response_format"] = map[string]interface{}{
				"type": "json_schema",
				"json_schema": map[string]interface{}{
					"name":   req.ResponseFormat.Name,
					"schema": req.ResponseFormat.JSONSchema,
					"strict": req.ResponseFormat.Strict,
				},
			}
		case "json":
			body["response_format"] = map[string]interface{}{"type": "json_object"}
		}
	}

	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]interface{}{"include_usage": true}
	}

	if opts, ok := req.ProviderOptions[a.name].(map[string]interface{}); ok {
		for k, v := range opts {
			body[k] = v
		}
	}

	return json.Marshal(body)
}

func (a *OpenAIAdapter) translateUserMessage(msg Message) map[string]interface{} {
	// Plain text messages keep the simple string form for maximum
	// compatibility with local servers.
	onlyText := true
	for _, part := range msg.Content {
		if part.Kind != ContentText {
			onlyText = false
			break
		}
	}
	if onlyText {
		return map[string]interface{}{
			"role":    "user",
			"content": msg.TextContent(),
		}
	}

	var content []interface{}
	for _, part := range msg.Content {
		switch part.Kind {
		case ContentText:
			content = append(content, map[string]interface{}{
				"type": "text",
				"text": part.Text,
			})
		case ContentImage:
			if part.Image == nil {
				continue
			}
			var imageURL string
			if part.Image.URL != "" {
				imageURL = part.Image.URL
			} else if len(part.Image.Data) > 0 {
				mediaType := part.Image.MediaType
				if mediaType == "" {
					mediaType = "image/jpeg"
				}
				imageURL = fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(part.Image.Data))
			}
			if imageURL == "" {
				continue
			}
			block := map[string]interface{}{
				"type":      "image_url",
				"image_url": map[string]interface{}{"url": imageURL},
			}
			if part.Image.Detail != "" {
				block["image_url"].(map[string]interface{})["detail"] = part.Image.Detail
			}
			content = append(content, block)
		}
	}
	return map[string]interface{}{
		"role":    "user",
		"content": content,
	}
}

func (a *OpenAIAdapter) parseResponse(resp *http.Response) (*Response, error) {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "failed to read response", Cause: err}}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &raw); err != nil {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "failed to parse response JSON", Cause: err},
			Provider: a.name,
		}}
	}

	response := &Response{
		Provider: a.name,
		Raw:      raw,
		Message:  Message{Role: RoleAssistant},
	}

	if id, ok := raw["id"].(string); ok {
		response.ID = id
	}
	if model, ok := raw["model"].(string); ok {
		response.Model = model
	}

	if choices, ok := raw["choices"].([]interface{}); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]interface{}); ok {
			if message, ok := choice["message"].(map[string]interface{}); ok {
				if content, ok := message["content"].(string); ok && content != "" {
					response.Message.Content = append(response.Message.Content, Text(content))
				}
			}
			if fr, ok := choice["finish_reason"].(string); ok {
				response.FinishReason = a.mapFinishReason(fr)
			}
		}
	}

	response.Usage = a.parseUsage(raw)
	response.RateLimit = parseRateLimitHeaders(resp.Header)

	return response, nil
}

func (a *OpenAIAdapter) mapFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishReason{Reason: "stop", Raw: reason}
	case "length":
		return FinishReason{Reason: "length", Raw: reason}
	case "content_filter":
		return FinishReason{Reason: "content_filter", Raw: reason}
	default:
		return FinishReason{Reason: "other", Raw: reason}
	}
}

func (a *OpenAIAdapter) parseUsage(raw map[string]interface{}) Usage {
	usage := Usage{}
	usageMap, ok := raw["usage"].(map[string]interface{})
	if !ok {
		return usage
	}

	if v, ok := usageMap["prompt_tokens"].(float64); ok {
		usage.InputTokens = int(v)
	}
	if v, ok := usageMap["completion_tokens"].(float64); ok {
		usage.OutputTokens = int(v)
	}
	if v, ok := usageMap["total_tokens"].(float64); ok {
		usage.TotalTokens = int(v)
	} else {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	if details, ok := usageMap["completion_tokens_details"].(map[string]interface{}); ok {
		if v, ok := details["reasoning_tokens"].(float64); ok {
			rt := int(v)
			usage.ReasoningTokens = &rt
		}
	}
	if details, ok := usageMap["prompt_tokens_details"].(map[string]interface{}); ok {
		if v, ok := details["cached_tokens"].(float64); ok {
			ct := int(v)
			usage.CacheReadTokens = &ct
		}
	}

	usage.Raw = usageMap
	return usage
}

func (a *OpenAIAdapter) readStream(ctx context.Context, body io.ReadCloser, ch chan<- StreamEvent) {
	defer close(ch)
	defer body.Close()

	reader := newSSEReader(body)
	started := false
	var lastUsage *Usage
	var finish *FinishReason
	var lastRaw map[string]interface{}

	for {
		select {
		case <-ctx.Done():
			sendEvent(ctx, ch, StreamEvent{Type: StreamError, Err: &AbortError{SDKError: SDKError{Message: "stream cancelled"}}})
			return
		default:
		}

		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			sendEvent(ctx, ch, StreamEvent{Type: StreamError, Err: &NetworkError{SDKError: SDKError{Message: "stream read error", Cause: err}}})
			return
		}

		if event.Event == "[DONE]" || event.Data == "[DONE]" {
			break
		}

		var data map[string]interface{}
		if err := json.Unmarshal([]byte(event.Data), &data); err != nil {
			continue
		}
		lastRaw = data

		if !started {
			started = true
			if !sendEvent(ctx, ch, StreamEvent{Type: StreamStart, Raw: data}) {
				return
			}
		}

		// The final usage chunk has an empty choices array when
		// stream_options.include_usage is set.
		if usageMap, ok := data["usage"].(map[string]interface{}); ok && usageMap != nil {
			u := a.parseUsage(data)
			lastUsage = &u
		}

		if choices, ok := data["choices"].([]interface{}); ok && len(choices) > 0 {
			choice, ok := choices[0].(map[string]interface{})
			if !ok {
				continue
			}
			if delta, ok := choice["delta"].(map[string]interface{}); ok {
				if content, ok := delta["content"].(string); ok && content != "" {
					if !sendEvent(ctx, ch, StreamEvent{Type: StreamText, Text: content}) {
						return
					}
				}
			}
			if fr, ok := choice["finish_reason"].(string); ok && fr != "" {
				mapped := a.mapFinishReason(fr)
				finish = &mapped
			}
		}
	}

	if !started {
		sendEvent(ctx, ch, StreamEvent{Type: StreamError, Err: &NetworkError{SDKError: SDKError{
			Message: "stream ended before any data",
		}}})
		return
	}
	if finish == nil {
		finish = &FinishReason{Reason: "stop"}
	}
	sendEvent(ctx, ch, StreamEvent{
		Type:         StreamFinish,
		Usage:        lastUsage,
		FinishReason: finish,
		Raw:          lastRaw,
	})
}
