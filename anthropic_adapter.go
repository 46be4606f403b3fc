package zenllm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
)

const anthropicVersion = "2023-06-01"

// AnthropicAdapter implements ProviderAdapter for the Anthropic Messages API.
type AnthropicAdapter struct {
	apiKey  string
	baseURL string
	http    *httpClient
}

// AnthropicAdapterOption configures an AnthropicAdapter.
type AnthropicAdapterOption func(*AnthropicAdapter)

// WithAnthropicBaseURL sets a custom base URL.
func WithAnthropicBaseURL(url string) AnthropicAdapterOption {
	return func(a *AnthropicAdapter) {
		a.baseURL = strings.TrimRight(url, "/")
	}
}

// WithAnthropicHTTPClient sets the HTTP client handle used for requests.
func WithAnthropicHTTPClient(c *http.Client) AnthropicAdapterOption {
	return func(a *AnthropicAdapter) {
		a.http = wrapHTTPClient(c)
	}
}

// NewAnthropicAdapter creates a new Anthropic adapter using the Messages API.
func NewAnthropicAdapter(apiKey string, opts ...AnthropicAdapterOption) (*AnthropicAdapter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "ANTHROPIC_API_KEY is required",
		}}
	}

	a := &AnthropicAdapter{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com",
		http:    newHTTPClient(),
	}

	if envURL := os.Getenv("ANTHROPIC_BASE_URL"); envURL != "" {
		a.baseURL = strings.TrimRight(envURL, "/")
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Complete sends a blocking request to the Anthropic Messages API.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
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
		return nil, buildErrorFromResponse(resp, "anthropic")
	}

	return a.parseResponse(resp)
}

// Stream sends a streaming request to the Anthropic Messages API.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
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
		return nil, buildErrorFromResponse(resp, "anthropic")
	}

	ch := make(chan StreamEvent, 64)
	go a.readStream(ctx, resp.Body, ch)
	return ch, nil
}

func (a *AnthropicAdapter) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "failed to create request", Cause: err}}
	}
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "request failed", Cause: err}}
	}
	return resp, nil
}

func (a *AnthropicAdapter) buildRequestBody(req Request, stream bool) ([]byte, error) {
	var systemBlocks []interface{}
	var messages []map[string]interface{}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			for _, part := range msg.Content {
				if part.Kind == ContentText {
					systemBlocks = append(systemBlocks, map[string]interface{}{
						"type": "text",
						"text": part.Text,
					})
				}
			}
		case RoleUser:
			messages = append(messages, a.translateMessage("user", msg))
		case RoleAssistant:
			messages = append(messages, a.translateMessage("assistant", msg))
		}
	}

	if len(messages) == 0 {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "messages list cannot be empty"},
			Provider: "anthropic",
		}}
	}

	// The Messages API requires strict user/assistant alternation.
	messages = mergeConsecutiveRoles(messages)

	body := map[string]interface{}{
		"model":    req.Model,
		"messages": messages,
	}
	if len(systemBlocks) > 0 {
		body["system"] = systemBlocks
	}

	// max_tokens is required for Anthropic.
	maxTokens := 4096
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	body["max_tokens"] = maxTokens

	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if len(req.StopSequences) > 0 {
		body["stop_sequences"] = req.StopSequences
	}

	if stream {
		body["stream"] = true
	}

	if opts, ok := req.ProviderOptions["anthropic"].(map[string]interface{}); ok {
		for k, v := range opts {
			body[k] = v
		}
	}

	return json.Marshal(body)
}

func (a *AnthropicAdapter) translateMessage(role string, msg Message) map[string]interface{} {
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
			if part.Image.URL != "" {
				content = append(content, map[string]interface{}{
					"type": "image",
					"source": map[string]interface{}{
						"type": "url",
						"url":  part.Image.URL,
					},
				})
			} else if len(part.Image.Data) > 0 {
				mediaType := part.Image.MediaType
				if mediaType == "" {
					mediaType = "image/jpeg"
				}
				content = append(content, map[string]interface{}{
					"type": "image",
					"source": map[string]interface{}{
						"type":       "base64",
						"media_type": mediaType,
						"data":       base64.StdEncoding.EncodeToString(part.Image.Data),
					},
				})
			}
		}
	}
	if len(content) == 0 {
		content = append(content, map[string]interface{}{
			"type": "text",
			"text": "",
		})
	}
	return map[string]interface{}{
		"role":    role,
		"content": content,
	}
}

func mergeConsecutiveRoles(messages []map[string]interface{}) []map[string]interface{} {
	if len(messages) <= 1 {
		return messages
	}

	var merged []map[string]interface{}
	for _, msg := range messages {
		if len(merged) > 0 {
			last := merged[len(merged)-1]
			if last["role"] == msg["role"] {
				lastContent, _ := last["content"].([]interface{})
				msgContent, _ := msg["content"].([]interface{})
				last["content"] = append(lastContent, msgContent...)
				continue
			}
		}
		merged = append(merged, msg)
	}
	return merged
}

func (a *AnthropicAdapter) parseResponse(resp *http.Response) (*Response, error) {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "failed to read response", Cause: err}}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &raw); err != nil {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "failed to parse response JSON", Cause: err},
			Provider: "anthropic",
		}}
	}

	response := &Response{
		Provider: "anthropic",
		Raw:      raw,
		Message:  Message{Role: RoleAssistant},
	}

	if id, ok := raw["id"].(string); ok {
		response.ID = id
	}
	if model, ok := raw["model"].(string); ok {
		response.Model = model
	}

	if content, ok := raw["content"].([]interface{}); ok {
		for _, block := range content {
			blockMap, ok := block.(map[string]interface{})
			if !ok {
				continue
			}
			if blockMap["type"] == "text" {
				if text, ok := blockMap["text"].(string); ok {
					response.Message.Content = append(response.Message.Content, Text(text))
				}
			}
		}
	}

	if stopReason, ok := raw["stop_reason"].(string); ok {
		response.FinishReason = a.mapFinishReason(stopReason)
	}

	response.Usage = a.parseUsage(raw)
	response.RateLimit = parseRateLimitHeaders(resp.Header)

	return response, nil
}

func (a *AnthropicAdapter) mapFinishReason(reason string) FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return FinishReason{Reason: "stop", Raw: reason}
	case "max_tokens":
		return FinishReason{Reason: "length", Raw: reason}
	default:
		return FinishReason{Reason: "other", Raw: reason}
	}
}

func (a *AnthropicAdapter) parseUsage(raw map[string]interface{}) Usage {
	usage := Usage{}
	usageMap, ok := raw["usage"].(map[string]interface{})
	if !ok {
		return usage
	}

	if v, ok := usageMap["input_tokens"].(float64); ok {
		usage.InputTokens = int(v)
	}
	if v, ok := usageMap["output_tokens"].(float64); ok {
		usage.OutputTokens = int(v)
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	if v, ok := usageMap["cache_read_input_tokens"].(float64); ok {
		ct := int(v)
		usage.CacheReadTokens = &ct
	}

	usage.Raw = usageMap
	return usage
}

func (a *AnthropicAdapter) readStream(ctx context.Context, body io.ReadCloser, ch chan<- StreamEvent) {
	defer close(ch)
	defer body.Close()

	reader := newSSEReader(body)
	var usage Usage
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

		var data map[string]interface{}
		if err := json.Unmarshal([]byte(event.Data), &data); err != nil {
			continue
		}
		lastRaw = data

		switch event.Event {
		case "message_start":
			// Input token count arrives up front.
			if msgData, ok := data["message"].(map[string]interface{}); ok {
				if usageData, ok := msgData["usage"].(map[string]interface{}); ok {
					if v, ok := usageData["input_tokens"].(float64); ok {
						usage.InputTokens = int(v)
					}
					if v, ok := usageData["cache_read_input_tokens"].(float64); ok {
						ct := int(v)
						usage.CacheReadTokens = &ct
					}
				}
			}
			u := usage
			if !sendEvent(ctx, ch, StreamEvent{Type: StreamStart, Usage: &u, Raw: data}) {
				return
			}

		case "content_block_delta":
			if delta, ok := data["delta"].(map[string]interface{}); ok {
				if delta["type"] == "text_delta" {
					if text, ok := delta["text"].(string); ok && text != "" {
						if !sendEvent(ctx, ch, StreamEvent{Type: StreamText, Text: text}) {
							return
						}
					}
				}
			}

		case "message_delta":
			if delta, ok := data["delta"].(map[string]interface{}); ok {
				if stopReason, ok := delta["stop_reason"].(string); ok {
					if usageData, ok := data["usage"].(map[string]interface{}); ok {
						if v, ok := usageData["output_tokens"].(float64); ok {
							usage.OutputTokens = int(v)
						}
					}
					usage.TotalTokens = usage.InputTokens + usage.OutputTokens
					fr := a.mapFinishReason(stopReason)
					u := usage
					sendEvent(ctx, ch, StreamEvent{
						Type:         StreamFinish,
						Usage:        &u,
						FinishReason: &fr,
						Raw:          data,
					})
					return
				}
			}

		case "message_stop":
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			fr := FinishReason{Reason: "stop"}
			u := usage
			sendEvent(ctx, ch, StreamEvent{
				Type:         StreamFinish,
				Usage:        &u,
				FinishReason: &fr,
				Raw:          data,
			})
			return

		case "error":
			errMsg := "stream error"
			if errData, ok := data["error"].(map[string]interface{}); ok {
				if msg, ok := errData["message"].(string); ok {
					errMsg = msg
				}
			}
			sendEvent(ctx, ch, StreamEvent{Type: StreamError, Err: &ServerError{ProviderError: ProviderError{
				SDKError: SDKError{Message: errMsg},
				Provider: "anthropic",
			}}})
			return
		}
	}

	// End of transport without a terminal frame.
	if lastRaw == nil {
		sendEvent(ctx, ch, StreamEvent{Type: StreamError, Err: &NetworkError{SDKError: SDKError{
			Message: "stream ended before any data",
		}}})
		return
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	fr := FinishReason{Reason: "stop"}
	u := usage
	sendEvent(ctx, ch, StreamEvent{Type: StreamFinish, Usage: &u, FinishReason: &fr, Raw: lastRaw})
}
