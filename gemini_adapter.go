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

	"github.com/google/uuid"
)

// GeminiAdapter implements ProviderAdapter for the Gemini API.
type GeminiAdapter struct {
	apiKey  string
	baseURL string
	http    *httpClient
}

// GeminiAdapterOption configures a GeminiAdapter.
type GeminiAdapterOption func(*GeminiAdapter)

// WithGeminiBaseURL sets a custom base URL.
func WithGeminiBaseURL(url string) GeminiAdapterOption {
	return func(a *GeminiAdapter) {
		a.baseURL = strings.TrimRight(url, "/")
	}
}

// WithGeminiHTTPClient sets the HTTP client handle used for requests.
func WithGeminiHTTPClient(c *http.Client) GeminiAdapterOption {
	return func(a *GeminiAdapter) {
		a.http = wrapHTTPClient(c)
	}
}

// NewGeminiAdapter creates a new Gemini adapter.
func NewGeminiAdapter(apiKey string, opts ...GeminiAdapterOption) (*GeminiAdapter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "GEMINI_API_KEY or GOOGLE_API_KEY is required",
		}}
	}

	a := &GeminiAdapter{
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com",
		http:    newHTTPClient(),
	}

	if envURL := os.Getenv("GEMINI_BASE_URL"); envURL != "" {
		a.baseURL = strings.TrimRight(envURL, "/")
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

func (a *GeminiAdapter) Name() string { return "gemini" }

// Complete sends a blocking request to the Gemini API.
func (a *GeminiAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := a.buildRequestBody(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.baseURL, req.Model)
	resp, err := a.post(ctx, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, buildErrorFromResponse(resp, "gemini")
	}

	return a.parseResponse(resp, req.Model)
}

// Stream sends a streaming request to the Gemini API.
func (a *GeminiAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	body, err := a.buildRequestBody(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", a.baseURL, req.Model)
	resp, err := a.post(ctx, url, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, buildErrorFromResponse(resp, "gemini")
	}

	ch := make(chan StreamEvent, 64)
	go a.readStream(ctx, resp.Body, ch)
	return ch, nil
}

func (a *GeminiAdapter) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "failed to create request", Cause: err}}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// The key travels in a header, not the URL, so it cannot leak into
	// error messages that echo the request URL.
	httpReq.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "request failed", Cause: err}}
	}
	return resp, nil
}

func (a *GeminiAdapter) buildRequestBody(req Request) ([]byte, error) {
	var contents []interface{}
	var systemParts []interface{}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			for _, part := range msg.Content {
				if part.Kind == ContentText {
					systemParts = append(systemParts, map[string]interface{}{"text": part.Text})
				}
			}
		case RoleUser:
			contents = append(contents, map[string]interface{}{
				"role":  "user",
				"parts": a.translateParts(msg.Content),
			})
		case RoleAssistant:
			contents = append(contents, map[string]interface{}{
				"role":  "model",
				"parts": a.translateParts(msg.Content),
			})
		}
	}

	if len(contents) == 0 {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "messages list cannot be empty"},
			Provider: "gemini",
		}}
	}

	body := map[string]interface{}{"contents": contents}

	if len(systemParts) > 0 {
		body["system_instruction"] = map[string]interface{}{"parts": systemParts}
	}

	generationConfig := map[string]interface{}{}
	if req.Temperature != nil {
		generationConfig["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		generationConfig["topP"] = *req.TopP
	}
	if req.MaxTokens != nil {
		generationConfig["maxOutputTokens"] = *req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		generationConfig["stopSequences"] = req.StopSequences
	}
	if req.ResponseFormat != nil {
		generationConfig["responseMimeType"] = "application/json"
		if req.ResponseFormat.Type == "json_schema" && req.ResponseFormat.JSONSchema != nil {
			generationConfig["responseJsonSchema"] = req.ResponseFormat.JSONSchema
		}
	}
	if len(generationConfig) > 0 {
		body["generationConfig"] = generationConfig
	}

	if opts, ok := req.ProviderOptions["gemini"].(map[string]interface{}); ok {
		for k, v := range opts {
			body[k] = v
		}
	}

	return json.Marshal(body)
}

func (a *GeminiAdapter) translateParts(parts []ContentPart) []interface{} {
	var out []interface{}
	for _, part := range parts {
		switch part.Kind {
		case ContentText:
			out = append(out, map[string]interface{}{"text": part.Text})
		case ContentImage:
			if part.Image == nil || len(part.Image.Data) == 0 {
				continue
			}
			mediaType := part.Image.MediaType
			if mediaType == "" {
				mediaType = "image/jpeg"
			}
			out = append(out, map[string]interface{}{
				"inline_data": map[string]interface{}{
					"mime_type": mediaType,
					"data":      base64.StdEncoding.EncodeToString(part.Image.Data),
				},
			})
		}
	}
	if len(out) == 0 {
		out = append(out, map[string]interface{}{"text": ""})
	}
	return out
}

func (a *GeminiAdapter) parseResponse(resp *http.Response, model string) (*Response, error) {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "failed to read response", Cause: err}}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &raw); err != nil {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "failed to parse response JSON", Cause: err},
			Provider: "gemini",
		}}
	}

	response := &Response{
		ID:       "gen_" + uuid.New().String(),
		Provider: "gemini",
		Model:    model,
		Raw:      raw,
		Message:  Message{Role: RoleAssistant},
	}
	if mv, ok := raw["modelVersion"].(string); ok {
		response.Model = mv
	}

	if candidates, ok := raw["candidates"].([]interface{}); ok && len(candidates) > 0 {
		if candidate, ok := candidates[0].(map[string]interface{}); ok {
			response.Message.Content = a.parseCandidateParts(candidate)
			if fr, ok := candidate["finishReason"].(string); ok {
				response.FinishReason = a.mapFinishReason(fr)
			}
		}
	}

	response.Usage = a.parseUsage(raw)
	return response, nil
}

func (a *GeminiAdapter) parseCandidateParts(candidate map[string]interface{}) []ContentPart {
	var out []ContentPart
	content, ok := candidate["content"].(map[string]interface{})
	if !ok {
		return out
	}
	parts, ok := content["parts"].([]interface{})
	if !ok {
		return out
	}
	for _, p := range parts {
		pm, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		if text, ok := pm["text"].(string); ok {
			out = append(out, Text(text))
		}
		// Image generation models return inline image data.
		if inline, ok := pm["inlineData"].(map[string]interface{}); ok {
			out = append(out, a.parseInlineImage(inline))
		} else if inline, ok := pm["inline_data"].(map[string]interface{}); ok {
			out = append(out, a.parseInlineImage(inline))
		}
	}
	return out
}

func (a *GeminiAdapter) parseInlineImage(inline map[string]interface{}) ContentPart {
	img := &ImageData{}
	if mt, ok := inline["mimeType"].(string); ok {
		img.MediaType = mt
	} else if mt, ok := inline["mime_type"].(string); ok {
		img.MediaType = mt
	}
	if data, ok := inline["data"].(string); ok {
		if decoded, err := base64.StdEncoding.DecodeString(data); err == nil {
			img.Data = decoded
		}
	}
	return ContentPart{Kind: ContentImage, Image: img}
}

func (a *GeminiAdapter) mapFinishReason(reason string) FinishReason {
	switch reason {
	case "STOP":
		return FinishReason{Reason: "stop", Raw: reason}
	case "MAX_TOKENS":
		return FinishReason{Reason: "length", Raw: reason}
	case "SAFETY", "RECITATION":
		return FinishReason{Reason: "content_filter", Raw: reason}
	default:
		return FinishReason{Reason: "other", Raw: reason}
	}
}

func (a *GeminiAdapter) parseUsage(raw map[string]interface{}) Usage {
	usage := Usage{}
	usageMap, ok := raw["usageMetadata"].(map[string]interface{})
	if !ok {
		return usage
	}

	if v, ok := usageMap["promptTokenCount"].(float64); ok {
		usage.InputTokens = int(v)
	}
	if v, ok := usageMap["candidatesTokenCount"].(float64); ok {
		usage.OutputTokens = int(v)
	}
	if v, ok := usageMap["totalTokenCount"].(float64); ok {
		usage.TotalTokens = int(v)
	} else {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	if v, ok := usageMap["cachedContentTokenCount"].(float64); ok {
		ct := int(v)
		usage.CacheReadTokens = &ct
	}

	usage.Raw = usageMap
	return usage
}

func (a *GeminiAdapter) readStream(ctx context.Context, body io.ReadCloser, ch chan<- StreamEvent) {
	defer close(ch)
	defer body.Close()

	reader := newSSEReader(body)
	started := false
	var lastUsage *Usage
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
		if event.Data == "[DONE]" {
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

		if _, ok := data["usageMetadata"]; ok {
			u := a.parseUsage(data)
			lastUsage = &u
		}

		var finishReason string
		if candidates, ok := data["candidates"].([]interface{}); ok && len(candidates) > 0 {
			candidate, ok := candidates[0].(map[string]interface{})
			if !ok {
				continue
			}
			if fr, ok := candidate["finishReason"].(string); ok {
				finishReason = fr
			}
			for _, part := range a.parseCandidateParts(candidate) {
				switch part.Kind {
				case ContentText:
					if part.Text != "" {
						if !sendEvent(ctx, ch, StreamEvent{Type: StreamText, Text: part.Text}) {
							return
						}
					}
				case ContentImage:
					if !sendEvent(ctx, ch, StreamEvent{Type: StreamImage, Image: part.Image}) {
						return
					}
				}
			}
		}

		if finishReason != "" {
			fr := a.mapFinishReason(finishReason)
			sendEvent(ctx, ch, StreamEvent{
				Type:         StreamFinish,
				Usage:        lastUsage,
				FinishReason: &fr,
				Raw:          data,
			})
			return
		}
	}

	if !started {
		sendEvent(ctx, ch, StreamEvent{Type: StreamError, Err: &NetworkError{SDKError: SDKError{
			Message: "stream ended before any data",
		}}})
		return
	}

	fr := FinishReason{Reason: "stop"}
	sendEvent(ctx, ch, StreamEvent{
		Type:         StreamFinish,
		Usage:        lastUsage,
		FinishReason: &fr,
		Raw:          lastRaw,
	})
}
