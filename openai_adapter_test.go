package zenllm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAIAdapter(t *testing.T, handler http.HandlerFunc) (*OpenAIAdapter, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	adapter := &OpenAIAdapter{
		name:    "openai",
		apiKey:  "test-key",
		baseURL: server.URL,
		http:    newHTTPClient(),
	}
	return adapter, server
}

func drainEvents(t *testing.T, ch <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestOpenAIAdapterName(t *testing.T) {
	adapter, server := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	defer server.Close()
	assert.Equal(t, "openai", adapter.Name())
}

func TestNewOpenAIAdapterRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewOpenAIAdapter("")
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
}

func TestNewOpenAICompatAdapterAllowsEmptyKey(t *testing.T) {
	adapter, err := NewOpenAICompatAdapter("local", "http://localhost:8080/v1/", "")
	require.NoError(t, err)
	assert.Equal(t, "local", adapter.Name())
	assert.Equal(t, "http://localhost:8080/v1", adapter.baseURL)
}

func TestOpenAIComplete(t *testing.T) {
	adapter, server := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-5", body["model"])
		messages := body["messages"].([]interface{})
		require.Len(t, messages, 2)
		first := messages[0].(map[string]interface{})
		assert.Equal(t, "system", first["role"])

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-5",
			"choices": [{"message": {"role": "assistant", "content": "Hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	})
	defer server.Close()

	resp, err := adapter.Complete(context.Background(), Request{
		Model: "gpt-5",
		Messages: []Message{
			SystemMessage("be brief"),
			UserMessage("hi"),
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "Hello there", resp.Text())
	assert.Equal(t, "stop", resp.FinishReason.Reason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestOpenAICompleteMultimodal(t *testing.T) {
	adapter, server := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		messages := body["messages"].([]interface{})
		user := messages[0].(map[string]interface{})
		content := user["content"].([]interface{})
		require.Len(t, content, 2)

		textBlock := content[0].(map[string]interface{})
		assert.Equal(t, "text", textBlock["type"])

		imageBlock := content[1].(map[string]interface{})
		assert.Equal(t, "image_url", imageBlock["type"])
		url := imageBlock["image_url"].(map[string]interface{})["url"].(string)
		assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

		io.WriteString(w, `{"choices":[{"message":{"content":"a pixel"},"finish_reason":"stop"}]}`)
	})
	defer server.Close()

	_, err := adapter.Complete(context.Background(), Request{
		Model: "gpt-5",
		Messages: []Message{
			UserParts(Text("what is this?"), ImageBytes([]byte{1, 2, 3}, "image/png")),
		},
	})
	require.NoError(t, err)
}

func TestOpenAICompleteResponseFormat(t *testing.T) {
	adapter, server := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		rf := body["response_format"].(map[string]interface{})
		assert.Equal(t, "json_schema", rf["type"])
		schema := rf["json_schema"].(map[string]interface{})
		assert.Equal(t, "recipe", schema["name"])
		assert.Equal(t, true, schema["strict"])

		io.WriteString(w, `{"choices":[{"message":{"content":"{}"},"finish_reason":"stop"}]}`)
	})
	defer server.Close()

	_, err := adapter.Complete(context.Background(), Request{
		Model:    "gpt-5",
		Messages: []Message{UserMessage("go")},
		ResponseFormat: &ResponseFormat{
			Type:       "json_schema",
			Name:       "recipe",
			JSONSchema: map[string]interface{}{"type": "object"},
			Strict:     true,
		},
	})
	require.NoError(t, err)
}

func TestOpenAICompleteErrorStatus(t *testing.T) {
	adapter, server := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Invalid API key","code":"invalid_api_key"}}`)
	})
	defer server.Close()

	_, err := adapter.Complete(context.Background(), Request{
		Model:    "gpt-5",
		Messages: []Message{UserMessage("hi")},
	})

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 401, authErr.StatusCode)
	assert.Contains(t, authErr.Message, "Invalid API key")
}

func TestOpenAIStream(t *testing.T) {
	adapter, server := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n\n")
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"lo"}}]}`+"\n\n")
		io.WriteString(w, `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		io.WriteString(w, `data: {"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`+"\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	})
	defer server.Close()

	ch, err := adapter.Stream(context.Background(), Request{
		Model:    "gpt-5",
		Messages: []Message{UserMessage("hi")},
	})
	require.NoError(t, err)

	events := drainEvents(t, ch)
	require.NotEmpty(t, events)
	assert.Equal(t, StreamStart, events[0].Type)

	text := ""
	for _, ev := range events {
		if ev.Type == StreamText {
			text += ev.Text
		}
	}
	assert.Equal(t, "Hello", text)

	last := events[len(events)-1]
	require.Equal(t, StreamFinish, last.Type)
	assert.Equal(t, "stop", last.FinishReason.Reason)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 5, last.Usage.InputTokens)
	assert.Equal(t, 2, last.Usage.OutputTokens)
}

func TestOpenAIStreamEmptyBody(t *testing.T) {
	adapter, server := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
	})
	defer server.Close()

	ch, err := adapter.Stream(context.Background(), Request{
		Model:    "gpt-5",
		Messages: []Message{UserMessage("hi")},
	})
	require.NoError(t, err)

	events := drainEvents(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, StreamError, events[0].Type)

	var netErr *NetworkError
	require.ErrorAs(t, events[0].Err, &netErr)
}

func TestOpenAIStreamErrorStatus(t *testing.T) {
	adapter, server := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"Rate limit"}}`)
	})
	defer server.Close()

	_, err := adapter.Stream(context.Background(), Request{
		Model:    "gpt-5",
		Messages: []Message{UserMessage("hi")},
	})

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
}

func TestOpenAIProviderOptionsMerge(t *testing.T) {
	adapter, server := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "high", body["reasoning_effort"])

		io.WriteString(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	})
	defer server.Close()

	_, err := adapter.Complete(context.Background(), Request{
		Model:    "gpt-5",
		Messages: []Message{UserMessage("hi")},
		ProviderOptions: map[string]interface{}{
			"openai": map[string]interface{}{"reasoning_effort": "high"},
		},
	})
	require.NoError(t, err)
}
