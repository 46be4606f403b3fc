package zenllm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGeminiAdapter(t *testing.T, handler http.HandlerFunc) (*GeminiAdapter, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	adapter := &GeminiAdapter{
		apiKey:  "test-key",
		baseURL: server.URL,
		http:    newHTTPClient(),
	}
	return adapter, server
}

func TestGeminiAdapterName(t *testing.T) {
	adapter, server := newTestGeminiAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	defer server.Close()
	assert.Equal(t, "gemini", adapter.Name())
}

func TestNewGeminiAdapterRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	_, err := NewGeminiAdapter("")
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
}

func TestGeminiComplete(t *testing.T) {
	adapter, server := newTestGeminiAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		// The key travels in a header, never the query string.
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		contents := body["contents"].([]interface{})
		require.Len(t, contents, 1)
		si := body["system_instruction"].(map[string]interface{})
		assert.NotEmpty(t, si["parts"])

		io.WriteString(w, `{
			"modelVersion": "gemini-2.5-flash",
			"candidates": [{"content": {"parts": [{"text": "Hello!"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 6, "candidatesTokenCount": 2, "totalTokenCount": 8}
		}`)
	})
	defer server.Close()

	resp, err := adapter.Complete(context.Background(), Request{
		Model: "gemini-2.5-flash",
		Messages: []Message{
			SystemMessage("be brief"),
			UserMessage("hi"),
		},
	})

	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
	assert.Equal(t, "Hello!", resp.Text())
	assert.Equal(t, "stop", resp.FinishReason.Reason)
	assert.Equal(t, 6, resp.Usage.InputTokens)
	assert.Equal(t, 8, resp.Usage.TotalTokens)
}

func TestGeminiCompleteInlineImageOutput(t *testing.T) {
	pixel := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	adapter, server := newTestGeminiAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"candidates": [{"content": {"parts": [
				{"text": "here you go"},
				{"inlineData": {"mimeType": "image/png", "data": "`+pixel+`"}}
			]}, "finishReason": "STOP"}]
		}`)
	})
	defer server.Close()

	resp, err := adapter.Complete(context.Background(), Request{
		Model:    "gemini-2.5-flash-image",
		Messages: []Message{UserMessage("draw a pixel")},
	})

	require.NoError(t, err)
	images := resp.Images()
	require.Len(t, images, 1)
	assert.Equal(t, "image/png", images[0].MediaType)
	assert.Equal(t, []byte{1, 2, 3}, images[0].Data)
}

func TestGeminiCompleteResponseSchema(t *testing.T) {
	adapter, server := newTestGeminiAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		gc := body["generationConfig"].(map[string]interface{})
		assert.Equal(t, "application/json", gc["responseMimeType"])
		assert.NotNil(t, gc["responseJsonSchema"])

		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"{}"}]},"finishReason":"STOP"}]}`)
	})
	defer server.Close()

	_, err := adapter.Complete(context.Background(), Request{
		Model:    "gemini-2.5-flash",
		Messages: []Message{UserMessage("go")},
		ResponseFormat: &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: map[string]interface{}{"type": "object"},
		},
	})
	require.NoError(t, err)
}

func TestGeminiCompleteErrorStatus(t *testing.T) {
	adapter, server := newTestGeminiAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"Invalid model","status":"INVALID_ARGUMENT"}}`)
	})
	defer server.Close()

	_, err := adapter.Complete(context.Background(), Request{
		Model:    "gemini-nope",
		Messages: []Message{UserMessage("hi")},
	})

	var invalidErr *InvalidRequestError
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, "INVALID_ARGUMENT", invalidErr.Code)
}

func TestGeminiStream(t *testing.T) {
	adapter, server := newTestGeminiAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`+"\n\n")
		io.WriteString(w, `data: {"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2,"totalTokenCount":6}}`+"\n\n")
	})
	defer server.Close()

	ch, err := adapter.Stream(context.Background(), Request{
		Model:    "gemini-2.5-flash",
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
	assert.Equal(t, 6, last.Usage.TotalTokens)
}

func TestGeminiStreamEmptyBody(t *testing.T) {
	adapter, server := newTestGeminiAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
	})
	defer server.Close()

	ch, err := adapter.Stream(context.Background(), Request{
		Model:    "gemini-2.5-flash",
		Messages: []Message{UserMessage("hi")},
	})
	require.NoError(t, err)

	events := drainEvents(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, StreamError, events[0].Type)
}
