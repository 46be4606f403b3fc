package zenllm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// httpClient wraps the shared *http.Client handle used by all adapters in a
// Client. It is safe for concurrent use; adapters never mutate it.
type httpClient struct {
	client *http.Client
}

// newHTTPClient creates a pooled HTTP client with sane connect and idle
// timeouts. The overall request deadline is left to the caller's context so
// long-lived streaming bodies are not cut off.
func newHTTPClient() *httpClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &httpClient{client: &http.Client{Transport: transport}}
}

// wrapHTTPClient adopts a caller-provided *http.Client.
func wrapHTTPClient(c *http.Client) *httpClient {
	if c == nil {
		return newHTTPClient()
	}
	return &httpClient{client: c}
}

// Do executes an HTTP request.
func (hc *httpClient) Do(req *http.Request) (*http.Response, error) {
	return hc.client.Do(req)
}

// sseEvent is a single Server-Sent Event.
type sseEvent struct {
	Event string
	Data  string
}

// sendEvent delivers ev on ch unless the context is cancelled first, so a
// stream producer never blocks on a consumer that stopped draining.
func sendEvent(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// sseReader parses SSE streams from an io.Reader.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	return &sseReader{scanner: scanner}
}

// Next returns the next SSE event, or io.EOF when the stream ends. OpenAI
// style termination is reported as an event with Event and Data "[DONE]".
func (r *sseReader) Next() (*sseEvent, error) {
	var event sseEvent
	var dataLines []string
	hasData := false

	for r.scanner.Scan() {
		line := r.scanner.Text()

		// Blank line = event boundary
		if line == "" {
			if hasData {
				event.Data = strings.Join(dataLines, "\n")
				return &event, nil
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimPrefix(line, "data:")
			data = strings.TrimPrefix(data, " ")
			if data == "[DONE]" {
				return &sseEvent{Event: "[DONE]", Data: "[DONE]"}, nil
			}
			dataLines = append(dataLines, data)
			hasData = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	if hasData {
		event.Data = strings.Join(dataLines, "\n")
		return &event, nil
	}

	return nil, io.EOF
}

// parseRetryAfter parses a Retry-After header: either seconds or an HTTP date.
func parseRetryAfter(value string) *float64 {
	if value == "" {
		return nil
	}

	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return &seconds
	}

	for _, layout := range []string{time.RFC1123, time.RFC850} {
		if t, err := time.Parse(layout, value); err == nil {
			seconds := time.Until(t).Seconds()
			if seconds < 0 {
				seconds = 0
			}
			return &seconds
		}
	}

	return nil
}

// parseRateLimitHeaders extracts rate limit info from response headers.
// Returns nil when no rate limit headers are present.
func parseRateLimitHeaders(headers http.Header) *RateLimitInfo {
	info := &RateLimitInfo{}
	hasAny := false

	readInt := func(name string, dst **int) {
		if v := headers.Get(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = &n
				hasAny = true
			}
		}
	}
	readInt("x-ratelimit-remaining-requests", &info.RequestsRemaining)
	readInt("x-ratelimit-limit-requests", &info.RequestsLimit)
	readInt("x-ratelimit-remaining-tokens", &info.TokensRemaining)
	readInt("x-ratelimit-limit-tokens", &info.TokensLimit)

	if v := headers.Get("x-ratelimit-reset-requests"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			info.ResetAt = &t
			hasAny = true
		} else if d, err := time.ParseDuration(v); err == nil {
			t := time.Now().Add(d)
			info.ResetAt = &t
			hasAny = true
		}
	}

	if !hasAny {
		return nil
	}
	return info
}

// buildErrorFromResponse reads a non-200 response body and converts it into
// the typed error matching its status. Only the provider-supplied error text
// enters the message; request headers never do.
func buildErrorFromResponse(resp *http.Response, providerName string) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{SDKError: SDKError{
			Message: "failed to read error response body",
			Cause:   err,
		}}
	}

	var raw map[string]interface{}
	var message, errorCode string

	if err := json.Unmarshal(body, &raw); err == nil {
		// OpenAI and Anthropic: {"error": {"message": ..., "code"/"type": ...}}
		if errObj, ok := raw["error"].(map[string]interface{}); ok {
			if msg, ok := errObj["message"].(string); ok {
				message = msg
			}
			if code, ok := errObj["code"].(string); ok {
				errorCode = code
			}
			if etype, ok := errObj["type"].(string); ok && errorCode == "" {
				errorCode = etype
			}
			if status, ok := errObj["status"].(string); ok && errorCode == "" {
				errorCode = status // Gemini
			}
		}
		if message == "" {
			if msg, ok := raw["message"].(string); ok {
				message = msg
			}
		}
	}

	if message == "" {
		message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

	return ErrorFromStatusCode(resp.StatusCode, message, providerName, errorCode, raw, retryAfter)
}
