package zenllm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"configuration", &ConfigurationError{SDKError: SDKError{Message: "missing key"}}, FatalLocal},
		{"invalid request", ErrorFromStatusCode(400, "bad", "openai", "", nil, nil), NonRetryableClient},
		{"unprocessable", ErrorFromStatusCode(422, "bad", "openai", "", nil, nil), NonRetryableClient},
		{"auth", ErrorFromStatusCode(401, "bad key", "openai", "", nil, nil), NonRetryableClient},
		{"forbidden", ErrorFromStatusCode(403, "no", "openai", "", nil, nil), NonRetryableClient},
		{"not found", ErrorFromStatusCode(404, "no model", "openai", "", nil, nil), NonRetryableClient},
		{"rate limit", ErrorFromStatusCode(429, "slow down", "openai", "", nil, nil), RetryableTransient},
		{"server", ErrorFromStatusCode(500, "boom", "openai", "", nil, nil), RetryableTransient},
		{"request timeout", ErrorFromStatusCode(408, "slow", "openai", "", nil, nil), RetryableTransient},
		{"network", &NetworkError{SDKError: SDKError{Message: "reset"}}, RetryableTransient},
		{"timeout", &TimeoutError{SDKError: SDKError{Message: "deadline"}}, RetryableTransient},
		{"deadline exceeded", context.DeadlineExceeded, RetryableTransient},
		{"wrapped configuration", fmt.Errorf("wrapped: %w", &ConfigurationError{SDKError: SDKError{Message: "x"}}), FatalLocal},
		{"unknown", errors.New("mystery"), RetryableTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "non_retryable_client_error", NonRetryableClient.String())
	assert.Equal(t, "retryable_transient_error", RetryableTransient.String())
	assert.Equal(t, "fatal_local_error", FatalLocal.String())
}

func TestErrorFromStatusCodeTypes(t *testing.T) {
	var invalidErr *InvalidRequestError
	var authErr *AuthenticationError
	var notFoundErr *NotFoundError
	var rateErr *RateLimitError
	var serverErr *ServerError

	assert.ErrorAs(t, ErrorFromStatusCode(400, "m", "p", "", nil, nil), &invalidErr)
	assert.ErrorAs(t, ErrorFromStatusCode(401, "m", "p", "", nil, nil), &authErr)
	assert.ErrorAs(t, ErrorFromStatusCode(404, "m", "p", "", nil, nil), &notFoundErr)
	assert.ErrorAs(t, ErrorFromStatusCode(429, "m", "p", "", nil, nil), &rateErr)
	assert.ErrorAs(t, ErrorFromStatusCode(503, "m", "p", "", nil, nil), &serverErr)
}

func TestErrorFromStatusCodeCarriesDetails(t *testing.T) {
	retryAfter := 2.5
	raw := map[string]interface{}{"error": "details"}

	err := ErrorFromStatusCode(429, "slow down", "openai", "rate_limit", raw, &retryAfter)

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "openai", rateErr.Provider)
	assert.Equal(t, 429, rateErr.StatusCode)
	assert.Equal(t, "rate_limit", rateErr.Code)
	assert.Equal(t, raw, rateErr.Raw)
	require.NotNil(t, rateErr.RetryAfter)
	assert.Equal(t, 2.5, *rateErr.RetryAfter)
}

func TestSDKErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &NetworkError{SDKError: SDKError{Message: "request failed", Cause: cause}}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "request failed: root cause", err.Error())
}

func TestChainErrorMessageListsFailures(t *testing.T) {
	err := &ChainError{Failures: []ChoiceFailure{
		{Provider: "openai", Model: "gpt-5", Class: RetryableTransient, Err: errors.New("down")},
		{Provider: "anthropic", Model: "claude-sonnet-4", Class: NonRetryableClient, Err: errors.New("bad key")},
	}}

	msg := err.Error()
	assert.Contains(t, msg, "all 2 fallback choices failed")
	assert.Contains(t, msg, "openai:gpt-5")
	assert.Contains(t, msg, "retryable_transient_error")
	assert.Contains(t, msg, "anthropic:claude-sonnet-4")
}

func TestChainErrorUnwrapsEveryFailure(t *testing.T) {
	inner := &RateLimitError{ProviderError: ProviderError{
		SDKError:   SDKError{Message: "slow down"},
		StatusCode: 429,
	}}
	err := &ChainError{Failures: []ChoiceFailure{
		{Provider: "openai", Model: "gpt-5", Class: RetryableTransient, Err: errors.New("down")},
		{Provider: "anthropic", Model: "claude-sonnet-4", Class: RetryableTransient, Err: inner},
	}}

	var rateErr *RateLimitError
	assert.ErrorAs(t, err, &rateErr)
}
