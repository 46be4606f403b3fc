package zenllm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// SDKError is the base type embedded by every error the library produces.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error { return e.Cause }

// ConfigurationError indicates a local misconfiguration (missing API key,
// invalid fallback chain). Never attributable to a provider.
type ConfigurationError struct {
	SDKError
}

// AbortError indicates the caller cancelled the operation.
type AbortError struct {
	SDKError
}

// NetworkError indicates a transport-level failure (connection refused,
// reset, DNS) before any HTTP status was received.
type NetworkError struct {
	SDKError
}

// TimeoutError indicates the per-attempt wall clock budget was exceeded.
type TimeoutError struct {
	SDKError
}

// ProviderError is the base for errors carrying an HTTP status from a
// provider. Raw holds the decoded error body; Code the provider's error code.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	Code       string
	Raw        map[string]interface{}
}

// InvalidRequestError covers HTTP 400 and 422, and locally detected
// malformed requests.
type InvalidRequestError struct {
	ProviderError
}

// AuthenticationError covers HTTP 401 and 403.
type AuthenticationError struct {
	ProviderError
}

// NotFoundError covers HTTP 404 (unknown model or endpoint).
type NotFoundError struct {
	ProviderError
}

// RateLimitError covers HTTP 429. RetryAfter, when present, is the
// provider-suggested delay in seconds.
type RateLimitError struct {
	ProviderError
	RetryAfter *float64
}

// ServerError covers HTTP 5xx and 408.
type ServerError struct {
	ProviderError
}

// StreamInterruptedError indicates a committed stream failed before its
// natural end. The partial result remains available via Finalize.
type StreamInterruptedError struct {
	SDKError
	Provider string
	Model    string
}

// EmptyStreamError indicates Finalize was called on a stream that never
// produced a single event.
type EmptyStreamError struct {
	SDKError
}

// ChoiceFailure records the final classified failure of one fallback choice.
type ChoiceFailure struct {
	Provider string
	Model    string
	Class    ErrorClass
	Err      error
}

// ChainError aggregates the last failure of every choice after the whole
// fallback chain has been exhausted.
type ChainError struct {
	Failures []ChoiceFailure
}

func (e *ChainError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("all %d fallback choices failed:", len(e.Failures)))
	for _, f := range e.Failures {
		b.WriteString(fmt.Sprintf(" [%s:%s %s: %v]", f.Provider, f.Model, f.Class, f.Err))
	}
	return b.String()
}

func (e *ChainError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// ErrorClass is the retry classification of a failed attempt.
type ErrorClass int

const (
	// NonRetryableClient: the request is wrong for this choice; advance to
	// the next choice without retrying.
	NonRetryableClient ErrorClass = iota
	// RetryableTransient: the same choice may succeed if retried.
	RetryableTransient
	// FatalLocal: a local programming or configuration error; abort the
	// whole call.
	FatalLocal
)

func (c ErrorClass) String() string {
	switch c {
	case NonRetryableClient:
		return "non_retryable_client_error"
	case RetryableTransient:
		return "retryable_transient_error"
	case FatalLocal:
		return "fatal_local_error"
	}
	return "unknown"
}

// Classify maps an attempt failure to its retry class.
func Classify(err error) ErrorClass {
	var confErr *ConfigurationError
	if errors.As(err, &confErr) {
		return FatalLocal
	}

	var invalidErr *InvalidRequestError
	var authErr *AuthenticationError
	var notFoundErr *NotFoundError
	if errors.As(err, &invalidErr) || errors.As(err, &authErr) || errors.As(err, &notFoundErr) {
		return NonRetryableClient
	}

	var rateErr *RateLimitError
	var serverErr *ServerError
	var netErr *NetworkError
	var timeoutErr *TimeoutError
	if errors.As(err, &rateErr) || errors.As(err, &serverErr) ||
		errors.As(err, &netErr) || errors.As(err, &timeoutErr) {
		return RetryableTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return RetryableTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return RetryableTransient
	}

	// Unrecognized errors are treated as transient so a flaky provider
	// does not poison the whole chain.
	return RetryableTransient
}

// ErrorFromStatusCode builds the typed error matching an HTTP status.
// The message must never contain credentials; callers pass provider-supplied
// text only.
func ErrorFromStatusCode(status int, message, provider, code string, raw map[string]interface{}, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: status,
		Code:       code,
		Raw:        raw,
	}

	switch {
	case status == 400 || status == 422:
		return &InvalidRequestError{ProviderError: pe}
	case status == 401 || status == 403:
		return &AuthenticationError{ProviderError: pe}
	case status == 404:
		return &NotFoundError{ProviderError: pe}
	case status == 429:
		return &RateLimitError{ProviderError: pe, RetryAfter: retryAfter}
	case status == 408 || status >= 500:
		return &ServerError{ProviderError: pe}
	default:
		return &pe
	}
}
