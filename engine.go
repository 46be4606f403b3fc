package zenllm

import (
	"context"
	"time"
)

// attemptFunc performs one blocking attempt against a single choice.
type attemptFunc func(ctx context.Context, choice ProviderChoice) (*Response, error)

// streamOpenFunc opens one streaming attempt against a single choice.
type streamOpenFunc func(ctx context.Context, choice ProviderChoice) (<-chan StreamEvent, error)

// fallbackEngine is a sequential decision loop over the choices of a
// FallbackConfig. It performs no internal parallelism; each call owns its own
// engine value.
type fallbackEngine struct {
	cfg     FallbackConfig
	sleeper Sleeper
}

func newFallbackEngine(cfg FallbackConfig, sleeper Sleeper) *fallbackEngine {
	if sleeper == nil {
		sleeper = DefaultSleeper
	}
	return &fallbackEngine{cfg: cfg, sleeper: sleeper}
}

// wait blocks for the given backoff delay, returning early with an
// AbortError when the caller cancels.
func (e *fallbackEngine) wait(ctx context.Context, d time.Duration) error {
	e.sleeper.Sleep(d, ctx.Done())
	if err := ctx.Err(); err != nil {
		return &AbortError{SDKError: SDKError{Message: "cancelled during backoff", Cause: err}}
	}
	return nil
}

// Complete runs the blocking fallback loop: for each choice in order, up to
// MaxAttempts attempts with backoff between them. Transient failures retry
// the same choice, non-retryable client failures advance immediately, fatal
// local failures abort the whole call. On total exhaustion the returned
// ChainError lists every choice's last classified failure.
func (e *fallbackEngine) Complete(ctx context.Context, attempt attemptFunc) (*Response, error) {
	if err := e.cfg.validate(); err != nil {
		return nil, err
	}

	var failures []ChoiceFailure

	for _, choice := range e.cfg.Chain {
		var lastErr error
		var lastClass ErrorClass
		advance := false

		for n := 0; n < e.cfg.Retry.MaxAttempts && !advance; n++ {
			if n > 0 {
				if err := e.wait(ctx, e.cfg.Retry.Delay(n-1)); err != nil {
					return nil, err
				}
			}

			attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Retry.Timeout)
			resp, err := attempt(attemptCtx, choice)
			cancel()

			if err == nil {
				if resp.Provider == "" {
					resp.Provider = choice.Provider
				}
				if resp.Model == "" {
					resp.Model = choice.Model
				}
				return resp, nil
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, &AbortError{SDKError: SDKError{Message: "call cancelled", Cause: ctxErr}}
			}

			lastErr = err
			lastClass = Classify(err)
			switch lastClass {
			case FatalLocal:
				return nil, err
			case NonRetryableClient:
				advance = true
			}
		}

		failures = append(failures, ChoiceFailure{
			Provider: choice.Provider,
			Model:    choice.Model,
			Class:    lastClass,
			Err:      lastErr,
		})
	}

	return nil, &ChainError{Failures: failures}
}

// Stream opens a streaming call. The fallback loop runs until a transport
// channel is open; pre-commitment failures during consumption are retried
// and advanced transparently inside ResponseStream.Next, so the caller sees
// no events from a choice that did not commit.
func (e *fallbackEngine) Stream(ctx context.Context, open streamOpenFunc, promptChars int) (*ResponseStream, error) {
	if err := e.cfg.validate(); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &ResponseStream{
		engine:      e,
		open:        open,
		ctx:         streamCtx,
		cancelAll:   cancel,
		promptChars: promptChars,
	}

	s.mu.Lock()
	err := s.ensureOpen()
	s.mu.Unlock()
	if err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}
