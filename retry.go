package zenllm

import (
	"math/rand"
	"time"
)

// Sleeper is an interface for waiting out backoff delays, allowing tests to
// override delays. Implementations must return early when the done channel
// closes.
type Sleeper interface {
	Sleep(d time.Duration, done <-chan struct{})
}

// realSleeper implements Sleeper using a timer.
type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration, done <-chan struct{}) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-done:
	}
}

// DefaultSleeper is the production sleeper.
var DefaultSleeper Sleeper = realSleeper{}

// RetryPolicy controls per-choice retries within a fallback chain. The same
// policy applies to every choice.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts per choice, including the
	// first. Must be >= 1.
	MaxAttempts int
	// InitialBackoff is the base delay before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
	// Timeout bounds the wall clock time of each network attempt. For
	// streaming attempts it bounds stream establishment up to commitment.
	Timeout time.Duration
	// Jitter draws each delay uniformly from [0, base] to decorrelate
	// concurrent retries.
	Jitter bool
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Timeout:        120 * time.Second,
		Jitter:         true,
	}
}

// Delay computes the backoff before retry attemptIndex. attemptIndex starts
// at 0 for the first retry, i.e. the delay before the second attempt. The
// result is never negative and never exceeds MaxBackoff.
func (p RetryPolicy) Delay(attemptIndex int) time.Duration {
	if attemptIndex < 0 || p.InitialBackoff <= 0 {
		return 0
	}

	base := p.InitialBackoff
	for i := 0; i < attemptIndex; i++ {
		base *= 2
		if base >= p.MaxBackoff {
			base = p.MaxBackoff
			break
		}
	}
	if p.MaxBackoff > 0 && base > p.MaxBackoff {
		base = p.MaxBackoff
	}

	if p.Jitter {
		return time.Duration(rand.Int63n(int64(base) + 1))
	}
	return base
}

func (p RetryPolicy) validate() error {
	if p.MaxAttempts < 1 {
		return &ConfigurationError{SDKError: SDKError{
			Message: "retry policy: MaxAttempts must be at least 1",
		}}
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < p.InitialBackoff {
		return &ConfigurationError{SDKError: SDKError{
			Message: "retry policy: MaxBackoff must be >= InitialBackoff >= 0",
		}}
	}
	if p.Timeout <= 0 {
		return &ConfigurationError{SDKError: SDKError{
			Message: "retry policy: Timeout must be positive",
		}}
	}
	return nil
}
