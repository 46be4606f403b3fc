package zenllm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayDoublesWithoutJitter(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Timeout:        time.Second,
	}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(10))
}

func TestDelayJitterBounds(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Timeout:        time.Second,
		Jitter:         true,
	}

	// Full jitter draws uniformly from [0, base]; base at index 2 is 400ms.
	for i := 0; i < 200; i++ {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestDelayNegativeIndex(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Duration(0), p.Delay(-1))
}

func TestDelayZeroInitialBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Timeout: time.Second}
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Duration(0), p.Delay(5))
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.InitialBackoff)
	assert.Equal(t, 30*time.Second, p.MaxBackoff)
	assert.Equal(t, 120*time.Second, p.Timeout)
	assert.True(t, p.Jitter)
	require.NoError(t, p.validate())
}

func TestRetryPolicyValidate(t *testing.T) {
	var confErr *ConfigurationError

	p := DefaultRetryPolicy()
	p.MaxAttempts = 0
	require.ErrorAs(t, p.validate(), &confErr)

	p = DefaultRetryPolicy()
	p.MaxBackoff = p.InitialBackoff - time.Millisecond
	require.ErrorAs(t, p.validate(), &confErr)

	p = DefaultRetryPolicy()
	p.Timeout = 0
	require.ErrorAs(t, p.validate(), &confErr)
}

func TestRealSleeperUnblocksOnDone(t *testing.T) {
	done := make(chan struct{})
	close(done)

	start := time.Now()
	realSleeper{}.Sleep(time.Minute, done)
	assert.Less(t, time.Since(start), time.Second)
}
