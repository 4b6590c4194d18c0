// ABOUTME: Retry policy and exponential backoff for submitting remote tasks.
// ABOUTME: Only transport failures and 5xx responses are retried; task errors never are.
package remote

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/2389-research/viewclone/content"
)

// RetryPolicy controls how many times a remote call is attempted.
type RetryPolicy struct {
	MaxAttempts int // minimum 1 (1 = no retries)
	Backoff     BackoffConfig
	ShouldRetry func(error) bool
}

// BackoffConfig controls delay timing between attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	Jitter       bool
}

// DelayForAttempt returns InitialDelay * Factor^attempt capped at MaxDelay,
// randomized into [0, delay] when Jitter is set. attempt is 0-indexed.
func (b BackoffConfig) DelayForAttempt(attempt int) time.Duration {
	baseNanos := float64(b.InitialDelay.Nanoseconds()) * math.Pow(b.Factor, float64(attempt))
	delayNanos := baseNanos
	if b.MaxDelay > 0 {
		delayNanos = math.Min(baseNanos, float64(b.MaxDelay.Nanoseconds()))
	}
	if b.Jitter {
		delayNanos = rand.Float64() * delayNanos
	}
	return time.Duration(int64(delayNanos))
}

// RetryPolicyNone makes a single attempt.
func RetryPolicyNone() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 1,
		Backoff:     BackoffConfig{InitialDelay: 200 * time.Millisecond, Factor: 2.0, MaxDelay: 30 * time.Second},
		ShouldRetry: IsTransient,
	}
}

// RetryPolicyStandard makes up to 5 attempts with jittered exponential backoff.
func RetryPolicyStandard() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 200 * time.Millisecond,
			Factor:       2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
		ShouldRetry: IsTransient,
	}
}

// IsTransient reports whether err is a transport failure or a 5xx response.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var remoteErr *content.RemoteOperationError
	if errors.As(err, &remoteErr) {
		return (remoteErr.StatusCode == 0 && remoteErr.Err != nil) || remoteErr.StatusCode >= 500
	}
	return false
}

// withRetry calls fn until it succeeds, the policy gives up, or ctx is done.
func withRetry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	shouldRetry := policy.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts-1 || !shouldRetry(err) {
			return err
		}
		if serr := sleepCtx(ctx, policy.Backoff.DelayForAttempt(attempt)); serr != nil {
			return err
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
