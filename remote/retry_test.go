// ABOUTME: Tests for backoff delay calculation, retry presets, and transient error classification.
// ABOUTME: Covers max delay capping, jitter bounds, and the retry loop's stop conditions.
package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/2389-research/viewclone/content"
)

func TestDelayForAttemptExponentialBackoff(t *testing.T) {
	bc := BackoffConfig{InitialDelay: 100 * time.Millisecond, Factor: 2.0, MaxDelay: time.Minute}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, w := range want {
		if got := bc.DelayForAttempt(i); got != w {
			t.Errorf("attempt %d: expected %v, got %v", i, w, got)
		}
	}
}

func TestDelayForAttemptCapsAtMaxDelay(t *testing.T) {
	bc := BackoffConfig{InitialDelay: time.Second, Factor: 10, MaxDelay: 5 * time.Second}
	if got := bc.DelayForAttempt(3); got != 5*time.Second {
		t.Errorf("expected cap of 5s, got %v", got)
	}
}

func TestDelayForAttemptJitterBounds(t *testing.T) {
	bc := BackoffConfig{InitialDelay: 100 * time.Millisecond, Factor: 2.0, MaxDelay: time.Minute, Jitter: true}
	for i := 0; i < 50; i++ {
		got := bc.DelayForAttempt(2)
		if got < 0 || got > 400*time.Millisecond {
			t.Fatalf("jittered delay %v outside [0, 400ms]", got)
		}
	}
}

func TestRetryPresets(t *testing.T) {
	if p := RetryPolicyNone(); p.MaxAttempts != 1 {
		t.Errorf("expected MaxAttempts=1, got %d", p.MaxAttempts)
	}
	p := RetryPolicyStandard()
	if p.MaxAttempts != 5 || !p.Backoff.Jitter || p.Backoff.InitialDelay != 200*time.Millisecond {
		t.Errorf("unexpected standard policy: %+v", p)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &content.RemoteOperationError{Op: "x", Err: errors.New("connection refused")}, true},
		{"5xx", &content.RemoteOperationError{Op: "x", StatusCode: 503}, true},
		{"4xx", &content.RemoteOperationError{Op: "x", StatusCode: 404}, false},
		{"task error", &content.RemoteOperationError{Op: "x", Message: "task failed"}, false},
		{"cancelled", &content.RemoteOperationError{Op: "x", Err: context.Canceled}, false},
		{"plain", errors.New("other"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, Backoff: BackoffConfig{InitialDelay: time.Millisecond, Factor: 1}}
	calls := 0
	err := withRetry(context.Background(), policy, func(int) error {
		calls++
		if calls < 3 {
			return &content.RemoteOperationError{Op: "x", StatusCode: 502}
		}
		return &content.RemoteOperationError{Op: "x", StatusCode: 400}
	})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	var remoteErr *content.RemoteOperationError
	if !errors.As(err, &remoteErr) || remoteErr.StatusCode != 400 {
		t.Errorf("expected final 400 error, got %v", err)
	}
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: BackoffConfig{InitialDelay: time.Millisecond, Factor: 1}}
	calls := 0
	err := withRetry(context.Background(), policy, func(int) error {
		calls++
		return &content.RemoteOperationError{Op: "x", StatusCode: 500}
	})
	if calls != 3 || err == nil {
		t.Errorf("calls=%d err=%v", calls, err)
	}
}

func TestWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, Backoff: BackoffConfig{InitialDelay: time.Hour, Factor: 1}}
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- withRetry(ctx, policy, func(int) error {
			calls++
			return &content.RemoteOperationError{Op: "x", StatusCode: 500}
		})
	}()
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("withRetry did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
