package relay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"syscall"
	"testing"
	"time"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BaseDelay:   time.Millisecond,
		Factor:      2,
		JitterMax:   0,
		StatusCodes: []int{408, 409, 425, 429, 500, 502, 503, 504},
	}
}

func TestRetryPolicyDecide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		attempt int
		err     error
		want    bool
	}{
		{"first transient failure", 1, &APIError{StatusCode: 503}, true},
		{"last budgeted attempt", 3, &APIError{StatusCode: 503}, true},
		{"budget exhausted", 4, &APIError{StatusCode: 503}, false},
		{"rate limit", 1, &APIError{StatusCode: 429}, true},
		{"terminal auth error", 1, &APIError{StatusCode: 401}, false},
		{"terminal not found", 1, &APIError{StatusCode: 404}, false},
		{"unlisted server error", 1, &APIError{StatusCode: 501}, false},
		{"connection reset", 1, fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"transport timeout", 1, &fakeNetError{timeout: true}, true},
		{"plain error", 1, errors.New("boom"), false},
	}

	policy := testPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := policy.Decide(tt.attempt, tt.err)
			if got != tt.want {
				t.Errorf("Decide(%d, %v) = %v, want %v", tt.attempt, tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryPolicyDelayGrowth(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{BaseDelay: 400 * time.Millisecond, Factor: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 400 * time.Millisecond},
		{2, 800 * time.Millisecond},
		{3, 1600 * time.Millisecond},
		{4, 3200 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := policy.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicyDelayJitterBounds(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{
		BaseDelay: 400 * time.Millisecond,
		Factor:    2,
		JitterMax: 200 * time.Millisecond,
	}

	for attempt := 1; attempt <= 3; attempt++ {
		floor := time.Duration(float64(policy.BaseDelay) * math.Pow(2, float64(attempt-1)))
		ceiling := floor + policy.JitterMax
		for i := 0; i < 50; i++ {
			got := policy.Delay(attempt)
			if got < floor || got >= ceiling {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v)", attempt, got, floor, ceiling)
			}
		}
	}
}

func TestNewRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(RetryConfig{})
	if policy.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", policy.MaxRetries)
	}
	if policy.BaseDelay != 400*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 400ms", policy.BaseDelay)
	}
	if policy.Factor != 2 {
		t.Errorf("Factor = %v, want 2", policy.Factor)
	}
	if policy.JitterMax != 200*time.Millisecond {
		t.Errorf("JitterMax = %v, want 200ms", policy.JitterMax)
	}
	if len(policy.StatusCodes) != 8 {
		t.Errorf("StatusCodes = %v, want the 8 defaults", policy.StatusCodes)
	}
}

func TestInvokeWithRetryFirstTry(t *testing.T) {
	t.Parallel()

	calls := 0
	resp, err := invokeWithRetry(context.Background(), testPolicy(), time.Second, testLogger(), func(ctx context.Context) (*Response, error) {
		calls++
		return &Response{Content: "ok"}, nil
	})
	if err != nil {
		t.Fatalf("invokeWithRetry returned error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q, want %q", resp.Content, "ok")
	}
	if calls != 1 {
		t.Errorf("attempts = %d, want 1", calls)
	}
}

func TestInvokeWithRetryRecovers(t *testing.T) {
	t.Parallel()

	calls := 0
	resp, err := invokeWithRetry(context.Background(), testPolicy(), time.Second, testLogger(), func(ctx context.Context) (*Response, error) {
		calls++
		if calls < 3 {
			return nil, &APIError{StatusCode: 503, Body: "overloaded"}
		}
		return &Response{Content: "recovered"}, nil
	})
	if err != nil {
		t.Fatalf("invokeWithRetry returned error: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("Content = %q, want %q", resp.Content, "recovered")
	}
	if calls != 3 {
		t.Errorf("attempts = %d, want 3", calls)
	}
}

func TestInvokeWithRetryAttemptCap(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.MaxRetries = 2

	calls := 0
	_, err := invokeWithRetry(context.Background(), policy, time.Second, testLogger(), func(ctx context.Context) (*Response, error) {
		calls++
		return nil, &APIError{StatusCode: 503, Body: "still down"}
	})
	if calls != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", calls)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 503 {
		t.Errorf("err = %v, want the final 503", err)
	}
}

func TestInvokeWithRetryTerminalError(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := invokeWithRetry(context.Background(), testPolicy(), time.Second, testLogger(), func(ctx context.Context) (*Response, error) {
		calls++
		return nil, &APIError{StatusCode: 401, Body: "bad token"}
	})
	if calls != 1 {
		t.Errorf("attempts = %d, want 1 for a terminal error", calls)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Errorf("err = %v, want APIError 401", err)
	}
}

func TestInvokeWithRetryBudgetMidCall(t *testing.T) {
	t.Parallel()

	start := time.Now()
	_, err := invokeWithRetry(context.Background(), testPolicy(), 30*time.Millisecond, testLogger(), func(ctx context.Context) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, ErrClientTimeout) {
		t.Fatalf("err = %v, want ErrClientTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("took %v, want a prompt timeout", elapsed)
	}
}

func TestInvokeWithRetryBudgetDuringBackoff(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{
		MaxRetries:  10,
		BaseDelay:   50 * time.Millisecond,
		Factor:      1,
		StatusCodes: []int{503},
	}

	calls := 0
	_, err := invokeWithRetry(context.Background(), policy, 60*time.Millisecond, testLogger(), func(ctx context.Context) (*Response, error) {
		calls++
		return nil, &APIError{StatusCode: 503}
	})
	if !errors.Is(err, ErrClientTimeout) {
		t.Fatalf("err = %v, want ErrClientTimeout when the budget dies during backoff", err)
	}
	if calls > 3 {
		t.Errorf("attempts = %d, want the budget to stop the sequence early", calls)
	}
}
