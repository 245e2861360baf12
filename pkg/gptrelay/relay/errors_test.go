package relay

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"
)

// fakeNetError implements net.Error for transport failure tests.
type fakeNetError struct {
	timeout bool
}

func (e *fakeNetError) Error() string   { return "fake net error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return e.timeout }

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"rate limited", &APIError{StatusCode: 429}, "rate_limit"},
		{"request timeout", &APIError{StatusCode: 408}, "retryable"},
		{"conflict", &APIError{StatusCode: 409}, "retryable"},
		{"too early", &APIError{StatusCode: 425}, "retryable"},
		{"server error", &APIError{StatusCode: 500}, "retryable"},
		{"bad gateway", &APIError{StatusCode: 502}, "retryable"},
		{"unavailable", &APIError{StatusCode: 503}, "retryable"},
		{"gateway timeout", &APIError{StatusCode: 504}, "retryable"},
		{"unauthorized", &APIError{StatusCode: 401}, "auth"},
		{"forbidden", &APIError{StatusCode: 403}, "auth"},
		{"bad request", &APIError{StatusCode: 400}, "bad_request"},
		{"not found", &APIError{StatusCode: 404}, "fatal"},
		{"not implemented", &APIError{StatusCode: 501}, "fatal"},
		{"wrapped api error", fmt.Errorf("calling model: %w", &APIError{StatusCode: 503}), "retryable"},
		{"client timeout", ErrClientTimeout, "timeout"},
		{"wrapped client timeout", fmt.Errorf("%w after 20s", ErrClientTimeout), "timeout"},
		{"connection reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), "network"},
		{"broken pipe", fmt.Errorf("write tcp: %w", syscall.EPIPE), "network"},
		{"connect timeout", fmt.Errorf("dial tcp: %w", syscall.ETIMEDOUT), "network"},
		{"header timeout", &fakeNetError{timeout: true}, "network"},
		{"non-timeout net error", &fakeNetError{timeout: false}, "fatal"},
		{"plain error", errors.New("boom"), "fatal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err).String(); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorKindRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{ErrorRetryable, true},
		{ErrorRateLimit, true},
		{ErrorNetwork, true},
		{ErrorTimeout, false},
		{ErrorAuth, false},
		{ErrorBadRequest, false},
		{ErrorFatal, false},
	}

	for _, tt := range tests {
		if got := tt.kind.Retryable(); got != tt.want {
			t.Errorf("%s.Retryable() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestAPIErrorMessage(t *testing.T) {
	t.Parallel()

	err := &APIError{StatusCode: 503, Body: `{"error":"overloaded"}`}
	msg := err.Error()
	if !strings.Contains(msg, "503") {
		t.Errorf("Error() = %q, want it to name the status", msg)
	}
	if !strings.Contains(msg, "overloaded") {
		t.Errorf("Error() = %q, want it to include the body", msg)
	}

	long := &APIError{StatusCode: 500, Body: strings.Repeat("x", 1000)}
	if msg := long.Error(); len(msg) > 250 {
		t.Errorf("Error() length = %d, want the body truncated", len(msg))
	}
	if !strings.HasSuffix(long.Error(), "...") {
		t.Errorf("Error() = %q, want truncation marker", long.Error())
	}
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	if got := statusOf(fmt.Errorf("call: %w", &APIError{StatusCode: 429})); got != 429 {
		t.Errorf("statusOf = %d, want 429", got)
	}
	if got := statusOf(errors.New("boom")); got != 0 {
		t.Errorf("statusOf = %d, want 0", got)
	}
}
