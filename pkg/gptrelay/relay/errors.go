package relay

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrClientTimeout is returned when the per-call budget elapses before the
// upstream call sequence produces a result. It is terminal: the budget wraps
// the whole retry sequence, so nothing retries after it.
var ErrClientTimeout = errors.New("client timeout exceeded")

// APIError is a non-2xx reply from the upstream completion API.
type APIError struct {
	StatusCode    int
	Body          string
	RetryAfterSec int // parsed Retry-After header on 429, 0 when absent
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// ErrorKind classifies upstream failures for logging and retry decisions.
type ErrorKind int

const (
	ErrorRetryable  ErrorKind = iota // transient HTTP status
	ErrorRateLimit                   // 429, may carry Retry-After
	ErrorNetwork                     // connection reset, broken pipe, transport timeout
	ErrorTimeout                     // client-side call budget exhausted
	ErrorAuth                        // 401, 403
	ErrorBadRequest                  // 400
	ErrorFatal                       // everything else
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorRetryable:
		return "retryable"
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorNetwork:
		return "network"
	case ErrorTimeout:
		return "timeout"
	case ErrorAuth:
		return "auth"
	case ErrorBadRequest:
		return "bad_request"
	default:
		return "fatal"
	}
}

// Retryable reports whether another attempt could plausibly succeed.
// A client timeout is not retryable: its budget covered the retries already.
func (k ErrorKind) Retryable() bool {
	return k == ErrorRetryable || k == ErrorRateLimit || k == ErrorNetwork
}

// Classify maps an error from an upstream call to its kind.
func Classify(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}
	if errors.Is(err, ErrClientTimeout) {
		return ErrorTimeout
	}
	if isTransientNetErr(err) {
		return ErrorNetwork
	}
	return ErrorFatal
}

func classifyStatus(statusCode int) ErrorKind {
	switch statusCode {
	case 429:
		return ErrorRateLimit
	case 408, 409, 425, 500, 502, 503, 504:
		return ErrorRetryable
	case 401, 403:
		return ErrorAuth
	case 400:
		return ErrorBadRequest
	default:
		return ErrorFatal
	}
}

// isTransientNetErr reports whether err is a transport failure worth
// retrying: connection reset, broken pipe, or a connect/header/body timeout.
func isTransientNetErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// statusOf extracts the upstream HTTP status from err, 0 when it carries none.
func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// truncate shortens s to at most maxLen characters for log output.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
