package relay

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait before the next one. Delays grow exponentially from BaseDelay by
// Factor, plus uniform jitter in [0, JitterMax) so synchronized clients
// spread out.
type RetryPolicy struct {
	MaxRetries  int // retry budget; MaxRetries+1 total attempts
	BaseDelay   time.Duration
	Factor      float64
	JitterMax   time.Duration
	StatusCodes []int // retriable HTTP statuses
}

// NewRetryPolicy builds a policy from config with defaults filled in.
func NewRetryPolicy(cfg RetryConfig) RetryPolicy {
	eff := cfg.Effective()
	return RetryPolicy{
		MaxRetries:  eff.MaxRetries,
		BaseDelay:   time.Duration(eff.BaseDelayMs) * time.Millisecond,
		Factor:      eff.BackoffFactor,
		JitterMax:   time.Duration(eff.JitterMaxMs) * time.Millisecond,
		StatusCodes: eff.RetryOnStatusCodes,
	}
}

// Decide reports whether the attempt that just failed (1-based) should be
// retried, and the delay to wait first. Past the retry budget every error
// is terminal.
func (p RetryPolicy) Decide(attempt int, err error) (bool, time.Duration) {
	if attempt > p.MaxRetries {
		return false, 0
	}
	if !p.retriable(err) {
		return false, 0
	}
	return true, p.Delay(attempt)
}

// Delay computes BaseDelay*Factor^(attempt-1) plus jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	backoff := time.Duration(float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1)))
	if p.JitterMax > 0 {
		backoff += time.Duration(rand.Int63n(int64(p.JitterMax)))
	}
	return backoff
}

// retriable reports whether err is transient: a configured HTTP status or a
// transport-level failure. Everything else ends the sequence immediately.
func (p RetryPolicy) retriable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		for _, code := range p.StatusCodes {
			if apiErr.StatusCode == code {
				return true
			}
		}
		return false
	}
	return isTransientNetErr(err)
}

// invokeWithRetry runs op under the retry policy with the per-call budget
// wrapping the whole sequence, attempts and backoff waits included. An
// upstream slow enough to eat the budget mid-retry surfaces ErrClientTimeout
// rather than its own error.
func invokeWithRetry(ctx context.Context, policy RetryPolicy, budget time.Duration, logger *slog.Logger, op completeFunc) (*Response, error) {
	return raceTimeout(ctx, budget, func(callCtx context.Context) (*Response, error) {
		var lastErr error
		for attempt := 1; attempt <= policy.MaxRetries+1; attempt++ {
			resp, err := op(callCtx)
			if err == nil {
				return resp, nil
			}
			lastErr = err

			if callCtx.Err() != nil {
				// Budget or caller gone; raceTimeout translates this.
				return nil, err
			}
			retry, delay := policy.Decide(attempt, err)
			if !retry {
				return nil, err
			}

			logger.Warn("retrying upstream call",
				"attempt", attempt,
				"max_retries", policy.MaxRetries,
				"kind", Classify(err).String(),
				"status", statusOf(err),
				"backoff_ms", delay.Milliseconds(),
				"error", err)

			timer := time.NewTimer(delay)
			select {
			case <-callCtx.Done():
				timer.Stop()
				return nil, callCtx.Err()
			case <-timer.C:
			}
		}
		return nil, lastErr
	})
}
