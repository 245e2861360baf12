package relay

import (
	"context"
	"fmt"
)

// Complete sends the payload to the primary model through the full
// retry/backoff/timeout sequence. On any failure, terminal status and
// exhausted retries alike, the fallback model gets exactly one more full
// sequence, provided one is configured and differs from the primary. When
// both fail, the fallback's error is the one the caller sees.
func (c *Client) Complete(ctx context.Context, messages []Exchange) (*Response, error) {
	resp, err := c.CompleteWithModel(ctx, c.models.Primary, messages)
	if err == nil {
		return resp, nil
	}

	fallback := c.models.Fallback
	if fallback == "" || fallback == c.models.Primary {
		return nil, err
	}
	if ctx.Err() != nil {
		// Caller is gone; a fallback attempt would only report that.
		return nil, err
	}

	c.logger.Warn("primary model failed, trying fallback",
		"primary", c.models.Primary,
		"fallback", fallback,
		"kind", Classify(err).String(),
		"status", statusOf(err),
		"error", err)

	return c.CompleteWithModel(ctx, fallback, messages)
}

// CompleteWithModel runs one full resilient invocation against a single
// model: bounded retries with backoff, all raced against the call budget.
func (c *Client) CompleteWithModel(ctx context.Context, model string, messages []Exchange) (*Response, error) {
	if model == "" {
		return nil, fmt.Errorf("no model configured")
	}
	return invokeWithRetry(ctx, c.policy, c.callTimeout, c.logger, func(callCtx context.Context) (*Response, error) {
		return c.completeOnce(callCtx, model, messages)
	})
}
