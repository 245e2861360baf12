package relay

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// completeFunc runs one upstream call sequence under the given context.
type completeFunc func(ctx context.Context) (*Response, error)

// raceTimeout races op against a fixed budget. The op receives a context
// cancelled when the budget elapses, but the race does not depend on op
// honoring it: a non-cooperative op keeps running, its late result lands in
// the buffered channel and is discarded, and the goroutine exits.
//
// Whichever finishes first wins. A result that arrives in time is returned
// unmodified, even when the budget fires in the same instant. When the
// budget wins the caller gets ErrClientTimeout, except when the parent
// context was cancelled first, which surfaces as that context's error.
func raceTimeout(ctx context.Context, budget time.Duration, op completeFunc) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		resp *Response
		err  error
	}
	results := make(chan outcome, 1)
	go func() {
		resp, err := op(callCtx)
		results <- outcome{resp, err}
	}()

	select {
	case out := <-results:
		if out.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			// The op noticed the expired budget and unwound with its own
			// context error. Normalize to the timeout the caller raced for.
			return nil, fmt.Errorf("%w after %s", ErrClientTimeout, budget)
		}
		return out.resp, out.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrClientTimeout, budget)
	}
}
