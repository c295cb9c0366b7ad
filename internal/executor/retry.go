package executor

import (
	"context"
	"time"
)

// RetryController bounds the number of rounds a run may take. It counts
// attempts, not time: the only wait is a short settle delay between rounds.
// It is not safe for concurrent use; each run owns one.
type RetryController struct {
	max      int
	attempts int
	settle   time.Duration
}

// NewRetryController allows up to max failed rounds. A non-positive max is
// treated as 1.
func NewRetryController(max int, settle time.Duration) *RetryController {
	if max <= 0 {
		max = 1
	}
	return &RetryController{max: max, settle: settle}
}

// Fail records one failed round.
func (r *RetryController) Fail() { r.attempts++ }

// Exhausted reports whether the failure budget is spent.
func (r *RetryController) Exhausted() bool { return r.attempts >= r.max }

// Attempts returns the number of failures recorded so far.
func (r *RetryController) Attempts() int { return r.attempts }

// Max returns the failure budget.
func (r *RetryController) Max() int { return r.max }

// Settle waits for the settle delay or until ctx is done.
func (r *RetryController) Settle(ctx context.Context) error {
	return sleep(ctx, r.settle)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
