// Package retry re-runs operations that failed for transient reasons.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy bounds the retry loop. Delays double from Initial up to Max.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// Default suits claim, release and location publish calls.
var Default = Policy{Attempts: 4, Initial: 200 * time.Millisecond, Max: 2 * time.Second}

func (p Policy) backoff() goretry.Backoff {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Millisecond
	}
	b := goretry.NewExponential(initial)
	if p.Max > 0 {
		b = goretry.WithCappedDuration(p.Max, b)
	}
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	return goretry.WithMaxRetries(uint64(attempts-1), b)
}

// Do calls fn until it succeeds, returns an error retryable rejects, the
// attempts run out or ctx ends. The last error from fn is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, retryable func(error) bool) error {
	var last error
	err := goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		last = fn(ctx)
		if last != nil && retryable != nil && retryable(last) {
			return goretry.RetryableError(last)
		}
		return last
	})
	if err != nil && last != nil {
		// go-retry reports ctx.Err() when cancelled between attempts.
		return last
	}
	return err
}
