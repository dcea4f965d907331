package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Outcome is the structured result of Execute. It never carries a panic or a
// thrown error: callers decide what retry exhaustion means for them.
type Outcome[T any] struct {
	Success   bool
	Result    T
	Err       error
	Attempts  int
	TotalTime time.Duration
}

// policyBackOff adapts Delay to the backoff.BackOff interface
type policyBackOff struct {
	opts Options
	n    int
}

var _ backoff.BackOff = (*policyBackOff)(nil)

func (b *policyBackOff) NextBackOff() time.Duration {
	d := Delay(b.n, b.opts)
	b.n++
	return d
}

func (b *policyBackOff) Reset() {
	b.n = 0
}

// Execute runs op up to opts.MaxAttempts times, sleeping the policy delay between
// attempts and never after the last one. Errors rejected by opts.ShouldRetry stop
// the loop immediately.
func Execute[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) Outcome[T] {
	opts = opts.withDefaults()
	start := time.Now()
	attempts := 0

	operation := func() (T, error) {
		attempts++
		res, err := op(ctx)
		if err != nil && opts.ShouldRetry != nil && !opts.ShouldRetry(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&policyBackOff{opts: opts}),
		backoff.WithMaxTries(uint(opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Debug("Retrying operation",
				"attempt", attempts,
				"next_delay", next,
				"error", err)
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}

	return Outcome[T]{
		Success:   err == nil,
		Result:    res,
		Err:       err,
		Attempts:  attempts,
		TotalTime: time.Since(start),
	}
}
