// Package resilience provides the bounded retry policy used around upstream
// fetches and storage writes.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/transitflow/transitflow/pkg/config"
	tferrors "github.com/transitflow/transitflow/pkg/errors"
)

// Policy bounds a retry sequence by attempt count and total elapsed time.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int

	// InitialInterval is the wait before the second attempt.
	InitialInterval time.Duration

	// MaxInterval caps a single wait.
	MaxInterval time.Duration

	// Multiplier grows the wait after each failed attempt.
	Multiplier float64

	// RandomizationFactor jitters each wait by +/- this fraction (0 = none).
	RandomizationFactor float64

	// MaxElapsed caps the total time spent retrying.
	MaxElapsed time.Duration

	// Classify decides whether an error may be retried. Defaults to
	// errors.IsRetryable from pkg/errors.
	Classify func(error) bool
}

// DefaultPolicy returns sensible defaults: 3 attempts, 500ms doubling to 5s,
// at most 30s in total.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
		MaxElapsed:          30 * time.Second,
	}
}

// FromConfig builds a policy from the retry section of the configuration.
func FromConfig(c config.RetryConfig) Policy {
	p := DefaultPolicy()
	p.MaxAttempts = c.MaxAttempts
	if c.InitialInterval > 0 {
		p.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		p.MaxInterval = c.MaxInterval
	}
	if c.Multiplier >= 1 {
		p.Multiplier = c.Multiplier
	}
	p.MaxElapsed = c.MaxElapsed
	return p
}

// WithMaxAttempts returns a copy of p with a different attempt bound.
func (p Policy) WithMaxAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// Schedule returns the nominal (unjittered) waits between attempts.
func (p Policy) Schedule() []time.Duration {
	n := p.attempts() - 1
	waits := make([]time.Duration, 0, n)
	next := p.InitialInterval
	for i := 0; i < n; i++ {
		if p.MaxInterval > 0 && next > p.MaxInterval {
			next = p.MaxInterval
		}
		waits = append(waits, next)
		next = time.Duration(float64(next) * p.multiplier())
	}
	return waits
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) multiplier() float64 {
	if p.Multiplier < 1 {
		return 1
	}
	return p.Multiplier
}

func (p Policy) retryable(err error) bool {
	if p.Classify != nil {
		return p.Classify(err)
	}
	return tferrors.IsRetryable(err)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = p.multiplier()
	eb.RandomizationFactor = p.RandomizationFactor
	eb.MaxElapsedTime = p.MaxElapsed

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.attempts()-1)), ctx)
}

// Notify is called before each wait with the error that caused it.
type Notify func(attempt int, err error, wait time.Duration)

// Do calls op until it succeeds, returns an error the policy does not retry,
// or the policy is exhausted. It returns the number of calls made.
//
// When ctx ends first, the returned error carries CodeTimeout or CodeCanceled
// and records the last failure in its context.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error, notify Notify) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, tferrors.FromContext(err, "retry")
	}

	attempt := 0
	var lastErr error

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, wait time.Duration) {
			notify(attempt, err, wait)
		}
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), onRetry)
	if err == nil {
		return attempt, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
		coded := tferrors.FromContext(ctxErr, "retry").WithContext("attempts", attempt)
		if lastErr != nil {
			coded.WithContext("last_error", lastErr.Error())
		}
		return attempt, coded
	}
	return attempt, err
}
