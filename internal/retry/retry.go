// Package retry wraps the Provider Driver's transport calls with the
// exponential-backoff policy described in spec §7: up to 5 tries 200ms->3s
// for transport errors, up to 2 tries with jittered backoff for
// conditional-check-failed (logical contention, not a transient fault).
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/infraweave-io/infraweave/internal/errs"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxTries    int
	InitialWait time.Duration
	MaxWait     time.Duration
}

// Transport is the retry budget for transport-kind errors (§7).
var Transport = Policy{MaxTries: 5, InitialWait: 200 * time.Millisecond, MaxWait: 3 * time.Second}

// ConditionalCheck is the retry budget for conditional-check-failed (§7).
var ConditionalCheck = Policy{MaxTries: 2, InitialWait: 50 * time.Millisecond, MaxWait: 500 * time.Millisecond}

func (p Policy) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialWait
	b.MaxInterval = p.MaxWait
	b.MaxElapsedTime = 0 // bounded by MaxTries instead of wall-clock
	return backoff.WithMaxRetries(b, uint64(p.MaxTries-1))
}

// Do runs fn, retrying per the policy selected by the error kind it
// returns. Domain errors (anything that isn't Transport or
// ConditionalCheckFailed) are never retried — they are reported immediately,
// per §7's propagation policy.
func Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		switch errs.KindOf(err) {
		case errs.KindTransport:
			return err // retryable
		case errs.KindConditionalCheckFailed:
			return backoff.Permanent(err) // handled by DoConditional instead
		default:
			return backoff.Permanent(err)
		}
	}

	if err := backoff.Retry(op, backoff.WithContext(Transport.backoff(), ctx)); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

// DoConditional runs fn under the short conditional-check-failed budget.
// Used for transactional writes where contention is logical, not transient.
// Each attempt runs through Do, so transport errors inside an attempt are
// retried under the Transport budget.
func DoConditional(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	op := func() error {
		err := Do(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if errs.KindOf(err) == errs.KindConditionalCheckFailed {
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, backoff.WithContext(ConditionalCheck.backoff(), ctx)); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
