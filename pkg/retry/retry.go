package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type classified struct {
	err   error
	fatal bool
}

func (e *classified) Error() string     { return e.err.Error() }
func (e *classified) Unwrap() error     { return e.err }
func (e *classified) IsRetryable() bool { return !e.fatal }
func (e *classified) IsFatal() bool     { return e.fatal }

func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err}
}

// NewFatalError marks err so that Retry stops immediately.
func NewFatalError(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, fatal: true}
}

// IsFatal reports whether anything in err's chain declares itself fatal.
func IsFatal(err error) bool {
	var f FatalError
	return errors.As(err, &f) && f.IsFatal()
}

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  5 * time.Minute,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 30 * time.Second
	}
	return p
}

func Retry(ctx context.Context, policy Policy, fn func() error) error {
	return RetryWithCallback(ctx, policy, fn, nil)
}

// RetryWithCallback runs fn until it succeeds, returns a fatal error, the
// attempts are spent or ctx is done. onRetry fires before each re-run.
// The last error returned by fn is passed through unwrapped.
func RetryWithCallback(ctx context.Context, policy Policy, fn func() error, onRetry func(attempt int, err error, nextDelay time.Duration)) error {
	policy = policy.normalized()

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if IsFatal(err) {
			return backoff.Permanent(err)
		}
		if onRetry != nil && attempt < policy.MaxAttempts && ctx.Err() == nil {
			onRetry(attempt, err, delayFor(attempt, policy))
		}
		return err
	}

	err := backoff.Retry(operation, newBackOff(ctx, policy))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
