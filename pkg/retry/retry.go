// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"go.uber.org/zap"
)

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Permanent reports errors that must not be retried. Nil retries
	// everything except errors wrapped with backoff.Permanent.
	Permanent func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// ExhaustedError is returned when an operation kept failing transiently
// until the attempt budget was spent.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// Do runs fn until it succeeds, returns a permanent error, the context is
// done, or the policy runs out of attempts. Every failed attempt is logged.
func Do(ctx context.Context, p Policy, logger *zap.Logger, op string, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)

	attempts := 0
	var permanent bool
	operation := func() error {
		attempts++

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if p.Permanent != nil && p.Permanent(err) {
			permanent = true
			return backoff.Permanent(err)
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
		}

		return err
	}

	notify := func(err error, wait time.Duration) {
		mylogger.Warn(
			ctx,
			logger,
			"Operation failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil || permanent {
		return err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}

	mylogger.Warn(
		ctx,
		logger,
		"Operation failed, no attempts left",
		zap.String("op", op),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)

	return &ExhaustedError{Op: op, Attempts: attempts, Err: err}
}
