// Package retry runs fallible upstream calls with a bounded number of
// fixed-delay retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/pkg/logging"
)

const (
	DefaultMaxRetries = 2
	DefaultDelay      = 800 * time.Millisecond
)

// ErrExhausted is returned (wrapping the last failure) once every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Observer receives one notification per retry that is about to happen.
type Observer interface {
	ObserveRetry(operation string)
}

// Policy retries retryable failures up to MaxRetries times, waiting Delay
// between attempts. The delay is fixed: slot availability is short-lived.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
	Logger     *logging.Logger
	Observer   Observer
}

// DefaultPolicy returns the policy used around every booking call.
func DefaultPolicy(logger *logging.Logger) Policy {
	return Policy{MaxRetries: DefaultMaxRetries, Delay: DefaultDelay, Logger: logger}
}

// Do invokes fn at most MaxRetries+1 times. Non-retryable failures (see
// apperr.Retryable) are returned immediately without consuming a retry.
func (p Policy) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !apperr.Retryable(err) {
			return err
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logRetry(operation, attempt, err)
		if p.Observer != nil {
			p.Observer.ObserveRetry(operation)
		}
		if sleepErr := p.sleep(ctx); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", operation, ErrExhausted, maxRetries+1, lastErr)
}

// Value is Do for calls that produce a result.
func Value[T any](ctx context.Context, p Policy, operation string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p Policy) sleep(ctx context.Context) error {
	if p.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p Policy) logRetry(operation string, attempt int, err error) {
	if p.Logger == nil {
		return
	}
	p.Logger.Warn("upstream retry",
		"operation", operation,
		"attempt", attempt+1,
		"delay_ms", p.Delay.Milliseconds(),
		"error", err,
	)
}
