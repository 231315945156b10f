// Package retry bounds retries of calls to external services.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy is injected at every call site that talks to an external service
// (OCR engine, completion endpoint). The zero value makes a single attempt.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff is the delay before the second attempt.
	Backoff time.Duration
	// Multiplier grows the delay between later attempts; <= 1 keeps it fixed.
	Multiplier float64
	// MaxBackoff caps the delay when Multiplier > 1.
	MaxBackoff time.Duration
	// OnRetry, if set, is called before sleeping for the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default is two attempts with a fixed two second pause.
func Default() Policy {
	return Fixed(2, 2*time.Second)
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, backoff time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Backoff: backoff}
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// used up or ctx is done.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// delay returns the pause after the given (1-based) failed attempt.
func (p Policy) delay(attempt int) time.Duration {
	if p.Multiplier <= 1 {
		return p.Backoff
	}
	d := float64(p.Backoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}
