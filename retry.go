package privacy

import (
	"context"
	"fmt"
	"time"
)

// Retry with exponential backoff, used by the circuit builder when a
// hop refuses or times out. Backoff doubles per attempt up to a cap;
// context cancellation aborts between attempts and during waits.

// RetryableFunc is one attempt of a retried operation. Errors
// implementing Temporary() bool control whether the retry continues.
type RetryableFunc func() error

// MaxRetriesExceededError is returned when every attempt failed.
type MaxRetriesExceededError struct {
	Attempts int
	LastErr  error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("max retries (%d) exceeded: %v", e.Attempts, e.LastErr)
}

func (e *MaxRetriesExceededError) Unwrap() error { return e.LastErr }

// RetryWithBackoff runs fn until it succeeds, the error is fatal, the
// retry budget is spent, or ctx is cancelled.
//
// maxRetries 0 means a single attempt; negative means retry forever.
// The wait starts at initialBackoff and doubles per attempt, capped at
// five minutes. Errors without a Temporary() method are treated as
// temporary.
func RetryWithBackoff(ctx context.Context, maxRetries int, initialBackoff time.Duration, fn RetryableFunc) error {
	const maxBackoff = 5 * time.Minute

	attempt := 0
	backoff := initialBackoff

	for {
		err := fn()
		if err == nil {
			if attempt > 0 {
				log.Debugf("retry succeeded after %d attempts", attempt)
			}
			return nil
		}

		attempt++

		if !isTemporary(err) {
			log.Debugf("fatal error, not retrying: %v", err)
			return fmt.Errorf("fatal error: %w", err)
		}
		if maxRetries >= 0 && attempt > maxRetries {
			return &MaxRetriesExceededError{Attempts: attempt, LastErr: err}
		}

		log.Debugf("retry attempt %d failed: %v (waiting %v)", attempt, err, backoff)
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// isTemporary reports whether err should be retried. Errors without a
// Temporary() method are retried by default.
func isTemporary(err error) bool {
	type temporary interface {
		Temporary() bool
	}
	if temp, ok := err.(temporary); ok {
		return temp.Temporary()
	}
	return true
}
