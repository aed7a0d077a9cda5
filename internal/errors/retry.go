package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Backoff describes an exponential retry schedule. The wait doubles
// after every failed attempt, capped at MaxDelay.
type Backoff struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Delay is the wait before the second try.
	Delay time.Duration

	// MaxDelay caps the growing wait.
	MaxDelay time.Duration

	// Jitter randomizes each wait between half and full length, so
	// two writers that collided do not collide again in lockstep.
	Jitter bool
}

// SnapshotBackoff suits catalog writes that lost a lock race. The
// competing writer is another local process that finishes in well
// under a second, so a few quick tries settle it.
func SnapshotBackoff() Backoff {
	return Backoff{
		Attempts: 3,
		Delay:    250 * time.Millisecond,
		MaxDelay: 2 * time.Second,
		Jitter:   true,
	}
}

// Retry runs fn until it succeeds, the schedule is exhausted or ctx
// ends. The last error comes back wrapped with the attempt count; a
// cancelled context returns ctx.Err() as-is.
func Retry(ctx context.Context, b Backoff, fn func() error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}

	wait := b.Delay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		d := wait
		if b.Jitter {
			d = wait/2 + time.Duration(rand.Int63n(int64(wait/2)+1))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}

		wait *= 2
		if b.MaxDelay > 0 && wait > b.MaxDelay {
			wait = b.MaxDelay
		}
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
