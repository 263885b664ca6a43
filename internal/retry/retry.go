// Package retry provides the bounded retry-with-backoff policy applied
// to every remote-store round trip in the pipeline.
package retry

import (
	"context"
	"time"
)

// Policy bounds how many times an operation is attempted and how long
// to wait between attempts. The delay grows linearly with the attempt
// number (delay, 2*delay, ...).
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Default is the policy used for Redis and sink round trips unless a
// caller overrides it.
var Default = Policy{MaxAttempts: 3, Delay: 500 * time.Millisecond}

// Do runs fn up to MaxAttempts times, sleeping between attempts, and
// returns the last error if all attempts fail. Context cancellation
// aborts the wait.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay * time.Duration(i+1)):
		}
	}
	return err
}
