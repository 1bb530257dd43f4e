// ABOUTME: Fixed-interval reconnect policy for sessions
// ABOUTME: Lives outside Session so the session itself never sleeps
package client

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultRetryInterval is the pause between failed connect attempts
const DefaultRetryInterval = 3 * time.Second

// RetryPolicy retries Connect at a fixed interval
type RetryPolicy struct {
	Interval time.Duration
	// MaxAttempts stops retrying after this many attempts. Zero retries
	// until the context is cancelled.
	MaxAttempts int
	// After is used to wait between attempts. Defaults to time.After.
	After func(time.Duration) <-chan time.Time
}

// DefaultRetryPolicy returns a policy that retries every 3 seconds forever
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Interval: DefaultRetryInterval}
}

// Connector is anything that can attempt a connection
type Connector interface {
	Connect(ctx context.Context) error
}

// ConnectWithRetry calls Connect until it succeeds, ctx is cancelled or the
// policy gives up. onAttempt, if set, is called after every attempt.
// Returns the number of attempts made and the last error.
func ConnectWithRetry(ctx context.Context, c Connector, policy RetryPolicy, onAttempt func(attempt int, err error)) (int, error) {
	after := policy.After
	if after == nil {
		after = time.After
	}

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		attempt++
		err := c.Connect(ctx)
		if onAttempt != nil {
			onAttempt(attempt, err)
		}
		if err == nil {
			return attempt, nil
		}

		log.Info().Err(err).Int("attempt", attempt).Dur("retry_in", policy.Interval).Msg("connect failed")

		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			return attempt, err
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-after(policy.Interval):
		}
	}
}
