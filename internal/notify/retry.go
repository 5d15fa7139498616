package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryJitter spreads retries of events published at the same moment.
const retryJitter = 0.2

// RetryConfig configures retry behaviour for publishing.
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// DefaultRetryConfig returns a retry configuration with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	defaults := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaults.InitialDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = defaults.BackoffFactor
	}
	return c
}

// budget is the longest a publish with every retry can take.
func (c RetryConfig) budget(attemptTimeout time.Duration) time.Duration {
	longestDelay := time.Duration(float64(c.MaxDelay) * (1 + retryJitter))
	return time.Duration(c.MaxRetries+1)*attemptTimeout + time.Duration(c.MaxRetries)*longestDelay
}

// backOff builds the exponential schedule for c, bounded by MaxRetries and
// cancelled with ctx.
func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.InitialDelay
	exp.MaxInterval = c.MaxDelay
	exp.Multiplier = c.BackoffFactor
	exp.RandomizationFactor = retryJitter
	// Attempts are bounded by count, not elapsed time.
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.MaxRetries)), ctx)
}

// withRetry runs fn until it succeeds, retries are exhausted or ctx ends.
func withRetry(ctx context.Context, config RetryConfig, fn func() error) error {
	config = config.normalized()
	if err := backoff.Retry(fn, config.backOff(ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed after %d retries: %w", config.MaxRetries, err)
	}
	return nil
}
