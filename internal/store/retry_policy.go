package store

import (
	"context"
	"time"
)

// FixedRetryPolicy retries failed builds forever with a constant delay.
type FixedRetryPolicy struct {
	delay time.Duration
}

// NewFixedRetryPolicy builds a policy waiting delay between attempts.
func NewFixedRetryPolicy(delay time.Duration) *FixedRetryPolicy {
	return &FixedRetryPolicy{delay: delay}
}

// ShouldRetry decides whether a failed attempt is retried. Only the caller's
// own cancellation stops retries; upstream timeouts are transient.
func (p *FixedRetryPolicy) ShouldRetry(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() == nil
}

// Backoff returns the wait duration before the next attempt.
func (p *FixedRetryPolicy) Backoff(_ int) time.Duration {
	return p.delay
}
