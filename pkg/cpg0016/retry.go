// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cpg0016

import (
	"context"
	"time"
)

const (
	// DefaultMaxAttempts is the number of attempts per record, first try included.
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is the constant delay between attempts.
	DefaultRetryDelay = 2 * time.Second
)

// Backoff returns the delay to wait after the given failed attempt (1-based).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same duration after every failed attempt.
type FixedBackoff time.Duration

// Delay implements Backoff.
func (b FixedBackoff) Delay(int) time.Duration {
	return time.Duration(b)
}

// ExponentialBackoff multiplies the delay after each failed attempt, capped at Max.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay implements Backoff.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	mult := b.Multiplier
	if mult <= 1 {
		mult = 2
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= mult
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	return time.Duration(d)
}

// RetryPolicy bounds the attempts made for one unit of work.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts. If <= 0, defaults to 3.
	MaxAttempts int

	// Backoff decides the wait between attempts. If nil, defaults to a fixed 2s.
	Backoff Backoff
}

// DefaultRetryPolicy returns 3 attempts with a constant 2s delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Backoff: FixedBackoff(DefaultRetryDelay)}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = FixedBackoff(DefaultRetryDelay)
	}
	return p
}

// Do runs op until it succeeds or the attempts are exhausted. onRetry, when
// non-nil, is called before every wait with the failed attempt number.
// It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error, onRetry func(attempt int, err error, wait time.Duration)) (int, error) {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}

		if attempt < p.MaxAttempts {
			wait := p.Backoff.Delay(attempt)
			if onRetry != nil {
				onRetry(attempt, lastErr, wait)
			}
			if !sleepCtx(ctx, wait) {
				return attempt, ctx.Err()
			}
		}
	}
	return p.MaxAttempts, lastErr
}

// sleepCtx waits for d or returns false if ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
