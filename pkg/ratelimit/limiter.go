// Package ratelimit paces outbound operations against Binance limits. REST
// requests share one limiter per client; each WebSocket connection carries
// its own limiter for control frames (Binance allows five SUBSCRIBE/
// UNSUBSCRIBE/PING messages per second per connection).
//
// The implementation wraps Uber's token-bucket limiter behind a small
// interface so the pace can be adjusted at runtime and faked in tests.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/ratelimit"
)

// Rate allows Limit operations per Interval.
type Rate struct {
	Limit    int
	Interval time.Duration
}

// RateLimiter defines the interface for rate limiting functionality.
type RateLimiter interface {
	// Wait blocks until an operation is permitted or the context is
	// cancelled.
	Wait(ctx context.Context) error

	// SetLimit updates the rate limiting configuration at runtime.
	SetLimit(limit Rate) error
}

// uberLimiter implements RateLimiter using Uber's token bucket.
type uberLimiter struct {
	limiter ratelimit.Limiter
	rate    Rate
}

// NewTokenBucketLimiter creates a rate limiter permitting rate.Limit
// operations per rate.Interval, smoothed to operations per second.
func NewTokenBucketLimiter(rate Rate) RateLimiter {
	rps := float64(rate.Limit) / rate.Interval.Seconds()
	return &uberLimiter{
		limiter: ratelimit.New(int(rps)),
		rate:    rate,
	}
}

// Wait implements the RateLimiter interface.
func (l *uberLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
	default:
		l.limiter.Take()
		return nil
	}
}

// SetLimit implements the RateLimiter interface.
func (l *uberLimiter) SetLimit(rate Rate) error {
	if rate.Limit <= 0 || rate.Interval <= 0 {
		return fmt.Errorf("invalid rate limit: %+v", rate)
	}
	rps := float64(rate.Limit) / rate.Interval.Seconds()
	l.limiter = ratelimit.New(int(rps))
	l.rate = rate
	return nil
}
