package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces out outbound API calls. A nil RateLimiter never
// blocks.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter allows perMinute operations per minute with a burst of
// one. perMinute <= 0 disables limiting and returns nil.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	every := time.Minute / time.Duration(perMinute)
	return &RateLimiter{lim: rate.NewLimiter(rate.Every(every), 1)}
}

// Wait blocks until the next operation may proceed or ctx is done. A
// reservation abandoned because of ctx is returned to the bucket.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}
	r := rl.lim.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
