package tws

import "time"

// rateLimiter is a fixed one-second window counter. The vendor gateway
// counts messages per wall-clock second and resets the count when more than
// a second has passed since the window opened, so a client can burst up to
// 2x the limit across a window boundary. That behavior is kept.
type rateLimiter struct {
	max         int
	windowStart time.Time
	count       int
}

func newRateLimiter(max int) *rateLimiter {
	return &rateLimiter{max: max}
}

// allow counts one message and reports whether it is within budget.
func (r *rateLimiter) allow(now time.Time) bool {
	if now.Sub(r.windowStart) > time.Second {
		r.windowStart = now
		r.count = 0
	}
	r.count++
	return r.count <= r.max
}
