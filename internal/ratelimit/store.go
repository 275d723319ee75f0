// Package ratelimit bounds how many requests a client identity may make in a
// fixed window. Counters live in a pluggable Store so several server
// instances can share them.
package ratelimit

import (
	"context"
	"time"
)

// Counter is the state of one key after an increment.
type Counter struct {
	Count       int
	WindowStart time.Time
}

// Store increments per-key counters. Incr must apply the window rule
// atomically: when now is more than window past WindowStart the counter
// restarts at 1 with WindowStart = now, otherwise Count grows by one.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error)
}

// expired reports whether a window that started at start is over at now.
func expired(start, now time.Time, window time.Duration) bool {
	return now.Sub(start) > window
}
