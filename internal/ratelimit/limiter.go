package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/authgate/apiserver/internal/httpx"
	"github.com/authgate/apiserver/internal/logging"
)

// Decision is the outcome of Admit.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter admits at most max requests per key in each window.
type Limiter struct {
	store  Store
	window time.Duration
	max    int
	now    func() time.Time
	logger logging.Logger
}

// NewLimiter returns a Limiter counting in store.
func NewLimiter(store Store, window time.Duration, max int, logger logging.Logger) *Limiter {
	return &Limiter{
		store:  store,
		window: window,
		max:    max,
		now:    time.Now,
		logger: logger,
	}
}

// Admit counts one request for key.
func (l *Limiter) Admit(ctx context.Context, key string) (Decision, error) {
	c, err := l.store.Incr(ctx, key, l.window, l.now())
	if err != nil {
		return Decision{}, err
	}

	remaining := l.max - c.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   c.Count <= l.max,
		Limit:     l.max,
		Remaining: remaining,
		ResetAt:   c.WindowStart.Add(l.window),
	}, nil
}

// Middleware rejects requests over the limit with 429 before any handler
// runs. A failing store lets the request through.
func (l *Limiter) Middleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	message := retryMessage(l.window)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)

			decision, err := l.Admit(r.Context(), key)
			if err != nil {
				l.logger.Warn(r.Context(), "rate limit store unavailable", "key", key, "err", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				retryAfter := int(math.Ceil(decision.ResetAt.Sub(l.now()).Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				l.logger.Info(r.Context(), "rate limit exceeded", "key", key, "limit", decision.Limit, "window", l.window.String())
				httpx.Respond(w, httpx.RateLimit(message))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryMessage(window time.Duration) string {
	if window < time.Minute {
		secs := int(math.Ceil(window.Seconds()))
		return fmt.Sprintf("Too many requests from this IP, please try again after %d %s", secs, plural(secs, "second"))
	}
	mins := int(math.Ceil(window.Minutes()))
	return fmt.Sprintf("Too many requests from this IP, please try again after %d %s", mins, plural(mins, "minute"))
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
