package identity

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// loginLimiter throttles password attempts per email address.
type loginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleEviction = 30 * time.Minute

func newLoginLimiter(perMinute float64, burst int) *loginLimiter {
	return &loginLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(perMinute / 60.0),
		burst:    burst,
	}
}

// allow reports whether another attempt for the email is permitted now.
func (l *loginLimiter) allow(email string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.limiters[email]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[email] = entry
	}
	entry.lastSeen = now

	// Evict idle entries so the map stays bounded.
	if len(l.limiters) > 1024 {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > limiterIdleEviction {
				delete(l.limiters, k)
			}
		}
	}

	return entry.limiter.Allow()
}
