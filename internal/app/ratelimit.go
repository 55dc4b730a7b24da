package app

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterSweepEvery = time.Minute

// userLimiter keeps one token bucket per user id. Buckets that have
// refilled completely are dropped, since a fresh one behaves the same.
type userLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// newUserLimiter allows perMinute requests per user with a burst of the
// same size. perMinute <= 0 disables limiting.
func newUserLimiter(perMinute int) *userLimiter {
	if perMinute <= 0 {
		return &userLimiter{limit: rate.Inf, limiters: map[string]*rate.Limiter{}, now: time.Now}
	}
	return &userLimiter{
		limiters: map[string]*rate.Limiter{},
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		now:      time.Now,
	}
}

func (l *userLimiter) Allow(userID string) bool {
	if l.limit == rate.Inf {
		return true
	}
	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= limiterSweepEvery {
		l.sweepLocked(now)
	}
	limiter, ok := l.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = limiter
	}
	l.mu.Unlock()
	return limiter.AllowN(now, 1)
}

func (l *userLimiter) sweepLocked(now time.Time) {
	full := float64(l.burst)
	for userID, limiter := range l.limiters {
		if limiter.TokensAt(now) >= full {
			delete(l.limiters, userID)
		}
	}
	l.lastSweep = now
}

func (l *userLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
