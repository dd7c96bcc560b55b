package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type userLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// MessageRateLimiter is a pool of token buckets, one per sender.
type MessageRateLimiter struct {
	mu    sync.Mutex
	users map[int64]*userLimiter
	rps   rate.Limit
	burst int
	idle  time.Duration

	stopOnce    sync.Once
	stopCleanup chan struct{}
}

// NewMessageRateLimiter allows perSecond sustained sends with bursts of burst.
// Buckets untouched for ten minutes are dropped.
func NewMessageRateLimiter(perSecond float64, burst int) *MessageRateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	rl := &MessageRateLimiter{
		users:       make(map[int64]*userLimiter),
		rps:         rate.Limit(perSecond),
		burst:       burst,
		idle:        10 * time.Minute,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *MessageRateLimiter) get(userID int64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.users[userID]
	if !ok {
		u = &userLimiter{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.users[userID] = u
	}
	u.lastSeen = time.Now()
	return u.lim
}

// Allow takes a token for userID. When none is available it returns false and
// the number of whole seconds until one is.
func (rl *MessageRateLimiter) Allow(userID int64) (bool, int) {
	res := rl.get(userID).Reserve()
	if !res.OK() {
		return false, 1
	}
	delay := res.Delay()
	if delay <= 0 {
		return true, 0
	}
	res.Cancel()
	return false, int(math.Ceil(delay.Seconds()))
}

func (rl *MessageRateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *MessageRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *MessageRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for id, u := range rl.users {
		if now.Sub(u.lastSeen) > rl.idle {
			delete(rl.users, id)
		}
	}
}
