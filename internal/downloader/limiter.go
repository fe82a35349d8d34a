package downloader

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// adjustInterval is the wall-clock window after which sustained success
// raises the current rate (§4.5).
const adjustInterval = 30 * time.Second

const (
	successMultiplier  = 1.10
	throttledMultiplier = 0.70
)

// AdaptiveLimiter is a thread-safe token bucket whose refill rate rises on
// sustained success and falls on throttled (429/503) responses. It wraps
// golang.org/x/time/rate.Limiter, which already implements the blocking
// token-bucket acquire semantics §4.5 requires; this type adds the
// rate-adjustment policy on top.
type AdaptiveLimiter struct {
	mu         sync.Mutex
	limiter    *rate.Limiter
	current    float64
	floor      float64
	cap        float64
	lastAdjust time.Time
}

// NewAdaptiveLimiter builds a limiter starting at baseRate requests/sec with
// the given burst capacity.
func NewAdaptiveLimiter(baseRate float64, burst int) *AdaptiveLimiter {
	if burst < 1 {
		burst = 1
	}
	floor := math.Min(1.0, baseRate)
	cap := 2 * baseRate

	return &AdaptiveLimiter{
		limiter:    rate.NewLimiter(rate.Limit(baseRate), burst),
		current:    baseRate,
		floor:      floor,
		cap:        cap,
		lastAdjust: time.Now(),
	}
}

// Acquire blocks until one token is available or ctx is cancelled.
func (l *AdaptiveLimiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// ReportSuccess signals a successful download. If adjustInterval has elapsed
// since the last adjustment, the rate rises by successMultiplier.
func (l *AdaptiveLimiter) ReportSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastAdjust) < adjustInterval {
		return
	}
	l.setRateLocked(l.current * successMultiplier)
	l.lastAdjust = time.Now()
}

// ReportThrottled signals a 429/503 response. The rate falls immediately by
// throttledMultiplier and the adjustment interval resets.
func (l *AdaptiveLimiter) ReportThrottled() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setRateLocked(l.current * throttledMultiplier)
	l.lastAdjust = time.Now()
}

// CurrentRate returns the limiter's current refill rate, for diagnostics.
func (l *AdaptiveLimiter) CurrentRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *AdaptiveLimiter) setRateLocked(r float64) {
	if r < l.floor {
		r = l.floor
	}
	if r > l.cap {
		r = l.cap
	}
	l.current = r
	l.limiter.SetLimit(rate.Limit(r))
}
