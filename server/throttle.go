package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig bounds login attempts per key (strategy + caller IP).
type ThrottleConfig struct {
	// AttemptsPerWindow is the number of attempts allowed in Window.
	AttemptsPerWindow int

	// Window is the period the attempts are spread over.
	Window time.Duration

	// Burst allows this many attempts back to back. Defaults to
	// AttemptsPerWindow.
	Burst int
}

// DefaultThrottle matches a strict brute-force profile: five attempts per
// minute per key.
var DefaultThrottle = ThrottleConfig{
	AttemptsPerWindow: 5,
	Window:            time.Minute,
	Burst:             5,
}

// throttle keeps one token bucket per key, dropping idle buckets
// periodically so ephemeral keys don't accumulate.
type throttle struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

func newThrottle(cfg ThrottleConfig) *throttle {
	if cfg.AttemptsPerWindow <= 0 || cfg.Window <= 0 {
		cfg = DefaultThrottle
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.AttemptsPerWindow
	}
	return &throttle{
		rate:        rate.Limit(float64(cfg.AttemptsPerWindow) / cfg.Window.Seconds()),
		burst:       cfg.Burst,
		lastCleanup: time.Now(),
	}
}

// allow reports whether one more attempt under key fits the budget. Empty
// keys are never throttled; there is nothing meaningful to bucket them by.
func (t *throttle) allow(key string) bool {
	if t == nil || key == "" {
		return true
	}
	return t.limiter(key).Allow()
}

func (t *throttle) limiter(key string) *rate.Limiter {
	if limiter, ok := t.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(t.rate, t.burst)
	actual, _ := t.limiters.LoadOrStore(key, limiter)
	t.maybeCleanup()
	return actual.(*rate.Limiter)
}

// maybeCleanup drops limiters whose buckets have refilled; a full bucket
// means the key has been idle for at least a window.
func (t *throttle) maybeCleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if time.Since(t.lastCleanup) < 5*time.Minute {
		return
	}
	t.lastCleanup = time.Now()

	t.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(t.burst) {
			t.limiters.Delete(key)
		}
		return true
	})
}
