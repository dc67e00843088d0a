package router

import (
	"context"
	"log"
	"math"
	"sync"
	"time"
)

// RateLimiter enforces one accepted prompt per session per window.
// ARCHITECTURAL DISCOVERY: Per-session state tracking with periodic cleanup
// prevents memory leaks from sessions that never come back
type RateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	sessions map[string]time.Time // sessionID -> last accepted submission
	now      func() time.Time
}

func NewRateLimiter(window time.Duration) *RateLimiter {
	return &RateLimiter{
		window:   window,
		sessions: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Check reports whether sessionID may submit now. When it may not,
// waitSeconds is the remaining time rounded up, never above the window's
// whole seconds and never below 1.
func (rl *RateLimiter) Check(sessionID string) (waitSeconds int, ok bool) {
	if rl.window <= 0 {
		return 0, true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	last, exists := rl.sessions[sessionID]
	if !exists {
		return 0, true
	}
	remaining := rl.window - rl.now().Sub(last)
	if remaining <= 0 {
		return 0, true
	}

	wait := int(math.Ceil(remaining.Seconds()))
	maxWait := int(rl.window / time.Second)
	if wait > maxWait {
		wait = maxWait
	}
	if wait < 1 {
		wait = 1
	}
	return wait, false
}

// Record stamps an accepted submission. Called once per accepted prompt,
// never on arrival.
func (rl *RateLimiter) Record(sessionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sessions[sessionID] = rl.now()
}

// Cleanup removes sessions idle for longer than idle and returns the count.
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	if idle < rl.window {
		idle = rl.window
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for sessionID, last := range rl.sessions {
		if now.Sub(last) > idle {
			delete(rl.sessions, sessionID)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of sessions currently held.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.sessions)
}

// RunCleanup garbage-collects idle sessions every interval until ctx ends.
func (rl *RateLimiter) RunCleanup(ctx context.Context, interval, idle time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := rl.Cleanup(idle); n > 0 {
				log.Printf("Rate limiter dropped %d idle sessions, %d still tracked", n, rl.Tracked())
			}
		case <-ctx.Done():
			return nil
		}
	}
}
