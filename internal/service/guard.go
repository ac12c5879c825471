package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GuardConfig bounds failed login attempts per username and address.
type GuardConfig struct {
	// MaxFailures is the number of failures allowed back to back.
	MaxFailures int
	// BaseDelay is how long it takes to earn back one failure.
	BaseDelay time.Duration
}

// DefaultGuardConfig allows five quick failures, then one per 30 seconds.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{MaxFailures: 5, BaseDelay: 30 * time.Second}
}

// AttemptGuard throttles failed password and MFA attempts. Each
// username+address key owns a token bucket that failures drain; an empty
// bucket rejects further attempts until it refills.
type AttemptGuard struct {
	mu      sync.Mutex
	cfg     GuardConfig
	now     func() time.Time
	buckets map[string]*rate.Limiter
}

// sweepThreshold is the bucket count above which full buckets are dropped.
const sweepThreshold = 1024

// NewAttemptGuard creates a guard. Zero fields fall back to the defaults.
func NewAttemptGuard(cfg GuardConfig) *AttemptGuard {
	def := DefaultGuardConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	return &AttemptGuard{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*rate.Limiter),
	}
}

// GuardKey builds the bucket key for a login attempt.
func GuardKey(username, remoteAddr string) string {
	return username + "|" + remoteAddr
}

// Allow reports whether another attempt may be made for key.
func (g *AttemptGuard) Allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.buckets[key]
	if !ok {
		return true
	}
	return lim.TokensAt(g.now()) >= 1
}

// Fail records a failed attempt for key.
func (g *AttemptGuard) Fail(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	lim, ok := g.buckets[key]
	if !ok {
		if len(g.buckets) >= sweepThreshold {
			g.sweepLocked(now)
		}
		lim = rate.NewLimiter(rate.Every(g.cfg.BaseDelay), g.cfg.MaxFailures)
		g.buckets[key] = lim
	}
	lim.AllowN(now, 1)
}

// Reset forgets the failures recorded for key.
func (g *AttemptGuard) Reset(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.buckets, key)
}

func (g *AttemptGuard) sweepLocked(now time.Time) {
	full := float64(g.cfg.MaxFailures)
	for k, lim := range g.buckets {
		if lim.TokensAt(now) >= full {
			delete(g.buckets, k)
		}
	}
}
