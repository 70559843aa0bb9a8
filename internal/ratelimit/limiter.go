// Package ratelimit provides per-identity token buckets. Authenticated
// requests are keyed by username, anonymous ones by client address.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the rate limiting configuration.
type Config struct {
	UserRPS         float64       // Sustained requests per second for ordinary users and anonymous clients
	UserBurst       int           // Bucket size for ordinary users
	AdminRPS        float64       // Sustained requests per second for admins
	AdminBurst      int           // Bucket size for admins
	CleanupInterval time.Duration // Buckets idle this long are dropped
}

// DefaultConfig provides the defaults used when no env override is set.
var DefaultConfig = Config{
	UserRPS:         10,
	UserBurst:       20,
	AdminRPS:        100,
	AdminBurst:      200,
	CleanupInterval: time.Hour,
}

// Decision is the outcome of one Take.
type Decision struct {
	Allowed    bool
	Remaining  int           // whole tokens left after this request
	RetryAfter time.Duration // zero when Allowed
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

type bucket struct {
	lim   *rate.Limiter
	admin bool
	seen  time.Time
}

// Limiter holds one bucket per key. A key whose tier changes (a user
// promoted to admin) gets a fresh bucket for the new tier.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Limiter and starts its idle-bucket janitor. Call Stop to end it.
func New(cfg Config) *Limiter {
	l := newLimiter(cfg, time.Now)
	go l.janitor()
	return l
}

func newLimiter(cfg Config, now func() time.Time) *Limiter {
	return &Limiter{
		cfg:     cfg,
		now:     now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (l *Limiter) tier(admin bool) (rate.Limit, int) {
	if admin {
		return rate.Limit(l.cfg.AdminRPS), l.cfg.AdminBurst
	}
	return rate.Limit(l.cfg.UserRPS), l.cfg.UserBurst
}

// Take spends one token from key's bucket if one is available.
func (l *Limiter) Take(key string, admin bool) Decision {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok || b.admin != admin {
		limit, burst := l.tier(admin)
		b = &bucket{lim: rate.NewLimiter(limit, burst), admin: admin}
		l.buckets[key] = b
	}
	b.seen = now
	l.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return Decision{RetryAfter: l.cfg.CleanupInterval}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{RetryAfter: delay}
	}
	return Decision{Allowed: true, Remaining: max(0, int(b.lim.TokensAt(now)))}
}

// Allow is Take reduced to its verdict.
func (l *Limiter) Allow(key string, admin bool) bool {
	return l.Take(key, admin).Allowed
}

// Prune drops buckets not used within CleanupInterval of now and returns
// how many were removed.
func (l *Limiter) Prune(now time.Time) int {
	cutoff := now.Add(-l.cfg.CleanupInterval)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

func (l *Limiter) janitor() {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Prune(l.now())
		case <-l.stop:
			return
		}
	}
}

// Stop ends the janitor and waits for it. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
