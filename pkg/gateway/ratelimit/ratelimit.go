// Package ratelimit throttles credential-guessing on the login endpoints.
// One token bucket per caller key, in-memory and single-process, matching
// the deployment assumptions of the session authority.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

type Config struct {
	// Attempts refilled per second and the burst allowance.
	RPS   float64
	Burst int

	// Operational bounds for the in-memory map.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*bucket
}

type bucket struct {
	tokens   float64
	last     time.Time
	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*bucket),
	}
}

// Key derives a limiter key from a caller identity so raw identities never
// sit in the map.
func Key(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	// 16 bytes => 32 hex chars; enough to avoid collisions in practice.
	return "id_" + hex.EncodeToString(sum[:16])
}

type Decision struct {
	Allowed    bool
	RetryAfter int
}

// Allow consumes one attempt for key. A denied decision carries the whole
// seconds to wait before the next attempt can succeed.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	if key == "" {
		key = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getOrCreateLocked(key, now)
	b.lastSeen = now

	capacity := float64(l.cfg.Burst)
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+(elapsed*l.cfg.RPS))
		b.last = now
	}

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return Decision{Allowed: true}
	}

	needed := 1.0 - b.tokens
	retryAfter := int(math.Ceil(needed / l.cfg.RPS))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}
}

func (l *Limiter) getOrCreateLocked(key string, now time.Time) *bucket {
	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// If still too big, drop one arbitrary entry (bounded memory > perfect fairness).
		if len(l.m) >= l.cfg.MaxEntries {
			for k := range l.m {
				delete(l.m, k)
				break
			}
		}
	}

	if b, ok := l.m[key]; ok {
		return b
	}
	b := &bucket{
		tokens:   float64(l.cfg.Burst),
		last:     now,
		lastSeen: now,
	}
	l.m[key] = b
	return b
}

func (l *Limiter) gcLocked(now time.Time) {
	for k, v := range l.m {
		if now.Sub(v.lastSeen) > l.cfg.EntryTTL {
			delete(l.m, k)
		}
	}
}
