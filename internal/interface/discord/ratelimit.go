package discord

import (
	"fmt"
	"sync"
	"time"

	"github.com/melon-hub/melon-rank/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMMAND RATE LIMITER
// Per-member token bucket in front of slash commands. Rank cards fetch an
// avatar and render a PNG, so one member spamming /rank is throttled
// without affecting anyone else.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitConfig holds configuration for the command limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the refill rate per member.
	RequestsPerMinute int

	// BurstSize is the bucket capacity (commands allowed back to back).
	BurstSize int

	// Exempt members are never limited (e.g., moderators).
	Exempt map[string]bool
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 6,
		BurstSize:         3,
	}
}

// RateLimitResult is the outcome of one check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// CommandLimiter implements per-member rate limiting.
type CommandLimiter struct {
	config RateLimitConfig
	clock  timeutil.Clock

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewCommandLimiter creates a limiter. A nil clock uses the system clock.
func NewCommandLimiter(cfg RateLimitConfig, clock timeutil.Clock) *CommandLimiter {
	def := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	return &CommandLimiter{
		config:  cfg,
		clock:   timeutil.OrSystem(clock),
		buckets: make(map[string]*tokenBucket),
	}
}

// Check consumes a token for memberID if one is available.
func (l *CommandLimiter) Check(memberID string) RateLimitResult {
	if l.config.Exempt[memberID] {
		return RateLimitResult{Allowed: true, Remaining: l.config.BurstSize}
	}

	now := l.clock.Now()
	rate := float64(l.config.RequestsPerMinute) / 60.0 // tokens per second
	capacity := float64(l.config.BurstSize)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[memberID]
	if !ok {
		b = &tokenBucket{tokens: capacity, lastRefill: now}
		l.buckets[memberID] = b
	}

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens += elapsed * rate
		if b.tokens > capacity {
			b.tokens = capacity
		}
	}
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens--
		return RateLimitResult{Allowed: true, Remaining: int(b.tokens)}
	}

	deficit := 1.0 - b.tokens
	retryAfter := time.Duration(deficit / rate * float64(time.Second))
	return RateLimitResult{Allowed: false, RetryAfter: retryAfter.Round(time.Second)}
}

// PruneCooldowns drops buckets idle for longer than olderThan. A bucket
// idle that long has refilled anyway, so dropping it changes nothing.
func (l *CommandLimiter) PruneCooldowns(olderThan time.Duration) int {
	refill := time.Duration(float64(l.config.BurstSize) / float64(l.config.RequestsPerMinute) * float64(time.Minute))
	if olderThan < refill {
		olderThan = refill
	}
	cutoff := l.clock.Now().Add(-olderThan)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, b := range l.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(l.buckets, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked members.
func (l *CommandLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// rateLimitedText is the ephemeral reply for a throttled command.
func rateLimitedText(retryAfter time.Duration) string {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return fmt.Sprintf("⏳ 요청이 너무 많습니다. %d초 후 다시 시도해 주세요.", seconds)
}
