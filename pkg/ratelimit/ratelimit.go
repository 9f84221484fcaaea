// Package ratelimit implements the Authorizer, Limiter, and Sanitizer (C3):
// static per-user authorization, a token-bucket request limiter, and
// callback-input sanitization.
package ratelimit

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/time/rate"
)

// Authorizer enforces a static allowlist of authorized user IDs (spec §5 —
// authorization is never derived from the incoming message, only from
// configuration).
type Authorizer struct {
	allowed map[int64]struct{}
}

// NewAuthorizer builds an Authorizer from the configured allowlist.
func NewAuthorizer(allowedUserIDs []int64) *Authorizer {
	m := make(map[int64]struct{}, len(allowedUserIDs))
	for _, id := range allowedUserIDs {
		m[id] = struct{}{}
	}
	return &Authorizer{allowed: m}
}

// IsAuthorized reports whether userID appears in the configured allowlist.
func (a *Authorizer) IsAuthorized(userID int64) bool {
	_, ok := a.allowed[userID]
	return ok
}

// Limiter rate-limits inbound callbacks per user using an independent token
// bucket per user ID (spec §5 — "one user's burst never throttles another").
type Limiter struct {
	mu       sync.Mutex
	buckets  map[int64]*rate.Limiter
	burst    int
	interval time.Duration
}

// NewLimiter returns a Limiter allowing burst requests per interval, per user.
func NewLimiter(burst int, interval time.Duration) *Limiter {
	return &Limiter{
		buckets:  make(map[int64]*rate.Limiter),
		burst:    burst,
		interval: interval,
	}
}

// Allow reports whether userID may act now. When it returns false, retryAfter
// is a best-effort hint for how long the caller should wait.
func (l *Limiter) Allow(userID int64) (ok bool, retryAfter time.Duration) {
	b := l.bucketFor(userID)
	res := b.ReserveN(time.Now(), 1)
	if !res.OK() {
		return false, l.interval
	}
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

func (l *Limiter) bucketFor(userID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[userID]
	if !ok {
		perSecond := float64(l.burst) / l.interval.Seconds()
		b = rate.NewLimiter(rate.Limit(perSecond), l.burst)
		l.buckets[userID] = b
	}
	return b
}

// Sanitizer strips dangerous input from free-text callback data before it is
// parsed or logged (spec §5).
type Sanitizer struct{}

// NewSanitizer returns a ready-to-use Sanitizer.
func NewSanitizer() *Sanitizer { return &Sanitizer{} }

// Sanitize removes control characters, zero-width marks, and null bytes, and
// rejects inputs attempting path traversal.
func (s *Sanitizer) Sanitize(input string) (string, error) {
	if strings.Contains(input, "..") || strings.ContainsAny(input, "/\\") {
		return "", fmt.Errorf("input rejected: path traversal sequence detected")
	}
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if unicode.IsControl(r) {
			continue
		}
		switch r {
		case 0x200B, 0x200C, 0x200D, 0xFEFF:
			continue
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}
