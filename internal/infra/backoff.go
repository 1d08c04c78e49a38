package infra

import (
	"math/rand"
	"time"
)

const (
	// Standard backoff constants, used when no config is supplied.
	defaultBaseDelay = 1 * time.Second
	defaultMaxDelay  = 60 * time.Second
)

// Backoff produces exponentially growing reconnect delays with full jitter.
// Not safe for concurrent use; each connection loop owns one instance.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

// NewBackoff creates a backoff with the given base and cap. Zero values fall
// back to the standard constants.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = defaultBaseDelay
	}
	if max <= 0 {
		max = defaultMaxDelay
	}
	return &Backoff{Base: base, Max: max}
}

// Next returns the delay before the next attempt and advances the counter.
// Full jitter: a uniform duration in (0, cap] where cap = base * 2^attempt,
// bounded by Max.
func (b *Backoff) Next() time.Duration {
	cap := calculateBackoff(b.attempt, b.Base, b.Max)
	b.attempt++
	return time.Duration(rand.Int63n(int64(cap))) + 1
}

// Reset returns the backoff to base. Called after a sustained stable
// connection so a later blip does not start at the cap.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of consecutive failures so far.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// calculateBackoff returns base * 2^retryCount, capped at max.
// 2^30 already exceeds any sane cap, so larger counts short-circuit to max.
func calculateBackoff(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 0 {
		return base
	}
	if retryCount > 30 {
		return max
	}

	backoff := base * time.Duration(1<<retryCount)
	if backoff > max || backoff <= 0 {
		return max
	}
	return backoff
}
