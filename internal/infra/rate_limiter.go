package infra

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token-bucket gate shared by all outbound REST calls.
// Waiters are served strictly in arrival order so sustained load cannot
// starve any caller. Acquire never fails for lack of tokens, it only delays;
// backpressure is latency, not errors.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	queue      []*rateWaiter
}

type rateWaiter struct {
	cost  float64
	ready chan struct{}
}

// NewRateLimiter creates a rate limiter.
// capacity: maximum burst size (tokens).
// refillRate: tokens added per second.
func NewRateLimiter(capacity int, refillRate float64) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until cost tokens are available, then debits them. Costs
// above capacity are clamped so the call can ever be satisfied. The only
// error returned is ctx.Err() when the caller is cancelled while waiting.
func (r *RateLimiter) Acquire(ctx context.Context, cost int) error {
	c := float64(cost)
	if c <= 0 {
		c = 1
	}
	if c > r.capacity {
		c = r.capacity
	}

	r.mu.Lock()
	r.refill()

	// Fast path: no queue ahead of us and enough tokens right now.
	if len(r.queue) == 0 && r.tokens >= c {
		r.tokens -= c
		r.mu.Unlock()
		return nil
	}

	w := &rateWaiter{cost: c, ready: make(chan struct{})}
	r.queue = append(r.queue, w)
	if len(r.queue) == 1 {
		r.scheduleHead()
	}
	r.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		r.abandon(w)
		return ctx.Err()
	}
}

// TryAcquire attempts to take cost tokens without blocking. Queued waiters
// keep priority: it fails while anyone is waiting.
func (r *RateLimiter) TryAcquire(cost int) bool {
	c := float64(cost)
	if c <= 0 {
		c = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if len(r.queue) == 0 && r.tokens >= c {
		r.tokens -= c
		return true
	}
	return false
}

// Remaining returns the current token count (for monitoring).
func (r *RateLimiter) Remaining() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

// refill adds tokens based on elapsed time. Must be called with mu held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}
	r.lastRefill = now
}

// scheduleHead arms a timer for the moment the head waiter can be served.
// Must be called with mu held and a non-empty queue.
func (r *RateLimiter) scheduleHead() {
	head := r.queue[0]
	var wait time.Duration
	if deficit := head.cost - r.tokens; deficit > 0 {
		wait = time.Duration(deficit / r.refillRate * float64(time.Second))
	}
	time.AfterFunc(wait, r.dispatch)
}

// dispatch releases queued waiters in FIFO order while tokens last, then
// re-arms the timer for the new head.
func (r *RateLimiter) dispatch() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	for len(r.queue) > 0 && r.tokens >= r.queue[0].cost {
		w := r.queue[0]
		r.queue = r.queue[1:]
		r.tokens -= w.cost
		close(w.ready)
	}
	if len(r.queue) > 0 {
		r.scheduleHead()
	}
}

// abandon removes a cancelled waiter from the queue. If it was already
// dispatched the tokens stay debited, which is the caller's loss, not a
// double-spend.
func (r *RateLimiter) abandon(w *rateWaiter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, q := range r.queue {
		if q == w {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			if i == 0 && len(r.queue) > 0 {
				r.scheduleHead()
			}
			return
		}
	}
}
