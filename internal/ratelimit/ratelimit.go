package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Waiter paces outbound requests to one competitor site.
type Waiter interface {
	WaitIfNeeded(ctx context.Context) error
	Reset()
}

// Limiter enforces a minimum delay between consecutive requests.
type Limiter struct {
	delay       time.Duration
	lastRequest time.Time
	mu          sync.Mutex

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func New(delay time.Duration) *Limiter {
	return &Limiter{
		delay: delay,
		now:   time.Now,
		after: time.After,
	}
}

// WaitIfNeeded blocks until the configured delay has passed since the last
// call returned. The clock is updated after the wait.
func (l *Limiter) WaitIfNeeded(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.lastRequest.IsZero() {
		elapsed := l.now().Sub(l.lastRequest)
		if elapsed < l.delay {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.after(l.delay - elapsed):
			}
		}
	}

	l.lastRequest = l.now()
	return nil
}

// Reset forgets the last request so the next call does not wait.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastRequest = time.Time{}
}

func (l *Limiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delay
}

func (l *Limiter) SetDelay(delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = delay
}
