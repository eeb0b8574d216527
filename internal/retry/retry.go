package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Policy bounds the number of attempts and schedules the wait between them.
type Policy struct {
	MaxRetries   int             `mapstructure:"max_retries" validate:"min=1"`
	Backoff      []time.Duration `mapstructure:"backoff"`
	DefaultDelay time.Duration   `mapstructure:"default_delay"`

	// Sleep replaces the real wait in tests.
	Sleep func(ctx context.Context, d time.Duration) error `mapstructure:"-"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		Backoff:      []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second},
		DefaultDelay: 5 * time.Second,
	}
}

// Delay returns the wait after the given zero-based failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt >= 0 && attempt < len(p.Backoff) {
		return p.Backoff[attempt]
	}
	return p.DefaultDelay
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Error is returned once every attempt has failed.
type Error struct {
	Label    string
	Attempts int
	Last     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Label, e.Attempts, e.Last)
}

func (e *Error) Unwrap() error {
	return e.Last
}

// Do runs fn up to p.MaxRetries times, waiting p.Delay(attempt) between
// failures. A cancelled context stops retrying and is returned as is.
func Do(ctx context.Context, p Policy, label string, fn func(ctx context.Context) error) error {
	attempts := p.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	logger := slog.Default().With("component", "retry")

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		logger.Warn("attempt failed", "label", label, "attempt", attempt+1, "max", attempts, "error", lastErr)

		if attempt < attempts-1 {
			if err := p.sleep(ctx, p.Delay(attempt)); err != nil {
				return err
			}
		}
	}

	return &Error{Label: label, Attempts: attempts, Last: lastErr}
}
