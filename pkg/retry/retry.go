package retry

import (
	"context"
	"errors"
	"time"
)

// Config defines retry configuration
type Config struct {
	// MaxAttempts is the number of retryable failures tolerated; the failure
	// numbered MaxAttempts is returned to the caller
	MaxAttempts int
	// OnRetry is called before each wait for observability
	OnRetry func(attempt int, err *AfterError, wait time.Duration)
	// After creates a timer channel (for testing, defaults to time.After)
	After func(d time.Duration) <-chan time.Time
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		OnRetry:     nil,
		After:       nil, // will use time.After
	}
}

// Normalize validates and normalizes the configuration
func (c *Config) Normalize() error {
	if c.MaxAttempts <= 0 {
		return errors.New("retry: MaxAttempts must be positive")
	}
	if c.After == nil {
		c.After = time.After
	}
	return nil
}

// Func is a unit of work that can be retried
type Func func(ctx context.Context) error

// Strategy re-invokes a unit of work while it fails with an AfterError,
// waiting the carried delay between attempts. It holds no per-call state and
// is safe for concurrent use.
type Strategy struct {
	cfg Config
}

// New creates a Strategy from a copy of config.
func New(config Config) (*Strategy, error) {
	configCopy := config
	if err := configCopy.Normalize(); err != nil {
		return nil, err
	}
	return &Strategy{cfg: configCopy}, nil
}

// MaxAttempts returns the configured failure bound.
func (s *Strategy) MaxAttempts() int { return s.cfg.MaxAttempts }

// Do runs fn with retry, discarding any result.
func (s *Strategy) Do(ctx context.Context, fn Func) error {
	_, err := Get(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Get runs fn with retry and returns its result.
//
// A nil error returns immediately. An error without an AfterError in its chain
// is returned as is, without waiting. An AfterError counts as a failed
// attempt: the failure numbered MaxAttempts is returned unchanged, earlier ones
// cause a wait of the carried delay followed by another attempt. If ctx ends
// during a wait, an *InterruptedError is returned.
func Get[T any](ctx context.Context, s *Strategy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := 0

	for attempts <= s.cfg.MaxAttempts {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		ae, ok := AsAfter(err)
		if !ok {
			return zero, err
		}

		lastErr = err
		attempts++
		if attempts == s.cfg.MaxAttempts {
			return zero, err
		}

		wait := ae.Delay()
		if s.cfg.OnRetry != nil {
			s.cfg.OnRetry(attempts, ae, wait)
		}

		select {
		case <-ctx.Done():
			return zero, &InterruptedError{Attempts: attempts, Err: ctx.Err()}
		case <-s.cfg.After(wait):
		}
	}

	return zero, lastErr
}

// Run is a convenience function with custom max attempts
func Run(ctx context.Context, maxAttempts int, fn Func) error {
	config := DefaultConfig()
	config.MaxAttempts = maxAttempts
	s, err := New(config)
	if err != nil {
		return err
	}
	return s.Do(ctx, fn)
}
