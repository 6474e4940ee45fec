package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// Backoff selects how the delay grows between attempts.
type Backoff int

const (
	// Exponential doubles the delay each attempt up to MaxDelay.
	Exponential Backoff = iota
	// Linear waits n*InitialDelay before attempt n+1.
	Linear
)

// Config holds retry configuration
type Config struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Backoff      Backoff
	// OnRetry is called after each failed attempt that will be retried.
	OnRetry func(attempt uint, err error)
	// RetryIf limits retries to matching errors. Nil retries everything.
	RetryIf func(err error) bool
}

// DefaultConfig returns default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Backoff:      Exponential,
	}
}

// LinearConfig waits 1x, 2x, ... base between attempts.
func LinearConfig(attempts uint, base time.Duration) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: base,
		MaxDelay:     time.Duration(attempts) * base,
		Backoff:      Linear,
	}
}

// Do executes fn until it succeeds, the attempts run out or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(cfg.MaxAttempts),
		retry.Delay(cfg.InitialDelay),
		retry.LastErrorOnly(true),
	}

	if cfg.MaxDelay > 0 {
		opts = append(opts, retry.MaxDelay(cfg.MaxDelay))
	}

	switch cfg.Backoff {
	case Linear:
		base := cfg.InitialDelay
		opts = append(opts, retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return time.Duration(n+1) * base
		}))
	default:
		opts = append(opts, retry.DelayType(retry.BackOffDelay))
	}

	if cfg.OnRetry != nil {
		opts = append(opts, retry.OnRetry(cfg.OnRetry))
	}
	if cfg.RetryIf != nil {
		opts = append(opts, retry.RetryIf(cfg.RetryIf))
	}

	return retry.Do(fn, opts...)
}

// DoWithResult executes fn with retries and returns its result
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}
