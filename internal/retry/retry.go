package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = time.Second
)

// ExhaustedError is returned when every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Permanent() bool { return true }

// Permanent marks err as a typed failure that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether any error in err's chain has a Permanent
// method returning true.
func IsPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}

// Config configures an Executor.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	// OnRetry is called before each wait with the attempt that just failed,
	// the delay before the next attempt, and the failure.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Executor runs operations with bounded exponential backoff. The delay
// before attempt n (n >= 2) is InitialBackoff * 2^(n-2).
type Executor struct {
	maxAttempts    int
	initialBackoff time.Duration
	onRetry        func(int, time.Duration, error)
	logger         *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		onRetry:        cfg.OnRetry,
		logger:         logger,
	}
}

func (e *Executor) MaxAttempts() int { return e.maxAttempts }

// Backoff returns a fresh backoff policy for one operation.
func (e *Executor) Backoff() goretry.Backoff {
	b := goretry.NewExponential(e.initialBackoff)
	return goretry.WithMaxRetries(uint64(e.maxAttempts-1), b)
}

// Do runs op until it succeeds, returns a permanent error, the context is
// done, or the attempt budget is spent. Only transient errors are retried.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var (
		attempts int
		lastErr  error
	)
	policy := e.Backoff()
	backoff := goretry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := policy.Next()
		if !stop {
			e.logger.Debug("retrying", "attempt", attempts, "delay", delay, "error", lastErr)
			if e.onRetry != nil {
				e.onRetry(attempts, delay, lastErr)
			}
		}
		return delay, stop
	})

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsPermanent(err) || ctx.Err() != nil {
			return err
		}
		return goretry.RetryableError(err)
	})

	switch {
	case err == nil:
		return nil
	case IsPermanent(err), ctx.Err() != nil:
		return err
	default:
		return &ExhaustedError{Attempts: attempts, Err: err}
	}
}
