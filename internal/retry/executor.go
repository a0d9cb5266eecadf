// Package retry wraps a fallible operation with bounded attempts and
// linear backoff.
package retry

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config tunes the executor's attempt count and backoff step.
type Config struct {
	RetryAttempts int
	RetryDelay    time.Duration

	// OnRetry, if set, is invoked after each failed attempt that will be
	// retried. Intended for a hosting process to feed a retry-attempts
	// counter labeled by venue; nil is a no-op.
	OnRetry func(attempt int, err error)
}

// Executor retries an operation up to RetryAttempts times, sleeping
// RetryDelay*attempt between attempts (linear backoff starting at
// RetryDelay).
type Executor struct {
	attempts int
	delay    time.Duration
	logger   zerolog.Logger
	onRetry  func(attempt int, err error)
}

// New constructs an Executor. Zero-valued Config fields fall back to the
// spec defaults: 3 attempts, 1 second initial delay.
func New(cfg Config, logger zerolog.Logger) *Executor {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Executor{attempts: cfg.RetryAttempts, delay: cfg.RetryDelay, logger: logger, onRetry: cfg.OnRetry}
}

// Execute runs op, retrying on error up to attempts times. Between
// attempts it sleeps delay*attemptNumber, honoring ctx cancellation. The
// last error is returned if every attempt fails.
func Execute[T any](ctx context.Context, e *Executor, op func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= e.attempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == e.attempts {
			break
		}

		e.logger.Warn().Int("attempt", attempt).Err(err).Msg("operation failed, retrying")
		if e.onRetry != nil {
			e.onRetry(attempt, err)
		}

		sleepFor := e.delay * time.Duration(attempt)
		select {
		case <-time.After(sleepFor):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, lastErr
}

// transientPatterns are substrings of lowercased error text that indicate
// a network/transport failure worth retrying, rather than a permanent
// rejection from the venue.
var transientPatterns = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"temporary",
	"server error",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"network",
	"dns",
	"tcp",
	"no such host",
	"deadline exceeded",
	"tls handshake",
	"broken pipe",
	"eof",
}

// IsTransient reports whether err looks like a transport-level failure
// that's worth retrying, as opposed to a permanent rejection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
