// Package ratelimit implements a token-bucket admission control shared
// across provider adapters of the same venue.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const safetyCapPolls = 100

// Config tunes a Limiter's bucket size and refill window.
type Config struct {
	MaxTokens      int
	WindowDuration time.Duration
	WaitInterval   time.Duration

	// OnStall, if set, is invoked each time WaitForSlot hits the
	// safety-cap poll limit and proceeds without a token. Intended for a
	// hosting process to feed an observability counter; nil is a no-op.
	OnStall func()
}

// Limiter is a mutex-guarded token bucket. Tokens refill continuously at
// maxTokens/windowSeconds per second, capped at maxTokens, and are
// consumed one at a time by WaitForSlot.
type Limiter struct {
	mu                sync.Mutex
	maxTokens         float64
	refillRate        float64 // tokens per second
	waitInterval      time.Duration
	tokens            float64
	lastRefillInstant time.Time
	logger            zerolog.Logger
	onStall           func()
}

// New constructs a Limiter. Zero-valued Config fields fall back to the
// spec defaults: 1200 tokens per 60-second window, 100ms poll interval.
func New(cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1200
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = 60 * time.Second
	}
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = 100 * time.Millisecond
	}

	return &Limiter{
		maxTokens:         float64(cfg.MaxTokens),
		refillRate:        float64(cfg.MaxTokens) / cfg.WindowDuration.Seconds(),
		waitInterval:      cfg.WaitInterval,
		tokens:            float64(cfg.MaxTokens),
		lastRefillInstant: time.Now(),
		logger:            logger,
		onStall:           cfg.OnStall,
	}
}

// refill applies elapsed-time accrual under the held lock. If the clock
// regressed, only the refill instant advances — no tokens are granted
// for negative elapsed time.
func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.lastRefillInstant)
	if elapsed <= 0 {
		l.lastRefillInstant = now
		return
	}
	l.tokens += elapsed.Seconds() * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefillInstant = now
}

// Check refills and reports whether at least one token is available,
// without consuming it.
func (l *Limiter) Check() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(time.Now())
	return l.tokens >= 1
}

// WaitForSlot blocks until a token is available, then consumes one. If no
// token becomes available after safetyCapPolls unsuccessful polls, it
// logs a warning and proceeds anyway rather than blocking forever under
// clock skew. It returns early if ctx is done.
func (l *Limiter) WaitForSlot(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		l.mu.Lock()
		l.refill(time.Now())
		if l.tokens >= 1 {
			l.tokens -= 1
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()

		if attempt+1 >= safetyCapPolls {
			l.logger.Warn().Int("polls", attempt+1).Msg("rate limiter safety cap reached, proceeding without a token")
			if l.onStall != nil {
				l.onStall()
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.waitInterval):
		}
	}
}

// Remaining returns the number of whole tokens currently available.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(time.Now())
	return int(l.tokens)
}

// ResetTime returns the instant at which the bucket will next be full,
// assuming no further consumption.
func (l *Limiter) ResetTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(time.Now())
	deficit := l.maxTokens - l.tokens
	if deficit <= 0 {
		return time.Now()
	}
	secondsToFull := deficit / l.refillRate
	return time.Now().Add(time.Duration(secondsToFull * float64(time.Second)))
}
