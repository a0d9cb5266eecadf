package provider

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"correlation-crack/internal/contracts"
)

// circuitBreakerProvider wraps a Provider so repeated TransportFailure or
// ProviderUnhealthy results trip a breaker before the rate limiter and
// retry executor even get a chance to spin on a venue that's clearly
// down.
type circuitBreakerProvider struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

var _ Provider = (*circuitBreakerProvider)(nil)

// WithCircuitBreaker decorates inner with a gobreaker.CircuitBreaker:
// trips open after 5 consecutive failures, stays open 30s before probing
// again with a single half-open request.
func WithCircuitBreaker(inner Provider) Provider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    inner.Name() + "-breaker",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &circuitBreakerProvider{inner: inner, cb: cb}
}

func (p *circuitBreakerProvider) Name() string { return p.inner.Name() }

func (p *circuitBreakerProvider) Initialize(ctx context.Context) error {
	_, err := p.cb.Execute(func() (any, error) {
		return nil, p.inner.Initialize(ctx)
	})
	return unwrapBreakerErr(err)
}

func (p *circuitBreakerProvider) Disconnect(ctx context.Context) error {
	return p.inner.Disconnect(ctx)
}

func (p *circuitBreakerProvider) IsHealthy() bool {
	return p.cb.State() == gobreaker.StateClosed && p.inner.IsHealthy()
}

func (p *circuitBreakerProvider) GetMarketSnapshot(ctx context.Context, symbol string) (contracts.MarketSnapshot, error) {
	out, err := p.cb.Execute(func() (any, error) {
		return p.inner.GetMarketSnapshot(ctx, symbol)
	})
	if err != nil {
		return contracts.MarketSnapshot{}, unwrapBreakerErr(err)
	}
	return out.(contracts.MarketSnapshot), nil
}

func (p *circuitBreakerProvider) GetCandles(ctx context.Context, symbol string, interval contracts.Interval, limit int) ([]contracts.Candle, error) {
	out, err := p.cb.Execute(func() (any, error) {
		return p.inner.GetCandles(ctx, symbol, interval, limit)
	})
	if err != nil {
		return nil, unwrapBreakerErr(err)
	}
	return out.([]contracts.Candle), nil
}

func (p *circuitBreakerProvider) GetTicker24h(ctx context.Context, symbol string) (contracts.Ticker24h, error) {
	out, err := p.cb.Execute(func() (any, error) {
		return p.inner.GetTicker24h(ctx, symbol)
	})
	if err != nil {
		return contracts.Ticker24h{}, unwrapBreakerErr(err)
	}
	return out.(contracts.Ticker24h), nil
}

// unwrapBreakerErr turns gobreaker's own open-circuit sentinel into a
// ProviderUnhealthy, and passes every other error (the inner call's own
// typed *EngineError) through unchanged.
func unwrapBreakerErr(err error) error {
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return contracts.NewProviderUnhealthy("circuit breaker open: " + err.Error())
	}
	return err
}
