// Package provider defines the uniform market-data provider contract and
// its reference adapters.
package provider

import (
	"context"

	"correlation-crack/internal/contracts"
)

// Provider is the polymorphic surface every venue adapter implements.
type Provider interface {
	// Name returns a string identifier for the venue.
	Name() string

	// Initialize opens sessions, loads symbol metadata, and verifies
	// connectivity. Adapters may also call it lazily from other methods.
	Initialize(ctx context.Context) error

	// Disconnect releases sessions, sockets, and tokens.
	Disconnect(ctx context.Context) error

	// IsHealthy is a cheap liveness check; false if not yet initialized.
	IsHealthy() bool

	GetMarketSnapshot(ctx context.Context, symbol string) (contracts.MarketSnapshot, error)

	// GetCandles returns an ascending sequence of at most limit candles.
	GetCandles(ctx context.Context, symbol string, interval contracts.Interval, limit int) ([]contracts.Candle, error)

	GetTicker24h(ctx context.Context, symbol string) (contracts.Ticker24h, error)
}
