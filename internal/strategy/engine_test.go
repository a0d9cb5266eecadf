package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"correlation-crack/internal/contracts"
)

// fakeProvider returns a prebuilt candle series per symbol, or an error
// for symbols registered via failSymbols.
type fakeProvider struct {
	series      map[string][]contracts.Candle
	failSymbols map[string]error
}

func (f *fakeProvider) Name() string                                 { return "fake" }
func (f *fakeProvider) Initialize(ctx context.Context) error          { return nil }
func (f *fakeProvider) Disconnect(ctx context.Context) error          { return nil }
func (f *fakeProvider) IsHealthy() bool                               { return true }
func (f *fakeProvider) GetTicker24h(ctx context.Context, symbol string) (contracts.Ticker24h, error) {
	return contracts.Ticker24h{}, nil
}
func (f *fakeProvider) GetMarketSnapshot(ctx context.Context, symbol string) (contracts.MarketSnapshot, error) {
	return contracts.MarketSnapshot{}, nil
}
func (f *fakeProvider) GetCandles(ctx context.Context, symbol string, interval contracts.Interval, limit int) ([]contracts.Candle, error) {
	if err, ok := f.failSymbols[symbol]; ok {
		return nil, err
	}
	return f.series[symbol], nil
}

func hourly(base time.Time, closes []float64) []contracts.Candle {
	out := make([]contracts.Candle, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		hi, lo := open, open
		if c > hi {
			hi = c
		}
		if c < lo {
			lo = c
		}
		out[i] = contracts.Candle{
			Symbol:    "X",
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			CloseTime: base.Add(time.Duration(i)*time.Hour + time.Hour - time.Millisecond),
			Open:      open, High: hi, Low: lo, Close: c,
		}
	}
	return out
}

func rollingPeriod(n int) contracts.PeriodSpec {
	return contracts.PeriodSpec{Kind: contracts.PeriodRolling, RollingPeriods: n, RollingInterval: contracts.Interval1h}
}

func customPeriod(start, end time.Time) contracts.PeriodSpec {
	return contracts.PeriodSpec{Kind: contracts.PeriodCustom, CustomStart: start, CustomEnd: end}
}

func baseConfig(assets []string) Config {
	return Config{
		PrimaryAssets:          assets,
		Period:                 rollingPeriod(100),
		Direction:              contracts.CrossUnder,
		MinCorrelatedAssets:    1,
		MarketDataInterval:     contracts.Interval5m,
		CandlesLimit:           100,
		CrossDetectionLookback: 10,
	}
}

func TestEngine_InvalidConfig_NoNetworkCalls(t *testing.T) {
	calls := 0
	p := &fakeProvider{series: map[string][]contracts.Candle{}}
	wrapped := &countingProvider{Provider: p, calls: &calls}

	e := New(wrapped, zerolog.Nop())
	result := e.Run(context.Background(), Config{PrimaryAssets: []string{"ONLYONE"}, Direction: contracts.CrossUnder})

	assert.False(t, result.Success)
	assert.Equal(t, "Invalid configuration", result.Error)
	assert.Equal(t, 0, calls)
}

// countingProvider counts GetCandles invocations to verify invalid
// configs never reach the network.
type countingProvider struct {
	Provider
	calls *int
}

func (c *countingProvider) GetCandles(ctx context.Context, symbol string, interval contracts.Interval, limit int) ([]contracts.Candle, error) {
	*c.calls++
	return c.Provider.GetCandles(ctx, symbol, interval, limit)
}

func TestEngine_CorrelationCrackFires(t *testing.T) {
	base := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)

	// The reference level is computed over a custom window covering only
	// the first three candles (HLS fixed early, per spec scenario 4); the
	// remaining candles feed the cross-detection lookback and the
	// "current price" read, so the held asset's current price can
	// legitimately diverge from a reference set earlier in the window.
	period := customPeriod(base, base.Add(2*time.Hour+30*time.Minute))
	const lookback = 3

	// Window high is 1.1050 (idx2); the last 3 candles dip from 1.1070 to
	// 1.1060 to 1.1030, crossing under 1.1050 between the last two.
	eur := hourly(base, []float64{1.1000, 1.1020, 1.1050, 1.1080, 1.1070, 1.1060, 1.1030})
	// Window high is 1.2800 (idx2); the last 3 candles hold at 1.2830,
	// 1.2810, 1.2820 — never dipping to or below 1.2800, but the current
	// price (1.2820) diverges from the 1.2800 reference set earlier.
	gbp := hourly(base, []float64{1.2700, 1.2750, 1.2800, 1.2900, 1.2830, 1.2810, 1.2820})

	p := &fakeProvider{series: map[string][]contracts.Candle{"EURUSD": eur, "GBPUSD": gbp}}
	e := New(p, zerolog.Nop())

	cfg := Config{
		PrimaryAssets:          []string{"EURUSD", "GBPUSD"},
		Period:                 period,
		Direction:              contracts.CrossUnder,
		MinCorrelatedAssets:    1,
		MarketDataInterval:     contracts.Interval5m,
		CandlesLimit:           100,
		CrossDetectionLookback: lookback,
	}
	result := e.Run(context.Background(), cfg)

	require.True(t, result.Success)
	require.NotNil(t, result.Signal)
	assert.Equal(t, "EURUSD", result.Signal.TriggerAsset)
	assert.Equal(t, []string{"GBPUSD"}, result.Signal.CorrelatedAssets)
	assert.Greater(t, result.Signal.Confidence, 0.5)
	assert.Len(t, result.Conditions, 2)
}

func TestEngine_CorrelationCrackSuppressedWhenBothCross(t *testing.T) {
	base := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	eur := hourly(base, []float64{1.1000, 1.1020, 1.1050, 1.1060, 1.1030})
	gbp := hourly(base, []float64{1.2700, 1.2750, 1.2800, 1.2850, 1.2750}) // also drops below 1.2800

	p := &fakeProvider{series: map[string][]contracts.Candle{"EURUSD": eur, "GBPUSD": gbp}}
	e := New(p, zerolog.Nop())

	result := e.Run(context.Background(), baseConfig([]string{"EURUSD", "GBPUSD"}))

	require.True(t, result.Success)
	assert.Nil(t, result.Signal)
}

func TestEngine_FetchObserverRecordsPerAssetDuration(t *testing.T) {
	base := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	eur := hourly(base, []float64{1.1000, 1.1020, 1.1050, 1.1060, 1.1030})
	gbp := hourly(base, []float64{1.2700, 1.2750, 1.2800, 1.2850, 1.2900})
	p := &fakeProvider{series: map[string][]contracts.Candle{"EURUSD": eur, "GBPUSD": gbp}}

	var mu sync.Mutex
	var venues []string
	e := New(p, zerolog.Nop(), WithFetchObserver(func(venue string, d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		venues = append(venues, venue)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}))

	result := e.Run(context.Background(), baseConfig([]string{"EURUSD", "GBPUSD"}))
	require.True(t, result.Success)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, venues, 2)
	assert.Equal(t, "fake", venues[0])
}

func TestEngine_FetchFailureAborts(t *testing.T) {
	p := &fakeProvider{
		series:      map[string][]contracts.Candle{"GBPUSD": hourly(time.Now(), []float64{1, 2, 3})},
		failSymbols: map[string]error{"EURUSD": errors.New("network down")},
	}
	e := New(p, zerolog.Nop())

	result := e.Run(context.Background(), baseConfig([]string{"EURUSD", "GBPUSD"}))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "EURUSD")
}

func TestEngine_ConditionsPartitionCoversAllAssets(t *testing.T) {
	base := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	eur := hourly(base, []float64{1.1000, 1.1020, 1.1050, 1.1060, 1.1030})
	gbp := hourly(base, []float64{1.2700, 1.2750, 1.2800, 1.2850, 1.2900})
	p := &fakeProvider{series: map[string][]contracts.Candle{"EURUSD": eur, "GBPUSD": gbp}}
	e := New(p, zerolog.Nop())

	result := e.Run(context.Background(), baseConfig([]string{"EURUSD", "GBPUSD"}))
	require.True(t, result.Success)
	assert.Len(t, result.Conditions, 2)

	seen := map[string]bool{}
	for _, c := range result.Conditions {
		seen[c.Symbol] = true
	}
	assert.True(t, seen["EURUSD"])
	assert.True(t, seen["GBPUSD"])
}

func TestConfidence_ClampedToUnitInterval(t *testing.T) {
	held := []contracts.AssetCondition{
		{Symbol: "A", CurrentPrice: 100, ReferenceLevel: 1},
		{Symbol: "B", CurrentPrice: 100, ReferenceLevel: 1},
		{Symbol: "C", CurrentPrice: 100, ReferenceLevel: 1},
	}
	c := confidence(held)
	assert.GreaterOrEqual(t, c, 0.0)
	assert.LessOrEqual(t, c, 1.0)
}

func TestConfidence_ZeroHeldAssets(t *testing.T) {
	assert.Equal(t, 0.0, confidence(nil))
}
