// Package strategy implements the correlation-crack pattern: fan-out
// fetch across a small correlated group, a per-asset reference level,
// directional cross detection against a recent lookback, and a
// confidence-scored Signal when exactly one asset has broken its level
// while the rest are holding theirs.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"correlation-crack/internal/contracts"
	"correlation-crack/internal/cross"
	"correlation-crack/internal/indicator"
	"correlation-crack/internal/provider"
)

// Confidence formula coefficients (§4.9). Left as named constants rather
// than config knobs: they're algorithm tuning, not operator-facing
// behavior, per the spec's open-question note on the magic numbers.
const (
	baseConfidence    = 0.5
	perHeldAssetBonus = 0.1
	distanceWeight    = 2.0
	maxDistanceBonus  = 0.3
)

// Config is one correlation-crack strategy run's configuration.
type Config struct {
	PrimaryAssets          []string
	Period                 contracts.PeriodSpec
	Direction              contracts.Direction
	UseBodyHighLow         bool
	Timezone               string
	MinCorrelatedAssets    int
	MarketDataInterval     contracts.Interval
	CandlesLimit           int
	CrossDetectionLookback int
}

// withDefaults fills zero-valued tunables with the spec defaults,
// mirroring the teacher's config-struct constructor idiom.
func (c Config) withDefaults() Config {
	if c.MinCorrelatedAssets <= 0 {
		c.MinCorrelatedAssets = 1
	}
	if c.MarketDataInterval == "" {
		c.MarketDataInterval = contracts.Interval5m
	}
	if c.CandlesLimit <= 0 {
		c.CandlesLimit = 100
	}
	if c.CrossDetectionLookback <= 0 {
		c.CrossDetectionLookback = 10
	}
	return c
}

// Validate enforces §4.9's configuration rules.
func (c Config) Validate() error {
	if len(c.PrimaryAssets) < 2 || len(c.PrimaryAssets) > 4 {
		return contracts.NewInvalidConfig("primaryAssets must contain between 2 and 4 symbols")
	}
	if c.Direction != contracts.CrossOver && c.Direction != contracts.CrossUnder {
		return contracts.NewInvalidConfig("direction must be CROSS_OVER or CROSS_UNDER")
	}
	if c.Period.Kind == contracts.PeriodSession {
		if err := validateSessionBounds(c.Period.Session); err != nil {
			return err
		}
	}
	return nil
}

func validateSessionBounds(s contracts.SessionSpec) error {
	if s.StartHour < 0 || s.StartHour > 23 || s.EndHour < 0 || s.EndHour > 23 {
		return contracts.NewInvalidConfig("session hours must be within [0,23]")
	}
	if s.StartMinute < 0 || s.StartMinute > 59 || s.EndMinute < 0 || s.EndMinute > 59 {
		return contracts.NewInvalidConfig("session minutes must be within [0,59]")
	}
	return nil
}

// Engine orchestrates one correlation-crack strategy run against a single
// Provider. A new Engine is cheap to construct; all shared throttling
// state (rate limiter, cache, retry) lives inside the Provider it wraps.
type Engine struct {
	provider provider.Provider
	logger   zerolog.Logger
	onFetch  func(venue string, d time.Duration)
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithFetchObserver registers a callback invoked once per per-asset
// GetCandles call with the venue name and the call's wall-clock duration,
// intended for a hosting process to feed a latency histogram.
func WithFetchObserver(f func(venue string, d time.Duration)) Option {
	return func(e *Engine) { e.onFetch = f }
}

// New constructs an Engine over the given data provider.
func New(p provider.Provider, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{provider: p, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// assetFetch is the per-asset result of the fan-out fetch-and-compute
// stage, carried forward into the decision stage.
type assetFetch struct {
	symbol         string
	candles        []contracts.Candle
	highLow        *contracts.HighLowResult
	referenceLevel float64
}

// Run executes the full state machine: Validating, Fetching, Computing,
// Detecting, Deciding, then Signalling or Quiet. Any failure along the way
// returns a result with Success=false and never a partial signal.
func (e *Engine) Run(ctx context.Context, cfg Config) contracts.StrategyResult {
	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return contracts.StrategyResult{Success: false, Error: "Invalid configuration"}
	}

	fetches, err := e.fetchAndCompute(ctx, cfg)
	if err != nil {
		return contracts.StrategyResult{Success: false, Error: err.Error()}
	}

	conditions, references := e.detect(fetches, cfg)

	crossed, held := partition(conditions)

	result := contracts.StrategyResult{
		Success:    true,
		Conditions: conditions,
		References: references,
	}

	if len(crossed) == 1 && len(held) >= cfg.MinCorrelatedAssets {
		trigger := crossed[0]
		result.Signal = &contracts.Signal{
			ID:                 uuid.NewString(),
			TriggerAsset:       trigger.Symbol,
			Direction:          cfg.Direction,
			CorrelatedAssets:   symbolsOf(held),
			ReferenceLevel:     trigger.ReferenceLevel,
			Confidence:         confidence(held),
			Timestamp:          time.Now(),
			PerAssetConditions: conditions,
		}
	}

	return result
}

// fetchAndCompute fans the per-asset fetch + reference-level computation
// out concurrently via errgroup, so the first fetch or indicator failure
// cancels the rest of the group rather than waiting for every asset to
// finish (§4.9 steps 2-4, §5).
func (e *Engine) fetchAndCompute(ctx context.Context, cfg Config) ([]assetFetch, error) {
	results := make([]assetFetch, len(cfg.PrimaryAssets))

	g, gctx := errgroup.WithContext(ctx)
	for i, symbol := range cfg.PrimaryAssets {
		i, symbol := i, symbol
		g.Go(func() error {
			start := time.Now()
			candles, err := e.provider.GetCandles(gctx, symbol, cfg.MarketDataInterval, cfg.CandlesLimit)
			if e.onFetch != nil {
				e.onFetch(e.provider.Name(), time.Since(start))
			}
			if err != nil {
				return contracts.NewFetchFailure(symbol, err)
			}
			if len(candles) == 0 {
				return contracts.NewFetchFailure(symbol, fmt.Errorf("no candles returned"))
			}

			hl, err := indicator.Calculate(candles, indicator.Options{
				Symbol:         symbol,
				Period:         cfg.Period,
				UseBodyHighLow: cfg.UseBodyHighLow,
				Timezone:       cfg.Timezone,
			})
			if err != nil {
				return contracts.NewReferenceFailure(symbol, err)
			}

			referenceLevel := hl.Low
			if cfg.Direction == contracts.CrossUnder {
				referenceLevel = hl.High
			}

			results[i] = assetFetch{
				symbol:         symbol,
				candles:        candles,
				highLow:        hl,
				referenceLevel: referenceLevel,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// detect runs the cross detector over each asset's candles against its
// own reference level, producing the per-asset conditions and the
// reference-level map returned to the caller.
func (e *Engine) detect(fetches []assetFetch, cfg Config) ([]contracts.AssetCondition, map[string]float64) {
	conditions := make([]contracts.AssetCondition, len(fetches))
	references := make(map[string]float64, len(fetches))

	for i, f := range fetches {
		references[f.symbol] = f.referenceLevel
		currentPrice := f.candles[len(f.candles)-1].Close

		result := cross.Detect(f.candles, f.referenceLevel, cfg.Direction, cfg.CrossDetectionLookback)

		cond := contracts.AssetCondition{
			Symbol:         f.symbol,
			HasCrossed:     result.HasCrossed,
			CurrentPrice:   currentPrice,
			ReferenceLevel: f.referenceLevel,
			CrossTime:      result.CrossTime,
		}
		if result.HasCrossed {
			cond.CrossDirection = contracts.CrossDirection(cfg.Direction)
		}
		conditions[i] = cond
	}

	return conditions, references
}

func partition(conditions []contracts.AssetCondition) (crossed, held []contracts.AssetCondition) {
	for _, c := range conditions {
		if c.HasCrossed {
			crossed = append(crossed, c)
		} else {
			held = append(held, c)
		}
	}
	return crossed, held
}

func symbolsOf(conditions []contracts.AssetCondition) []string {
	out := make([]string, len(conditions))
	for i, c := range conditions {
		out[i] = c.Symbol
	}
	return out
}

// confidence implements §4.9's scoring formula:
//
//	c = base + (|held|-1)*perHeldAssetBonus + min(avgDistance*distanceWeight, maxDistanceBonus)
//
// clamped to [0,1].
func confidence(held []contracts.AssetCondition) float64 {
	if len(held) == 0 {
		return 0
	}

	var distanceSum float64
	for _, c := range held {
		if c.ReferenceLevel != 0 {
			d := c.CurrentPrice - c.ReferenceLevel
			if d < 0 {
				d = -d
			}
			distanceSum += d / c.ReferenceLevel
		}
	}
	avgDistance := distanceSum / float64(len(held))

	distanceBonus := avgDistance * distanceWeight
	if distanceBonus > maxDistanceBonus {
		distanceBonus = maxDistanceBonus
	}

	c := baseConfidence + float64(len(held)-1)*perHeldAssetBonus + distanceBonus
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
