// Package indicator computes per-asset high/low reference levels over a
// resolved period, with an optional wick/body toggle.
package indicator

import (
	"time"

	"correlation-crack/internal/contracts"
	"correlation-crack/internal/period"
)

// Options configures a single Calculate call.
type Options struct {
	Symbol         string
	Period         contracts.PeriodSpec
	UseBodyHighLow bool
	Timezone       string
}

type enrichedCandle struct {
	candle   contracts.Candle
	bodyHigh float64
	bodyLow  float64
}

// Calculate runs the indicator's six-step algorithm: validate, filter,
// enrich, scan for the extremum, and serialize the result.
func Calculate(candles []contracts.Candle, opts Options) (*contracts.HighLowResult, error) {
	if len(candles) == 0 {
		return nil, contracts.NewInvalidCandleData(opts.Symbol, "empty candle sequence")
	}
	for _, c := range candles {
		if err := validateCandle(c); err != nil {
			return nil, contracts.NewInvalidCandleData(opts.Symbol, err.Error())
		}
	}

	filtered := period.Filter(candles, opts.Period, opts.Timezone)
	if len(filtered) == 0 {
		return nil, contracts.NewEmptyPeriod(opts.Symbol)
	}

	enriched := make([]enrichedCandle, len(filtered))
	for i, c := range filtered {
		enriched[i] = enrichedCandle{
			candle:   c,
			bodyHigh: max(c.Open, c.Close),
			bodyLow:  min(c.Open, c.Close),
		}
	}

	var (
		highest, lowest         float64
		highTime, lowTime       time.Time
		initialized             bool
	)

	for _, e := range enriched {
		var hi, lo float64
		if opts.UseBodyHighLow {
			hi, lo = e.bodyHigh, e.bodyLow
		} else {
			hi, lo = e.candle.High, e.candle.Low
		}

		if !initialized {
			highest, lowest = hi, lo
			highTime, lowTime = e.candle.OpenTime, e.candle.OpenTime
			initialized = true
			continue
		}
		// Ties resolve to the first occurrence: strict > / < only.
		if hi > highest {
			highest = hi
			highTime = e.candle.OpenTime
		}
		if lo < lowest {
			lowest = lo
			lowTime = e.candle.OpenTime
		}
	}

	rangeVal := highest - lowest
	var rangePercent float64
	if lowest > 0 {
		rangePercent = (rangeVal / lowest) * 100
	}

	return &contracts.HighLowResult{
		Symbol:           opts.Symbol,
		IntervalDetected: detectInterval(filtered),
		Period:           opts.Period,
		High:             highest,
		Low:              lowest,
		HighTime:         highTime,
		LowTime:          lowTime,
		Range:            rangeVal,
		RangePercent:     rangePercent,
		CalculatedAt:     time.Now(),
	}, nil
}

func validateCandle(c contracts.Candle) error {
	bodyHigh := max(c.Open, c.Close)
	bodyLow := min(c.Open, c.Close)
	if !(c.Low <= bodyLow && bodyLow <= bodyHigh && bodyHigh <= c.High) {
		return errInvalidCandle
	}
	if !c.OpenTime.Before(c.CloseTime) {
		return errInvalidCandle
	}
	return nil
}

var errInvalidCandle = candleError{}

type candleError struct{}

func (candleError) Error() string { return "candle violates high/low/open/close invariants" }

// detectInterval inspects the gap between the first two candles and maps
// it to the nearest known interval label, or "unknown" if there is no
// pair to compare.
func detectInterval(candles []contracts.Candle) contracts.Interval {
	if len(candles) < 2 {
		return "unknown"
	}
	gap := candles[1].OpenTime.Sub(candles[0].OpenTime)

	best := contracts.Interval("unknown")
	var bestDiff time.Duration = -1
	for _, iv := range []contracts.Interval{
		contracts.Interval1m, contracts.Interval3m, contracts.Interval5m,
		contracts.Interval15m, contracts.Interval30m, contracts.Interval1h,
		contracts.Interval2h, contracts.Interval4h, contracts.Interval6h,
		contracts.Interval8h, contracts.Interval12h, contracts.Interval1d,
		contracts.Interval3d, contracts.Interval1w, contracts.Interval1M,
	} {
		diff := gap - iv.Duration()
		if diff < 0 {
			diff = -diff
		}
		if bestDiff == -1 || diff < bestDiff {
			bestDiff = diff
			best = iv
		}
	}
	return best
}
