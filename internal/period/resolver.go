// Package period maps a PeriodSpec to a candle filter and to the
// recommended fetch parameters consumed by the strategy layer.
package period

import (
	"math"
	"time"

	"correlation-crack/internal/contracts"
	"correlation-crack/internal/timeutil"
)

// EffectiveZone resolves the timezone precedence: explicit period
// timezone, then explicit config timezone, then America/New_York.
func EffectiveZone(period contracts.PeriodSpec, configTimezone string) string {
	if period.Timezone != "" {
		return period.Timezone
	}
	if configTimezone != "" {
		return configTimezone
	}
	return "America/New_York"
}

// Filter applies a PeriodSpec's selection rule over candles, returning the
// matching subsequence in ascending order.
func Filter(candles []contracts.Candle, spec contracts.PeriodSpec, configTimezone string) []contracts.Candle {
	zone := EffectiveZone(spec, configTimezone)

	switch spec.Kind {
	case contracts.PeriodCalendar:
		return filterCalendar(candles, spec.Calendar, zone)
	case contracts.PeriodStandardInterval:
		return timeutil.RecentSlice(candles, 100)
	case contracts.PeriodCustom:
		return filterRange(candles, spec.CustomStart, spec.CustomEnd)
	case contracts.PeriodRolling:
		return timeutil.RecentSlice(candles, spec.RollingPeriods)
	case contracts.PeriodSession:
		var out []contracts.Candle
		for _, c := range candles {
			if timeutil.IsWithinSession(c.OpenTime, spec.Session, zone) {
				out = append(out, c)
			}
		}
		return out
	default:
		return nil
	}
}

func filterRange(candles []contracts.Candle, start, end time.Time) []contracts.Candle {
	var out []contracts.Candle
	for _, c := range candles {
		if !c.OpenTime.Before(start) && !c.OpenTime.After(end) {
			out = append(out, c)
		}
	}
	return out
}

func filterCalendar(candles []contracts.Candle, calendar contracts.CalendarPeriod, zone string) []contracts.Candle {
	start, end, hasEnd := calendarBounds(calendar, zone)
	var out []contracts.Candle
	for _, c := range candles {
		local := timeutil.ConvertToZone(c.OpenTime, zone)
		if local.Before(start) {
			continue
		}
		if hasEnd && local.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// calendarBounds computes [start, end], both inclusive (end is the last
// millisecond of the period), in the given zone's wall-clock,
// relative to "now" converted to that zone. hasEnd is false for the
// current-period variants, which have no upper bound.
func calendarBounds(calendar contracts.CalendarPeriod, zone string) (start, end time.Time, hasEnd bool) {
	now := timeutil.ConvertToZone(time.Now(), zone)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch calendar {
	case contracts.PrevDay:
		start = dayStart.AddDate(0, 0, -1)
		end = dayStart.Add(-time.Millisecond)
		return start, end, true

	case contracts.PrevWeek:
		offset := (int(now.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
		currentMonday := dayStart.AddDate(0, 0, -offset)
		start = currentMonday.AddDate(0, 0, -7)
		end = currentMonday.Add(-time.Millisecond)
		return start, end, true

	case contracts.PrevMonth:
		firstOfThisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		firstOfLastMonth := firstOfThisMonth.AddDate(0, -1, 0)
		start = firstOfLastMonth
		end = firstOfThisMonth.Add(-time.Millisecond)
		return start, end, true

	case contracts.CurrentDay:
		return dayStart, time.Time{}, false

	case contracts.CurrentWeek:
		offset := (int(now.Weekday()) + 6) % 7
		return dayStart.AddDate(0, 0, -offset), time.Time{}, false

	case contracts.CurrentMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), time.Time{}, false

	default:
		return dayStart, time.Time{}, false
	}
}

// FetchParams is the recommended (interval, limit) pair for a PeriodSpec,
// consumed by the strategy layer when deciding how to call GetCandles.
type FetchParams struct {
	Interval contracts.Interval
	Limit    int
}

// RecommendedFetchParams maps a PeriodSpec to its recommended fetch
// parameters: day -> 1h x 48, week -> 4h x 84, month -> 1d x 62,
// rolling -> its own interval x periods, custom -> 1h x ceil(duration/1h)
// capped at 1000, otherwise 1h x 100.
func RecommendedFetchParams(spec contracts.PeriodSpec) FetchParams {
	switch spec.Kind {
	case contracts.PeriodCalendar:
		switch spec.Calendar {
		case contracts.PrevWeek, contracts.CurrentWeek:
			return FetchParams{Interval: contracts.Interval4h, Limit: 84}
		case contracts.PrevMonth, contracts.CurrentMonth:
			return FetchParams{Interval: contracts.Interval1d, Limit: 62}
		default: // day variants
			return FetchParams{Interval: contracts.Interval1h, Limit: 48}
		}
	case contracts.PeriodRolling:
		return FetchParams{Interval: spec.RollingInterval, Limit: spec.RollingPeriods}
	case contracts.PeriodCustom:
		hours := math.Ceil(spec.CustomEnd.Sub(spec.CustomStart).Hours())
		limit := int(hours)
		if limit > 1000 {
			limit = 1000
		}
		if limit < 1 {
			limit = 1
		}
		return FetchParams{Interval: contracts.Interval1h, Limit: limit}
	default:
		return FetchParams{Interval: contracts.Interval1h, Limit: 100}
	}
}
