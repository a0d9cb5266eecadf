// Package timeutil provides interval parsing, interval-aligned
// timestamps, timezone conversion, and session membership tests.
//
// Timezone conversion uses a static offset table for the zones the
// engine supports out of the box (UTC, America/New_York, Europe/London,
// Asia/Tokyo). DST is not modeled: the table holds a fixed offset per
// zone and does not shift across transitions. Production deployments
// spanning DST boundaries should substitute a real tz database; see
// DESIGN.md for the decision record.
package timeutil

import (
	"time"

	"correlation-crack/internal/contracts"
)

// zoneOffsets gives a fixed UTC offset per supported zone name.
var zoneOffsets = map[string]time.Duration{
	"UTC":               0,
	"America/New_York":  -5 * time.Hour,
	"Europe/London":     0,
	"Asia/Tokyo":        9 * time.Hour,
}

// IntervalMillis returns the canonical duration for an interval string,
// defaulting to one minute if the string is unrecognized.
func IntervalMillis(interval string) time.Duration {
	return contracts.Interval(interval).Duration()
}

// FloorToInterval truncates ts down to the most recent interval boundary,
// counted from Go's zero time (January 1, year 1, UTC) via time.Truncate.
// For intervals that divide a day evenly this coincides with alignment to
// the Unix epoch; 3d, 1w and 1M boundaries do not.
func FloorToInterval(ts time.Time, interval contracts.Interval) time.Time {
	d := interval.Duration()
	if d <= 0 {
		return ts
	}
	floored := ts.Truncate(d)
	return floored
}

// CeilToIntervalEnd returns the close-of-bar instant for the interval
// starting at FloorToInterval(ts, interval): start + interval - 1ms.
func CeilToIntervalEnd(ts time.Time, interval contracts.Interval) time.Time {
	start := FloorToInterval(ts, interval)
	return start.Add(interval.Duration() - time.Millisecond)
}

// ConvertToZone translates ts to the wall-clock of the named zone using
// the static offset table. Unknown zone names fall back to UTC.
func ConvertToZone(ts time.Time, zone string) time.Time {
	offset, ok := zoneOffsets[zone]
	if !ok {
		offset = 0
	}
	return ts.UTC().Add(offset)
}

// IsWithinSession reports whether ts, converted to the session's
// timezone (or defaultZone if the session doesn't specify one), falls
// within the session's minute-of-day window. Sessions with
// startMinutes > endMinutes wrap around midnight.
func IsWithinSession(ts time.Time, session contracts.SessionSpec, defaultZone string) bool {
	zone := session.Timezone
	if zone == "" {
		zone = defaultZone
	}
	local := ConvertToZone(ts, zone)

	currentMinutes := local.Hour()*60 + local.Minute()
	startMinutes := session.StartHour*60 + session.StartMinute
	endMinutes := session.EndHour*60 + session.EndMinute

	if startMinutes <= endMinutes {
		return currentMinutes >= startMinutes && currentMinutes <= endMinutes
	}
	// Wraps midnight: union of [start, 1440) and [0, end].
	return currentMinutes >= startMinutes || currentMinutes <= endMinutes
}

// RecentSlice returns the last n elements of seq, preserving order, or
// the whole slice if it has fewer than n elements.
func RecentSlice(seq []contracts.Candle, n int) []contracts.Candle {
	if n <= 0 || len(seq) <= n {
		return seq
	}
	return seq[len(seq)-n:]
}

// ValidateSessionSpec checks hour/minute ranges: hours in [0,23],
// minutes in [0,59].
func ValidateSessionSpec(s contracts.SessionSpec) error {
	if s.StartHour < 0 || s.StartHour > 23 {
		return contracts.NewInvalidConfig("session startHour out of range")
	}
	if s.EndHour < 0 || s.EndHour > 23 {
		return contracts.NewInvalidConfig("session endHour out of range")
	}
	if s.StartMinute < 0 || s.StartMinute > 59 {
		return contracts.NewInvalidConfig("session startMinute out of range")
	}
	if s.EndMinute < 0 || s.EndMinute > 59 {
		return contracts.NewInvalidConfig("session endMinute out of range")
	}
	return nil
}
