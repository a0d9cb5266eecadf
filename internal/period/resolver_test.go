package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"correlation-crack/internal/contracts"
)

func hourlyCandle(t time.Time, closeVal float64) contracts.Candle {
	return contracts.Candle{
		Symbol:    "EURUSD",
		OpenTime:  t,
		CloseTime: t.Add(time.Hour - time.Millisecond),
		Open:      closeVal,
		High:      closeVal,
		Low:       closeVal,
		Close:     closeVal,
	}
}

func TestEffectiveZone_Precedence(t *testing.T) {
	assert.Equal(t, "Europe/London", EffectiveZone(contracts.PeriodSpec{Timezone: "Europe/London"}, "Asia/Tokyo"))
	assert.Equal(t, "Asia/Tokyo", EffectiveZone(contracts.PeriodSpec{}, "Asia/Tokyo"))
	assert.Equal(t, "America/New_York", EffectiveZone(contracts.PeriodSpec{}, ""))
}

func TestFilter_Rolling(t *testing.T) {
	var candles []contracts.Candle
	base := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		candles = append(candles, hourlyCandle(base.Add(time.Duration(i)*time.Hour), 100+float64(i)))
	}

	spec := contracts.PeriodSpec{Kind: contracts.PeriodRolling, RollingPeriods: 3, RollingInterval: contracts.Interval1h}
	filtered := Filter(candles, spec, "UTC")

	require.Len(t, filtered, 3)
	assert.Equal(t, 107.0, filtered[0].Close)
	assert.Equal(t, 109.0, filtered[2].Close)
}

func TestFilter_Custom(t *testing.T) {
	base := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	var candles []contracts.Candle
	for i := 0; i < 5; i++ {
		candles = append(candles, hourlyCandle(base.Add(time.Duration(i)*time.Hour), float64(i)))
	}

	spec := contracts.PeriodSpec{
		Kind:        contracts.PeriodCustom,
		CustomStart: base.Add(time.Hour),
		CustomEnd:   base.Add(3 * time.Hour),
	}
	filtered := Filter(candles, spec, "UTC")
	require.Len(t, filtered, 3)
}

func TestFilter_Session(t *testing.T) {
	base := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	var candles []contracts.Candle
	for h := 0; h < 24; h++ {
		candles = append(candles, hourlyCandle(base.Add(time.Duration(h)*time.Hour), float64(h)))
	}

	spec := contracts.PeriodSpec{
		Kind:    contracts.PeriodSession,
		Session: contracts.SessionSpec{StartHour: 9, EndHour: 17, Timezone: "UTC"},
	}
	filtered := Filter(candles, spec, "UTC")
	for _, c := range filtered {
		h := c.OpenTime.Hour()
		assert.True(t, h >= 9 && h <= 17)
	}
	assert.NotEmpty(t, filtered)
}

func TestFilter_IsIdempotent(t *testing.T) {
	base := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	var candles []contracts.Candle
	for i := 0; i < 6; i++ {
		candles = append(candles, hourlyCandle(base.Add(time.Duration(i)*time.Hour), float64(i)))
	}
	spec := contracts.PeriodSpec{Kind: contracts.PeriodRolling, RollingPeriods: 4, RollingInterval: contracts.Interval1h}

	once := Filter(candles, spec, "UTC")
	twice := Filter(once, spec, "UTC")
	assert.Equal(t, once, twice)
}

func TestRecommendedFetchParams(t *testing.T) {
	day := RecommendedFetchParams(contracts.PeriodSpec{Kind: contracts.PeriodCalendar, Calendar: contracts.PrevDay})
	assert.Equal(t, contracts.Interval1h, day.Interval)
	assert.Equal(t, 48, day.Limit)

	week := RecommendedFetchParams(contracts.PeriodSpec{Kind: contracts.PeriodCalendar, Calendar: contracts.PrevWeek})
	assert.Equal(t, 84, week.Limit)

	month := RecommendedFetchParams(contracts.PeriodSpec{Kind: contracts.PeriodCalendar, Calendar: contracts.PrevMonth})
	assert.Equal(t, 62, month.Limit)

	rolling := RecommendedFetchParams(contracts.PeriodSpec{Kind: contracts.PeriodRolling, RollingPeriods: 3, RollingInterval: contracts.Interval4h})
	assert.Equal(t, contracts.Interval4h, rolling.Interval)
	assert.Equal(t, 3, rolling.Limit)

	custom := RecommendedFetchParams(contracts.PeriodSpec{
		Kind:        contracts.PeriodCustom,
		CustomStart: time.Unix(0, 0),
		CustomEnd:   time.Unix(0, 0).Add(2000 * time.Hour),
	})
	assert.Equal(t, 1000, custom.Limit) // capped
}
