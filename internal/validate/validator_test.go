package validate

import (
	"math"
	"testing"
	"time"

	"barn/internal/align"
	"barn/internal/calendar"
	"barn/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coarseSeries(t *testing.T, closes []float64) Series {
	t.Helper()
	cal := calendar.NewAlwaysOpen("24/7")
	start, err := calendar.ParseSessionDate("2025-03-01")
	require.NoError(t, err)
	bars := make([]align.SessionBar, len(closes))
	for i, c := range closes {
		bars[i] = align.SessionBar{
			Session: start + int64(i)*calendar.DayMillis,
			Bar:     align.Bar{Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10},
		}
	}
	return Series{
		Symbol:    "BTCUSDT",
		Calendar:  cal,
		Timeframe: market.TimeframeSession,
		First:     start,
		Last:      start + int64(len(closes)-1)*calendar.DayMillis,
		Coarse:    bars,
	}
}

func fixedClock(date string) func() time.Time {
	return func() time.Time {
		t, _ := time.Parse("2006-01-02", date)
		return t
	}
}

func TestRunCleanSeriesPasses(t *testing.T) {
	s := coarseSeries(t, []float64{100, 101, 102, 101})
	report := Run(s, Config{now: fixedClock("2025-04-01")})
	assert.True(t, report.Passed(), report.Summary())
	assert.Empty(t, report.Entries)
}

func TestOHLCConsistencyViolation(t *testing.T) {
	s := coarseSeries(t, []float64{100, 101})
	s.Coarse[1].Low = 200 // low > high

	report := Run(s, Config{now: fixedClock("2025-04-01")})
	assert.False(t, report.Passed())
	require.Len(t, report.Failures(), 1)
	entry := report.Failures()[0]
	assert.Equal(t, "ohlc_consistency", entry.Check)
	assert.Contains(t, entry.Details["samples"], "2025-03-02")
}

func TestRequiredFieldsRejectsNaN(t *testing.T) {
	s := coarseSeries(t, []float64{100, 101})
	s.Coarse[0].Volume = math.NaN()
	report := Run(s, Config{now: fixedClock("2025-04-01")})
	assert.False(t, report.Passed())
}

func TestNullRatioCountsAnyBadField(t *testing.T) {
	s := coarseSeries(t, []float64{100, 101, 102, 103})
	s.Coarse[0].Open = math.NaN() // Close 正常，仍应计入空值行
	s.Coarse[1].High = math.Inf(1)

	report := Run(s, Config{Checks: []string{"no_nulls"}, NullRatioMax: 0.25})
	assert.False(t, report.Passed())
	require.Len(t, report.Failures(), 1)
	entry := report.Failures()[0]
	assert.Equal(t, "no_nulls", entry.Check)
	assert.Equal(t, 2, entry.Details["nulls"])
}

func TestFutureTimestampsRejected(t *testing.T) {
	s := coarseSeries(t, []float64{100, 101, 102})
	report := Run(s, Config{now: fixedClock("2025-03-02")})
	assert.False(t, report.Passed())

	found := false
	for _, e := range report.Entries {
		if e.Check == "no_future_timestamps" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSortedIndexAndDuplicates(t *testing.T) {
	s := coarseSeries(t, []float64{100, 101, 102})
	s.Coarse[2].Session = s.Coarse[1].Session // 重复且乱序

	report := Run(s, Config{Checks: []string{"no_duplicate_keys", "sorted_index"}})
	assert.False(t, report.Passed())
	assert.Len(t, report.Entries, 2)
}

func TestPriceJumpStrictModeBlocks(t *testing.T) {
	s := coarseSeries(t, []float64{100, 200, 201}) // +100% 跳变

	// 非严格：warning 记录在案但放行。
	report := Run(s, Config{PriceJumpMaxPct: 50, now: fixedClock("2025-04-01")})
	assert.True(t, report.Passed())
	require.Len(t, report.Entries, 1)
	assert.Equal(t, "price_jump", report.Entries[0].Check)
	assert.Equal(t, SeverityWarning, report.Entries[0].Severity)

	// 严格：同一 warning 阻断写入。
	report = Run(s, Config{PriceJumpMaxPct: 50, Strict: true, now: fixedClock("2025-04-01")})
	assert.False(t, report.Passed())
}

func TestZeroVolumeRatioWarning(t *testing.T) {
	s := coarseSeries(t, []float64{100, 101, 102, 103})
	for i := range s.Coarse[:3] {
		s.Coarse[i].Volume = 0
	}
	report := Run(s, Config{ZeroVolumeRatioMax: 0.5, now: fixedClock("2025-04-01")})
	assert.True(t, report.Passed())
	require.Len(t, report.Entries, 1)
	assert.Equal(t, "zero_volume_ratio", report.Entries[0].Check)
}

func TestCoverageAndSufficiency(t *testing.T) {
	s := coarseSeries(t, []float64{100, 101})
	s.Last = s.First + 9*calendar.DayMillis // 期望 10 行，仅有 2 行

	report := Run(s, Config{Checks: []string{"coverage", "sufficiency"}, MinRows: 5, CoverageMin: 0.9})
	assert.False(t, report.Passed())
	assert.Len(t, report.Entries, 2)
}

func TestStalenessOnlyWhenConfigured(t *testing.T) {
	s := coarseSeries(t, []float64{100})
	report := Run(s, Config{now: fixedClock("2026-01-01")})
	for _, e := range report.Entries {
		assert.NotEqual(t, "staleness", e.Check, "未配置阈值不运行 staleness")
	}

	report = Run(s, Config{StalenessMax: 24 * time.Hour, now: fixedClock("2026-01-01")})
	found := false
	for _, e := range report.Entries {
		if e.Check == "staleness" {
			found = true
			assert.Equal(t, SeverityWarning, e.Severity)
		}
	}
	assert.True(t, found)
}
