package align

import (
	"errors"
	"testing"
	"time"

	"barn/internal/calendar"
	"barn/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// coarseDays 构造覆盖给定日期的日线输入。
func coarseDays(t *testing.T, cal calendar.Calendar, closes map[string]float64) []SessionBar {
	t.Helper()
	var raw []market.Candle
	for date, close := range closes {
		raw = append(raw, candleAt(day(t, date)+60*1000, close))
	}
	bars, _ := AlignSessions("TEST", raw, cal)
	return bars
}

func TestFillSessionsThreeDayHoleWithinPolicy(t *testing.T) {
	cal := calendar.NewAlwaysOpen("24/7")
	pol := GapPolicy{MaxSessions: 3, MaxMinutes: 30}
	bars := coarseDays(t, cal, map[string]float64{
		"2025-03-01": 100,
		// 03-02 .. 03-04 缺失（3 天，等于上限）
		"2025-03-05": 110,
	})
	out, stats, err := FillSessions("BTCUSDT", bars, cal, day(t, "2025-03-01"), day(t, "2025-03-05"), pol)
	require.NoError(t, err)
	require.Len(t, out, 5)
	assert.Equal(t, 3, stats.Synthesized)

	for _, b := range out[1:4] {
		assert.True(t, b.Synthetic)
		assert.Equal(t, 0.0, b.Volume)
		// 前向填充自最近一根真实 bar 的收盘价
		assert.Equal(t, 100.0, b.Open)
		assert.Equal(t, 100.0, b.High)
		assert.Equal(t, 100.0, b.Low)
		assert.Equal(t, 100.0, b.Close)
	}
	assert.False(t, out[0].Synthetic)
	assert.False(t, out[4].Synthetic)
}

func TestFillSessionsFourDayHoleRejected(t *testing.T) {
	cal := calendar.NewAlwaysOpen("24/7")
	pol := GapPolicy{MaxSessions: 3, MaxMinutes: 30}
	bars := coarseDays(t, cal, map[string]float64{
		"2025-03-01": 100,
		"2025-03-06": 110, // 03-02..03-05 缺失（4 天，超限）
	})
	_, _, err := FillSessions("BTCUSDT", bars, cal, day(t, "2025-03-01"), day(t, "2025-03-06"), pol)
	require.Error(t, err)

	var viol *PolicyViolationError
	require.True(t, errors.As(err, &viol))
	require.Len(t, viol.Runs, 1)
	assert.Equal(t, "max_gap", viol.Runs[0].Reason)
	assert.Equal(t, 4, viol.Runs[0].Count)
	assert.Equal(t, day(t, "2025-03-02"), viol.Runs[0].From.Session)
	assert.Equal(t, day(t, "2025-03-05"), viol.Runs[0].To.Session)
	assert.Contains(t, err.Error(), "2025-03-02")
}

func TestFillSessionsLeadingGapAlwaysRejected(t *testing.T) {
	cal := calendar.NewAlwaysOpen("24/7")
	pol := GapPolicy{MaxSessions: 10, MaxMinutes: 30}
	bars := coarseDays(t, cal, map[string]float64{"2025-03-03": 100})
	// 区间起点 03-01，但首个真实 bar 在 03-03：起点缺口无 bar 可填充。
	_, _, err := FillSessions("BTCUSDT", bars, cal, day(t, "2025-03-01"), day(t, "2025-03-03"), pol)
	require.Error(t, err)

	var viol *PolicyViolationError
	require.True(t, errors.As(err, &viol))
	assert.Equal(t, "leading", viol.Runs[0].Reason)
}

func fineSession(t *testing.T, cal calendar.Calendar, date string, skip map[int]bool, base float64) []market.Candle {
	t.Helper()
	d := day(t, date)
	var raw []market.Candle
	for m := 0; m < cal.MinutesPerSession; m++ {
		if skip[m] {
			continue
		}
		raw = append(raw, candleAt(cal.SessionOpen(d)+int64(m)*60*1000, base+float64(m)))
	}
	return raw
}

func TestFillFineMinuteRunWithinSession(t *testing.T) {
	cal, err := calendar.NewStandard("test", 14*time.Hour+30*time.Minute, 390, nil)
	require.NoError(t, err)
	pol := GapPolicy{MaxSessions: 1, MaxMinutes: 5}

	skip := map[int]bool{100: true, 101: true, 102: true}
	raw := fineSession(t, cal, "2025-03-03", skip, 50)
	bars, _ := AlignFine("AAPL", raw, cal)

	d := day(t, "2025-03-03")
	out, stats, err := FillFine("AAPL", bars, cal, d, d, pol)
	require.NoError(t, err)
	require.Len(t, out, 390)
	assert.Equal(t, 3, stats.Synthesized)

	assert.True(t, out[100].Synthetic)
	assert.Equal(t, 50.0+99, out[100].Close, "前向填充自 99 分钟的收盘")
	assert.Equal(t, 0.0, out[100].Volume)
	assert.False(t, out[103].Synthetic)
}

func TestFillFineMinuteRunOverPolicyRejected(t *testing.T) {
	cal, err := calendar.NewStandard("test", 14*time.Hour+30*time.Minute, 390, nil)
	require.NoError(t, err)
	pol := GapPolicy{MaxSessions: 1, MaxMinutes: 2}

	skip := map[int]bool{100: true, 101: true, 102: true}
	raw := fineSession(t, cal, "2025-03-03", skip, 50)
	bars, _ := AlignFine("AAPL", raw, cal)

	d := day(t, "2025-03-03")
	_, _, err = FillFine("AAPL", bars, cal, d, d, pol)
	var viol *PolicyViolationError
	require.True(t, errors.As(err, &viol))
	assert.Equal(t, "minute", viol.Runs[0].Unit)
	assert.Equal(t, 3, viol.Runs[0].Count)
}

func TestFillFineWholeMissingSessionSynthesized(t *testing.T) {
	cal, err := calendar.NewStandard("test", 14*time.Hour+30*time.Minute, 390, nil)
	require.NoError(t, err)
	pol := GapPolicy{MaxSessions: 1, MaxMinutes: 5}

	raw := fineSession(t, cal, "2025-03-03", nil, 50)
	raw = append(raw, fineSession(t, cal, "2025-03-05", nil, 60)...)
	bars, _ := AlignFine("AAPL", raw, cal)

	// 03-04 整日缺失，1 个 session 在上限内 → 全天 390 根合成
	out, stats, err := FillFine("AAPL", bars, cal, day(t, "2025-03-03"), day(t, "2025-03-05"), pol)
	require.NoError(t, err)
	require.Len(t, out, 3*390)
	assert.Equal(t, 390, stats.Synthesized)
	for _, b := range out[390 : 2*390] {
		assert.True(t, b.Synthetic)
		assert.Equal(t, 50.0+389, b.Close)
	}
}
