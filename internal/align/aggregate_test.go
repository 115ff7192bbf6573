package align

import (
	"testing"
	"time"

	"barn/internal/calendar"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateRowCountMatchesSessions(t *testing.T) {
	cal, err := calendar.NewStandard("test", 14*time.Hour+30*time.Minute, 390, []string{"2025-03-05"})
	require.NoError(t, err)
	pol := GapPolicy{MaxSessions: 2, MaxMinutes: 10}

	// 03-03 有数据，03-04 整日缺失（合成），03-05 休市，03-06 有数据。
	raw := fineSession(t, cal, "2025-03-03", nil, 100)
	raw = append(raw, fineSession(t, cal, "2025-03-06", nil, 200)...)
	bars, _ := AlignFine("AAPL", raw, cal)

	start, end := day(t, "2025-03-03"), day(t, "2025-03-06")
	filled, _, err := FillFine("AAPL", bars, cal, start, end, pol)
	require.NoError(t, err)

	coarse, err := Aggregate(filled, cal, start, end)
	require.NoError(t, err)
	sessions := cal.SessionsInRange(start, end)
	require.Len(t, coarse, len(sessions), "粗粒度行数恒等于区间 session 数")
	require.Len(t, coarse, 3)

	// 全合成 session 仍产出一行，且标记为合成。
	assert.Equal(t, day(t, "2025-03-04"), coarse[1].Session)
	assert.True(t, coarse[1].Synthetic)
	assert.Equal(t, 0.0, coarse[1].Volume)
	assert.False(t, coarse[0].Synthetic)
	assert.False(t, coarse[2].Synthetic)
}

func TestAggregateOHLCVFold(t *testing.T) {
	cal := calendar.NewAlwaysOpen("24/7")
	pol := GapPolicy{MaxSessions: 1, MaxMinutes: 10}
	d := day(t, "2025-03-03")

	raw := fineSession(t, cal, "2025-03-03", nil, 1000)
	bars, _ := AlignFine("BTCUSDT", raw, cal)
	filled, _, err := FillFine("BTCUSDT", bars, cal, d, d, pol)
	require.NoError(t, err)

	coarse, err := Aggregate(filled, cal, d, d)
	require.NoError(t, err)
	require.Len(t, coarse, 1)

	// candleAt: open=close-1, high=close+2, low=close-2, volume=10
	assert.Equal(t, 999.0, coarse[0].Open)             // 首分钟 open
	assert.Equal(t, 1000.0+1439+2, coarse[0].High)     // 尾分钟 high 最大
	assert.Equal(t, 998.0, coarse[0].Low)              // 首分钟 low 最小
	assert.Equal(t, 1000.0+1439, coarse[0].Close)      // 尾分钟 close
	assert.Equal(t, 14400.0, coarse[0].Volume)         // 1440 根 × 10
}

func TestAggregateRejectsIncompleteInput(t *testing.T) {
	cal := calendar.NewAlwaysOpen("24/7")
	d := day(t, "2025-03-03")
	raw := fineSession(t, cal, "2025-03-03", map[int]bool{5: true}, 1000)
	bars, _ := AlignFine("BTCUSDT", raw, cal)

	_, err := Aggregate(bars, cal, d, d)
	assert.Error(t, err, "未补洞的序列拒绝聚合")
}
