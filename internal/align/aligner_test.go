package align

import (
	"testing"
	"time"

	"barn/internal/calendar"
	"barn/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, date string) int64 {
	t.Helper()
	d, err := calendar.ParseSessionDate(date)
	require.NoError(t, err)
	return d
}

func candleAt(ts int64, close float64) market.Candle {
	return market.Candle{
		OpenTime:  ts,
		CloseTime: ts + 60*1000,
		Open:      close - 1,
		High:      close + 2,
		Low:       close - 2,
		Close:     close,
		Volume:    10,
	}
}

func TestAlignFineRebucketsOffsetCalendar(t *testing.T) {
	// session 开盘偏移 5 小时：D 日 0~4 点的 bar 归属 D-1 session。
	cal := calendar.NewWeekday24h("fx", 5*time.Hour)
	tuesday := day(t, "2025-03-04")
	wednesday := day(t, "2025-03-05")

	raw := []market.Candle{
		candleAt(wednesday+2*60*60*1000, 100), // 周三 02:00 → 周二 session
		candleAt(cal.SessionOpen(wednesday), 101),
		candleAt(cal.SessionOpen(wednesday)-60*1000, 102), // 开盘前一分钟 → 周二 session
	}
	bars, stats := AlignFine("EURUSD", raw, cal)
	require.Len(t, bars, 3)
	assert.Equal(t, 2, stats.Rebucketed)
	assert.Equal(t, 0, stats.Dropped)

	assert.Equal(t, tuesday, bars[0].Session)
	assert.Equal(t, 21*60, bars[0].Minute) // 周二 session 开盘后 21 小时
	assert.Equal(t, tuesday, bars[1].Session)
	assert.Equal(t, 1439, bars[1].Minute)
	assert.Equal(t, wednesday, bars[2].Session)
	assert.Equal(t, 0, bars[2].Minute)
}

func TestAlignFineDropsOutOfCalendar(t *testing.T) {
	cal, err := calendar.NewStandard("test", 14*time.Hour+30*time.Minute, 390, nil)
	require.NoError(t, err)
	monday := day(t, "2025-03-03")
	saturday := day(t, "2025-03-08")

	raw := []market.Candle{
		candleAt(cal.SessionOpen(monday), 100),
		candleAt(cal.SessionOpen(monday)+390*60*1000, 101), // 收盘后 → 丢弃
		candleAt(saturday+15*60*60*1000, 102),              // 周六 → 丢弃
		{OpenTime: 0, Close: 103},                          // 无时间戳 → 丢弃
	}
	bars, stats := AlignFine("AAPL", raw, cal)
	require.Len(t, bars, 1)
	assert.Equal(t, 3, stats.Dropped)
}

func TestAlignFineDedupLastWriterWins(t *testing.T) {
	cal := calendar.NewAlwaysOpen("24/7")
	d := day(t, "2025-03-03")
	ts := cal.SessionOpen(d) + 5*60*1000

	raw := []market.Candle{candleAt(ts, 100), candleAt(ts, 200)}
	bars, stats := AlignFine("BTCUSDT", raw, cal)
	require.Len(t, bars, 1)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 200.0, bars[0].Close)
}

func TestAlignSessionsCoarse(t *testing.T) {
	cal := calendar.NewWeekday24h("24/5", 0)
	friday := day(t, "2025-03-07")
	monday := day(t, "2025-03-10")

	raw := []market.Candle{
		candleAt(friday+10*60*60*1000, 100),
		candleAt(monday+10*60*60*1000, 101),
		candleAt(day(t, "2025-03-08")+10*60*60*1000, 99), // 周六 → 丢弃
	}
	bars, stats := AlignSessions("EURUSD", raw, cal)
	require.Len(t, bars, 2)
	assert.Equal(t, 1, stats.Dropped)
	assert.Equal(t, friday, bars[0].Session)
	assert.Equal(t, monday, bars[1].Session)
}
