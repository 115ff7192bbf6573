package align

import (
	"fmt"

	"barn/internal/calendar"

	"github.com/shopspring/decimal"
)

// Aggregate 把补洞后的分钟序列折叠成 session 序列：
// open=首、high=max、low=min、close=尾、volume=求和（decimal 累加避免漂移）。
// 输入必须已经过 FillFine，使每个交易日恰好 MinutesPerSession 根；
// 因此输出行数恒等于区间内的 session 数，下游定长表不会拿到短表。
func Aggregate(fine []FineBar, cal calendar.Calendar, start, end int64) ([]SessionBar, error) {
	sessions := cal.SessionsInRange(start, end)
	if len(fine) != len(sessions)*cal.MinutesPerSession {
		return nil, fmt.Errorf("聚合前序列不完整: 实际 %d 行, 期望 %d 行（先执行补洞）",
			len(fine), len(sessions)*cal.MinutesPerSession)
	}

	out := make([]SessionBar, 0, len(sessions))
	idx := 0
	for _, s := range sessions {
		var agg Bar
		volume := decimal.Zero
		allSynthetic := true
		for m := 0; m < cal.MinutesPerSession; m++ {
			b := fine[idx]
			idx++
			if b.Session != s || b.Minute != m {
				return nil, fmt.Errorf("聚合输入乱序: 位置 %d 期望 %s[%d] 实际 %s[%d]",
					idx-1, calendar.FormatSession(s), m, calendar.FormatSession(b.Session), b.Minute)
			}
			if m == 0 {
				agg.Open = b.Open
				agg.High = b.High
				agg.Low = b.Low
			}
			if b.High > agg.High {
				agg.High = b.High
			}
			if b.Low < agg.Low {
				agg.Low = b.Low
			}
			agg.Close = b.Close
			volume = volume.Add(decimal.NewFromFloat(b.Volume))
			if !b.Synthetic {
				allSynthetic = false
			}
		}
		agg.Volume, _ = volume.Float64()
		agg.Synthetic = allSynthetic
		out = append(out, SessionBar{Session: s, Bar: agg})
	}
	return out, nil
}
