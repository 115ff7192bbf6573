package align

import (
	"sort"

	"barn/internal/calendar"
	"barn/internal/logger"
	"barn/internal/market"
)

const minuteMillis int64 = 60 * 1000

// Key 定位一根细粒度 bar：session 日 + 开盘后的分钟偏移。
type Key struct {
	Session int64
	Minute  int
}

// Bar 承载对齐后的 OHLCV。Synthetic 标记补洞合成的数据（价格前向填充、成交量为 0）。
type Bar struct {
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Synthetic bool    `json:"synthetic"`
}

// FineBar 是分钟粒度的对齐 bar。
type FineBar struct {
	Session int64 `json:"session"`
	Minute  int   `json:"minute"`
	Bar
}

// SessionBar 是 session 粒度的对齐 bar，结构上不携带分钟下标。
type SessionBar struct {
	Session int64 `json:"session"`
	Bar
}

// Stats 汇总一次对齐的丢弃/重分桶/去重计数，写入结构化日志与批量报告。
type Stats struct {
	Total      int `json:"total"`
	Dropped    int `json:"dropped"`
	Rebucketed int `json:"rebucketed"`
	Duplicates int `json:"duplicates"`
}

// AlignFine 把原始 K 线映射到 (session, minute) 键上。
// 无法归属日历的 bar 丢弃计数；同键重复 last-writer-wins；输出按键升序。
func AlignFine(symbol string, raw []market.Candle, cal calendar.Calendar) ([]FineBar, Stats) {
	stats := Stats{Total: len(raw)}
	byKey := make(map[Key]Bar, len(raw))
	order := make([]Key, 0, len(raw))
	for _, c := range raw {
		ts := c.OpenTime
		if ts <= 0 {
			stats.Dropped++
			continue
		}
		session, ok := cal.SessionOf(ts)
		if !ok {
			stats.Dropped++
			continue
		}
		if cal.Kind == calendar.KindWeekday24h && floorDay(ts) != session {
			stats.Rebucketed++
		}
		minute := int((ts - cal.SessionOpen(session)) / minuteMillis)
		if minute < 0 || minute >= cal.MinutesPerSession {
			stats.Dropped++
			continue
		}
		key := Key{Session: session, Minute: minute}
		if _, exists := byKey[key]; exists {
			stats.Duplicates++
		} else {
			order = append(order, key)
		}
		byKey[key] = Bar{Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].Session != order[j].Session {
			return order[i].Session < order[j].Session
		}
		return order[i].Minute < order[j].Minute
	})
	out := make([]FineBar, 0, len(order))
	for _, key := range order {
		out = append(out, FineBar{Session: key.Session, Minute: key.Minute, Bar: byKey[key]})
	}
	logAlign(symbol, cal.Name, stats)
	return out, stats
}

// AlignSessions 用于粗粒度直采（如日线），每个交易日至多一根。
func AlignSessions(symbol string, raw []market.Candle, cal calendar.Calendar) ([]SessionBar, Stats) {
	stats := Stats{Total: len(raw)}
	bySession := make(map[int64]Bar, len(raw))
	order := make([]int64, 0, len(raw))
	for _, c := range raw {
		ts := c.OpenTime
		if ts <= 0 {
			stats.Dropped++
			continue
		}
		session, ok := cal.SessionOf(ts)
		if !ok {
			stats.Dropped++
			continue
		}
		if cal.Kind == calendar.KindWeekday24h && floorDay(ts) != session {
			stats.Rebucketed++
		}
		if _, exists := bySession[session]; exists {
			stats.Duplicates++
		} else {
			order = append(order, session)
		}
		bySession[session] = Bar{Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]SessionBar, 0, len(order))
	for _, session := range order {
		out = append(out, SessionBar{Session: session, Bar: bySession[session]})
	}
	logAlign(symbol, cal.Name, stats)
	return out, stats
}

func logAlign(symbol, calName string, stats Stats) {
	if stats.Dropped == 0 && stats.Rebucketed == 0 && stats.Duplicates == 0 {
		return
	}
	logger.With("symbol", symbol, "calendar", calName).Warn("对齐产生丢弃/重分桶",
		"total", stats.Total,
		"dropped", stats.Dropped,
		"rebucketed", stats.Rebucketed,
		"duplicates", stats.Duplicates,
	)
}

func floorDay(ts int64) int64 {
	rem := ts % calendar.DayMillis
	if rem < 0 {
		rem += calendar.DayMillis
	}
	return ts - rem
}
