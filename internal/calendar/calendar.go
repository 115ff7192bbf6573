package calendar

import (
	"fmt"
	"strings"
	"time"
)

// Kind 是封闭的日历变体集合，所有 session 边界逻辑按 Kind 穷举分派。
type Kind int

const (
	// KindStandard 固定交易时段（如股票 390 分钟/日），仅工作日，支持休市日。
	KindStandard Kind = iota
	// KindAlwaysOpen 7x24，每个自然日一个 1440 分钟 session。
	KindAlwaysOpen
	// KindWeekday24h 周一至周五 24 小时，session 开盘相对 UTC 零点有固定偏移。
	KindWeekday24h
)

func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindAlwaysOpen:
		return "always_open"
	case KindWeekday24h:
		return "weekday_24h"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind 解析日历变体名。
func ParseKind(input string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "standard":
		return KindStandard, nil
	case "always_open", "24/7":
		return KindAlwaysOpen, nil
	case "weekday_24h", "24/5":
		return KindWeekday24h, nil
	default:
		return 0, fmt.Errorf("未知的日历变体: %s", input)
	}
}

const (
	// DayMillis 一个自然日的毫秒数。session 以其所属日 UTC 零点的 Unix ms 标识。
	DayMillis    int64 = 24 * 60 * 60 * 1000
	minuteMillis int64 = 60 * 1000
)

// Calendar 是计算一次后不可变的值对象。Session 标识统一为 session 日
// UTC 零点的 Unix ms；开盘时刻 = session + OpenOffset。
type Calendar struct {
	Name              string
	Kind              Kind
	OpenOffset        time.Duration
	MinutesPerSession int

	holidays map[int64]bool
}

// NewAlwaysOpen 构造 7x24 日历（1440 分钟/session，零偏移）。
func NewAlwaysOpen(name string) Calendar {
	return Calendar{Name: name, Kind: KindAlwaysOpen, MinutesPerSession: 1440}
}

// NewWeekday24h 构造 24/5 日历；openOffset 是 session 开盘相对 UTC 零点的偏移。
func NewWeekday24h(name string, openOffset time.Duration) Calendar {
	return Calendar{
		Name:              name,
		Kind:              KindWeekday24h,
		OpenOffset:        openOffset,
		MinutesPerSession: 1440,
	}
}

// NewStandard 构造固定时段日历。holidays 为 "2006-01-02" 格式的休市日。
func NewStandard(name string, openOffset time.Duration, minutes int, holidays []string) (Calendar, error) {
	c := Calendar{
		Name:              name,
		Kind:              KindStandard,
		OpenOffset:        openOffset,
		MinutesPerSession: minutes,
	}
	if len(holidays) > 0 {
		c.holidays = make(map[int64]bool, len(holidays))
		for _, h := range holidays {
			day, err := ParseSessionDate(h)
			if err != nil {
				return Calendar{}, fmt.Errorf("日历 %s 休市日无效: %w", name, err)
			}
			c.holidays[day] = true
		}
	}
	if err := c.Validate(); err != nil {
		return Calendar{}, err
	}
	return c, nil
}

// Validate 检查日历参数是否自洽。
func (c Calendar) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("日历名称不能为空")
	}
	if c.MinutesPerSession <= 0 || c.MinutesPerSession > 1440 {
		return fmt.Errorf("日历 %s: minutes_per_session 必须在 (0,1440]", c.Name)
	}
	if c.OpenOffset < 0 || c.OpenOffset >= 24*time.Hour {
		return fmt.Errorf("日历 %s: open_offset 必须在 [0,24h)", c.Name)
	}
	switch c.Kind {
	case KindStandard:
		// 固定时段不允许跨 UTC 午夜，保持 session 与自然日一一对应。
		if c.OpenOffset+time.Duration(c.MinutesPerSession)*time.Minute > 24*time.Hour {
			return fmt.Errorf("日历 %s: 时段跨越 UTC 午夜", c.Name)
		}
	case KindAlwaysOpen, KindWeekday24h:
		if c.MinutesPerSession != 1440 {
			return fmt.Errorf("日历 %s: %s 变体要求 1440 分钟/session", c.Name, c.Kind)
		}
	default:
		return fmt.Errorf("日历 %s: 未知变体 %d", c.Name, int(c.Kind))
	}
	return nil
}

// IsSession 判断给定 session 日（UTC 零点 ms）是否为交易日。
func (c Calendar) IsSession(day int64) bool {
	switch c.Kind {
	case KindAlwaysOpen:
		return true
	case KindWeekday24h:
		return isWeekday(day)
	case KindStandard:
		return isWeekday(day) && !c.holidays[day]
	default:
		return false
	}
}

// SessionOpen 返回 session 的开盘时刻（Unix ms）。
func (c Calendar) SessionOpen(day int64) int64 {
	return day + c.OpenOffset.Milliseconds()
}

// SessionClose 返回 session 收盘时刻（开盘 + 分钟数，Unix ms，右开）。
func (c Calendar) SessionClose(day int64) int64 {
	return c.SessionOpen(day) + int64(c.MinutesPerSession)*minuteMillis
}

// SessionOf 把绝对时间戳归属到 session 日。对带偏移的 weekday_24h 日历，
// 落在 UTC 零点与开盘偏移之间的时间戳归属前一日 session，不可按自然日取键，
// 否则会产出目标 session 中不存在的下标。
func (c Calendar) SessionOf(ts int64) (int64, bool) {
	var day int64
	switch c.Kind {
	case KindWeekday24h:
		day = floorDay(ts - c.OpenOffset.Milliseconds())
	case KindStandard, KindAlwaysOpen:
		day = floorDay(ts)
	default:
		return 0, false
	}
	if !c.IsSession(day) {
		return 0, false
	}
	return day, true
}

// SessionsInRange 返回 [start,end]（均为 session 日，含端点）内的全部交易日，升序。
func (c Calendar) SessionsInRange(start, end int64) []int64 {
	start = floorDay(start)
	end = floorDay(end)
	if end < start {
		return nil
	}
	out := make([]int64, 0, (end-start)/DayMillis+1)
	for day := start; day <= end; day += DayMillis {
		if c.IsSession(day) {
			out = append(out, day)
		}
	}
	return out
}

func floorDay(ts int64) int64 {
	rem := ts % DayMillis
	if rem < 0 {
		rem += DayMillis
	}
	return ts - rem
}

func isWeekday(day int64) bool {
	wd := time.UnixMilli(day).UTC().Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// FormatSession 把 session 日格式化为 "2006-01-02"，用于日志与差异报告。
func FormatSession(day int64) string {
	return time.UnixMilli(day).UTC().Format("2006-01-02")
}

// ParseSessionDate 解析 "2006-01-02" 为 session 日（UTC 零点 ms）。
func ParseSessionDate(s string) (int64, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
