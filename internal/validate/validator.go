package validate

import (
	"strings"
	"time"

	"barn/internal/align"
	"barn/internal/calendar"
	"barn/internal/market"
)

// Config 选择运行哪些检查以及各自阈值。零值阈值使用默认。
type Config struct {
	// Checks 为空代表默认全集（staleness 仅在 StalenessMax>0 时进入默认集）。
	Checks []string `mapstructure:"checks"`
	// Strict 把 warning 提升为阻断项。
	Strict bool `mapstructure:"strict"`

	NullRatioMax       float64       `mapstructure:"null_ratio_max"`
	ZeroVolumeRatioMax float64       `mapstructure:"zero_volume_ratio_max"`
	PriceJumpMaxPct    float64       `mapstructure:"price_jump_max_pct"`
	StalenessMax       time.Duration `mapstructure:"staleness_max"`
	MinRows            int           `mapstructure:"min_rows"`
	CoverageMin        float64       `mapstructure:"coverage_min"`

	// now 可注入，便于 no_future_timestamps / staleness 测试。
	now func() time.Time
}

func (c Config) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *Config) applyDefaults() {
	if c.ZeroVolumeRatioMax <= 0 {
		c.ZeroVolumeRatioMax = 0.5
	}
	if c.PriceJumpMaxPct <= 0 {
		c.PriceJumpMaxPct = 20
	}
	if c.MinRows <= 0 {
		c.MinRows = 1
	}
	if c.CoverageMin <= 0 {
		c.CoverageMin = 0.99
	}
}

// Series 是校验输入：一个 symbol 的最终对齐序列及其日历上下文。
// 校验按声明粒度的主序列执行。
type Series struct {
	Symbol    string
	Calendar  calendar.Calendar
	Timeframe market.Timeframe
	First     int64
	Last      int64
	Fine      []align.FineBar
	Coarse    []align.SessionBar
}

// row 统一两种粒度的遍历视图。
type row struct {
	session int64
	minute  int
	bar     align.Bar
}

func (s Series) rows() []row {
	if s.Timeframe == market.TimeframeMinute {
		out := make([]row, len(s.Fine))
		for i, b := range s.Fine {
			out[i] = row{session: b.Session, minute: b.Minute, bar: b.Bar}
		}
		return out
	}
	out := make([]row, len(s.Coarse))
	for i, b := range s.Coarse {
		out[i] = row{session: b.Session, bar: b.Bar}
	}
	return out
}

// timestamp 返回行对应的开盘时刻（Unix ms）。
func (r row) timestamp(cal calendar.Calendar) int64 {
	return cal.SessionOpen(r.session) + int64(r.minute)*60*1000
}

// expectedKeys 返回日历期望的主序列行数。
func (s Series) expectedKeys() int {
	sessions := len(s.Calendar.SessionsInRange(s.First, s.Last))
	if s.Timeframe == market.TimeframeMinute {
		return sessions * s.Calendar.MinutesPerSession
	}
	return sessions
}

type check struct {
	name string
	run  func(Series, Config, *Report)
}

// pipeline 按固定顺序执行；顺序即报告条目顺序。
var pipeline = []check{
	{"required_fields", checkRequiredFields},
	{"no_nulls", checkNoNulls},
	{"ohlc_consistency", checkOHLCConsistency},
	{"no_negative_values", checkNoNegativeValues},
	{"no_future_timestamps", checkNoFutureTimestamps},
	{"no_duplicate_keys", checkNoDuplicateKeys},
	{"sorted_index", checkSortedIndex},
	{"zero_volume_ratio", checkZeroVolumeRatio},
	{"price_jump", checkPriceJump},
	{"staleness", checkStaleness},
	{"sufficiency", checkSufficiency},
	{"coverage", checkCoverage},
}

// Run 执行校验管道并返回报告。检查之间相互独立，全部执行完才返回。
func Run(s Series, cfg Config) Report {
	cfg.applyDefaults()
	selected := selectedChecks(cfg)
	report := Report{Strict: cfg.Strict}
	for _, c := range pipeline {
		if !selected[c.name] {
			continue
		}
		c.run(s, cfg, &report)
	}
	return report
}

func selectedChecks(cfg Config) map[string]bool {
	out := make(map[string]bool, len(pipeline))
	if len(cfg.Checks) > 0 {
		for _, name := range cfg.Checks {
			out[strings.ToLower(strings.TrimSpace(name))] = true
		}
		return out
	}
	for _, c := range pipeline {
		if c.name == "staleness" && cfg.StalenessMax <= 0 {
			continue
		}
		out[c.name] = true
	}
	return out
}
