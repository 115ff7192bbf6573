package validate

import (
	"fmt"
	"math"
	"time"

	"barn/internal/calendar"
	"barn/internal/market"

	"github.com/shopspring/decimal"
)

const sampleLimit = 10

func keyLabel(r row, tf market.Timeframe) string {
	if tf == market.TimeframeMinute {
		return fmt.Sprintf("%s[%d]", calendar.FormatSession(r.session), r.minute)
	}
	return calendar.FormatSession(r.session)
}

func sampleKeys(rows []row, bad []int, tf market.Timeframe) []string {
	out := make([]string, 0, sampleLimit)
	for _, idx := range bad {
		if len(out) == sampleLimit {
			break
		}
		out = append(out, keyLabel(rows[idx], tf))
	}
	return out
}

func badValue(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

func checkRequiredFields(s Series, _ Config, report *Report) {
	rows := s.rows()
	var bad []int
	for i, r := range rows {
		if badValue(r.bar.Open) || badValue(r.bar.High) || badValue(r.bar.Low) ||
			badValue(r.bar.Close) || badValue(r.bar.Volume) {
			bad = append(bad, i)
		}
	}
	if len(bad) == 0 {
		return
	}
	report.add(Entry{
		Check:    "required_fields",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%d 行存在非数值 OHLCV 字段", len(bad)),
		Details:  map[string]any{"rows": len(bad), "samples": sampleKeys(rows, bad, s.Timeframe)},
	})
}

func checkNoNulls(s Series, cfg Config, report *Report) {
	rows := s.rows()
	if len(rows) == 0 {
		return
	}
	nulls := 0
	for _, r := range rows {
		b := r.bar
		if badValue(b.Open) || badValue(b.High) || badValue(b.Low) ||
			badValue(b.Close) || badValue(b.Volume) {
			nulls++
		}
	}
	ratio := float64(nulls) / float64(len(rows))
	if ratio <= cfg.NullRatioMax {
		return
	}
	report.add(Entry{
		Check:    "no_nulls",
		Severity: SeverityError,
		Message:  fmt.Sprintf("空值比例 %.4f 超过阈值 %.4f", ratio, cfg.NullRatioMax),
		Details:  map[string]any{"nulls": nulls, "rows": len(rows)},
	})
}

func checkOHLCConsistency(s Series, _ Config, report *Report) {
	rows := s.rows()
	var bad []int
	for i, r := range rows {
		b := r.bar
		if b.Low > b.Open || b.Low > b.Close || b.High < b.Open || b.High < b.Close || b.Low > b.High {
			bad = append(bad, i)
		}
	}
	if len(bad) == 0 {
		return
	}
	report.add(Entry{
		Check:    "ohlc_consistency",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%d 行违反 low ≤ {open,close} ≤ high", len(bad)),
		Details:  map[string]any{"rows": len(bad), "samples": sampleKeys(rows, bad, s.Timeframe)},
	})
}

func checkNoNegativeValues(s Series, _ Config, report *Report) {
	rows := s.rows()
	var bad []int
	for i, r := range rows {
		b := r.bar
		if b.Open < 0 || b.High < 0 || b.Low < 0 || b.Close < 0 || b.Volume < 0 {
			bad = append(bad, i)
		}
	}
	if len(bad) == 0 {
		return
	}
	report.add(Entry{
		Check:    "no_negative_values",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%d 行存在负的价格/成交量", len(bad)),
		Details:  map[string]any{"rows": len(bad), "samples": sampleKeys(rows, bad, s.Timeframe)},
	})
}

func checkNoFutureTimestamps(s Series, cfg Config, report *Report) {
	rows := s.rows()
	now := cfg.clock().UnixMilli()
	var bad []int
	for i, r := range rows {
		if r.timestamp(s.Calendar) > now {
			bad = append(bad, i)
		}
	}
	if len(bad) == 0 {
		return
	}
	report.add(Entry{
		Check:    "no_future_timestamps",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%d 行时间戳晚于当前处理时刻", len(bad)),
		Details:  map[string]any{"rows": len(bad), "samples": sampleKeys(rows, bad, s.Timeframe)},
	})
}

func checkNoDuplicateKeys(s Series, _ Config, report *Report) {
	rows := s.rows()
	seen := make(map[[2]int64]bool, len(rows))
	dups := 0
	for _, r := range rows {
		key := [2]int64{r.session, int64(r.minute)}
		if seen[key] {
			dups++
		}
		seen[key] = true
	}
	if dups == 0 {
		return
	}
	report.add(Entry{
		Check:    "no_duplicate_keys",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%d 个重复键", dups),
	})
}

func checkSortedIndex(s Series, _ Config, report *Report) {
	rows := s.rows()
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		if cur.session > prev.session || (cur.session == prev.session && cur.minute > prev.minute) {
			continue
		}
		report.add(Entry{
			Check:    "sorted_index",
			Severity: SeverityError,
			Message:  fmt.Sprintf("键未严格递增: 位置 %d (%s)", i, keyLabel(cur, s.Timeframe)),
		})
		return
	}
}

func checkZeroVolumeRatio(s Series, cfg Config, report *Report) {
	rows := s.rows()
	if len(rows) == 0 {
		return
	}
	zeros := 0
	for _, r := range rows {
		if r.bar.Volume == 0 {
			zeros++
		}
	}
	ratio := float64(zeros) / float64(len(rows))
	if ratio <= cfg.ZeroVolumeRatioMax {
		return
	}
	report.add(Entry{
		Check:    "zero_volume_ratio",
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("零成交量比例 %.4f 超过阈值 %.4f（可能是系统性数据缺失）", ratio, cfg.ZeroVolumeRatioMax),
		Details:  map[string]any{"zero_rows": zeros, "rows": len(rows)},
	})
}

func checkPriceJump(s Series, cfg Config, report *Report) {
	rows := s.rows()
	limit := decimal.NewFromFloat(cfg.PriceJumpMaxPct)
	hundred := decimal.NewFromInt(100)
	var bad []int
	var worst decimal.Decimal
	for i := 1; i < len(rows); i++ {
		prev := decimal.NewFromFloat(rows[i-1].bar.Close)
		if prev.IsZero() {
			continue
		}
		cur := decimal.NewFromFloat(rows[i].bar.Close)
		jump := cur.Sub(prev).Div(prev).Mul(hundred).Abs()
		if jump.GreaterThan(limit) {
			bad = append(bad, i)
			if jump.GreaterThan(worst) {
				worst = jump
			}
		}
	}
	if len(bad) == 0 {
		return
	}
	// 大幅跳变可能是正当的公司行为（除权/拆股），仅告警不修复。
	report.add(Entry{
		Check:    "price_jump",
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("%d 处相邻行涨跌幅超过 %.2f%%（最大 %s%%）", len(bad), cfg.PriceJumpMaxPct, worst.StringFixed(2)),
		Details:  map[string]any{"rows": len(bad), "samples": sampleKeys(rows, bad, s.Timeframe)},
	})
}

func checkStaleness(s Series, cfg Config, report *Report) {
	if cfg.StalenessMax <= 0 {
		return
	}
	rows := s.rows()
	if len(rows) == 0 {
		return
	}
	last := rows[len(rows)-1].timestamp(s.Calendar)
	age := cfg.clock().Sub(time.UnixMilli(last))
	if age <= cfg.StalenessMax {
		return
	}
	report.add(Entry{
		Check:    "staleness",
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("最新一行已过期 %s（阈值 %s）", age.Truncate(time.Second), cfg.StalenessMax),
	})
}

func checkSufficiency(s Series, cfg Config, report *Report) {
	rows := s.rows()
	if len(rows) >= cfg.MinRows {
		return
	}
	report.add(Entry{
		Check:    "sufficiency",
		Severity: SeverityError,
		Message:  fmt.Sprintf("行数 %d 低于粒度 %s 要求的最小值 %d", len(rows), s.Timeframe, cfg.MinRows),
	})
}

func checkCoverage(s Series, cfg Config, report *Report) {
	expected := s.expectedKeys()
	if expected == 0 {
		return
	}
	ratio := float64(len(s.rows())) / float64(expected)
	if ratio >= cfg.CoverageMin {
		return
	}
	report.add(Entry{
		Check:    "coverage",
		Severity: SeverityError,
		Message:  fmt.Sprintf("覆盖率 %.4f 低于阈值 %.4f（期望 %d 行）", ratio, cfg.CoverageMin, expected),
	})
}
