package align

import (
	"fmt"
	"strings"

	"barn/internal/calendar"
	"barn/internal/logger"
)

// GapPolicy 是资产类别级别的补洞上限。超过上限的缺口不做任何近似，直接拒绝。
type GapPolicy struct {
	// MaxSessions 允许合成的最大连续缺失 session 数。
	MaxSessions int
	// MaxMinutes 允许合成的单个 session 内最大连续缺失分钟数。
	MaxMinutes int
}

// GapRun 描述一段最大化的连续缺失区间。
type GapRun struct {
	From   Key    `json:"from"`
	To     Key    `json:"to"`
	Count  int    `json:"count"`
	Unit   string `json:"unit"`   // "session" | "minute"
	Reason string `json:"reason"` // "leading" | "max_gap"
}

func (r GapRun) describe() string {
	from := calendar.FormatSession(r.From.Session)
	to := calendar.FormatSession(r.To.Session)
	switch r.Unit {
	case "session":
		return fmt.Sprintf("%s..%s (%d sessions, %s)", from, to, r.Count, r.Reason)
	default:
		return fmt.Sprintf("%s[%d..%d] (%d minutes, %s)", from, r.From.Minute, r.To.Minute, r.Count, r.Reason)
	}
}

// PolicyViolationError 列出全部违反补洞策略的缺口，逐条可枚举。
type PolicyViolationError struct {
	Calendar string
	Runs     []GapRun
}

func (e *PolicyViolationError) Error() string {
	parts := make([]string, 0, len(e.Runs))
	for _, r := range e.Runs {
		parts = append(parts, r.describe())
	}
	return fmt.Sprintf("补洞策略违规（日历 %s）: %s", e.Calendar, strings.Join(parts, "; "))
}

// FillStats 汇总一次补洞的结果。
type FillStats struct {
	Expected    int `json:"expected"`
	Real        int `json:"real"`
	Synthesized int `json:"synthesized"`
}

// FillFine 按日历期望键集补齐分钟序列。缺失键按最大连续区间划分：
// 整 session 的缺口按 session 计数对照 MaxSessions，session 内的分钟缺口
// 对照 MaxMinutes。范围起点之前没有真实 bar 的缺口无法前向填充，无条件违规。
// 任何违规都不会产出部分结果。
func FillFine(symbol string, bars []FineBar, cal calendar.Calendar, start, end int64, pol GapPolicy) ([]FineBar, FillStats, error) {
	sessions := cal.SessionsInRange(start, end)
	mps := cal.MinutesPerSession
	stats := FillStats{Expected: len(sessions) * mps, Real: len(bars)}
	if len(sessions) == 0 {
		return nil, stats, nil
	}

	present := make(map[Key]Bar, len(bars))
	perSession := make(map[int64]int, len(sessions))
	for _, b := range bars {
		present[Key{Session: b.Session, Minute: b.Minute}] = b.Bar
		perSession[b.Session]++
	}

	var violations []GapRun

	// session 级缺口：整个交易日没有任何真实 bar。
	emptyRun := func(from, to int) {
		run := GapRun{
			From:  Key{Session: sessions[from]},
			To:    Key{Session: sessions[to], Minute: mps - 1},
			Count: to - from + 1,
			Unit:  "session",
		}
		switch {
		case from == 0:
			run.Reason = "leading"
			violations = append(violations, run)
		case run.Count > pol.MaxSessions:
			run.Reason = "max_gap"
			violations = append(violations, run)
		}
	}
	runStart := -1
	for i, s := range sessions {
		if perSession[s] == 0 {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart >= 0 {
			emptyRun(runStart, i-1)
			runStart = -1
		}
	}
	if runStart >= 0 {
		emptyRun(runStart, len(sessions)-1)
	}

	// 分钟级缺口：仅针对有数据的 session 内部划分。
	firstSeen := false
	for _, s := range sessions {
		if perSession[s] == 0 {
			continue
		}
		minStart := -1
		flush := func(endMin int) {
			if minStart < 0 {
				return
			}
			run := GapRun{
				From:  Key{Session: s, Minute: minStart},
				To:    Key{Session: s, Minute: endMin},
				Count: endMin - minStart + 1,
				Unit:  "minute",
			}
			switch {
			case !firstSeen:
				run.Reason = "leading"
				violations = append(violations, run)
			case run.Count > pol.MaxMinutes:
				run.Reason = "max_gap"
				violations = append(violations, run)
			}
			minStart = -1
		}
		for m := 0; m < mps; m++ {
			if _, ok := present[Key{Session: s, Minute: m}]; ok {
				flush(m - 1)
				firstSeen = true
				continue
			}
			if minStart < 0 {
				minStart = m
			}
		}
		flush(mps - 1)
	}

	if len(violations) > 0 {
		return nil, stats, &PolicyViolationError{Calendar: cal.Name, Runs: violations}
	}

	out := make([]FineBar, 0, stats.Expected)
	var lastClose float64
	haveClose := false
	for _, s := range sessions {
		for m := 0; m < mps; m++ {
			key := Key{Session: s, Minute: m}
			if b, ok := present[key]; ok {
				out = append(out, FineBar{Session: s, Minute: m, Bar: b})
				lastClose = b.Close
				haveClose = true
				continue
			}
			if !haveClose {
				// 违规检查已覆盖 leading 缺口，此处不可达。
				return nil, stats, &PolicyViolationError{Calendar: cal.Name, Runs: []GapRun{{
					From: key, To: key, Count: 1, Unit: "minute", Reason: "leading",
				}}}
			}
			out = append(out, FineBar{Session: s, Minute: m, Bar: syntheticBar(lastClose)})
			stats.Synthesized++
		}
	}
	logFill(symbol, cal.Name, stats)
	return out, stats, nil
}

// FillSessions 按日历期望 session 集补齐粗粒度序列，规则与 FillFine 的
// session 级一致。
func FillSessions(symbol string, bars []SessionBar, cal calendar.Calendar, start, end int64, pol GapPolicy) ([]SessionBar, FillStats, error) {
	sessions := cal.SessionsInRange(start, end)
	stats := FillStats{Expected: len(sessions), Real: len(bars)}
	if len(sessions) == 0 {
		return nil, stats, nil
	}
	present := make(map[int64]Bar, len(bars))
	for _, b := range bars {
		present[b.Session] = b.Bar
	}

	var violations []GapRun
	emptyRun := func(from, to int) {
		run := GapRun{
			From:  Key{Session: sessions[from]},
			To:    Key{Session: sessions[to]},
			Count: to - from + 1,
			Unit:  "session",
		}
		switch {
		case from == 0:
			run.Reason = "leading"
			violations = append(violations, run)
		case run.Count > pol.MaxSessions:
			run.Reason = "max_gap"
			violations = append(violations, run)
		}
	}
	runStart := -1
	for i, s := range sessions {
		if _, ok := present[s]; ok {
			if runStart >= 0 {
				emptyRun(runStart, i-1)
				runStart = -1
			}
			continue
		}
		if runStart < 0 {
			runStart = i
		}
	}
	if runStart >= 0 {
		emptyRun(runStart, len(sessions)-1)
	}
	if len(violations) > 0 {
		return nil, stats, &PolicyViolationError{Calendar: cal.Name, Runs: violations}
	}

	out := make([]SessionBar, 0, len(sessions))
	var lastClose float64
	haveClose := false
	for _, s := range sessions {
		if b, ok := present[s]; ok {
			out = append(out, SessionBar{Session: s, Bar: b})
			lastClose = b.Close
			haveClose = true
			continue
		}
		if !haveClose {
			return nil, stats, &PolicyViolationError{Calendar: cal.Name, Runs: []GapRun{{
				From: Key{Session: s}, To: Key{Session: s}, Count: 1, Unit: "session", Reason: "leading",
			}}}
		}
		out = append(out, SessionBar{Session: s, Bar: syntheticBar(lastClose)})
		stats.Synthesized++
	}
	logFill(symbol, cal.Name, stats)
	return out, stats, nil
}

func syntheticBar(close float64) Bar {
	return Bar{Open: close, High: close, Low: close, Close: close, Volume: 0, Synthetic: true}
}

func logFill(symbol, calName string, stats FillStats) {
	if stats.Synthesized == 0 {
		return
	}
	logger.With("symbol", symbol, "calendar", calName).Info("缺口已合成",
		"expected", stats.Expected,
		"real", stats.Real,
		"synthesized", stats.Synthesized,
	)
}
