package bundle

import (
	"fmt"
	"strings"

	"barn/internal/align"
	"barn/internal/calendar"
	"barn/internal/market"
)

// Bundle 是一次摄取的最终产物：双粒度对齐序列 + 元数据。
// 校验通过并写入后不可变；重新摄取产生替换版本而非原地修改。
type Bundle struct {
	Name         string             `json:"name"`
	Symbol       string             `json:"symbol"`
	CalendarName string             `json:"calendar_name"`
	Timeframe    market.Timeframe   `json:"timeframe"`
	FirstSession int64              `json:"first_session"`
	LastSession  int64              `json:"last_session"`
	Fine         []align.FineBar    `json:"fine,omitempty"`
	Coarse       []align.SessionBar `json:"coarse"`
}

// Validate 检查写入前的硬约束：粗粒度行数必须等于区间 session 数。
func (b Bundle) Validate(cal calendar.Calendar) error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("bundle 名称不能为空")
	}
	sessions := cal.SessionsInRange(b.FirstSession, b.LastSession)
	if len(b.Coarse) != len(sessions) {
		return fmt.Errorf("bundle %s 粗粒度行数 %d != 区间 session 数 %d",
			b.Name, len(b.Coarse), len(sessions))
	}
	if b.Timeframe == market.TimeframeMinute {
		if want := len(sessions) * cal.MinutesPerSession; len(b.Fine) != want {
			return fmt.Errorf("bundle %s 细粒度行数 %d != 期望 %d", b.Name, len(b.Fine), want)
		}
	}
	return nil
}

// Entry 是 bundle 注册表中的一条记录。LastSession 为 0 表示开放区间，
// 下次摄取继续延伸。
type Entry struct {
	Symbols       []string         `json:"symbols"`
	CalendarName  string           `json:"calendar_name"`
	Timeframe     market.Timeframe `json:"timeframe"`
	FirstSession  int64            `json:"first_session"`
	LastSession   int64            `json:"last_session"`
	DataFrequency string           `json:"data_frequency"`
	RegisteredAt  int64            `json:"registered_at"` // Unix ms
}

// MismatchReport 是读取前置检查的结果：持久化索引与日历现算 session 集的差异。
type MismatchReport struct {
	Bundle        string  `json:"bundle"`
	Missing       []int64 `json:"missing_sessions"`
	Extra         []int64 `json:"extra_sessions"`
	ExpectedCount int     `json:"expected_count"`
	ActualCount   int     `json:"actual_count"`
}

// Clean 表示索引与日历完全一致。
func (r MismatchReport) Clean() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0
}

// Describe 列出具体的缺失/多余 session 标识，绝不只给数量。
func (r MismatchReport) Describe() string {
	if r.Clean() {
		return fmt.Sprintf("bundle %s: 索引与日历一致（%d sessions）", r.Bundle, r.ActualCount)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "bundle %s: 期望 %d 实际 %d", r.Bundle, r.ExpectedCount, r.ActualCount)
	if len(r.Missing) > 0 {
		b.WriteString("; 缺失: ")
		b.WriteString(joinSessions(r.Missing))
	}
	if len(r.Extra) > 0 {
		b.WriteString("; 多余: ")
		b.WriteString(joinSessions(r.Extra))
	}
	return b.String()
}

func joinSessions(days []int64) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = calendar.FormatSession(d)
	}
	return strings.Join(parts, ",")
}
