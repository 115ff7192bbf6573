package bundle

import (
	"context"
	"fmt"

	"barn/internal/calendar"
)

// SessionMismatchError 携带完整差异报告，调用方可用 errors.As 取出
// 具体的 Missing/Extra session 列表而不必解析错误文本。
type SessionMismatchError struct {
	Report MismatchReport
}

func (e *SessionMismatchError) Error() string {
	return fmt.Sprintf("bundle %s 的 session 集与日历不一致: %s", e.Report.Bundle, e.Report.Describe())
}

// Preflight 在 bundle 被读取前重算日历期望 session 集并与持久化索引做差异。
// 上游日历定义、补洞策略或注册表的演化都可能让行数悄悄漂移，在回测引擎
// 深处表现为难以定位的下标错误；这里提前拦截并给出具体 session 标识。
func Preflight(ctx context.Context, store *Store, calReg *calendar.Registry, name string) (MismatchReport, error) {
	b, err := store.Load(ctx, name)
	if err != nil {
		return MismatchReport{}, err
	}
	cal, err := calReg.Resolve(b.CalendarName)
	if err != nil {
		return MismatchReport{}, fmt.Errorf("bundle %s 引用的日历无法解析: %w", name, err)
	}
	actual, err := store.Sessions(ctx, name)
	if err != nil {
		return MismatchReport{}, err
	}
	expected := cal.SessionsInRange(b.FirstSession, b.LastSession)
	return Diff(name, expected, actual), nil
}

// Diff 比较期望与实际 session 集，双方均为升序。
func Diff(name string, expected, actual []int64) MismatchReport {
	report := MismatchReport{
		Bundle:        name,
		ExpectedCount: len(expected),
		ActualCount:   len(actual),
	}
	i, j := 0, 0
	for i < len(expected) && j < len(actual) {
		switch {
		case expected[i] == actual[j]:
			i++
			j++
		case expected[i] < actual[j]:
			report.Missing = append(report.Missing, expected[i])
			i++
		default:
			report.Extra = append(report.Extra, actual[j])
			j++
		}
	}
	report.Missing = append(report.Missing, expected[i:]...)
	report.Extra = append(report.Extra, actual[j:]...)
	return report
}
