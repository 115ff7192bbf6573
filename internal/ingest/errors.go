package ingest

import (
	"errors"
	"fmt"

	"barn/internal/align"
	"barn/internal/validate"
)

// ConfigurationError 表示请求本身不成立（未知日历、非法区间等），
// 与数据质量问题区分开。
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("配置错误 (%s): %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// SourceFetchError 表示远端拉取失败，可重试。
type SourceFetchError struct {
	Source string
	Symbol string
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("数据源 %s 拉取 %s 失败: %v", e.Source, e.Symbol, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// AlignmentError 表示对齐丢弃率超过阈值：大量 bar 无法归属日历，
// 多半是日历配置与数据不匹配，继续补洞只会放大问题。
type AlignmentError struct {
	Symbol    string
	Calendar  string
	Stats     align.Stats
	DropLimit float64
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("对齐丢弃率超限: %s 在日历 %s 下丢弃 %d/%d（上限 %.0f%%）",
		e.Symbol, e.Calendar, e.Stats.Dropped, e.Stats.Total, e.DropLimit*100)
}

// ValidationFailure 携带完整校验报告，逐条可枚举。
type ValidationFailure struct {
	Symbol string
	Report validate.Report
}

func (e *ValidationFailure) Error() string {
	failures := e.Report.Failures()
	return fmt.Sprintf("校验未通过 (%s, %d 条阻断): %s", e.Symbol, len(failures), e.Report.Summary())
}

// IsRetryable 区分可重试的瞬态失败（拉取失败）与确定性失败
// （策略违规、校验失败、配置错误）。
func IsRetryable(err error) bool {
	var fetchErr *SourceFetchError
	return errors.As(err, &fetchErr)
}
