package validate

import (
	"fmt"
	"strings"
)

// Severity 是单条检查结论的级别。
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Entry 是一条检查结论。检查只读数据，永不修复。
type Entry struct {
	Check    string         `json:"check"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// Report 按检查执行顺序汇总结论。
type Report struct {
	Entries []Entry `json:"entries"`
	// Strict 为真时 warning 同样阻断写入。
	Strict bool `json:"strict"`
}

func (r *Report) add(entry Entry) {
	r.Entries = append(r.Entries, entry)
}

// Passed 判断报告是否放行：无 error；严格模式下也不允许 warning。
func (r Report) Passed() bool {
	for _, e := range r.Entries {
		if e.Severity == SeverityError {
			return false
		}
		if r.Strict && e.Severity == SeverityWarning {
			return false
		}
	}
	return true
}

// Failures 返回阻断写入的条目。
func (r Report) Failures() []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Severity == SeverityError || (r.Strict && e.Severity == SeverityWarning) {
			out = append(out, e)
		}
	}
	return out
}

// Summary 渲染一行摘要，用于批量报告与 CLI 输出。
func (r Report) Summary() string {
	if len(r.Entries) == 0 {
		return "全部检查通过"
	}
	parts := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		parts = append(parts, fmt.Sprintf("%s[%s]: %s", e.Check, e.Severity, e.Message))
	}
	return strings.Join(parts, "; ")
}
