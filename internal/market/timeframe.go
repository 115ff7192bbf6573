package market

import (
	"fmt"
	"strings"
)

// Timeframe 是存储粒度：minute（细粒度，逐分钟）或 session（粗粒度，每 session 一行）。
type Timeframe string

const (
	TimeframeMinute  Timeframe = "minute"
	TimeframeSession Timeframe = "session"
)

var timeframeAliases = map[string]Timeframe{
	"minute":  TimeframeMinute,
	"1m":      TimeframeMinute,
	"min":     TimeframeMinute,
	"session": TimeframeSession,
	"1d":      TimeframeSession,
	"daily":   TimeframeSession,
	"day":     TimeframeSession,
}

// ParseTimeframe 返回标准化粒度，未知输入视为配置错误。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := timeframeAliases[key]
	if !ok {
		return "", fmt.Errorf("不支持的粒度: %s", input)
	}
	return tf, nil
}

// SourceInterval 返回对应远端数据源的抓取 interval。
func (tf Timeframe) SourceInterval() string {
	if tf == TimeframeSession {
		return "1d"
	}
	return "1m"
}
