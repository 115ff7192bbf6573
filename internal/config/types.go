package config

import "strings"

// Config 是 barn 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Source   SourceConfig   `toml:"source"`
	Bundle   BundleConfig   `toml:"bundle"`
	Calendar CalendarConfig `toml:"calendar"`
	Ingest   IngestConfig   `toml:"ingest"`
	Validate ValidateConfig `toml:"validate"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// SourceConfig 选择历史 K 线来源。
type SourceConfig struct {
	Name               string `toml:"name"` // binance | file
	RESTBaseURL        string `toml:"rest_base_url"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
	ProxyEnabled       bool   `toml:"proxy_enabled"`
	ProxyURL           string `toml:"proxy_url"`
	// FileDir 仅 file 源使用。
	FileDir string `toml:"file_dir"`
}

type BundleConfig struct {
	Root         string `toml:"root"`
	RegistryPath string `toml:"registry_path"`
	RunLogPath   string `toml:"run_log_path"`
}

type CalendarConfig struct {
	// ExtraFile 指向补充日历定义（YAML），加载进内置注册表。
	ExtraFile string `toml:"extra_file"`
}

// GapPolicyConfig 是单个资产类别的补洞上限。
type GapPolicyConfig struct {
	MaxSessions int `toml:"max_sessions"`
	MaxMinutes  int `toml:"max_minutes"`
}

// IngestConfig 控制摄取流水线。GapPolicies 按日历名覆盖默认策略，
// 键大小写不敏感。
type IngestConfig struct {
	BundlePrefix string                     `toml:"bundle_prefix"`
	Concurrency  int                        `toml:"concurrency"`
	DropRateMax  float64                    `toml:"drop_rate_max"`
	GapPolicy    GapPolicyConfig            `toml:"gap_policy"`
	GapPolicies  map[string]GapPolicyConfig `toml:"gap_policies"`
}

// PolicyFor 返回指定日历的补洞策略，没有覆盖项时用默认。
func (c IngestConfig) PolicyFor(calendarName string) GapPolicyConfig {
	key := strings.ToLower(strings.TrimSpace(calendarName))
	if pol, ok := c.GapPolicies[key]; ok {
		return pol
	}
	return c.GapPolicy
}

type ValidateConfig struct {
	Checks             []string `toml:"checks"`
	Strict             bool     `toml:"strict"`
	NullRatioMax       float64  `toml:"null_ratio_max"`
	ZeroVolumeRatioMax float64  `toml:"zero_volume_ratio_max"`
	PriceJumpMaxPct    float64  `toml:"price_jump_max_pct"`
	StalenessSeconds   int      `toml:"staleness_seconds"`
	MinRows            int      `toml:"min_rows"`
	CoverageMin        float64  `toml:"coverage_min"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
