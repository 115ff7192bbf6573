package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Source.validate(); err != nil {
		return err
	}
	if err := c.Ingest.validate(); err != nil {
		return err
	}
	if err := c.Validate.validate(); err != nil {
		return err
	}
	return nil
}

func (s *SourceConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Name)) {
	case "binance":
		return nil
	case "file":
		if strings.TrimSpace(s.FileDir) == "" {
			return fmt.Errorf("source.file_dir 在 file 源下必填")
		}
		return nil
	default:
		return fmt.Errorf("不支持的数据源: %s", s.Name)
	}
}

func (i *IngestConfig) validate() error {
	if i.DropRateMax < 0 || i.DropRateMax > 1 {
		return fmt.Errorf("ingest.drop_rate_max 必须在 [0,1] 内")
	}
	check := func(name string, pol GapPolicyConfig) error {
		if pol.MaxSessions < 0 || pol.MaxMinutes < 0 {
			return fmt.Errorf("ingest 补洞策略 %s 不允许负值", name)
		}
		return nil
	}
	if err := check("gap_policy", i.GapPolicy); err != nil {
		return err
	}
	for name, pol := range i.GapPolicies {
		if err := check(name, pol); err != nil {
			return err
		}
	}
	return nil
}

func (v *ValidateConfig) validate() error {
	if v.NullRatioMax < 0 || v.NullRatioMax > 1 {
		return fmt.Errorf("validate.null_ratio_max 必须在 [0,1] 内")
	}
	if v.ZeroVolumeRatioMax < 0 || v.ZeroVolumeRatioMax > 1 {
		return fmt.Errorf("validate.zero_volume_ratio_max 必须在 [0,1] 内")
	}
	if v.CoverageMin < 0 || v.CoverageMin > 1 {
		return fmt.Errorf("validate.coverage_min 必须在 [0,1] 内")
	}
	if v.StalenessSeconds < 0 {
		return fmt.Errorf("validate.staleness_seconds 必须 >= 0")
	}
	return nil
}
