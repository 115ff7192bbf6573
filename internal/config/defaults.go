package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9980"
	defaultAppLogPath        = "/data/logs/barn.log"
	defaultSourceName        = "binance"
	defaultSourceREST        = "https://fapi.binance.com"
	defaultSourceTimeout     = 15
	defaultBundleRoot        = "/data/bundles"
	defaultRegistryPath      = "/data/bundles/registry.json"
	defaultRunLogPath        = "/data/bundles/runs.db"
	defaultBundlePrefix      = "bundle"
	defaultIngestConcurrency = 4
	defaultDropRateMax       = 0.05
	defaultGapMaxSessions    = 3
	defaultGapMaxMinutes     = 5
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Source.applyDefaults(keys)
	c.Bundle.applyDefaults(keys)
	c.Ingest.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (s *SourceConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("source.name", &s.Name, defaultSourceName),
		stringFieldDefault("source.rest_base_url", &s.RESTBaseURL, defaultSourceREST),
		fieldDefault{
			key:   "source.http_timeout_seconds",
			need:  func() bool { return s.HTTPTimeoutSeconds <= 0 },
			apply: func() { s.HTTPTimeoutSeconds = defaultSourceTimeout },
		},
	)
}

func (b *BundleConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("bundle.root", &b.Root, defaultBundleRoot),
		stringFieldDefault("bundle.registry_path", &b.RegistryPath, defaultRegistryPath),
		stringFieldDefault("bundle.run_log_path", &b.RunLogPath, defaultRunLogPath),
	)
}

func (i *IngestConfig) applyDefaults(keys keySet) {
	if i == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ingest.bundle_prefix", &i.BundlePrefix, defaultBundlePrefix),
		fieldDefault{
			key:   "ingest.concurrency",
			need:  func() bool { return i.Concurrency <= 0 },
			apply: func() { i.Concurrency = defaultIngestConcurrency },
		},
		fieldDefault{
			key:   "ingest.drop_rate_max",
			need:  func() bool { return i.DropRateMax <= 0 },
			apply: func() { i.DropRateMax = defaultDropRateMax },
		},
		fieldDefault{
			key:   "ingest.gap_policy.max_sessions",
			need:  func() bool { return i.GapPolicy.MaxSessions <= 0 },
			apply: func() { i.GapPolicy.MaxSessions = defaultGapMaxSessions },
		},
		fieldDefault{
			key:   "ingest.gap_policy.max_minutes",
			need:  func() bool { return i.GapPolicy.MaxMinutes <= 0 },
			apply: func() { i.GapPolicy.MaxMinutes = defaultGapMaxMinutes },
		},
	)
	if len(i.GapPolicies) > 0 {
		normalized := make(map[string]GapPolicyConfig, len(i.GapPolicies))
		for name, pol := range i.GapPolicies {
			normalized[strings.ToLower(strings.TrimSpace(name))] = pol
		}
		i.GapPolicies = normalized
	}
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
