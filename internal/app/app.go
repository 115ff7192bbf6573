package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"barn/internal/align"
	"barn/internal/bundle"
	"barn/internal/calendar"
	brncfg "barn/internal/config"
	"barn/internal/ingest"
	"barn/internal/logger"
	"barn/internal/source"
	"barn/internal/store/ingestlog"
	barnhttp "barn/internal/transport/http"
	"barn/internal/validate"
)

// App 负责应用级编排：加载配置→初始化依赖→执行摄取或启动服务。
type App struct {
	cfg       *brncfg.Config
	calendars *calendar.Registry
	store     *bundle.Store
	registry  *bundle.Registry
	runlog    *ingestlog.Store
	src       source.CandleSource
	server    *barnhttp.Server
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *brncfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	calendars := calendar.Builtin()
	if extra := strings.TrimSpace(cfg.Calendar.ExtraFile); extra != "" {
		if err := calendar.LoadFile(calendars, extra); err != nil {
			return nil, fmt.Errorf("加载补充日历失败: %w", err)
		}
	}

	store, err := bundle.NewStore(cfg.Bundle.Root)
	if err != nil {
		return nil, err
	}
	registry, err := bundle.NewRegistry(cfg.Bundle.RegistryPath)
	if err != nil {
		store.Close()
		return nil, err
	}
	runlog, err := ingestlog.NewStore(cfg.Bundle.RunLogPath)
	if err != nil {
		store.Close()
		return nil, err
	}
	src, err := buildSource(cfg.Source)
	if err != nil {
		store.Close()
		runlog.Close()
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		calendars: calendars,
		store:     store,
		registry:  registry,
		runlog:    runlog,
		src:       src,
	}
	return a, nil
}

func buildSource(cfg brncfg.SourceConfig) (source.CandleSource, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "binance":
		return source.NewBinance(source.BinanceConfig{
			RESTBaseURL:  cfg.RESTBaseURL,
			HTTPTimeout:  time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
			ProxyEnabled: cfg.ProxyEnabled,
			ProxyURL:     cfg.ProxyURL,
		})
	case "file":
		return source.NewFile(cfg.FileDir)
	default:
		return nil, fmt.Errorf("不支持的数据源: %s", cfg.Name)
	}
}

// ingestService 组装流水线。补洞策略带上全部日历覆盖项，
// 由流水线按每个请求的日历解析，同一个实例可同时服务 CLI 与 HTTP。
func (a *App) ingestService() (*ingest.Service, error) {
	def := a.cfg.Ingest.GapPolicy
	overrides := make(map[string]align.GapPolicy, len(a.cfg.Ingest.GapPolicies))
	for name, pol := range a.cfg.Ingest.GapPolicies {
		overrides[name] = align.GapPolicy{MaxSessions: pol.MaxSessions, MaxMinutes: pol.MaxMinutes}
	}
	vcfg := a.cfg.Validate
	return ingest.NewService(a.src, a.calendars, a.store, a.registry, a.runlog, ingest.Options{
		GapPolicy:    align.GapPolicy{MaxSessions: def.MaxSessions, MaxMinutes: def.MaxMinutes},
		GapPolicies:  overrides,
		DropRateMax:  a.cfg.Ingest.DropRateMax,
		Concurrency:  a.cfg.Ingest.Concurrency,
		BundlePrefix: a.cfg.Ingest.BundlePrefix,
		Validate: validate.Config{
			Checks:             vcfg.Checks,
			Strict:             vcfg.Strict,
			NullRatioMax:       vcfg.NullRatioMax,
			ZeroVolumeRatioMax: vcfg.ZeroVolumeRatioMax,
			PriceJumpMaxPct:    vcfg.PriceJumpMaxPct,
			StalenessMax:       time.Duration(vcfg.StalenessSeconds) * time.Second,
			MinRows:            vcfg.MinRows,
			CoverageMin:        vcfg.CoverageMin,
		},
	})
}

// RunIngest 执行一个批次并打印逐 symbol 结果。
func (a *App) RunIngest(ctx context.Context, req ingest.Request) (ingest.BatchReport, error) {
	svc, err := a.ingestService()
	if err != nil {
		return ingest.BatchReport{}, err
	}
	report, err := svc.Run(ctx, req)
	if err != nil {
		return report, err
	}
	for _, res := range report.Results {
		if res.Err != nil {
			logger.Errorf("✗ %s: %v", res.Symbol, res.Err)
			continue
		}
		logger.Infof("✓ %s → %s (raw=%d synthesized=%d)",
			res.Symbol, res.Bundle, res.AlignStats.Total, res.FillStats.Synthesized)
	}
	if failed := report.Failed(); len(failed) > 0 {
		return report, fmt.Errorf("批次 %s 有 %d 个 symbol 失败: %s",
			report.BatchID, len(failed), strings.Join(failed, ", "))
	}
	return report, nil
}

// RunPreflight 对单个 bundle 做前置检查。
func (a *App) RunPreflight(ctx context.Context, name string) (bundle.MismatchReport, error) {
	return bundle.Preflight(ctx, a.store, a.calendars, name)
}

// Serve 启动 HTTP 服务并监听注册表文件变更，阻塞到 ctx 取消。
func (a *App) Serve(ctx context.Context) error {
	svc, err := a.ingestService()
	if err != nil {
		return err
	}
	server, err := barnhttp.NewServer(barnhttp.Config{
		Addr:      a.cfg.App.HTTPAddr,
		Store:     a.store,
		Registry:  a.registry,
		Calendars: a.calendars,
		Service:   svc,
		RunLog:    a.runlog,
	})
	if err != nil {
		return err
	}
	a.server = server
	if err := a.registry.Watch(ctx); err != nil {
		return fmt.Errorf("监听注册表失败: %w", err)
	}
	logger.Infof("HTTP 服务监听 %s", a.cfg.App.HTTPAddr)
	return server.Start(ctx)
}

// Close 释放存储连接。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var firstErr error
	if a.runlog != nil {
		if err := a.runlog.Close(); err != nil {
			firstErr = err
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
