package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"barn/internal/align"
	"barn/internal/bundle"
	"barn/internal/calendar"
	"barn/internal/logger"
	"barn/internal/market"
	symbolpkg "barn/internal/pkg/symbol"
	"barn/internal/source"
	"barn/internal/store/ingestlog"
	"barn/internal/validate"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options 控制流水线行为。
type Options struct {
	// GapPolicy 是资产类别级别的补洞上限。
	GapPolicy align.GapPolicy
	// GapPolicies 按日历名覆盖 GapPolicy，键不区分大小写。
	// 同一个 Service 实例服务多个日历时（HTTP 入口）按请求解析。
	GapPolicies map[string]align.GapPolicy
	// Validate 配置校验检查集与阈值。
	Validate validate.Config
	// DropRateMax 是对齐阶段允许的最大丢弃比例，超过视为日历配置问题。
	DropRateMax float64
	// Concurrency 限制批量摄取的并行 symbol 数。
	Concurrency int
	// BundlePrefix 拼在 symbol 前构成 bundle 名。
	BundlePrefix string
}

func (o Options) withDefaults() Options {
	if o.DropRateMax <= 0 {
		o.DropRateMax = 0.05
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.BundlePrefix == "" {
		o.BundlePrefix = "bundle"
	}
	if len(o.GapPolicies) > 0 {
		norm := make(map[string]align.GapPolicy, len(o.GapPolicies))
		for name, pol := range o.GapPolicies {
			norm[strings.ToLower(strings.TrimSpace(name))] = pol
		}
		o.GapPolicies = norm
	}
	return o
}

// policyFor 依次按给出的日历名查找覆盖项，都没有时退回默认策略。
func (o Options) policyFor(names ...string) align.GapPolicy {
	for _, n := range names {
		if pol, ok := o.GapPolicies[strings.ToLower(strings.TrimSpace(n))]; ok {
			return pol
		}
	}
	return o.GapPolicy
}

// Request 描述一次批量摄取：同一日历、同一粒度下的一组 symbol。
type Request struct {
	Symbols      []string
	CalendarName string
	Timeframe    market.Timeframe
	First        int64 // session 日（Unix ms UTC 午夜）
	Last         int64
}

// SymbolResult 是单个 symbol 的摄取结果。Err 非空时其余字段尽力填充。
type SymbolResult struct {
	Symbol     string
	Bundle     string
	RunID      string
	AlignStats align.Stats
	FillStats  align.FillStats
	Report     *validate.Report
	Err        error
}

// BatchReport 汇总一个批次。单个 symbol 失败不影响其余 symbol。
type BatchReport struct {
	BatchID string
	Results []SymbolResult
}

// Failed 返回失败的 symbol 列表。
func (r BatchReport) Failed() []string {
	var out []string
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res.Symbol)
		}
	}
	return out
}

// Service 把拉取、对齐、补洞、聚合、校验、落库串成每 symbol 一条流水线。
type Service struct {
	src       source.CandleSource
	calendars *calendar.Registry
	store     *bundle.Store
	registry  *bundle.Registry
	runlog    *ingestlog.Store
	opts      Options
}

func NewService(src source.CandleSource, calendars *calendar.Registry, store *bundle.Store, registry *bundle.Registry, runlog *ingestlog.Store, opts Options) (*Service, error) {
	if src == nil {
		return nil, fmt.Errorf("数据源不能为空")
	}
	if calendars == nil {
		return nil, fmt.Errorf("日历注册表不能为空")
	}
	if store == nil {
		return nil, fmt.Errorf("bundle store 不能为空")
	}
	return &Service{
		src:       src,
		calendars: calendars,
		store:     store,
		registry:  registry,
		runlog:    runlog,
		opts:      opts.withDefaults(),
	}, nil
}

// Run 并行摄取一个批次。返回的 error 只反映批次级问题（配置错误、ctx 取消），
// 单 symbol 失败记录在 BatchReport 里。
func (s *Service) Run(ctx context.Context, req Request) (BatchReport, error) {
	if len(req.Symbols) == 0 {
		return BatchReport{}, &ConfigurationError{Field: "symbols", Err: fmt.Errorf("不能为空")}
	}
	if req.First <= 0 || req.Last < req.First {
		return BatchReport{}, &ConfigurationError{Field: "range", Err: fmt.Errorf("非法区间 [%d, %d]", req.First, req.Last)}
	}
	cal, err := s.calendars.Resolve(req.CalendarName)
	if err != nil {
		return BatchReport{}, &ConfigurationError{Field: "calendar", Err: err}
	}
	if req.Timeframe != market.TimeframeMinute && req.Timeframe != market.TimeframeSession {
		return BatchReport{}, &ConfigurationError{Field: "timeframe", Err: fmt.Errorf("不支持的粒度: %s", req.Timeframe)}
	}
	if len(cal.SessionsInRange(req.First, req.Last)) == 0 {
		return BatchReport{}, &ConfigurationError{Field: "range", Err: fmt.Errorf("区间内没有交易 session")}
	}

	symbols := symbolpkg.NormalizeList(req.Symbols)
	batchID := uuid.NewString()
	report := BatchReport{BatchID: batchID, Results: make([]SymbolResult, 0, len(symbols))}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			res := s.ingestSymbol(gctx, batchID, sym, cal, req)
			mu.Lock()
			report.Results = append(report.Results, res)
			mu.Unlock()
			if res.Err != nil {
				logger.With("symbol", sym, "batch", batchID).Error("摄取失败", "err", res.Err)
			}
			// symbol 级失败不传播，保持其余 symbol 继续。
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	sort.Slice(report.Results, func(i, j int) bool { return report.Results[i].Symbol < report.Results[j].Symbol })
	return report, nil
}

func (s *Service) ingestSymbol(ctx context.Context, batchID, symbol string, cal calendar.Calendar, req Request) SymbolResult {
	res := SymbolResult{
		Symbol: symbol,
		Bundle: s.bundleName(symbol),
	}
	if s.runlog != nil {
		runID, err := s.runlog.Begin(ctx, batchID, symbol, res.Bundle, cal.Name)
		if err != nil {
			res.Err = fmt.Errorf("登记运行记录失败: %w", err)
			return res
		}
		res.RunID = runID
	}
	res.Err = s.runPipeline(ctx, symbol, cal, req, &res)
	s.finishRun(ctx, res)
	return res
}

func (s *Service) runPipeline(ctx context.Context, symbol string, cal calendar.Calendar, req Request, res *SymbolResult) error {
	sessions := cal.SessionsInRange(req.First, req.Last)
	gapPolicy := s.opts.policyFor(req.CalendarName, cal.Name)
	fetchReq := source.FetchRequest{
		Symbol:   symbol,
		Interval: req.Timeframe.SourceInterval(),
		Start:    cal.SessionOpen(sessions[0]),
		End:      cal.SessionClose(sessions[len(sessions)-1]),
	}
	raw, err := s.src.Fetch(ctx, fetchReq)
	if err != nil {
		return &SourceFetchError{Source: s.src.Name(), Symbol: symbol, Err: err}
	}

	series := validate.Series{
		Symbol:    symbol,
		Calendar:  cal,
		Timeframe: req.Timeframe,
		First:     req.First,
		Last:      req.Last,
	}
	b := bundle.Bundle{
		Name:         res.Bundle,
		Symbol:       symbol,
		CalendarName: cal.Name,
		Timeframe:    req.Timeframe,
		FirstSession: req.First,
		LastSession:  req.Last,
	}

	switch req.Timeframe {
	case market.TimeframeMinute:
		fine, stats := align.AlignFine(symbol, raw, cal)
		res.AlignStats = stats
		if err := s.checkDropRate(symbol, cal.Name, stats); err != nil {
			return err
		}
		filled, fillStats, err := align.FillFine(symbol, fine, cal, req.First, req.Last, gapPolicy)
		if err != nil {
			return err
		}
		res.FillStats = fillStats
		coarse, err := align.Aggregate(filled, cal, req.First, req.Last)
		if err != nil {
			return err
		}
		series.Fine, series.Coarse = filled, coarse
		b.Fine, b.Coarse = filled, coarse
	case market.TimeframeSession:
		bars, stats := align.AlignSessions(symbol, raw, cal)
		res.AlignStats = stats
		if err := s.checkDropRate(symbol, cal.Name, stats); err != nil {
			return err
		}
		filled, fillStats, err := align.FillSessions(symbol, bars, cal, req.First, req.Last, gapPolicy)
		if err != nil {
			return err
		}
		res.FillStats = fillStats
		series.Coarse = filled
		b.Coarse = filled
	}

	report := validate.Run(series, s.opts.Validate)
	res.Report = &report
	if !report.Passed() {
		return &ValidationFailure{Symbol: symbol, Report: report}
	}

	if err := b.Validate(cal); err != nil {
		return err
	}
	if err := s.store.Write(ctx, b); err != nil {
		return fmt.Errorf("写入 bundle 失败: %w", err)
	}
	mismatch, err := bundle.Preflight(ctx, s.store, s.calendars, b.Name)
	if err != nil {
		return err
	}
	if !mismatch.Clean() {
		return &bundle.SessionMismatchError{Report: mismatch}
	}
	if s.registry != nil {
		freq := "coarse"
		if req.Timeframe == market.TimeframeMinute {
			freq = "fine"
		}
		entry := bundle.Entry{
			Symbols:       []string{symbol},
			CalendarName:  cal.Name,
			Timeframe:     req.Timeframe,
			FirstSession:  req.First,
			LastSession:   req.Last,
			DataFrequency: freq,
		}
		if err := s.registry.Upsert(b.Name, entry); err != nil {
			return fmt.Errorf("更新注册表失败: %w", err)
		}
	}
	return nil
}

func (s *Service) checkDropRate(symbol, calName string, stats align.Stats) error {
	if stats.Total == 0 {
		return nil
	}
	if float64(stats.Dropped)/float64(stats.Total) > s.opts.DropRateMax {
		return &AlignmentError{Symbol: symbol, Calendar: calName, Stats: stats, DropLimit: s.opts.DropRateMax}
	}
	return nil
}

func (s *Service) finishRun(ctx context.Context, res SymbolResult) {
	if s.runlog == nil || res.RunID == "" {
		return
	}
	rec := ingestlog.Run{
		Status:      ingestlog.StatusSucceeded,
		TotalRaw:    res.AlignStats.Total,
		Dropped:     res.AlignStats.Dropped,
		Rebucketed:  res.AlignStats.Rebucketed,
		Duplicates:  res.AlignStats.Duplicates,
		Synthesized: res.FillStats.Synthesized,
		Report:      res.Report,
	}
	if res.Err != nil {
		rec.Status = ingestlog.StatusFailed
		rec.Error = res.Err.Error()
	}
	if err := s.runlog.Finish(ctx, res.RunID, rec); err != nil {
		logger.Warnf("回填运行记录失败 (run %s): %v", res.RunID, err)
	}
}

func (s *Service) bundleName(symbol string) string {
	clean := strings.ToLower(symbolpkg.Binance.ToExchange(symbol))
	return s.opts.BundlePrefix + "-" + clean
}
