package barnhttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"barn/internal/bundle"
	"barn/internal/calendar"
	"barn/internal/ingest"
	"barn/internal/market"
	"barn/internal/store/ingestlog"

	"github.com/gin-gonic/gin"
)

// Server 暴露 bundle 查询、前置检查与摄取 API。
type Server struct {
	addr      string
	store     *bundle.Store
	registry  *bundle.Registry
	calendars *calendar.Registry
	svc       *ingest.Service
	runlog    *ingestlog.Store
	router    *gin.Engine
}

// Config 描述 HTTP Server 的依赖。svc 与 runlog 可为空（只读部署）。
type Config struct {
	Addr      string
	Store     *bundle.Store
	Registry  *bundle.Registry
	Calendars *calendar.Registry
	Service   *ingest.Service
	RunLog    *ingestlog.Store
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("bundle store 不能为空")
	}
	if cfg.Calendars == nil {
		return nil, errors.New("日历注册表不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:      cfg.Addr,
		store:     cfg.Store,
		registry:  cfg.Registry,
		calendars: cfg.Calendars,
		svc:       cfg.Service,
		runlog:    cfg.RunLog,
		router:    router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	api.GET("/calendars", s.handleCalendars)
	api.GET("/bundles", s.handleBundleList)
	api.GET("/bundles/:name", s.handleBundleDetail)
	api.GET("/bundles/:name/preflight", s.handlePreflight)
	api.GET("/runs", s.handleRuns)
	api.GET("/runs/:id", s.handleRunDetail)
	api.POST("/ingest", s.handleIngest)
}

func (s *Server) handleCalendars(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calendars": s.calendars.Names()})
}

func (s *Server) handleBundleList(c *gin.Context) {
	metas, err := s.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bundles": metas})
}

func (s *Server) handleBundleDetail(c *gin.Context) {
	name := c.Param("name")
	b, err := s.store.Load(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	// 明细接口只回元数据与粗粒度序列，细粒度走专门的读取端。
	b.Fine = nil
	resp := gin.H{"bundle": b}
	if s.registry != nil {
		if entry, ok := s.registry.Get(name); ok {
			resp["registry"] = entry
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePreflight(c *gin.Context) {
	name := c.Param("name")
	report, err := bundle.Preflight(c.Request.Context(), s.store, s.calendars, name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if !report.Clean() {
		// 409: bundle 存在但与日历不一致，读取端必须拒绝加载。
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"report": report, "clean": report.Clean(), "detail": report.Describe()})
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.runlog == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "运行记录未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if batch := c.Query("batch"); batch != "" {
		runs, err := s.runlog.Batch(c.Request.Context(), batch)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
		return
	}
	runs, err := s.runlog.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	if s.runlog == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "运行记录未启用"})
		return
	}
	run, err := s.runlog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleIngest(c *gin.Context) {
	if s.svc == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "摄取服务未启用"})
		return
	}
	var req struct {
		Symbols   []string `json:"symbols" binding:"required"`
		Calendar  string   `json:"calendar" binding:"required"`
		Timeframe string   `json:"timeframe" binding:"required"`
		First     string   `json:"first" binding:"required"`
		Last      string   `json:"last" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tf, err := market.ParseTimeframe(req.Timeframe)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	first, err := calendar.ParseSessionDate(req.First)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	last, err := calendar.ParseSessionDate(req.Last)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := s.svc.Run(c.Request.Context(), ingest.Request{
		Symbols:      req.Symbols,
		CalendarName: req.Calendar,
		Timeframe:    tf,
		First:        first,
		Last:         last,
	})
	if err != nil {
		var cfgErr *ingest.ConfigurationError
		if errors.As(err, &cfgErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": report.BatchID, "failed": report.Failed(), "results": resultsView(report)})
}

type symbolResultView struct {
	Symbol string `json:"symbol"`
	Bundle string `json:"bundle"`
	RunID  string `json:"run_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func resultsView(report ingest.BatchReport) []symbolResultView {
	out := make([]symbolResultView, 0, len(report.Results))
	for _, res := range report.Results {
		view := symbolResultView{Symbol: res.Symbol, Bundle: res.Bundle, RunID: res.RunID}
		if res.Err != nil {
			view.Error = res.Err.Error()
		}
		out = append(out, view)
	}
	return out
}

// Handler 暴露路由，测试直连。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
