package backtesthttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"quantcore/internal/backtest"
	"quantcore/internal/export"
	"quantcore/internal/logger"
	"quantcore/internal/market"
	livehttp "quantcore/internal/transport/http/live"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// HTTPObserver 请求级指标埋点。
type HTTPObserver interface {
	ObserveHTTP(method, route string, code int, d time.Duration)
}

// Server 提供回测与实时分析的 HTTP API。
type Server struct {
	addr    string
	svc     *backtest.Service
	builder *backtest.Builder
	results *backtest.ResultStore
	router  *gin.Engine
	live    *livehttp.Router
}

// Config 描述 HTTP Server 的依赖。Metrics 非空时挂载 /metrics。
type Config struct {
	Addr      string
	Svc       *backtest.Service
	Builder   *backtest.Builder
	Live      *livehttp.Router
	Metrics   http.Handler
	Observer  HTTPObserver
	RateLimit float64
	Burst     int
}

// NewServer 构建 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Svc == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Observer))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	s := &Server{
		addr:    cfg.Addr,
		svc:     cfg.Svc,
		builder: cfg.Builder,
		results: cfg.Svc.Store(),
		router:  router,
		live:    cfg.Live,
	}
	s.registerRoutes(rateLimiter(cfg.RateLimit, cfg.Burst))
	return s, nil
}

func (s *Server) registerRoutes(limit gin.HandlerFunc) {
	api := s.router.Group("/api/backtest")
	api.POST("/runs", limit, s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/equity", s.handleRunEquity)
	api.GET("/runs/:id/chart", s.handleRunChart)

	if s.live != nil {
		live := s.router.Group("/api/live")
		live.Use(limit)
		s.live.Register(live)
	}
}

// Handler 暴露路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler { return s.router }

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

type runRequest struct {
	Symbol     string          `json:"symbol" binding:"required"`
	Source     string          `json:"source"`
	StrategyID string          `json:"strategy_id"`
	Candles    market.Candles  `json:"candles"`
	CandlesCSV string          `json:"candles_csv"`
	RecordsCSV string          `json:"records_csv"`
	BuyScore   float64         `json:"buy_score"`
	SellScore  float64         `json:"sell_score"`
	Warmup     int             `json:"warmup"`
	Config     json.RawMessage `json:"config"`
	Chart      bool            `json:"chart"`
	Async      bool            `json:"async"`
}

func (req runRequest) candles() (market.Candles, error) {
	if strings.TrimSpace(req.CandlesCSV) != "" {
		return market.ReadCandleCSV(strings.NewReader(req.CandlesCSV))
	}
	if len(req.Candles) == 0 {
		return nil, errors.New("candles or candles_csv is required")
	}
	for i, c := range req.Candles {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("candle %d: %w", i, err)
		}
	}
	return req.Candles, nil
}

func (req runRequest) spec() (backtest.SourceSpec, error) {
	spec := backtest.SourceSpec{
		Kind:       req.Source,
		StrategyID: req.StrategyID,
		BuyScore:   req.BuyScore,
		SellScore:  req.SellScore,
		Warmup:     req.Warmup,
	}
	if strings.TrimSpace(req.RecordsCSV) != "" {
		recs, err := export.ReadSignalCSV(strings.NewReader(req.RecordsCSV))
		if err != nil {
			return spec, fmt.Errorf("records_csv: %w", err)
		}
		spec.Records = recs
	}
	return spec, nil
}

// engineConfig 在服务默认参数上叠加请求中的覆盖项。
func (s *Server) engineConfig(raw json.RawMessage) (*backtest.EngineConfig, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	cfg := s.svc.Defaults()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (s *Server) handleRunStart(c *gin.Context) {
	if s.builder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测数据构建未启用"})
		return
	}
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	candles, err := req.candles()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spec, err := req.spec()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	engineCfg, err := s.engineConfig(req.Config)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	bars, src, err := s.builder.Build(ctx, req.Symbol, candles, spec)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	btReq := backtest.Request{Symbol: strings.ToUpper(strings.TrimSpace(req.Symbol)), Config: engineCfg, Chart: req.Chart}
	if req.Async {
		run, err := s.svc.Start(btReq, bars, src)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"run": run})
		return
	}
	run, res, err := s.svc.Run(ctx, btReq, bars, src)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if run.ID != "" {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": err.Error(), "run": run})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "metrics": res.Metrics, "trades": res.Trades})
}

func (s *Server) handleRunList(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) loadRun(c *gin.Context) (backtest.Run, bool) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return backtest.Run{}, false
	}
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, backtest.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return backtest.Run{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return backtest.Run{}, false
	}
	return run, true
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	trades, err := s.results.ListTrades(c.Request.Context(), run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunEquity(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	curve, err := s.results.ListEquity(c.Request.Context(), run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": curve})
}

func (s *Server) handleRunChart(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	if run.ChartPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "该回测未生成图表"})
		return
	}
	if _, err := os.Stat(run.ChartPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "图表文件不存在"})
		return
	}
	c.File(run.ChartPath)
}

// rateLimiter 全局令牌桶，rps<=0 时不限流。
func rateLimiter(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !lim.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func requestLogger(obs HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		if obs != nil {
			obs.ObserveHTTP(method, c.FullPath(), status, dur)
		}
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

// Start 启动 HTTP 服务，ctx 取消后优雅退出。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] listening on %s", s.addr)

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
