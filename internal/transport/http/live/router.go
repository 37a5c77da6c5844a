package livehttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quantcore/internal/feed"
	"quantcore/internal/logger"
	"quantcore/internal/market"
	"quantcore/internal/pipeline"
	"quantcore/internal/store/journal"
	"quantcore/internal/strategy"

	"github.com/gin-gonic/gin"
)

// 请求体上限。
const maxBodyBytes = 8 << 20

// AnalysisObserver 分析耗时埋点。
type AnalysisObserver interface {
	ObserveAnalysis(mode string, d time.Duration, err error)
}

// BarPublisher 接收实时推送的 K 线。
type BarPublisher interface {
	Publish(ctx context.Context, evt feed.Event) error
	Pending() int
}

// Router 暴露分析、策略池与信号日志接口。
type Router struct {
	Analyzer *pipeline.Analyzer
	Executor *strategy.Executor
	Catalog  *strategy.Catalog
	Journal  *journal.Store
	Observer AnalysisObserver
	Bars     BarPublisher
}

// Register 将 /api/live 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/analyze", r.handleAnalyze)
	group.POST("/analyze/batch", r.handleBatch)
	group.GET("/strategies", r.handleStrategies)
	group.POST("/strategies/reload", r.handleReload)
	group.GET("/strategies/:id/ledger", r.handleLedger)
	group.GET("/strategies/:id/positions/:symbol", r.handlePosition)
	group.POST("/execute", r.handleExecute)
	group.POST("/fills", r.handleFill)
	group.GET("/signals", r.handleSignals)
	group.GET("/signals/stats", r.handleSignalStats)
	group.GET("/signals/:id", r.handleSignalByID)
	group.POST("/bars", r.handleBars)
}

func (r *Router) observe(mode string, start time.Time, err error) {
	if r.Observer != nil {
		r.Observer.ObserveAnalysis(mode, time.Since(start), err)
	}
}

func readBody(c *gin.Context) ([]byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return raw, true
}

func (r *Router) handleAnalyze(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	in, err := pipeline.ParseInput(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start := time.Now()
	b, err := r.Analyzer.Analyze(c.Request.Context(), in)
	r.observe("single", start, err)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"result": b}
	if r.Journal != nil && parseBoolDefaultTrue(c.Query("record")) {
		entry, err := r.Journal.Record(c.Request.Context(), "api", b)
		if err != nil {
			logger.Errorf("[api] journal record %s failed: %v", b.Symbol, err)
		} else {
			resp["journal_id"] = entry.ID
		}
	}
	c.JSON(http.StatusOK, resp)
}

type batchItem struct {
	Symbol string           `json:"symbol"`
	Result *pipeline.Bundle `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func (r *Router) analyzeBatch(ctx context.Context, inputs []pipeline.Input) ([]batchItem, []pipeline.Bundle) {
	start := time.Now()
	results := r.Analyzer.Batch(ctx, inputs)
	items := make([]batchItem, len(results))
	ok := make([]pipeline.Bundle, 0, len(results))
	var failed error
	for i, res := range results {
		items[i] = batchItem{Symbol: res.Symbol}
		if res.Err != nil {
			items[i].Error = res.Err.Error()
			failed = res.Err
			continue
		}
		b := res.Bundle
		items[i].Result = &b
		ok = append(ok, b)
	}
	r.observe("batch", start, failed)
	return items, ok
}

func (r *Router) handleBatch(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	inputs, err := pipeline.ParseInputs(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, bundles := r.analyzeBatch(c.Request.Context(), inputs)
	if r.Journal != nil && len(bundles) > 0 && parseBoolDefaultTrue(c.Query("record")) {
		if _, err := r.Journal.RecordBatch(c.Request.Context(), "api", bundles); err != nil {
			logger.Errorf("[api] journal batch record failed: %v", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "succeeded": len(bundles), "failed": len(items) - len(bundles)})
}

func (r *Router) handleStrategies(c *gin.Context) {
	if r.Executor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "策略池未启用"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": r.Executor.Strategies()})
}

func (r *Router) handleReload(c *gin.Context) {
	if r.Catalog == nil || r.Executor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "策略目录未启用"})
		return
	}
	if err := r.Catalog.Reload(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	snap := r.Catalog.Snapshot()
	c.JSON(http.StatusOK, gin.H{"version": snap.Version, "strategies": r.Executor.Strategies()})
}

func (r *Router) handleLedger(c *gin.Context) {
	if r.Executor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "策略池未启用"})
		return
	}
	l, ok := r.Executor.Ledger(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}
	c.JSON(http.StatusOK, l)
}

func (r *Router) handlePosition(c *gin.Context) {
	if r.Executor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "策略池未启用"})
		return
	}
	sym := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	pos, ok := r.Executor.Position(c.Param("id"), sym)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
		return
	}
	c.JSON(http.StatusOK, pos)
}

// handleExecute 先分析全部标的，再交给策略池生成订单意图与离场意图。
func (r *Router) handleExecute(c *gin.Context) {
	if r.Executor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "策略池未启用"})
		return
	}
	raw, ok := readBody(c)
	if !ok {
		return
	}
	inputs, err := pipeline.ParseInputs(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, bundles := r.analyzeBatch(c.Request.Context(), inputs)
	data := make(strategy.MarketData, len(bundles))
	symbols := make([]string, 0, len(bundles))
	for _, b := range bundles {
		data[b.Symbol] = b.Instrument()
		symbols = append(symbols, b.Symbol)
	}
	ctx := c.Request.Context()
	report, err := r.Executor.Execute(ctx, symbols, data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	exits, err := r.Executor.CheckExits(ctx, data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": items, "report": report, "exits": exits})
}

func (r *Router) handleFill(c *gin.Context) {
	if r.Executor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "策略池未启用"})
		return
	}
	var f strategy.Fill
	if err := c.ShouldBindJSON(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f.Symbol = strings.ToUpper(strings.TrimSpace(f.Symbol))
	if f.Time.IsZero() {
		f.Time = time.Now().UTC()
	}
	if err := r.Executor.Fill(f); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, strategy.ErrUnknownStrategy) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	l, _ := r.Executor.Ledger(f.StrategyID)
	c.JSON(http.StatusOK, gin.H{"ledger": l})
}

func (r *Router) handleSignals(c *gin.Context) {
	if r.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "信号日志未启用"})
		return
	}
	q := journal.Query{
		Symbol:     strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		SignalType: strings.ToLower(strings.TrimSpace(c.Query("type"))),
		Limit:      parseLimit(c, 100, 1000),
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := market.ParseTime(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		q.Since = since
	}
	entries, err := r.Journal.List(c.Request.Context(), q)
	if err != nil {
		logger.Errorf("[api] list signals failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries, "limit": q.Limit})
}

func (r *Router) handleSignalStats(c *gin.Context) {
	if r.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "信号日志未启用"})
		return
	}
	counts, err := r.Journal.Count(c.Request.Context(), strings.ToUpper(strings.TrimSpace(c.Query("symbol"))))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (r *Router) handleSignalByID(c *gin.Context) {
	if r.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "信号日志未启用"})
		return
	}
	entry, err := r.Journal.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, journal.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	b, err := entry.Decode()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry, "result": b})
}

type barsRequest struct {
	Symbol  string         `json:"symbol" binding:"required"`
	Candles market.Candles `json:"candles" binding:"required"`
}

// handleBars 按顺序推入 K 线，遇到第一个失败即停止，返回已接收数量。
func (r *Router) handleBars(c *gin.Context) {
	if r.Bars == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "实时推送未启用"})
		return
	}
	var req barsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	for i, candle := range req.Candles {
		err := r.Bars.Publish(ctx, feed.Event{Symbol: req.Symbol, Candle: candle})
		if err == nil {
			continue
		}
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, feed.ErrOutOfOrder):
			status = http.StatusConflict
		case errors.Is(err, feed.ErrClosed), errors.Is(err, feed.ErrStopped):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error(), "accepted": i})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(req.Candles), "pending": r.Bars.Pending()})
}

// parseLimit 读取 limit（兼容 pageSize/page_size），越界时取默认或上限。
func parseLimit(c *gin.Context, def, maxLimit int) int {
	n, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if n <= 0 {
		n, _ = strconv.Atoi(c.DefaultQuery("pageSize", "0"))
	}
	if n <= 0 {
		n, _ = strconv.Atoi(c.DefaultQuery("page_size", "0"))
	}
	if n <= 0 {
		return def
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func parseBoolDefaultTrue(val string) bool {
	s := strings.TrimSpace(strings.ToLower(val))
	if s == "" {
		return true
	}
	return s != "0" && s != "false"
}
