package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"quantcore/internal/analysis/visual"
	"quantcore/internal/logger"
	"quantcore/internal/market"
	"quantcore/internal/risk"

	"github.com/google/uuid"
)

var log = logger.Named("backtest")

// RunObserver 回测完成（含失败）后的回调，用于指标统计。
type RunObserver interface {
	ObserveRun(run Run, res Result)
}

// ServiceConfig 配置 Service。Store 为空时结果不落库。
type ServiceConfig struct {
	Store         *ResultStore
	Engine        EngineConfig
	Risk          *risk.Manager
	ChartDir      string
	ExportPNG     bool
	MaxConcurrent int
	Observer      RunObserver
}

// Request 单次回测请求。Config 为空时使用服务默认参数。
type Request struct {
	Symbol string
	Config *EngineConfig
	Chart  bool
}

// Service 负责创建 run、执行回放、落库与出图。
type Service struct {
	store     *ResultStore
	defaults  EngineConfig
	risk      *risk.Manager
	chartDir  string
	exportPNG bool
	observer  RunObserver

	sem     chan struct{}
	wg      sync.WaitGroup
	baseCtx context.Context
}

func NewService(cfg ServiceConfig) *Service {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	defaults := cfg.Engine
	if defaults.InitialCapital <= 0 {
		defaults = DefaultEngineConfig()
	}
	return &Service{
		store:     cfg.Store,
		defaults:  defaults,
		risk:      cfg.Risk,
		chartDir:  cfg.ChartDir,
		exportPNG: cfg.ExportPNG,
		observer:  cfg.Observer,
		sem:       make(chan struct{}, maxConcurrent),
		baseCtx:   context.Background(),
	}
}

// SetContext 注入宿主 ctx，用于异步任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) Store() *ResultStore { return s.store }

func (s *Service) Defaults() EngineConfig { return s.defaults }

func (s *Service) newRun(req Request, bars []Bar, src SignalSource) (Run, EngineConfig, error) {
	if src == nil {
		return Run{}, EngineConfig{}, errors.New("signal source 不能为空")
	}
	if err := ValidateBars(bars); err != nil {
		return Run{}, EngineConfig{}, err
	}
	cfg := s.defaults
	if req.Config != nil {
		cfg = *req.Config
	}
	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		symbol = bars[0].Symbol
	}
	now := time.Now().UTC()
	run := Run{
		ID:        uuid.NewString(),
		Source:    src.Name(),
		Symbol:    symbol,
		Status:    RunStatusPending,
		StartTime: bars[0].Time(),
		EndTime:   bars[len(bars)-1].Time(),
		Bars:      len(bars),
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return run, cfg, nil
}

// Run 同步执行一次回测并返回完整结果。
func (s *Service) Run(ctx context.Context, req Request, bars []Bar, src SignalSource) (Run, Result, error) {
	run, cfg, err := s.newRun(req, bars, src)
	if err != nil {
		return Run{}, Result{}, err
	}
	if s.store != nil {
		if err := s.store.InsertRun(ctx, run); err != nil {
			return Run{}, Result{}, fmt.Errorf("insert run: %w", err)
		}
	}
	return s.execute(ctx, run, cfg, req.Chart, bars, src)
}

// Start 异步执行，立即返回 pending 状态的 run。需要 Store。
func (s *Service) Start(req Request, bars []Bar, src SignalSource) (Run, error) {
	if s.store == nil {
		return Run{}, errors.New("异步回测需要 result store")
	}
	run, cfg, err := s.newRun(req, bars, src)
	if err != nil {
		return Run{}, err
	}
	if err := s.store.InsertRun(s.baseCtx, run); err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	bars = append([]Bar(nil), bars...)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.sem <- struct{}{}:
		case <-s.baseCtx.Done():
			s.fail(run, s.baseCtx.Err())
			return
		}
		defer func() { <-s.sem }()
		_, _, _ = s.execute(s.baseCtx, run, cfg, req.Chart, bars, src)
	}()
	return run, nil
}

// Wait 等待所有异步任务结束。
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) execute(ctx context.Context, run Run, cfg EngineConfig, chart bool, bars []Bar, src SignalSource) (Run, Result, error) {
	if s.store != nil {
		if err := s.store.UpdateRunStatus(ctx, run.ID, RunStatusRunning, ""); err != nil {
			log.Warnf("run %s 状态更新失败: %v", run.ID, err)
		}
	}
	run.Status = RunStatusRunning
	started := time.Now()

	res, err := NewEngine(cfg, s.risk).Run(ctx, bars, src)
	if err != nil {
		run = s.fail(run, err)
		return run, Result{}, err
	}
	if chart {
		path, err := s.renderChart(ctx, run, bars, res)
		if err != nil {
			log.Warnf("run %s 出图失败: %v", run.ID, err)
		}
		run.ChartPath = path
	}
	if s.store != nil {
		if err := s.store.SaveResult(ctx, run.ID, res, run.ChartPath); err != nil {
			run = s.fail(run, err)
			return run, res, fmt.Errorf("save result: %w", err)
		}
	}
	now := time.Now().UTC()
	run.Status = RunStatusDone
	run.Metrics = res.Metrics
	run.Message = "完成"
	run.UpdatedAt = now
	run.CompletedAt = now
	log.Infof("run %s %s/%s 完成 bars=%d trades=%d return=%.2f%% mdd=%.2f%% 用时 %s",
		run.ID, run.Source, run.Symbol, run.Bars, res.Metrics.TradeCount,
		res.Metrics.TotalReturn*100, res.Metrics.MaxDrawdown*100, time.Since(started).Round(time.Millisecond))
	if s.observer != nil {
		s.observer.ObserveRun(run, res)
	}
	return run, res, nil
}

func (s *Service) fail(run Run, cause error) Run {
	log.Errorf("run %s 失败: %v", run.ID, cause)
	run.Status = RunStatusFailed
	run.Message = cause.Error()
	run.UpdatedAt = time.Now().UTC()
	run.CompletedAt = run.UpdatedAt
	if s.store != nil {
		// 原 ctx 可能已取消，失败状态仍需写入。
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.UpdateRunStatus(ctx, run.ID, RunStatusFailed, run.Message); err != nil {
			log.Warnf("run %s 失败状态写入失败: %v", run.ID, err)
		}
	}
	if s.observer != nil {
		s.observer.ObserveRun(run, Result{Source: run.Source, Symbol: run.Symbol})
	}
	return run
}

func (s *Service) renderChart(ctx context.Context, run Run, bars []Bar, res Result) (string, error) {
	if s.chartDir == "" {
		return "", nil
	}
	in := ChartInput(ctx, run, bars, res)
	var (
		rep visual.Report
		err error
	)
	if s.exportPNG {
		rep, err = visual.RenderPNG(in)
		if err != nil && len(rep.HTML) > 0 {
			log.Warnf("run %s PNG 导出失败，仅保存 HTML: %v", run.ID, err)
			err = nil
		}
	} else {
		rep, err = visual.RenderHTML(in)
	}
	if err != nil {
		return "", err
	}
	return visual.WriteFiles(s.chartDir, rep)
}

// ChartInput 把回测结果转换为报告图输入。
func ChartInput(ctx context.Context, run Run, bars []Bar, res Result) visual.ReportInput {
	candles := make(market.Candles, len(bars))
	for i, b := range bars {
		candles[i] = b.Candle
	}
	curve := make([]visual.Point, len(res.Curve))
	for i, p := range res.Curve {
		curve[i] = visual.Point{Time: p.Time, Equity: p.Equity, Drawdown: p.Drawdown}
	}
	marks := make([]visual.Mark, len(res.Fills))
	for i, f := range res.Fills {
		marks[i] = visual.Mark{Time: f.Time, Buy: f.Side == ActionBuy.String(), Price: f.Price}
	}
	m := res.Metrics
	return visual.ReportInput{
		Context: ctx,
		Title:   fmt.Sprintf("%s_%s_%s", run.Source, run.Symbol, shortID(run.ID)),
		Subtitle: fmt.Sprintf("收益 %.2f%% | 年化 %.2f%% | 最大回撤 %.2f%% | Sharpe %.2f | 胜率 %.1f%% | 交易 %d",
			m.TotalReturn*100, m.AnnualizedReturn*100, m.MaxDrawdown*100, m.SharpeRatio, m.WinRate*100, m.TradeCount),
		Candles: candles,
		Curve:   curve,
		Marks:   marks,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
