package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/analysis/signal"
	"quantcore/internal/analysis/trend"
	"quantcore/internal/backtest"
	"quantcore/internal/config"
	"quantcore/internal/logger"
	"quantcore/internal/metrics"
	"quantcore/internal/pipeline"
	"quantcore/internal/pipeline/factory"
	"quantcore/internal/risk"
	"quantcore/internal/store/journal"
	"quantcore/internal/strategy"
	backtesthttp "quantcore/internal/transport/http/backtest"
	livehttp "quantcore/internal/transport/http/live"

	"github.com/google/wire"
)

// analysisSet 分析链：趋势分级、评分、风控与 pipeline。
var analysisSet = wire.NewSet(
	provideTrendConfig,
	trend.NewClassifier,
	provideSignalConfig,
	signal.NewScorer,
	provideRiskConfig,
	risk.NewManager,
	provideHoldingPeriod,
	provideFactory,
	provideAnalyzer,
)

// strategySet 策略池与目录。
var strategySet = wire.NewSet(
	strategy.BuiltinRegistry,
	strategy.NewToolkit,
	wire.Bind(new(strategy.Observer), new(*metrics.Registry)),
	strategy.NewExecutor,
	provideCatalog,
)

// serviceSet 存储、回测、实时推送与 HTTP。
var serviceSet = wire.NewSet(
	metrics.New,
	provideResultStore,
	provideJournal,
	provideEngineConfig,
	provideBacktestService,
	provideBacktestBuilder,
	provideLiveService,
	provideLiveRouter,
	provideHTTPServer,
	provideApp,
)

func provideTrendConfig(cfg *config.Config) trend.Config {
	t := cfg.Trend
	return trend.Config{
		StrongThreshold: t.StrongThreshold,
		TrendThreshold:  t.TrendThreshold,
		WeakThreshold:   t.WeakThreshold,
		ADXStrong:       t.ADXStrong,
		ADXWeak:         t.ADXWeak,
	}
}

// provideSignalConfig 未在配置中出现的参数沿用评分器默认值。
func provideSignalConfig(cfg *config.Config) (signal.Config, error) {
	s := cfg.Scoring
	weights, err := signal.NewWeights(s.BuyWeights, s.SellWeights)
	if err != nil {
		return signal.Config{}, fmt.Errorf("scoring weights: %w", err)
	}
	out := signal.DefaultConfig()
	out.Weights = weights
	out.MinScoreForSignal = s.MinScoreForSignal
	out.MinConditionsForSignal = s.MinConditionsForSignal
	out.TrendProtectionFactor = s.TrendProtectionFactor
	out.RSIOversold = s.RSIOversold
	out.RSIOverbought = s.RSIOverbought
	out.VolumeRatioThreshold = s.VolumeRatioThreshold
	return out, nil
}

func provideRiskConfig(cfg *config.Config) risk.Config {
	r, p, e := cfg.Risk, cfg.Pyramid, cfg.Exit
	return risk.Config{
		ShortATRMultiplier:    r.ShortATRMultiplier,
		SwingATRMultiplier:    r.SwingATRMultiplier,
		LongATRMultiplier:     r.LongATRMultiplier,
		SupportBufferATR:      r.SupportBufferATR,
		MinStopLossPct:        r.MinStopLossPct,
		MaxStopLossPct:        r.MaxStopLossPct,
		TakeProfitMultiples:   append([]float64(nil), r.TakeProfitMultiples...),
		RiskPerTradePct:       r.RiskPerTradePct,
		MaxPositionPct:        r.MaxPositionPct,
		TrailingActivationATR: r.TrailingActivationATR,
		TrailingStopATR:       r.TrailingStopATR,
		Pyramid: risk.PyramidConfig{
			InitialScore:    p.InitialScore,
			InitialPct:      p.InitialPct,
			PullbackScore:   p.PullbackScore,
			PullbackPct:     p.PullbackPct,
			BreakoutATR:     p.BreakoutATR,
			BreakoutPct:     p.BreakoutPct,
			MaxPullbackAdds: p.MaxPullbackAdds,
			MaxAdds:         p.MaxAdds,
			MaxSinglePct:    p.MaxSinglePct,
			MaxTotalPct:     p.MaxTotalPct,
			LotSize:         p.LotSize,
		},
		Exit: risk.ExitConfig{
			ProfitProtectTrigger: e.ProfitProtectTrigger,
			ProfitProtectFloor:   e.ProfitProtectFloor,
			ShortMaxDays:         e.ShortMaxDays,
			SwingMaxDays:         e.SwingMaxDays,
			LongMaxDays:          e.LongMaxDays,
			SignalMinStrength:    e.SignalMinStrength,
		},
	}
}

func provideHoldingPeriod(cfg *config.Config) (risk.HoldingPeriod, error) {
	return risk.ParseHoldingPeriod(cfg.Risk.HoldingPeriod)
}

func provideFactory(classifier *trend.Classifier, scorer *signal.Scorer, rm *risk.Manager, hp risk.HoldingPeriod) *factory.Factory {
	return &factory.Factory{
		Indicators:    indicator.DefaultSettings(),
		Classifier:    classifier,
		Scorer:        scorer,
		Risk:          rm,
		HoldingPeriod: hp,
	}
}

func provideAnalyzer(cfg *config.Config, fac *factory.Factory) (*pipeline.Analyzer, error) {
	p, err := fac.Pipeline("default")
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return pipeline.NewAnalyzer(p, fac.Indicators, cfg.Executor.Concurrency), nil
}

// provideCatalog 加载策略目录并挂到执行器上。目录文件不存在时策略池为空。
func provideCatalog(cfg *config.Config, exec *strategy.Executor) (*strategy.Catalog, error) {
	path := cfg.Executor.CatalogPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Warnf("[app] strategy catalog %s not found, executor starts empty", path)
		return nil, nil
	}
	catalog, err := strategy.NewCatalog(path, cfg.Executor.WatchCatalog)
	if err != nil {
		return nil, fmt.Errorf("load strategy catalog: %w", err)
	}
	report := exec.Watch(catalog)
	for _, f := range report.Failures {
		logger.Warnf("[app] strategy %s not loaded: %v", f.StrategyID, f.Err)
	}
	logger.Infof("[app] strategies loaded=%d skipped=%d failed=%d", len(report.Loaded), len(report.Skipped), len(report.Failures))
	return catalog, nil
}

func provideResultStore(cfg *config.Config) (*backtest.ResultStore, func(), error) {
	st, err := backtest.NewResultStore(cfg.Storage.BacktestDB)
	if err != nil {
		return nil, nil, fmt.Errorf("open backtest store: %w", err)
	}
	return st, func() {
		if err := st.Close(); err != nil {
			logger.Warnf("[app] close backtest store: %v", err)
		}
	}, nil
}

func provideJournal(cfg *config.Config) (*journal.Store, func(), error) {
	st, err := journal.Open(cfg.Storage.JournalDB)
	if err != nil {
		return nil, nil, fmt.Errorf("open signal journal: %w", err)
	}
	return st, func() {
		if err := st.Close(); err != nil {
			logger.Warnf("[app] close signal journal: %v", err)
		}
	}, nil
}

func provideEngineConfig(cfg *config.Config, hp risk.HoldingPeriod) backtest.EngineConfig {
	b := cfg.Backtest
	return backtest.EngineConfig{
		InitialCapital: b.InitialCapital,
		FeeRate:        b.FeeRate,
		SlippageBps:    b.SlippageBps,
		PositionPct:    b.PositionPct,
		LotSize:        cfg.Pyramid.LotSize,
		UseRiskExits:   b.UseRiskExits,
		HoldingPeriod:  hp,
		Metrics: backtest.MetricsConfig{
			PeriodsPerYear: b.PeriodsPerYear,
			RiskFreeRate:   b.RiskFreeRate,
		},
	}
}

func provideBacktestService(ctx context.Context, cfg *config.Config, st *backtest.ResultStore, engine backtest.EngineConfig, rm *risk.Manager, reg *metrics.Registry) *backtest.Service {
	svc := backtest.NewService(backtest.ServiceConfig{
		Store:         st,
		Engine:        engine,
		Risk:          rm,
		ChartDir:      cfg.Chart.Dir,
		ExportPNG:     cfg.Chart.ExportPNG,
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
		Observer:      reg,
	})
	svc.SetContext(ctx)
	return svc
}

func provideBacktestBuilder(cfg *config.Config, analyzer *pipeline.Analyzer, exec *strategy.Executor) *backtest.Builder {
	return &backtest.Builder{
		Analyzer:   analyzer,
		Strategies: exec,
		BuyScore:   cfg.Backtest.BuyScore,
		SellScore:  cfg.Backtest.SellScore,
		Warmup:     cfg.Backtest.Warmup,
	}
}

func provideLiveService(cfg *config.Config, analyzer *pipeline.Analyzer, exec *strategy.Executor, jr *journal.Store, reg *metrics.Registry) *LiveService {
	return NewLiveService(LiveConfig{
		Analyzer:    analyzer,
		Executor:    exec,
		Journal:     jr,
		Metrics:     reg,
		Capacity:    cfg.Backtest.FeedCapacity,
		HistoryBars: cfg.Executor.HistoryBars,
		MinBars:     cfg.Executor.MinBars,
	})
}

func provideLiveRouter(analyzer *pipeline.Analyzer, exec *strategy.Executor, catalog *strategy.Catalog, jr *journal.Store, reg *metrics.Registry, live *LiveService) *livehttp.Router {
	return &livehttp.Router{
		Analyzer: analyzer,
		Executor: exec,
		Catalog:  catalog,
		Journal:  jr,
		Observer: reg,
		Bars:     live,
	}
}

func provideHTTPServer(cfg *config.Config, svc *backtest.Service, builder *backtest.Builder, live *livehttp.Router, reg *metrics.Registry) (*backtesthttp.Server, error) {
	var metricsHandler http.Handler
	if cfg.HTTP.Metrics {
		metricsHandler = reg.Handler()
	}
	return backtesthttp.NewServer(backtesthttp.Config{
		Addr:      cfg.HTTP.Addr,
		Svc:       svc,
		Builder:   builder,
		Live:      live,
		Metrics:   metricsHandler,
		Observer:  reg,
		RateLimit: cfg.HTTP.RateLimit,
		Burst:     cfg.HTTP.Burst,
	})
}

func provideApp(cfg *config.Config, analyzer *pipeline.Analyzer, srv *backtesthttp.Server, svc *backtest.Service, builder *backtest.Builder, live *LiveService, exec *strategy.Executor, catalog *strategy.Catalog) *App {
	return &App{
		cfg:      cfg,
		http:     srv,
		backtest: svc,
		builder:  builder,
		live:     live,
		executor: exec,
		catalog:  catalog,
		Summary:  newStartupSummary(cfg, analyzer, exec, catalog),
	}
}

// NewAnalyzer 只构建分析链，供无需存储与 HTTP 的命令行使用。
func NewAnalyzer(cfg *config.Config) (*pipeline.Analyzer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAnalyzer(cfg)
}
