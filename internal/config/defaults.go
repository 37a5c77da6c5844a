package config

import (
	"path/filepath"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppDataDir  = "data"

	defaultTrendStrong = 50
	defaultTrendUp     = 25
	defaultTrendWeak   = 10
	defaultADXStrong   = 25
	defaultADXWeak     = 15

	defaultMinScore        = 4
	defaultMinConditions   = 2
	defaultTrendProtection = 1.5
	defaultRSIOversold     = 30
	defaultRSIOverbought   = 70
	defaultVolumeRatio     = 1.5

	defaultHoldingPeriod      = "swing"
	defaultShortATR           = 1.5
	defaultSwingATR           = 2.0
	defaultLongATR            = 2.5
	defaultSupportBufferATR   = 0.5
	defaultMinStopLossPct     = 0.02
	defaultMaxStopLossPct     = 0.10
	defaultRiskPerTradePct    = 0.02
	defaultMaxPositionPct     = 0.30
	defaultTrailingActivation = 3
	defaultTrailingStop       = 0.5

	defaultPyramidInitialScore  = 75
	defaultPyramidInitialPct    = 0.05
	defaultPyramidPullbackScore = 90
	defaultPyramidPullbackPct   = 0.03
	defaultPyramidBreakoutATR   = 0.3
	defaultPyramidBreakoutPct   = 0.05
	defaultPyramidPullbackAdds  = 1
	defaultPyramidMaxAdds       = 2
	defaultPyramidMaxSingle     = 0.20
	defaultPyramidMaxTotal      = 0.80
	defaultLotSize              = 100

	defaultProfitProtectTrigger = 0.02
	defaultProfitProtectFloor   = 0.005
	defaultShortMaxDays         = 5
	defaultSwingMaxDays         = 20
	defaultLongMaxDays          = 60
	defaultSignalMinStrength    = 2

	defaultCatalogPath = "configs/strategies.yaml"
	defaultConcurrency = 4
	defaultHistoryBars = 250
	defaultMinBars     = 60

	defaultInitialCapital = 1_000_000
	defaultFeeRate        = 0.0003
	defaultSlippageBps    = 5
	defaultPositionPct    = 0.2
	defaultPeriodsPerYear = 252
	defaultBuyScore       = 60
	defaultSellScore      = 40
	defaultFeedCapacity   = 256
	defaultWarmup         = 60
	defaultMaxConcurrent  = 2

	defaultHTTPAddr  = ":9991"
	defaultRateLimit = 20
	defaultBurst     = 40
)

var defaultTakeProfitMultiples = []float64{2, 3, 5}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Trend.applyDefaults(keys)
	c.Scoring.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Pyramid.applyDefaults(keys)
	c.Exit.applyDefaults(keys)
	c.Executor.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Storage.applyDefaults(keys, c.App.DataDir)
	c.HTTP.applyDefaults(keys)
	c.Chart.applyDefaults(keys, c.App.DataDir)
}

// Default 返回全部取默认值的配置，供无配置文件运行与测试使用。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(make(keySet))
	return &cfg
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.data_dir", &a.DataDir, defaultAppDataDir),
	)
}

func (t *TrendConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		positiveFloatDefault("trend.strong_threshold", &t.StrongThreshold, defaultTrendStrong),
		positiveFloatDefault("trend.trend_threshold", &t.TrendThreshold, defaultTrendUp),
		positiveFloatDefault("trend.weak_threshold", &t.WeakThreshold, defaultTrendWeak),
		positiveFloatDefault("trend.adx_strong", &t.ADXStrong, defaultADXStrong),
		positiveFloatDefault("trend.adx_weak", &t.ADXWeak, defaultADXWeak),
	)
}

func (s *ScoringConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		positiveFloatDefault("scoring.min_score_for_signal", &s.MinScoreForSignal, defaultMinScore),
		fieldDefault{
			key:   "scoring.min_conditions_for_signal",
			need:  func() bool { return s.MinConditionsForSignal <= 0 },
			apply: func() { s.MinConditionsForSignal = defaultMinConditions },
		},
		positiveFloatDefault("scoring.trend_protection_factor", &s.TrendProtectionFactor, defaultTrendProtection),
		positiveFloatDefault("scoring.rsi_oversold", &s.RSIOversold, defaultRSIOversold),
		positiveFloatDefault("scoring.rsi_overbought", &s.RSIOverbought, defaultRSIOverbought),
		positiveFloatDefault("scoring.volume_ratio_threshold", &s.VolumeRatioThreshold, defaultVolumeRatio),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("risk.holding_period", &r.HoldingPeriod, defaultHoldingPeriod),
		positiveFloatDefault("risk.short_atr_multiplier", &r.ShortATRMultiplier, defaultShortATR),
		positiveFloatDefault("risk.swing_atr_multiplier", &r.SwingATRMultiplier, defaultSwingATR),
		positiveFloatDefault("risk.long_atr_multiplier", &r.LongATRMultiplier, defaultLongATR),
		positiveFloatDefault("risk.support_buffer_atr", &r.SupportBufferATR, defaultSupportBufferATR),
		positiveFloatDefault("risk.min_stop_loss_pct", &r.MinStopLossPct, defaultMinStopLossPct),
		positiveFloatDefault("risk.max_stop_loss_pct", &r.MaxStopLossPct, defaultMaxStopLossPct),
		fieldDefault{
			key:   "risk.take_profit_multiples",
			need:  func() bool { return len(r.TakeProfitMultiples) == 0 },
			apply: func() { r.TakeProfitMultiples = append([]float64(nil), defaultTakeProfitMultiples...) },
		},
		positiveFloatDefault("risk.risk_per_trade_pct", &r.RiskPerTradePct, defaultRiskPerTradePct),
		positiveFloatDefault("risk.max_position_pct", &r.MaxPositionPct, defaultMaxPositionPct),
		positiveFloatDefault("risk.trailing_activation_atr", &r.TrailingActivationATR, defaultTrailingActivation),
		positiveFloatDefault("risk.trailing_stop_atr", &r.TrailingStopATR, defaultTrailingStop),
	)
}

func (p *PyramidConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		positiveFloatDefault("pyramid.initial_score", &p.InitialScore, defaultPyramidInitialScore),
		positiveFloatDefault("pyramid.initial_pct", &p.InitialPct, defaultPyramidInitialPct),
		positiveFloatDefault("pyramid.pullback_score", &p.PullbackScore, defaultPyramidPullbackScore),
		positiveFloatDefault("pyramid.pullback_pct", &p.PullbackPct, defaultPyramidPullbackPct),
		positiveFloatDefault("pyramid.breakout_atr", &p.BreakoutATR, defaultPyramidBreakoutATR),
		positiveFloatDefault("pyramid.breakout_pct", &p.BreakoutPct, defaultPyramidBreakoutPct),
		fieldDefault{
			key:   "pyramid.max_pullback_adds",
			need:  func() bool { return p.MaxPullbackAdds <= 0 },
			apply: func() { p.MaxPullbackAdds = defaultPyramidPullbackAdds },
		},
		fieldDefault{
			key:   "pyramid.max_adds",
			need:  func() bool { return p.MaxAdds <= 0 },
			apply: func() { p.MaxAdds = defaultPyramidMaxAdds },
		},
		positiveFloatDefault("pyramid.max_single_pct", &p.MaxSinglePct, defaultPyramidMaxSingle),
		positiveFloatDefault("pyramid.max_total_pct", &p.MaxTotalPct, defaultPyramidMaxTotal),
		fieldDefault{
			key:   "pyramid.lot_size",
			need:  func() bool { return p.LotSize <= 0 },
			apply: func() { p.LotSize = defaultLotSize },
		},
	)
}

func (e *ExitConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		positiveFloatDefault("exit.profit_protect_trigger", &e.ProfitProtectTrigger, defaultProfitProtectTrigger),
		positiveFloatDefault("exit.profit_protect_floor", &e.ProfitProtectFloor, defaultProfitProtectFloor),
		positiveIntDefault("exit.short_max_days", &e.ShortMaxDays, defaultShortMaxDays),
		positiveIntDefault("exit.swing_max_days", &e.SwingMaxDays, defaultSwingMaxDays),
		positiveIntDefault("exit.long_max_days", &e.LongMaxDays, defaultLongMaxDays),
		positiveIntDefault("exit.signal_min_strength", &e.SignalMinStrength, defaultSignalMinStrength),
	)
}

func (e *ExecutorConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("executor.catalog_path", &e.CatalogPath, defaultCatalogPath),
		positiveIntDefault("executor.concurrency", &e.Concurrency, defaultConcurrency),
		positiveIntDefault("executor.history_bars", &e.HistoryBars, defaultHistoryBars),
		positiveIntDefault("executor.min_bars", &e.MinBars, defaultMinBars),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		positiveFloatDefault("backtest.initial_capital", &b.InitialCapital, defaultInitialCapital),
		positiveFloatDefault("backtest.fee_rate", &b.FeeRate, defaultFeeRate),
		positiveFloatDefault("backtest.slippage_bps", &b.SlippageBps, defaultSlippageBps),
		positiveFloatDefault("backtest.position_pct", &b.PositionPct, defaultPositionPct),
		positiveFloatDefault("backtest.periods_per_year", &b.PeriodsPerYear, defaultPeriodsPerYear),
		boolFieldDefault("backtest.use_risk_exits", &b.UseRiskExits, true),
		positiveFloatDefault("backtest.buy_score", &b.BuyScore, defaultBuyScore),
		positiveFloatDefault("backtest.sell_score", &b.SellScore, defaultSellScore),
		positiveIntDefault("backtest.feed_capacity", &b.FeedCapacity, defaultFeedCapacity),
		positiveIntDefault("backtest.warmup", &b.Warmup, defaultWarmup),
		positiveIntDefault("backtest.max_concurrent", &b.MaxConcurrent, defaultMaxConcurrent),
	)
}

func (s *StorageConfig) applyDefaults(keys keySet, dataDir string) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("storage.backtest_db", &s.BacktestDB, filepath.Join(dataDir, "backtest.db")),
		stringFieldDefault("storage.journal_db", &s.JournalDB, filepath.Join(dataDir, "journal.db")),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
		boolFieldDefault("http.metrics", &h.Metrics, true),
		positiveFloatDefault("http.rate_limit", &h.RateLimit, defaultRateLimit),
		positiveIntDefault("http.burst", &h.Burst, defaultBurst),
	)
}

func (c *ChartConfig) applyDefaults(keys keySet, dataDir string) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("chart.dir", &c.Dir, filepath.Join(dataDir, "charts")),
	)
}

// Helper functions

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

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func positiveFloatDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func positiveIntDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
