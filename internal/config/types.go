package config

import "strings"

// Config 是 quantcore 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Trend    TrendConfig    `toml:"trend"`
	Scoring  ScoringConfig  `toml:"scoring"`
	Risk     RiskConfig     `toml:"risk"`
	Pyramid  PyramidConfig  `toml:"pyramid"`
	Exit     ExitConfig     `toml:"exit"`
	Executor ExecutorConfig `toml:"executor"`
	Backtest BacktestConfig `toml:"backtest"`
	Storage  StorageConfig  `toml:"storage"`
	HTTP     HTTPConfig     `toml:"http"`
	Chart    ChartConfig    `toml:"chart"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	DataDir  string `toml:"data_dir"`
}

// TrendConfig 趋势分级阈值（对称使用）。
type TrendConfig struct {
	StrongThreshold float64 `toml:"strong_threshold"`
	TrendThreshold  float64 `toml:"trend_threshold"`
	WeakThreshold   float64 `toml:"weak_threshold"`
	ADXStrong       float64 `toml:"adx_strong"`
	ADXWeak         float64 `toml:"adx_weak"`
}

// ScoringConfig 信号评分门槛与各条件权重覆盖。
type ScoringConfig struct {
	MinScoreForSignal      float64            `toml:"min_score_for_signal"`
	MinConditionsForSignal int                `toml:"min_conditions_for_signal"`
	TrendProtectionFactor  float64            `toml:"trend_protection_factor"`
	RSIOversold            float64            `toml:"rsi_oversold"`
	RSIOverbought          float64            `toml:"rsi_overbought"`
	VolumeRatioThreshold   float64            `toml:"volume_ratio_threshold"`
	BuyWeights             map[string]float64 `toml:"buy_weights"`
	SellWeights            map[string]float64 `toml:"sell_weights"`
}

// RiskConfig 止损止盈与仓位建议。
type RiskConfig struct {
	HoldingPeriod         string    `toml:"holding_period"` // short | swing | long
	ShortATRMultiplier    float64   `toml:"short_atr_multiplier"`
	SwingATRMultiplier    float64   `toml:"swing_atr_multiplier"`
	LongATRMultiplier     float64   `toml:"long_atr_multiplier"`
	SupportBufferATR      float64   `toml:"support_buffer_atr"`
	MinStopLossPct        float64   `toml:"min_stop_loss_pct"`
	MaxStopLossPct        float64   `toml:"max_stop_loss_pct"`
	TakeProfitMultiples   []float64 `toml:"take_profit_multiples"`
	RiskPerTradePct       float64   `toml:"risk_per_trade_pct"`
	MaxPositionPct        float64   `toml:"max_position_pct"`
	TrailingActivationATR float64   `toml:"trailing_activation_atr"`
	TrailingStopATR       float64   `toml:"trailing_stop_atr"`
}

// PyramidConfig 分批建仓参数。
type PyramidConfig struct {
	InitialScore    float64 `toml:"initial_score"`
	InitialPct      float64 `toml:"initial_pct"`
	PullbackScore   float64 `toml:"pullback_score"`
	PullbackPct     float64 `toml:"pullback_pct"`
	BreakoutATR     float64 `toml:"breakout_atr"`
	BreakoutPct     float64 `toml:"breakout_pct"`
	MaxPullbackAdds int     `toml:"max_pullback_adds"`
	MaxAdds         int     `toml:"max_adds"`
	MaxSinglePct    float64 `toml:"max_single_pct"`
	MaxTotalPct     float64 `toml:"max_total_pct"`
	LotSize         int64   `toml:"lot_size"`
}

// ExitConfig 离场规则参数。
type ExitConfig struct {
	ProfitProtectTrigger float64 `toml:"profit_protect_trigger"`
	ProfitProtectFloor   float64 `toml:"profit_protect_floor"`
	ShortMaxDays         int     `toml:"short_max_days"`
	SwingMaxDays         int     `toml:"swing_max_days"`
	LongMaxDays          int     `toml:"long_max_days"`
	SignalMinStrength    int     `toml:"signal_min_strength"`
}

// ExecutorConfig 策略池配置。
type ExecutorConfig struct {
	CatalogPath  string `toml:"catalog_path"`
	Concurrency  int    `toml:"concurrency"`
	WatchCatalog bool   `toml:"watch_catalog"`
	// HistoryBars 实时推送时每个标的保留的 K 线根数。
	HistoryBars int `toml:"history_bars"`
	// MinBars 少于该根数时只缓存不分析。
	MinBars int `toml:"min_bars"`
}

// BacktestConfig 回测撮合与绩效参数。
type BacktestConfig struct {
	InitialCapital float64 `toml:"initial_capital"`
	FeeRate        float64 `toml:"fee_rate"`
	SlippageBps    float64 `toml:"slippage_bps"`
	PositionPct    float64 `toml:"position_pct"`
	PeriodsPerYear float64 `toml:"periods_per_year"`
	RiskFreeRate   float64 `toml:"risk_free_rate"`
	UseRiskExits   bool    `toml:"use_risk_exits"`
	BuyScore       float64 `toml:"buy_score"`
	SellScore      float64 `toml:"sell_score"`
	FeedCapacity   int     `toml:"feed_capacity"`
	Warmup         int     `toml:"warmup"`
	MaxConcurrent  int     `toml:"max_concurrent"`
}

type StorageConfig struct {
	BacktestDB string `toml:"backtest_db"`
	JournalDB  string `toml:"journal_db"`
}

type HTTPConfig struct {
	Addr    string `toml:"addr"`
	Metrics bool   `toml:"metrics"`
	// RateLimit 每秒请求数，<=0 不限流。
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
}

type ChartConfig struct {
	ExportPNG bool   `toml:"export_png"`
	Dir       string `toml:"dir"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
