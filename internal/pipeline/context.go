package pipeline

import (
	"strings"
	"sync"
	"time"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/analysis/signal"
	"quantcore/internal/analysis/trend"
	"quantcore/internal/market"
	"quantcore/internal/risk"
	"quantcore/internal/strategy"
)

// Input 单个标的一次分析的输入。Snapshot/Levels 给出时直接使用，否则由 Candles 计算。
type Input struct {
	Symbol        string               `json:"symbol"`
	Time          time.Time            `json:"time"`
	Price         float64              `json:"price"`
	Candles       market.Candles       `json:"candles,omitempty"`
	Snapshot      *indicator.Snapshot  `json:"indicators,omitempty"`
	Levels        *indicator.Levels    `json:"levels,omitempty"`
	Quant         *trend.QuantAnalysis `json:"quant_analysis,omitempty"`
	Summary       *signal.TrendSummary `json:"trend_analysis,omitempty"`
	HoldingPeriod risk.HoldingPeriod   `json:"holding_period,omitempty"`
}

// AnalysisContext 一次 pipeline 执行期间的共享状态，读写均加锁。
type AnalysisContext struct {
	Symbol    string
	StartedAt time.Time

	input Input

	mu       sync.RWMutex
	snapshot *indicator.Snapshot
	levels   indicator.Levels
	trend    *trend.Result
	sig      *signal.TradingSignal
	params   risk.RiskParameters
	plan     string
	warnings []string
}

// NewContext 拷贝输入并初始化上下文。
func NewContext(in Input) *AnalysisContext {
	in.Symbol = strings.TrimSpace(in.Symbol)
	in.Candles = append(market.Candles(nil), in.Candles...)
	ac := &AnalysisContext{Symbol: in.Symbol, StartedAt: time.Now(), input: in}
	if in.Snapshot != nil {
		snap := *in.Snapshot
		ac.snapshot = &snap
	}
	if in.Levels != nil {
		ac.levels = *in.Levels
	}
	return ac
}

func (ac *AnalysisContext) Input() Input { return ac.input }

// Time 输入时间，缺省取最后一根 K 线。
func (ac *AnalysisContext) Time() time.Time {
	if !ac.input.Time.IsZero() {
		return ac.input.Time
	}
	if n := len(ac.input.Candles); n > 0 {
		return ac.input.Candles[n-1].Time()
	}
	return time.Time{}
}

// Price 显式价格 > 快照价格 > 最后收盘价。
func (ac *AnalysisContext) Price() float64 {
	if ac.input.Price > 0 {
		return ac.input.Price
	}
	if snap, ok := ac.Snapshot(); ok {
		if p, ok := indicator.Value(snap.Price); ok && p > 0 {
			return p
		}
	}
	if n := len(ac.input.Candles); n > 0 {
		return ac.input.Candles[n-1].Close
	}
	return 0
}

func (ac *AnalysisContext) SetSnapshot(s indicator.Snapshot) {
	ac.mu.Lock()
	ac.snapshot = &s
	ac.mu.Unlock()
}

func (ac *AnalysisContext) Snapshot() (indicator.Snapshot, bool) {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	if ac.snapshot == nil {
		return indicator.Snapshot{}, false
	}
	return *ac.snapshot, true
}

func (ac *AnalysisContext) SetLevels(l indicator.Levels) {
	ac.mu.Lock()
	ac.levels = l
	ac.mu.Unlock()
}

func (ac *AnalysisContext) Levels() indicator.Levels {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.levels
}

func (ac *AnalysisContext) SetTrend(r trend.Result) {
	ac.mu.Lock()
	ac.trend = &r
	ac.mu.Unlock()
}

func (ac *AnalysisContext) Trend() (trend.Result, bool) {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	if ac.trend == nil {
		return trend.Result{State: trend.Sideways}, false
	}
	return *ac.trend, true
}

func (ac *AnalysisContext) SetSignal(s signal.TradingSignal) {
	ac.mu.Lock()
	ac.sig = &s
	ac.mu.Unlock()
}

func (ac *AnalysisContext) Signal() (signal.TradingSignal, bool) {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	if ac.sig == nil {
		return signal.TradingSignal{Type: signal.Hold}, false
	}
	return *ac.sig, true
}

// SetRisk 保存风控参数与仓位计划文本。
func (ac *AnalysisContext) SetRisk(params risk.RiskParameters, plan string) {
	ac.mu.Lock()
	ac.params = params
	ac.plan = plan
	ac.mu.Unlock()
}

func (ac *AnalysisContext) AddWarning(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	ac.mu.Lock()
	ac.warnings = append(ac.warnings, msg)
	ac.mu.Unlock()
}

func (ac *AnalysisContext) Warnings() []string {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return append([]string(nil), ac.warnings...)
}

// Bundle 一次分析的对外输出，字段即 JSON 契约。
type Bundle struct {
	Symbol           string               `json:"symbol"`
	Time             time.Time            `json:"time"`
	Price            float64              `json:"price"`
	Signal           signal.TradingSignal `json:"signal"`
	Risk             risk.RiskParameters  `json:"risk"`
	Trend            TrendView            `json:"trend"`
	PositionStrategy string               `json:"position_strategy"`
	Score            float64              `json:"score"`
	MarketRegime     string               `json:"market_regime"`
	Indicators       indicator.Snapshot   `json:"indicators"`
	Levels           indicator.Levels     `json:"levels"`
	Warnings         []string             `json:"warnings,omitempty"`

	quant   *trend.QuantAnalysis
	summary *signal.TrendSummary
}

// TrendView 趋势结果加中文标签。
type TrendView struct {
	trend.Result
	Label string `json:"label"`
}

// Bundle 汇总当前上下文。
func (ac *AnalysisContext) Bundle() Bundle {
	snap, _ := ac.Snapshot()
	tr, _ := ac.Trend()
	sig, _ := ac.Signal()
	ac.mu.RLock()
	params, plan := ac.params, ac.plan
	ac.mu.RUnlock()
	return Bundle{
		Symbol:           ac.Symbol,
		Time:             ac.Time(),
		Price:            ac.Price(),
		Signal:           sig,
		Risk:             params,
		Trend:            TrendView{Result: tr, Label: tr.State.Label()},
		PositionStrategy: plan,
		Score:            trend.CompositeScore(ac.input.Quant, tr),
		MarketRegime:     trend.Regime(ac.input.Quant, tr.State),
		Indicators:       snap,
		Levels:           ac.Levels(),
		Warnings:         ac.Warnings(),
		quant:            ac.input.Quant,
		summary:          ac.input.Summary,
	}
}

// Instrument 转为策略层输入。
func (b Bundle) Instrument() strategy.InstrumentData {
	return strategy.InstrumentData{
		Symbol:   b.Symbol,
		Time:     b.Time,
		Price:    b.Price,
		Snapshot: b.Indicators,
		Quant:    b.quant,
		Summary:  b.summary,
		Levels:   b.Levels,
	}
}
