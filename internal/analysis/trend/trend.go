package trend

import (
	"fmt"
	"math"

	"quantcore/internal/analysis/indicator"
)

// State 趋势分级。
type State string

const (
	StrongUp   State = "strong_up"
	Up         State = "up"
	WeakUp     State = "weak_up"
	Sideways   State = "sideways"
	WeakDown   State = "weak_down"
	Down       State = "down"
	StrongDown State = "strong_down"
)

// IsUp 包含 weak_up/up/strong_up。
func (s State) IsUp() bool {
	return s == StrongUp || s == Up || s == WeakUp
}

// IsDown 包含 weak_down/down/strong_down。
func (s State) IsDown() bool {
	return s == StrongDown || s == Down || s == WeakDown
}

// Label 返回中文描述。
func (s State) Label() string {
	switch s {
	case StrongUp:
		return "强势上涨"
	case Up:
		return "上涨"
	case WeakUp:
		return "弱势上涨"
	case WeakDown:
		return "弱势下跌"
	case Down:
		return "下跌"
	case StrongDown:
		return "强势下跌"
	default:
		return "震荡"
	}
}

// QuantAnalysis 外部量化分析摘要，score 取值 0-100。
type QuantAnalysis struct {
	Score          *float64 `json:"quant_score,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	MarketRegime   string   `json:"market_regime,omitempty"`
}

// Config 分级与 ADX 阈值，对多空对称使用。
type Config struct {
	StrongThreshold float64
	TrendThreshold  float64
	WeakThreshold   float64
	ADXStrong       float64
	ADXWeak         float64
}

func DefaultConfig() Config {
	return Config{
		StrongThreshold: 50,
		TrendThreshold:  25,
		WeakThreshold:   10,
		ADXStrong:       25,
		ADXWeak:         15,
	}
}

// Component 记录单项贡献，便于解释评分。
type Component struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
	Note  string  `json:"note,omitempty"`
}

// Result 趋势分类结果。
type Result struct {
	State      State       `json:"state"`
	Score      float64     `json:"score"`
	Components []Component `json:"components,omitempty"`
}

// 各项贡献上限。
const (
	maAlignmentScore = 25
	priceVsMA20      = 8
	priceVsMA60      = 10
	priceVsMA120     = 12
	macdTrendScore   = 10
	macdHistScore    = 5
	adxStrongScore   = 15
	adxWeakScore     = 8
	cloudStrongScore = 15
	cloudWeakScore   = 8
	maxScore         = 100
)

// Classifier 是无状态的趋势分类器。
type Classifier struct {
	cfg Config
}

func NewClassifier(cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.StrongThreshold <= 0 {
		cfg.StrongThreshold = def.StrongThreshold
	}
	if cfg.TrendThreshold <= 0 {
		cfg.TrendThreshold = def.TrendThreshold
	}
	if cfg.WeakThreshold <= 0 {
		cfg.WeakThreshold = def.WeakThreshold
	}
	if cfg.ADXStrong <= 0 {
		cfg.ADXStrong = def.ADXStrong
	}
	if cfg.ADXWeak <= 0 {
		cfg.ADXWeak = def.ADXWeak
	}
	return &Classifier{cfg: cfg}
}

// Config 返回分类器使用的配置副本。
func (c *Classifier) Config() Config {
	if c == nil {
		return DefaultConfig()
	}
	return c.cfg
}

// Classify 汇总各项贡献得到 [-100,100] 的趋势分并映射为状态。缺失字段贡献为 0。
func (c *Classifier) Classify(snap indicator.Snapshot, quant *QuantAnalysis) Result {
	if c == nil {
		c = NewClassifier(Config{})
	}
	var comps []Component
	add := func(name string, score float64, note string) {
		if score != 0 {
			comps = append(comps, Component{Name: name, Score: score, Note: note})
		}
	}

	switch {
	case snap.MABullishAligned():
		add("ma_alignment", maAlignmentScore, "均线多头排列")
	case snap.MABearishAligned():
		add("ma_alignment", -maAlignmentScore, "均线空头排列")
	}

	add("price_vs_ma20", float64(snap.PriceVs(snap.MA20))*priceVsMA20, "价格相对MA20")
	add("price_vs_ma60", float64(snap.PriceVs(snap.MA60))*priceVsMA60, "价格相对MA60")
	add("price_vs_ma120", float64(snap.PriceVs(snap.MA120))*priceVsMA120, "价格相对MA120")

	if dif, ok := indicator.Value(snap.MACD.DIF); ok {
		if dea, ok := indicator.Value(snap.MACD.DEA); ok {
			add("macd_trend", sign(dif-dea)*macdTrendScore, "DIF相对DEA")
		}
	}
	if hist, ok := indicator.Value(snap.MACD.Histogram); ok {
		add("macd_histogram", sign(hist)*macdHistScore, "MACD柱")
	}

	if adx, ok := indicator.Value(snap.ADX.Value); ok {
		dir := float64(snap.ADX.DMIDirection())
		switch {
		case adx >= c.cfg.ADXStrong:
			add("adx", dir*adxStrongScore, fmt.Sprintf("ADX=%.1f 强趋势", adx))
		case adx >= c.cfg.ADXWeak:
			add("adx", dir*adxWeakScore, fmt.Sprintf("ADX=%.1f 趋势形成", adx))
		}
	}

	if pos := snap.CloudPosition(); pos != 0 {
		score := float64(cloudWeakScore)
		if snap.Ichimoku.TenkanKijun() == pos {
			score = cloudStrongScore
		}
		note := "云上"
		if pos < 0 {
			note = "云下"
		}
		add("ichimoku", float64(pos)*score, note)
	}

	if quant != nil && quant.Score != nil {
		add("quant", quantNudge(*quant.Score), fmt.Sprintf("量化评分 %.0f", *quant.Score))
	}

	total := 0.0
	for _, comp := range comps {
		total += comp.Score
	}
	total = math.Max(-maxScore, math.Min(maxScore, total))
	return Result{State: c.StateFor(total), Score: total, Components: comps}
}

// StateFor 使用对称阈值把分数映射为状态。
func (c *Classifier) StateFor(score float64) State {
	cfg := c.Config()
	switch {
	case score >= cfg.StrongThreshold:
		return StrongUp
	case score >= cfg.TrendThreshold:
		return Up
	case score >= cfg.WeakThreshold:
		return WeakUp
	case score <= -cfg.StrongThreshold:
		return StrongDown
	case score <= -cfg.TrendThreshold:
		return Down
	case score <= -cfg.WeakThreshold:
		return WeakDown
	default:
		return Sideways
	}
}

func quantNudge(score float64) float64 {
	switch {
	case score >= 70:
		return 10
	case score >= 60:
		return 5
	case score <= 30:
		return -10
	case score <= 40:
		return -5
	default:
		return 0
	}
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
