package trend

import (
	"math"
	"strings"
)

// 市场状态标签。
const (
	RegimeBull  = "bull"
	RegimeBear  = "bear"
	RegimeRange = "range"
)

// CompositeScore 返回 0-100 的综合评分：有外部量化评分时直接采用，
// 否则把趋势分 [-100,100] 线性映射到 [0,100]。
func CompositeScore(quant *QuantAnalysis, r Result) float64 {
	if quant != nil && quant.Score != nil {
		return math.Max(0, math.Min(100, *quant.Score))
	}
	return math.Round((r.Score+100)/2*100) / 100
}

// Regime 返回 market_regime：优先外部量化结论，否则由趋势状态推导。
func Regime(quant *QuantAnalysis, state State) string {
	if quant != nil {
		if regime := strings.TrimSpace(quant.MarketRegime); regime != "" {
			return regime
		}
	}
	switch {
	case state == StrongUp || state == Up:
		return RegimeBull
	case state == StrongDown || state == Down:
		return RegimeBear
	default:
		return RegimeRange
	}
}
