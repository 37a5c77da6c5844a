package risk

import (
	"fmt"
	"strings"

	"quantcore/internal/analysis/signal"
)

// PositionStrategy 根据信号与风控参数生成分批建仓说明文本。
func (m *Manager) PositionStrategy(sig signal.TradingSignal, params RiskParameters, price float64) string {
	cfg := m.Config()
	py := cfg.Pyramid
	var b strings.Builder
	switch sig.Type {
	case signal.Buy:
		fmt.Fprintf(&b, "【建仓计划】信号强度 %d/5，置信度 %.0f%%，建议总仓位不超过 %.0f%%\n",
			sig.Strength, sig.Confidence*100, params.SuggestedPositionPct*100)
		fmt.Fprintf(&b, "1. 首仓：综合评分 >= %.0f 时以 %.0f%% 资金建仓，参考价 %.4f\n", py.InitialScore, py.InitialPct*100, price)
		fmt.Fprintf(&b, "2. 回调加仓：评分 >= %.0f、价格低于成本且未破支撑时加 %.0f%%，最多 %d 次\n",
			py.PullbackScore, py.PullbackPct*100, py.MaxPullbackAdds)
		fmt.Fprintf(&b, "3. 突破加仓：价格站上阻力位 + %.1f×ATR 时加 %.0f%%，累计加仓不超过 %d 次\n",
			py.BreakoutATR, py.BreakoutPct*100, py.MaxAdds)
		fmt.Fprintf(&b, "单标的上限 %.0f%%，总仓位上限 %.0f%%\n", py.MaxSinglePct*100, py.MaxTotalPct*100)
	case signal.Sell:
		fmt.Fprintf(&b, "【减仓计划】卖出信号强度 %d/5，建议卖出 %.0f%% 持仓\n", sig.Strength, signalSellRatio(sig.Strength)*100)
	default:
		b.WriteString("【观望】当前无明确方向，维持现有仓位\n")
	}
	fmt.Fprintf(&b, "止损：%.4f (%.2f%%, %s)\n", params.StopLoss, params.StopLossPct*100, params.StopMethod)
	fmt.Fprintf(&b, "止盈：%.4f / %.4f / %.4f (盈亏比 %s)\n", params.TakeProfit1, params.TakeProfit2, params.TakeProfit3, params.RiskRewardRatio)
	if params.ATR > 0 {
		fmt.Fprintf(&b, "移动止损：浮盈达 %.1f×ATR 后激活，自高点回撤 %.1f×ATR 全部离场",
			cfg.TrailingActivationATR, cfg.TrailingStopATR)
	}
	return strings.TrimRight(b.String(), "\n")
}
