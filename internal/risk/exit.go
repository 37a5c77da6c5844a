package risk

import (
	"fmt"
	"time"

	"quantcore/internal/analysis/signal"
)

// ExitReason 离场原因，数值越小优先级越高。
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitHardStop
	ExitTrailingStop
	ExitProfitProtect
	ExitTimeStop
	ExitSignal
)

func (r ExitReason) String() string {
	switch r {
	case ExitHardStop:
		return "hard_stop"
	case ExitTrailingStop:
		return "trailing_stop"
	case ExitProfitProtect:
		return "profit_protect"
	case ExitTimeStop:
		return "time_stop"
	case ExitSignal:
		return "sell_signal"
	default:
		return "none"
	}
}

func (r ExitReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ExitDecision 离场判定。每次调用最多一个结论。
type ExitDecision struct {
	Exit      bool       `json:"exit"`
	Reason    ExitReason `json:"reason"`
	SellRatio float64    `json:"sell_ratio"`
	Detail    string     `json:"detail"`
}

// ExitCheck 按固定优先级检查：硬止损、移动止损、利润回吐保护、时间止损、卖出信号。
// 不修改 pos，最高价取 pos.HighestPrice 与现价中较大者。
func (m *Manager) ExitCheck(pos *Position, price, atr float64, period HoldingPeriod, sig *signal.TradingSignal, now time.Time) ExitDecision {
	cfg := m.Config()
	if !pos.IsOpen() || price <= 0 {
		return ExitDecision{}
	}
	highest := pos.HighestPrice
	if price > highest {
		highest = price
	}

	stop := m.StopLoss(pos.CostPrice, atr, period, nil)
	if decimalLTE(price, stop.Price) {
		return ExitDecision{Exit: true, Reason: ExitHardStop, SellRatio: 1,
			Detail: fmt.Sprintf("价格 %.4f 触及止损 %.4f", price, stop.Price)}
	}

	if tr := m.TrailingStop(pos.CostPrice, price, highest, atr); tr.Fired {
		return ExitDecision{Exit: true, Reason: ExitTrailingStop, SellRatio: tr.Ratio,
			Detail: fmt.Sprintf("自高点 %.4f 回撤至 %.4f，低于移动止损 %.4f", highest, price, tr.StopPrice)}
	}

	maxProfit := -pctBelow(pos.CostPrice, highest)
	profit := pos.ProfitPct(price)
	if maxProfit >= cfg.Exit.ProfitProtectTrigger && profit <= cfg.Exit.ProfitProtectFloor {
		return ExitDecision{Exit: true, Reason: ExitProfitProtect, SellRatio: 1,
			Detail: fmt.Sprintf("最高浮盈 %.2f%% 回落至 %.2f%%", maxProfit*100, profit*100)}
	}

	if days := pos.HoldingDays(now); days >= cfg.maxHoldingDays(period) && profit <= 0 {
		return ExitDecision{Exit: true, Reason: ExitTimeStop, SellRatio: 1,
			Detail: fmt.Sprintf("持仓 %d 天未盈利", days)}
	}

	if sig != nil && sig.Type == signal.Sell && sig.Strength >= cfg.Exit.SignalMinStrength {
		return ExitDecision{Exit: true, Reason: ExitSignal, SellRatio: signalSellRatio(sig.Strength),
			Detail: fmt.Sprintf("卖出信号强度 %d", sig.Strength)}
	}
	return ExitDecision{}
}

// signalSellRatio 卖出信号强度对应的减仓比例。
func signalSellRatio(strength int) float64 {
	switch {
	case strength >= 4:
		return 1
	case strength == 3:
		return 0.5
	case strength == 2:
		return 0.3
	default:
		return 0
	}
}
