package risk

// TrailingResult 移动止损判定结果。
type TrailingResult struct {
	Active          bool    `json:"active"`
	Fired           bool    `json:"fired"`
	Ratio           float64 `json:"ratio"`
	ActivationPrice float64 `json:"activation_price"`
	StopPrice       float64 `json:"stop_price"`
}

// TrailingStop 浮盈达到 activation×ATR 后激活；激活后价格自最高点回撤 trailing×ATR 即全部卖出。
// 未激活时任何回撤都不会触发。
func (m *Manager) TrailingStop(entry, current, highest, atr float64) TrailingResult {
	cfg := m.Config()
	if entry <= 0 || atr <= 0 || current <= 0 {
		return TrailingResult{}
	}
	if current > highest {
		highest = current
	}
	out := TrailingResult{
		ActivationPrice: round4(offsetByATR(entry, cfg.TrailingActivationATR, atr)),
	}
	if !decimalGTE(highest, out.ActivationPrice) {
		return out
	}
	out.Active = true
	out.StopPrice = round4(offsetByATR(highest, -cfg.TrailingStopATR, atr))
	if decimalLTE(current, out.StopPrice) {
		out.Fired = true
		out.Ratio = 1
	}
	return out
}
