package risk

import (
	"math"
	"strconv"
	"strings"

	"quantcore/internal/analysis/signal"
)

// 止损来源。
const (
	StopMethodATR      = "atr"
	StopMethodSupport  = "support"
	StopMethodFallback = "fallback"
)

// StopLoss 止损价与止损幅度。Pct 恒在 [MinStopLossPct, MaxStopLossPct] 内。
type StopLoss struct {
	Price   float64 `json:"price"`
	Pct     float64 `json:"pct"`
	Method  string  `json:"method"`
	Clamped bool    `json:"clamped"`
}

// RiskParameters 一次入场的风控参数。
type RiskParameters struct {
	StopLoss             float64       `json:"stop_loss"`
	StopLossPct          float64       `json:"stop_loss_pct"`
	TakeProfit1          float64       `json:"take_profit_1"`
	TakeProfit2          float64       `json:"take_profit_2"`
	TakeProfit3          float64       `json:"take_profit_3"`
	SuggestedPositionPct float64       `json:"suggested_position_pct"`
	RiskRewardRatio      string        `json:"risk_reward_ratio"`
	ATR                  float64       `json:"atr"`
	HoldingPeriod        HoldingPeriod `json:"holding_period"`
	StopMethod           string        `json:"stop_method"`
}

// 信号强度对应的基础仓位比例。
var strengthPositionPct = map[int]float64{1: 0.05, 2: 0.10, 3: 0.15, 4: 0.20, 5: 0.30}

// Manager 无状态风控计算器，Position 由调用方持有。
type Manager struct {
	cfg Config
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults()}
}

func (m *Manager) Config() Config {
	if m == nil {
		return DefaultConfig()
	}
	return m.cfg
}

// StopLoss 计算止损。ATR 止损为 entry-倍数×ATR；有支撑位时取与 support-0.5×ATR 中较高者。
// ATR 缺失时用止损区间中值兜底。
func (m *Manager) StopLoss(entry, atr float64, period HoldingPeriod, support *float64) StopLoss {
	cfg := m.Config()
	if entry <= 0 {
		return StopLoss{Method: StopMethodFallback}
	}
	var (
		stop   float64
		method string
	)
	if atr > 0 {
		stop = offsetByATR(entry, -cfg.atrMultiplier(period), atr)
		method = StopMethodATR
		if support != nil && *support > 0 && *support < entry {
			supStop := offsetByATR(*support, -cfg.SupportBufferATR, atr)
			if supStop > stop {
				stop = supStop
				method = StopMethodSupport
			}
		}
	} else {
		mid := (cfg.MinStopLossPct + cfg.MaxStopLossPct) / 2
		stop = priceAtPct(entry, mid)
		method = StopMethodFallback
	}

	pct := pctBelow(entry, stop)
	out := StopLoss{Price: stop, Pct: pct, Method: method}
	switch {
	case pct < cfg.MinStopLossPct:
		out.Pct = cfg.MinStopLossPct
		out.Clamped = true
	case pct > cfg.MaxStopLossPct:
		out.Pct = cfg.MaxStopLossPct
		out.Clamped = true
	}
	if out.Clamped {
		out.Price = priceAtPct(entry, out.Pct)
	}
	out.Price = round4(out.Price)
	out.Pct = round6(out.Pct)
	return out
}

// Parameters 生成入场风控参数，hold 与 sell 信号建议仓位为 0。
func (m *Manager) Parameters(sig signal.TradingSignal, entry, atr float64, period HoldingPeriod, support *float64) RiskParameters {
	cfg := m.Config()
	stop := m.StopLoss(entry, atr, period, support)
	out := RiskParameters{
		StopLoss:        stop.Price,
		StopLossPct:     stop.Pct,
		ATR:             atr,
		HoldingPeriod:   period,
		StopMethod:      stop.Method,
		RiskRewardRatio: rewardLabel(cfg.TakeProfitMultiples),
	}
	if entry <= 0 {
		return out
	}
	riskPerShare := entry - stop.Price
	targets := make([]float64, 3)
	for i := range targets {
		mult := cfg.TakeProfitMultiples[len(cfg.TakeProfitMultiples)-1]
		if i < len(cfg.TakeProfitMultiples) {
			mult = cfg.TakeProfitMultiples[i]
		}
		targets[i] = round4(offsetByATR(entry, mult, riskPerShare))
	}
	out.TakeProfit1, out.TakeProfit2, out.TakeProfit3 = targets[0], targets[1], targets[2]

	if sig.Type == signal.Buy {
		out.SuggestedPositionPct = m.positionPct(sig.Strength, stop.Pct)
	}
	return out
}

func (m *Manager) positionPct(strength int, stopPct float64) float64 {
	cfg := m.Config()
	if strength < 1 {
		return 0
	}
	if strength > 5 {
		strength = 5
	}
	pct := strengthPositionPct[strength]
	if stopPct > 0 {
		pct = math.Min(pct, cfg.RiskPerTradePct/stopPct)
	}
	return round4(math.Min(pct, cfg.MaxPositionPct))
}

func rewardLabel(multiples []float64) string {
	parts := make([]string, 0, len(multiples))
	for _, m := range multiples {
		parts = append(parts, "1:"+strconv.FormatFloat(m, 'f', -1, 64))
	}
	return strings.Join(parts, "/")
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
