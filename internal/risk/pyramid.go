package risk

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// PyramidDecision 建仓/加仓审批结果。
type PyramidDecision struct {
	Approved bool    `json:"approved"`
	Phase    Phase   `json:"phase"`
	Quantity int64   `json:"quantity"`
	Amount   float64 `json:"amount"`
	Reason   string  `json:"reason"`
}

func reject(phase Phase, format string, args ...any) PyramidDecision {
	return PyramidDecision{Phase: phase, Reason: fmt.Sprintf(format, args...)}
}

// EntryInput 首仓评估入参。Exposure 为当前所有标的持仓市值合计。
type EntryInput struct {
	Score    float64
	Price    float64
	Capital  float64
	Exposure float64
}

// AddInput 加仓评估入参。
type AddInput struct {
	Score      float64
	Price      float64
	ATR        float64
	Support    *float64
	Resistance *float64
	Capital    float64
	Exposure   float64
}

// EvaluateEntry 首仓：评分 >= InitialScore，按 InitialPct 资金整手买入。
func (m *Manager) EvaluateEntry(in EntryInput) PyramidDecision {
	cfg := m.Config().Pyramid
	if in.Price <= 0 || in.Capital <= 0 {
		return reject(PhaseInitial, "价格或资金无效")
	}
	if in.Score < cfg.InitialScore {
		return reject(PhaseInitial, "评分 %.1f 低于首仓门槛 %.0f", in.Score, cfg.InitialScore)
	}
	return m.sized(PhaseInitial, in.Capital*cfg.InitialPct, in.Price, in.Capital, 0, in.Exposure)
}

// EvaluateAdd 加仓：突破加仓优先于回调加仓，两者都受次数与仓位上限约束。
func (m *Manager) EvaluateAdd(pos *Position, in AddInput) PyramidDecision {
	cfg := m.Config().Pyramid
	if !pos.IsOpen() {
		return reject(PhaseInitial, "无持仓，不能加仓")
	}
	if in.Price <= 0 || in.Capital <= 0 {
		return reject(pos.Phase, "价格或资金无效")
	}
	if pos.AddCount >= cfg.MaxAdds {
		return reject(PhaseFull, "已加仓 %d 次，达到上限", pos.AddCount)
	}

	if in.Resistance != nil && in.ATR > 0 {
		trigger := offsetByATR(*in.Resistance, cfg.BreakoutATR, in.ATR)
		if in.Price > trigger {
			return m.sized(PhaseBreakoutAdd, in.Capital*cfg.BreakoutPct, in.Price, in.Capital, pos.Value(in.Price), in.Exposure)
		}
	}

	switch {
	case in.Score < cfg.PullbackScore:
		return reject(pos.Phase, "评分 %.1f 低于回调加仓门槛 %.0f", in.Score, cfg.PullbackScore)
	case in.Price >= pos.CostPrice:
		return reject(pos.Phase, "现价 %.4f 未低于成本 %.4f", in.Price, pos.CostPrice)
	case in.Support == nil:
		return reject(pos.Phase, "缺少支撑位，无法确认回调")
	case in.Price <= *in.Support:
		return reject(pos.Phase, "现价 %.4f 已跌破支撑 %.4f", in.Price, *in.Support)
	case pos.PullbackAdds >= cfg.MaxPullbackAdds:
		return reject(pos.Phase, "回调加仓次数已用完")
	}
	return m.sized(PhasePullbackAdd, in.Capital*cfg.PullbackPct, in.Price, in.Capital, pos.Value(in.Price), in.Exposure)
}

// sized 按单标的与总仓位上限收缩金额后整手取整。
func (m *Manager) sized(phase Phase, amount, price, capital, held, exposure float64) PyramidDecision {
	cfg := m.Config().Pyramid
	room := math.Min(capital*cfg.MaxSinglePct-held, capital*cfg.MaxTotalPct-exposure)
	capped := false
	if amount > room {
		amount = room
		capped = true
	}
	qty := roundLots(amount, price, cfg.LotSize)
	if qty <= 0 {
		return reject(phase, "仓位上限内不足一手 (剩余额度 %.2f)", math.Max(room, 0))
	}
	out := PyramidDecision{
		Approved: true,
		Phase:    phase,
		Quantity: qty,
		Amount:   round4(float64(qty) * price),
		Reason:   phaseReason(phase),
	}
	if capped {
		out.Reason += "，受仓位上限约束"
	}
	return out
}

// ErrAddLimit 加仓次数已达上限。
var ErrAddLimit = errors.New("pyramid add limit reached")

// CheckAddLimit 校验总加仓次数与回调加仓次数上限。
func (m *Manager) CheckAddLimit(pos *Position, phase Phase) error {
	cfg := m.Config().Pyramid
	if pos.AddCount >= cfg.MaxAdds {
		return fmt.Errorf("%w: %d adds, max %d", ErrAddLimit, pos.AddCount, cfg.MaxAdds)
	}
	if phase == PhasePullbackAdd && pos.PullbackAdds >= cfg.MaxPullbackAdds {
		return fmt.Errorf("%w: %d pullback adds, max %d", ErrAddLimit, pos.PullbackAdds, cfg.MaxPullbackAdds)
	}
	return nil
}

// ApplyAdd 把已批准的加仓写入持仓，达到最大加仓次数时阶段置为 full。
// 超出次数上限的加仓一律拒绝，即使 d 已批准。
func (m *Manager) ApplyAdd(pos *Position, d PyramidDecision, price float64, at time.Time) error {
	if !d.Approved {
		return fmt.Errorf("add not approved: %s", d.Reason)
	}
	if err := m.CheckAddLimit(pos, d.Phase); err != nil {
		return err
	}
	if err := pos.Add(d.Quantity, price, d.Phase, at); err != nil {
		return err
	}
	if pos.AddCount >= m.Config().Pyramid.MaxAdds {
		pos.Phase = PhaseFull
	}
	return nil
}

func phaseReason(phase Phase) string {
	switch phase {
	case PhaseInitial:
		return "首仓建仓"
	case PhasePullbackAdd:
		return "回调加仓"
	case PhaseBreakoutAdd:
		return "突破加仓"
	default:
		return string(phase)
	}
}
