package risk

import (
	"errors"
	"fmt"
	"time"
)

// Phase 建仓阶段。
type Phase string

const (
	PhaseInitial     Phase = "initial"
	PhasePullbackAdd Phase = "pullback_add"
	PhaseBreakoutAdd Phase = "breakout_add"
	PhaseFull        Phase = "full"
)

// Position 单个标的的持仓状态。同一时刻只允许一个调用方修改。
type Position struct {
	Symbol       string    `json:"symbol"`
	Phase        Phase     `json:"phase"`
	Quantity     int64     `json:"quantity"`
	CostPrice    float64   `json:"cost_price"`
	HighestPrice float64   `json:"highest_price"`
	AddCount     int       `json:"add_count"`
	PullbackAdds int       `json:"pullback_adds"`
	EntryTime    time.Time `json:"entry_time"`
	UpdatedAt    time.Time `json:"updated_at"`
}

var errInvalidFill = errors.New("quantity and price must be positive")

// OpenPosition 首次成交建仓。
func OpenPosition(symbol string, qty int64, price float64, at time.Time) (*Position, error) {
	if qty <= 0 || price <= 0 {
		return nil, fmt.Errorf("open %s: %w", symbol, errInvalidFill)
	}
	return &Position{
		Symbol:       symbol,
		Phase:        PhaseInitial,
		Quantity:     qty,
		CostPrice:    price,
		HighestPrice: price,
		EntryTime:    at,
		UpdatedAt:    at,
	}, nil
}

// Add 加仓并重算加权成本。
func (p *Position) Add(qty int64, price float64, phase Phase, at time.Time) error {
	if p == nil {
		return errors.New("position is nil")
	}
	if qty <= 0 || price <= 0 {
		return fmt.Errorf("add %s: %w", p.Symbol, errInvalidFill)
	}
	p.CostPrice = weightedCost(p.Quantity, p.CostPrice, qty, price)
	p.Quantity += qty
	p.AddCount++
	if phase == PhasePullbackAdd {
		p.PullbackAdds++
	}
	p.Phase = phase
	p.Mark(price, at)
	return nil
}

// Reduce 减仓，返回是否已清仓。成本价不变。
func (p *Position) Reduce(qty int64, at time.Time) (bool, error) {
	if p == nil {
		return false, errors.New("position is nil")
	}
	if qty <= 0 || qty > p.Quantity {
		return false, fmt.Errorf("reduce %s by %d: holding %d", p.Symbol, qty, p.Quantity)
	}
	p.Quantity -= qty
	p.UpdatedAt = at
	return p.Quantity == 0, nil
}

// Mark 用最新价更新持仓最高价。
func (p *Position) Mark(price float64, at time.Time) {
	if p == nil || price <= 0 {
		return
	}
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	if at.After(p.UpdatedAt) {
		p.UpdatedAt = at
	}
}

func (p *Position) IsOpen() bool {
	return p != nil && p.Quantity > 0
}

// Value 按现价计算市值。
func (p *Position) Value(price float64) float64 {
	if p == nil {
		return 0
	}
	return float64(p.Quantity) * price
}

// ProfitPct 现价相对成本的收益率。
func (p *Position) ProfitPct(price float64) float64 {
	if p == nil || p.CostPrice <= 0 {
		return 0
	}
	return -pctBelow(p.CostPrice, price)
}

// MaxProfitPct 持仓期间最高浮盈比例。
func (p *Position) MaxProfitPct() float64 {
	if p == nil || p.CostPrice <= 0 {
		return 0
	}
	return -pctBelow(p.CostPrice, p.HighestPrice)
}

// HoldingDays 自建仓起的自然日数。
func (p *Position) HoldingDays(now time.Time) int {
	if p == nil || p.EntryTime.IsZero() || now.Before(p.EntryTime) {
		return 0
	}
	return int(now.Sub(p.EntryTime).Hours() / 24)
}

func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
