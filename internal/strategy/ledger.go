package strategy

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger 单个策略的资金账本，策略之间互不挪用。
type Ledger struct {
	mu        sync.Mutex
	allocated decimal.Decimal
	cash      decimal.Decimal
	realized  decimal.Decimal
}

// LedgerSnapshot 账本快照。
type LedgerSnapshot struct {
	Allocated float64 `json:"allocated"`
	Cash      float64 `json:"cash"`
	Realized  float64 `json:"realized_pnl"`
}

func NewLedger(capital float64) *Ledger {
	c := decimal.NewFromFloat(capital)
	return &Ledger{allocated: c, cash: c}
}

// Available 当前可用现金。
func (l *Ledger) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, _ := l.cash.Float64()
	return f
}

// Debit 扣减现金，不足时返回 ErrInsufficientCapital 且不做任何修改。
func (l *Ledger) Debit(amount float64) error {
	amt := decimal.NewFromFloat(amount)
	l.mu.Lock()
	defer l.mu.Unlock()
	if amt.GreaterThan(l.cash) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientCapital, amt.StringFixed(2), l.cash.StringFixed(2))
	}
	l.cash = l.cash.Sub(amt)
	return nil
}

// Credit 增加现金。
func (l *Ledger) Credit(amount float64) {
	l.mu.Lock()
	l.cash = l.cash.Add(decimal.NewFromFloat(amount))
	l.mu.Unlock()
}

// Realize 记录已实现盈亏。
func (l *Ledger) Realize(pnl float64) {
	l.mu.Lock()
	l.realized = l.realized.Add(decimal.NewFromFloat(pnl))
	l.mu.Unlock()
}

// Reallocate 调整分配资金，差额计入现金。
func (l *Ledger) Reallocate(capital float64) {
	next := decimal.NewFromFloat(capital)
	l.mu.Lock()
	l.cash = l.cash.Add(next.Sub(l.allocated))
	l.allocated = next
	l.mu.Unlock()
}

func (l *Ledger) Snapshot() LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	alloc, _ := l.allocated.Float64()
	cash, _ := l.cash.Float64()
	realized, _ := l.realized.Float64()
	return LedgerSnapshot{Allocated: alloc, Cash: cash, Realized: realized}
}
