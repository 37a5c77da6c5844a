package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"quantcore/internal/analysis/signal"
	"quantcore/internal/analysis/trend"
	"quantcore/internal/logger"
	"quantcore/internal/risk"
)

var ErrPyramidRejected = errors.New("pyramid add rejected")

// LoadError 单个策略加载失败的原因。
type LoadError struct {
	StrategyID string `json:"strategy_id"`
	Err        error  `json:"-"`
	Message    string `json:"message"`
}

func (e LoadError) Error() string { return e.StrategyID + ": " + e.Err.Error() }
func (e LoadError) Unwrap() error { return e.Err }

// LoadReport 一次加载的结果，失败互不影响。
type LoadReport struct {
	Loaded   []string    `json:"loaded"`
	Skipped  []string    `json:"skipped,omitempty"`
	Failures []LoadError `json:"failures,omitempty"`
}

// StrategyInfo 对外展示的策略状态。
type StrategyInfo struct {
	ID          string         `json:"strategy_id"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	MinCapital  float64        `json:"min_capital"`
	Ledger      LedgerSnapshot `json:"ledger"`
	Positions   int            `json:"positions"`
}

// Fill 成交回报。
type Fill struct {
	StrategyID string     `json:"strategy_id"`
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"`
	Quantity   int64      `json:"quantity"`
	Price      float64    `json:"price"`
	Fee        float64    `json:"fee"`
	Phase      risk.Phase `json:"phase,omitempty"`
	Time       time.Time  `json:"time"`
}

type slot struct {
	cfg       Config
	def       *Definition
	strategy  Strategy
	ledger    *Ledger
	positions map[string]*risk.Position
}

func (s *slot) exposure(data MarketData) float64 {
	total := 0.0
	for sym, pos := range s.positions {
		price := pos.CostPrice
		if inst, ok := data[sym]; ok && inst.LastPrice() > 0 {
			price = inst.LastPrice()
		}
		total += pos.Value(price)
	}
	return total
}

// Executor 策略池执行器。所有状态变更串行化，同一时刻只有一个调用方修改持仓。
type Executor struct {
	registry *Registry
	tk       *Toolkit
	obs      Observer

	mu    sync.Mutex
	slots []*slot
}

func NewExecutor(registry *Registry, tk *Toolkit, obs Observer) *Executor {
	if registry == nil {
		registry = BuiltinRegistry()
	}
	if tk == nil {
		tk = NewToolkit(nil, nil, nil)
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Executor{registry: registry, tk: tk, obs: obs}
}

// Load 校验并装载策略配置。已有同 ID 策略的持仓与账本会被保留。
func (e *Executor) Load(cfgs []Config) LoadReport {
	var report LoadReport
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := make(map[string]*slot, len(e.slots))
	for _, s := range e.slots {
		prev[s.cfg.ID] = s
	}
	seen := make(map[string]bool, len(cfgs))
	next := make([]*slot, 0, len(cfgs))
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			report.Skipped = append(report.Skipped, cfg.ID)
			continue
		}
		if seen[cfg.ID] {
			report.Failures = append(report.Failures, e.loadFailure(cfg.ID, ErrDuplicateStrategy))
			continue
		}
		seen[cfg.ID] = true
		s, err := e.build(cfg)
		if err != nil {
			report.Failures = append(report.Failures, e.loadFailure(cfg.ID, err))
			continue
		}
		if old, ok := prev[cfg.ID]; ok {
			s.positions = old.positions
			s.ledger = old.ledger
			if old.cfg.AllocatedCapital != cfg.AllocatedCapital {
				s.ledger.Reallocate(cfg.AllocatedCapital)
			}
		}
		next = append(next, s)
		report.Loaded = append(report.Loaded, cfg.ID)
	}
	for id, old := range prev {
		if !seen[id] && len(old.positions) > 0 {
			logger.Warnf("[executor] strategy %s removed with %d open positions", id, len(old.positions))
		}
	}
	e.slots = next
	logger.Infof("[executor] loaded=%d skipped=%d failed=%d", len(report.Loaded), len(report.Skipped), len(report.Failures))
	return report
}

func (e *Executor) loadFailure(id string, err error) LoadError {
	logger.Warnf("[executor] strategy %s rejected: %v", id, err)
	e.obs.StrategyLoadFailed(id, err)
	return LoadError{StrategyID: id, Err: err, Message: err.Error()}
}

func (e *Executor) build(cfg Config) (*slot, error) {
	def, ok := e.registry.Lookup(cfg.DefinitionID())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, cfg.DefinitionID())
	}
	if cfg.AllocatedCapital < def.MinCapital {
		return nil, fmt.Errorf("%w: %.2f < %.2f", ErrBelowMinCapital, cfg.AllocatedCapital, def.MinCapital)
	}
	cfg.Params = def.MergeDefaults(cfg.Params)
	if err := def.Validate(cfg.Params); err != nil {
		return nil, err
	}
	st, err := def.Factory(cfg, e.tk)
	if err != nil {
		return nil, err
	}
	if err := st.ValidateParams(); err != nil {
		return nil, err
	}
	return &slot{
		cfg:       cfg,
		def:       def,
		strategy:  st,
		ledger:    NewLedger(cfg.AllocatedCapital),
		positions: make(map[string]*risk.Position),
	}, nil
}

// Watch 从策略目录加载并在目录变化时重新加载。
func (e *Executor) Watch(c *Catalog) LoadReport {
	c.Subscribe(func(snap CatalogSnapshot) {
		logger.Infof("[executor] catalog v%d changed, reloading", snap.Version)
		e.Load(snap.Strategies)
	})
	return e.Load(c.Snapshot().Strategies)
}

// Strategies 返回当前装载的策略。
func (e *Executor) Strategies() []StrategyInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StrategyInfo, 0, len(e.slots))
	for _, s := range e.slots {
		out = append(out, StrategyInfo{
			ID:          s.cfg.ID,
			Type:        s.strategy.Type(),
			Description: s.def.Description,
			MinCapital:  s.def.MinCapital,
			Ledger:      s.ledger.Snapshot(),
			Positions:   len(s.positions),
		})
	}
	return out
}

type candidate struct {
	slot int
	sig  Signal
}

// Execute 运行全部策略，按标的消解冲突并生成下单意图。
func (e *Executor) Execute(ctx context.Context, symbols []string, data MarketData) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := Report{Time: time.Now(), Results: make([]ExecutionResult, len(e.slots))}
	var cands []candidate
	for i, s := range e.slots {
		res := &report.Results[i]
		res.StrategyID = s.cfg.ID
		sigs, err := s.strategy.GenerateSignals(ctx, symbols, data)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			logger.Warnf("[executor] %s generate signals failed: %v", s.cfg.ID, err)
		}
		for _, sig := range sigs {
			sig.StrategyID = s.cfg.ID
			res.Raw = append(res.Raw, sig)
			if sig.Type == signal.Buy || sig.Type == signal.Sell {
				cands = append(cands, candidate{slot: i, sig: sig})
			}
		}
	}

	// committed 本轮已生成买单占用的资金，按策略累计，避免多个标的合计超出可用资金
	committed := make(map[int]float64, len(e.slots))
	for _, win := range resolveConflicts(cands) {
		s := e.slots[win.slot]
		res := &report.Results[win.slot]
		res.Resolved = append(res.Resolved, win.sig)
		e.obs.SignalResolved(s.cfg.ID, win.sig.Type)

		if win.sig.Type == signal.Sell {
			if pos, ok := s.positions[win.sig.Symbol]; ok && pos.IsOpen() {
				report.Orders = append(report.Orders, Order{
					StrategyID: s.cfg.ID,
					Symbol:     win.sig.Symbol,
					Side:       SideSell,
					Quantity:   pos.Quantity,
					Price:      win.sig.Price,
					Reason:     joinConditions(win.sig),
					Time:       win.sig.Timestamp,
				})
			}
			continue
		}
		order, rej := e.buyOrder(s, win.sig, data, committed[win.slot])
		if rej != nil {
			report.Rejections = append(report.Rejections, *rej)
			e.obs.OrderRejected(s.cfg.ID, rej.Err)
			logger.Warnf("[executor] %v", rej.Message)
			continue
		}
		committed[win.slot] += float64(order.Quantity) * order.Price
		report.Orders = append(report.Orders, order)
	}
	return report, nil
}

// resolveConflicts 按标的分组：卖出优先于买入，同向比较 (strength, confidence)，平局保留先加载的策略。
// 返回结果按标的首次出现顺序排列。
func resolveConflicts(cands []candidate) []candidate {
	best := make(map[string]int)
	var out []candidate
	for _, c := range cands {
		idx, ok := best[c.sig.Symbol]
		if !ok {
			best[c.sig.Symbol] = len(out)
			out = append(out, c)
			continue
		}
		cur := out[idx]
		switch {
		case c.sig.Type == signal.Sell && cur.sig.Type == signal.Buy:
			out[idx] = c
		case c.sig.Type == cur.sig.Type && c.sig.outranks(cur.sig):
			out[idx] = c
		}
	}
	return out
}

func (e *Executor) buyOrder(s *slot, sig Signal, data MarketData, committed float64) (Order, *Rejection) {
	available := math.Max(s.ledger.Available()-committed, 0)
	order := Order{
		StrategyID: s.cfg.ID,
		Symbol:     sig.Symbol,
		Side:       SideBuy,
		Price:      sig.Price,
		Phase:      risk.PhaseInitial,
		Reason:     joinConditions(sig),
		Time:       sig.Timestamp,
	}
	if pos, ok := s.positions[sig.Symbol]; ok && pos.IsOpen() {
		inst := data[sig.Symbol]
		d := e.tk.Risk.EvaluateAdd(pos, risk.AddInput{
			Score:      trend.CompositeScore(inst.Quant, sig.Trend),
			Price:      sig.Price,
			ATR:        inst.ATR(),
			Support:    inst.Levels.NearestSupport(),
			Resistance: inst.Levels.NearestResistance(),
			Capital:    s.cfg.AllocatedCapital,
			Exposure:   s.exposure(data) + committed,
		})
		if !d.Approved {
			rej := newRejection(sig, 0, 0, available, fmt.Errorf("%w: %s", ErrPyramidRejected, d.Reason))
			return Order{}, &rej
		}
		order.Quantity = d.Quantity
		order.Phase = d.Phase
		order.Reason = d.Reason + "; " + order.Reason
	} else {
		order.Quantity = s.strategy.CalculatePositionSize(sig, available)
	}
	required := float64(order.Quantity) * sig.Price
	if order.Quantity <= 0 {
		lot := float64(e.tk.LotSize) * sig.Price
		rej := newRejection(sig, 0, lot, available, ErrInsufficientCapital)
		return Order{}, &rej
	}
	if required > available {
		rej := newRejection(sig, order.Quantity, required, available, ErrInsufficientCapital)
		return Order{}, &rej
	}
	return order, nil
}

// Fill 按成交回报记账，只影响所属策略的资金与持仓。
func (e *Executor) Fill(f Fill) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.find(f.StrategyID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, f.StrategyID)
	}
	if f.Quantity <= 0 || f.Price <= 0 {
		return fmt.Errorf("fill %s %s: quantity and price must be positive", f.StrategyID, f.Symbol)
	}
	notional := float64(f.Quantity) * f.Price
	switch f.Side {
	case SideBuy:
		pos, ok := s.positions[f.Symbol]
		phase := f.Phase
		if phase == "" || phase == risk.PhaseInitial {
			phase = risk.PhaseBreakoutAdd
		}
		if ok {
			if err := e.tk.Risk.CheckAddLimit(pos, phase); err != nil {
				return fmt.Errorf("fill %s %s: %w", f.StrategyID, f.Symbol, err)
			}
		}
		if err := s.ledger.Debit(notional + f.Fee); err != nil {
			return fmt.Errorf("fill %s %s: %w", f.StrategyID, f.Symbol, err)
		}
		if !ok {
			opened, err := risk.OpenPosition(f.Symbol, f.Quantity, f.Price, f.Time)
			if err != nil {
				s.ledger.Credit(notional + f.Fee)
				return err
			}
			s.positions[f.Symbol] = opened
			return nil
		}
		d := risk.PyramidDecision{Approved: true, Phase: phase, Quantity: f.Quantity}
		if err := e.tk.Risk.ApplyAdd(pos, d, f.Price, f.Time); err != nil {
			s.ledger.Credit(notional + f.Fee)
			return err
		}
		return nil
	case SideSell:
		pos, ok := s.positions[f.Symbol]
		if !ok {
			return fmt.Errorf("fill %s %s: no open position", f.StrategyID, f.Symbol)
		}
		cost := pos.CostPrice
		closed, err := pos.Reduce(f.Quantity, f.Time)
		if err != nil {
			return err
		}
		s.ledger.Credit(notional - f.Fee)
		s.ledger.Realize((f.Price-cost)*float64(f.Quantity) - f.Fee)
		if closed {
			delete(s.positions, f.Symbol)
		}
		return nil
	default:
		return fmt.Errorf("fill %s %s: unknown side %q", f.StrategyID, f.Symbol, f.Side)
	}
}

// CheckExits 对每个策略的持仓运行离场检查，按离场比例生成整手卖出意图。
func (e *Executor) CheckExits(ctx context.Context, data MarketData) ([]Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var orders []Order
	for _, s := range e.slots {
		symbols := make([]string, 0, len(s.positions))
		for sym := range s.positions {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		for _, sym := range symbols {
			if err := ctx.Err(); err != nil {
				return orders, err
			}
			inst, ok := data[sym]
			if !ok {
				continue
			}
			pos := s.positions[sym]
			pos.Mark(inst.LastPrice(), inst.Time)
			in := ResolveExit(s.strategy, pos.Clone(), inst)
			if !in.Exit {
				continue
			}
			qty := e.exitQuantity(pos.Quantity, in.Ratio)
			if qty <= 0 {
				logger.Debugf("[executor] %s %s exit ratio %.2f below one lot, kept", s.cfg.ID, sym, in.Ratio)
				continue
			}
			orders = append(orders, Order{
				StrategyID: s.cfg.ID,
				Symbol:     sym,
				Side:       SideSell,
				Quantity:   qty,
				Price:      inst.LastPrice(),
				Reason:     in.Reason,
				Time:       inst.Time,
			})
		}
	}
	return orders, nil
}

// exitQuantity 部分减仓按整手向下取整，清仓卖出全部持仓。
func (e *Executor) exitQuantity(held int64, ratio float64) int64 {
	if ratio >= 1 {
		return held
	}
	lot := e.tk.LotSize
	if lot <= 0 {
		lot = 1
	}
	return min(int64(float64(held)*ratio)/lot*lot, held)
}

// Position 返回策略持仓副本。
func (e *Executor) Position(strategyID, symbol string) (*risk.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.find(strategyID)
	if s == nil {
		return nil, false
	}
	pos, ok := s.positions[symbol]
	return pos.Clone(), ok
}

// Ledger 返回策略账本快照。
func (e *Executor) Ledger(strategyID string) (LedgerSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.find(strategyID)
	if s == nil {
		return LedgerSnapshot{}, false
	}
	return s.ledger.Snapshot(), true
}

// Instantiate 按池内同 ID 策略的配置新建独立实例，回测使用，不共享持仓与账本。
func (e *Executor) Instantiate(id string) (Strategy, error) {
	e.mu.Lock()
	s := e.find(id)
	var cfg Config
	if s != nil {
		cfg = s.cfg
	}
	e.mu.Unlock()
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	fresh, err := e.build(cfg)
	if err != nil {
		return nil, err
	}
	return fresh.strategy, nil
}

func (e *Executor) find(id string) *slot {
	for _, s := range e.slots {
		if s.cfg.ID == id {
			return s
		}
	}
	return nil
}

func joinConditions(sig Signal) string {
	if len(sig.TriggeredConditions) == 0 {
		return string(sig.Type)
	}
	out := sig.TriggeredConditions[0]
	for _, c := range sig.TriggeredConditions[1:] {
		out += "; " + c
	}
	return out
}
