package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"quantcore/internal/logger"
	"quantcore/internal/market"
	"quantcore/internal/risk"
	"quantcore/internal/strategy"
)

// ErrOutOfOrder 回放序列时间戳非严格递增。属于调用方编程错误，整次回测中止。
var ErrOutOfOrder = errors.New("bars out of chronological order")

var errNoBars = errors.New("no bars to replay")

// 离场原因（风控以外）。
const (
	ReasonForceClose = "force_close"
	ReasonSignal     = "signal"
)

// Bar 回放使用的单根 K 线以及该时刻的分析输入。
type Bar struct {
	market.Candle
	Symbol string
	Data   strategy.InstrumentData
}

// Action 信号源给出的动作。
type Action int

const (
	ActionHold Action = iota
	ActionBuy
	ActionSell
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	default:
		return "hold"
	}
}

// Decision 信号源在某根 K 线上的决定。
type Decision struct {
	Action Action
	// Quantity 为 0 时由引擎按 PositionPct 计算。
	Quantity int64
	// SellRatio 为 0 时视为全部卖出。
	SellRatio float64
	Score     float64
	Reason    string
}

// Account 提供给信号源的只读账户视图。
type Account struct {
	Cash     float64
	Equity   float64
	Position *risk.Position
}

// SignalSource 回测的信号来源。
type SignalSource interface {
	Name() string
	Decide(ctx context.Context, bar Bar, acct Account) (Decision, error)
}

// EngineConfig 撮合与资金参数。
type EngineConfig struct {
	InitialCapital float64            `json:"initial_capital"`
	FeeRate        float64            `json:"fee_rate"`
	SlippageBps    float64            `json:"slippage_bps"`
	PositionPct    float64            `json:"position_pct"`
	LotSize        int64              `json:"lot_size"`
	UseRiskExits   bool               `json:"use_risk_exits"`
	HoldingPeriod  risk.HoldingPeriod `json:"holding_period"`
	Metrics        MetricsConfig      `json:"metrics"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		InitialCapital: 1_000_000,
		FeeRate:        0.0003,
		SlippageBps:    5,
		PositionPct:    0.2,
		LotSize:        100,
		UseRiskExits:   true,
		HoldingPeriod:  risk.PeriodSwing,
		Metrics:        DefaultMetricsConfig(),
	}
}

// EquityPoint 资金曲线上的一个点。
type EquityPoint struct {
	Time     time.Time `json:"time"`
	Price    float64   `json:"price"`
	Cash     float64   `json:"cash"`
	Holding  float64   `json:"holding"`
	Equity   float64   `json:"equity"`
	Drawdown float64   `json:"drawdown"`
}

// Fill 单笔成交。
type Fill struct {
	Time     time.Time `json:"time"`
	Side     string    `json:"side"`
	Price    float64   `json:"price"`
	Quantity int64     `json:"quantity"`
	Fee      float64   `json:"fee"`
	Reason   string    `json:"reason,omitempty"`
}

// Trade 一次已平仓交易（部分卖出也单独记一笔），PnL 已扣除双边费用。
type Trade struct {
	Symbol     string    `json:"symbol"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   int64     `json:"quantity"`
	Fees       float64   `json:"fees"`
	PnL        float64   `json:"pnl"`
	ReturnPct  float64   `json:"return_pct"`
	Reason     string    `json:"reason"`
	Bars       int       `json:"bars"`
}

// Result 一次回放的完整输出。
type Result struct {
	Source  string        `json:"source"`
	Symbol  string        `json:"symbol"`
	Curve   []EquityPoint `json:"curve"`
	Trades  []Trade       `json:"trades"`
	Fills   []Fill        `json:"fills"`
	Metrics Metrics       `json:"metrics"`
}

// Engine 单标的、单策略的确定性事件回放。Engine 本身无状态，可并发复用。
type Engine struct {
	cfg  EngineConfig
	risk *risk.Manager
}

func NewEngine(cfg EngineConfig, rm *risk.Manager) *Engine {
	def := DefaultEngineConfig()
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = def.InitialCapital
	}
	if cfg.FeeRate < 0 {
		cfg.FeeRate = 0
	}
	if cfg.SlippageBps < 0 {
		cfg.SlippageBps = 0
	}
	if cfg.PositionPct <= 0 || cfg.PositionPct > 1 {
		cfg.PositionPct = def.PositionPct
	}
	if cfg.LotSize <= 0 {
		cfg.LotSize = def.LotSize
	}
	if cfg.HoldingPeriod == "" {
		cfg.HoldingPeriod = def.HoldingPeriod
	}
	if cfg.Metrics.PeriodsPerYear <= 0 {
		cfg.Metrics.PeriodsPerYear = def.Metrics.PeriodsPerYear
	}
	if rm == nil {
		rm = risk.NewManager(risk.DefaultConfig())
	}
	return &Engine{cfg: cfg, risk: rm}
}

func (e *Engine) Config() EngineConfig { return e.cfg }

// ValidateBars 检查序列非空、价格有效且时间严格递增。
func ValidateBars(bars []Bar) error {
	if len(bars) == 0 {
		return errNoBars
	}
	for i, bar := range bars {
		if err := bar.Validate(); err != nil {
			return fmt.Errorf("bar %d: %w", i, err)
		}
		if i > 0 && !bar.Time().After(bars[i-1].Time()) {
			return fmt.Errorf("%w: bar %d at %s not after %s", ErrOutOfOrder, i,
				bar.Time().Format(market.TimeLayout), bars[i-1].Time().Format(market.TimeLayout))
		}
	}
	return nil
}

// Run 按时间顺序回放 bars。序列校验在任何状态变化之前完成。
func (e *Engine) Run(ctx context.Context, bars []Bar, src SignalSource) (Result, error) {
	if src == nil {
		return Result{}, errors.New("signal source is nil")
	}
	if err := ValidateBars(bars); err != nil {
		return Result{}, err
	}
	st := &replay{
		cfg:    e.cfg,
		cash:   e.cfg.InitialCapital,
		peak:   e.cfg.InitialCapital,
		symbol: bars[0].Symbol,
	}
	res := Result{Source: src.Name(), Symbol: st.symbol}
	st.curve = make([]EquityPoint, 0, len(bars))

	last := len(bars) - 1
	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		at := bar.Time()
		price := bar.Close
		if bar.Data.Symbol == "" {
			bar.Data.Symbol = bar.Symbol
		}
		if bar.Data.Time.IsZero() {
			bar.Data.Time = at
		}
		if bar.Data.Price <= 0 {
			bar.Data.Price = price
		}
		if st.pos != nil {
			st.pos.Mark(price, at)
		}

		exited := false
		if st.pos != nil && e.cfg.UseRiskExits {
			d := e.risk.ExitCheck(st.pos, price, bar.Data.ATR(), e.cfg.HoldingPeriod, nil, at)
			if d.Exit {
				st.sell(i, at, price, d.SellRatio, d.Reason.String())
				exited = true
			}
		}
		if !exited {
			d, err := src.Decide(ctx, bar, st.account(price))
			if err != nil {
				return Result{}, fmt.Errorf("%s decide at %s: %w", src.Name(), at.Format(market.TimeLayout), err)
			}
			st.apply(i, at, price, d)
		}
		if i == last && st.pos != nil {
			st.sell(i, at, price, 1, ReasonForceClose)
		}
		st.record(at, price)
	}

	res.Curve = st.curve
	res.Trades = st.trades
	res.Fills = st.fills
	res.Metrics = ComputeMetrics(res.Curve, res.Trades, e.cfg.Metrics)
	logger.Debugf("[backtest] %s %s replayed %d bars, %d trades, final equity %.2f",
		res.Source, res.Symbol, len(bars), len(res.Trades), res.Metrics.FinalEquity)
	return res, nil
}

// replay 单次回放的可变状态，不在 Run 之外共享。
type replay struct {
	cfg    EngineConfig
	symbol string

	cash      float64
	pos       *risk.Position
	entryFees float64
	entryBar  int
	peak      float64

	curve  []EquityPoint
	trades []Trade
	fills  []Fill
}

func (r *replay) holding(price float64) float64 {
	if r.pos == nil {
		return 0
	}
	return float64(r.pos.Quantity) * price
}

func (r *replay) account(price float64) Account {
	acct := Account{Cash: r.cash, Equity: r.cash + r.holding(price)}
	if r.pos != nil {
		acct.Position = r.pos.Clone()
	}
	return acct
}

func (r *replay) slip(price float64, buy bool) float64 {
	s := price * r.cfg.SlippageBps / 10000
	if buy {
		return price + s
	}
	return price - s
}

func (r *replay) lots(qty int64) int64 {
	return qty / r.cfg.LotSize * r.cfg.LotSize
}

func (r *replay) apply(idx int, at time.Time, price float64, d Decision) {
	switch d.Action {
	case ActionBuy:
		if r.pos != nil {
			return
		}
		r.buy(idx, at, price, d.Quantity, d.Reason)
	case ActionSell:
		if r.pos == nil {
			return
		}
		reason := d.Reason
		if reason == "" {
			reason = ReasonSignal
		}
		r.sell(idx, at, price, d.SellRatio, reason)
	}
}

func (r *replay) buy(idx int, at time.Time, price float64, qty int64, reason string) {
	exec := r.slip(price, true)
	if exec <= 0 {
		return
	}
	perShare := exec * (1 + r.cfg.FeeRate)
	if qty <= 0 {
		budget := math.Min(r.cash, r.cash*r.cfg.PositionPct)
		qty = int64(budget / perShare)
	}
	if affordable := int64(r.cash / perShare); qty > affordable {
		qty = affordable
	}
	qty = r.lots(qty)
	if qty <= 0 {
		logger.Debugf("[backtest] %s skip buy at %s: cash %.2f below one lot", r.symbol, at.Format(market.TimeLayout), r.cash)
		return
	}
	notional := float64(qty) * exec
	fee := notional * r.cfg.FeeRate
	pos, err := risk.OpenPosition(r.symbol, qty, exec, at)
	if err != nil {
		logger.Warnf("[backtest] %s open position failed: %v", r.symbol, err)
		return
	}
	r.cash -= notional + fee
	r.pos = pos
	r.entryFees = fee
	r.entryBar = idx
	r.fills = append(r.fills, Fill{Time: at, Side: "buy", Price: exec, Quantity: qty, Fee: fee, Reason: reason})
}

func (r *replay) sell(idx int, at time.Time, price float64, ratio float64, reason string) {
	if r.pos == nil {
		return
	}
	held := r.pos.Quantity
	qty := held
	if ratio > 0 && ratio < 1 {
		qty = r.lots(int64(float64(held) * ratio))
		if qty <= 0 {
			return
		}
	}
	if qty > held {
		qty = held
	}
	exec := r.slip(price, false)
	proceeds := float64(qty) * exec
	fee := proceeds * r.cfg.FeeRate
	allocated := r.entryFees * float64(qty) / float64(held)
	cost := float64(qty) * r.pos.CostPrice
	pnl := proceeds - fee - cost - allocated

	r.cash += proceeds - fee
	r.entryFees -= allocated
	trade := Trade{
		Symbol:     r.symbol,
		EntryTime:  r.pos.EntryTime,
		ExitTime:   at,
		EntryPrice: r.pos.CostPrice,
		ExitPrice:  exec,
		Quantity:   qty,
		Fees:       fee + allocated,
		PnL:        pnl,
		Reason:     reason,
		Bars:       idx - r.entryBar,
	}
	if basis := cost + allocated; basis > 0 {
		trade.ReturnPct = pnl / basis
	}
	r.trades = append(r.trades, trade)
	r.fills = append(r.fills, Fill{Time: at, Side: "sell", Price: exec, Quantity: qty, Fee: fee, Reason: reason})

	closed, err := r.pos.Reduce(qty, at)
	if err != nil {
		logger.Warnf("[backtest] %s reduce position failed: %v", r.symbol, err)
		return
	}
	if closed {
		r.pos = nil
		r.entryFees = 0
	}
}

func (r *replay) record(at time.Time, price float64) {
	holding := r.holding(price)
	equity := r.cash + holding
	r.peak = math.Max(r.peak, equity)
	dd := 0.0
	if r.peak > 0 {
		dd = (r.peak - equity) / r.peak
	}
	r.curve = append(r.curve, EquityPoint{
		Time:     at,
		Price:    price,
		Cash:     r.cash,
		Holding:  holding,
		Equity:   equity,
		Drawdown: dd,
	})
}
