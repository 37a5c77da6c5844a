package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/analysis/signal"
	"quantcore/internal/analysis/trend"
	"quantcore/internal/risk"
)

var (
	ErrUnknownStrategy     = errors.New("unknown strategy type")
	ErrBelowMinCapital     = errors.New("allocated capital below strategy minimum")
	ErrInvalidParams       = errors.New("invalid strategy params")
	ErrInsufficientCapital = errors.New("insufficient strategy capital")
	ErrDuplicateStrategy   = errors.New("duplicate strategy id")
)

// Strategy 策略池中的单个策略实例。实现需要是无共享状态的，持仓由 Executor 持有。
type Strategy interface {
	ID() string
	Type() string
	GenerateSignals(ctx context.Context, symbols []string, data MarketData) ([]Signal, error)
	CalculatePositionSize(sig Signal, capital float64) int64
	CheckExitConditions(pos *risk.Position, data InstrumentData) (bool, string)
	ValidateParams() error
}

// ExitIntent 离场意图。Ratio 为减仓比例，1 表示清仓。
type ExitIntent struct {
	Exit   bool
	Ratio  float64
	Reason string
}

// ExitPlanner 可选能力：离场时给出减仓比例。内置策略都实现它。
type ExitPlanner interface {
	PlanExit(pos *risk.Position, data InstrumentData) ExitIntent
}

// ResolveExit 优先使用 ExitPlanner，否则退回 CheckExitConditions 并按清仓处理。
// 返回的 Ratio 落在 (0, 1]。
func ResolveExit(st Strategy, pos *risk.Position, data InstrumentData) ExitIntent {
	var in ExitIntent
	if p, ok := st.(ExitPlanner); ok {
		in = p.PlanExit(pos, data)
	} else {
		in.Exit, in.Reason = st.CheckExitConditions(pos, data)
	}
	if !in.Exit {
		return ExitIntent{}
	}
	if in.Ratio <= 0 || in.Ratio > 1 {
		in.Ratio = 1
	}
	return in
}

// InstrumentData 单个标的在当前 bar 的输入。
type InstrumentData struct {
	Symbol   string               `json:"symbol"`
	Time     time.Time            `json:"time"`
	Price    float64              `json:"price"`
	Snapshot indicator.Snapshot   `json:"indicators"`
	Quant    *trend.QuantAnalysis `json:"quant_analysis,omitempty"`
	Summary  *signal.TrendSummary `json:"trend_analysis,omitempty"`
	Levels   indicator.Levels     `json:"levels"`
}

// LastPrice 优先使用显式价格，否则取快照收盘价。
func (d InstrumentData) LastPrice() float64 {
	if d.Price > 0 {
		return d.Price
	}
	return indicator.Or(d.Snapshot.Price, 0)
}

func (d InstrumentData) ATR() float64 {
	return indicator.Or(d.Snapshot.ATR, 0)
}

// MarketData symbol -> 当前 bar 数据。
type MarketData map[string]InstrumentData

// Signal 策略产出的带标的信号。
type Signal struct {
	StrategyID string `json:"strategy_id"`
	Symbol     string `json:"symbol"`
	signal.TradingSignal
	Price float64             `json:"price"`
	Risk  risk.RiskParameters `json:"risk"`
}

// outranks 同方向信号比较 (strength, confidence)。
func (s Signal) outranks(other Signal) bool {
	if s.Strength != other.Strength {
		return s.Strength > other.Strength
	}
	return s.Confidence > other.Confidence
}

// Config 单个策略实例的配置。
type Config struct {
	ID               string         `mapstructure:"id" yaml:"id" json:"strategy_id"`
	Type             string         `mapstructure:"type" yaml:"type" json:"type"`
	Enabled          bool           `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	AllocatedCapital float64        `mapstructure:"allocated_capital" yaml:"allocated_capital" json:"allocated_capital"`
	HoldingPeriod    string         `mapstructure:"holding_period" yaml:"holding_period" json:"holding_period,omitempty"`
	Params           map[string]any `mapstructure:"params" yaml:"params" json:"params,omitempty"`
}

// DefinitionID 未指定 type 时以 id 作为策略定义名。
func (c Config) DefinitionID() string {
	if c.Type != "" {
		return c.Type
	}
	return c.ID
}

// Side 订单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Order 逻辑下单意图，不做真实路由。
type Order struct {
	StrategyID string     `json:"strategy_id"`
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"`
	Quantity   int64      `json:"quantity"`
	Price      float64    `json:"price"`
	Phase      risk.Phase `json:"phase,omitempty"`
	Reason     string     `json:"reason"`
	Time       time.Time  `json:"time"`
}

// ExecutionResult 单个策略在一个周期内的执行结果。
type ExecutionResult struct {
	StrategyID string   `json:"strategy_id"`
	Raw        []Signal `json:"raw_signals"`
	Resolved   []Signal `json:"resolved_signals"`
	Errors     []string `json:"errors,omitempty"`
}

// Rejection 被拒绝的下单意图。
type Rejection struct {
	StrategyID string  `json:"strategy_id"`
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Quantity   int64   `json:"quantity"`
	Required   float64 `json:"required"`
	Available  float64 `json:"available"`
	Err        error   `json:"-"`
	Message    string  `json:"message"`
}

func (r Rejection) Error() string {
	return r.Message
}

func (r Rejection) Unwrap() error {
	return r.Err
}

func newRejection(sig Signal, qty int64, required, available float64, err error) Rejection {
	return Rejection{
		StrategyID: sig.StrategyID,
		Symbol:     sig.Symbol,
		Side:       Side(sig.Type),
		Quantity:   qty,
		Required:   required,
		Available:  available,
		Err:        err,
		Message: fmt.Sprintf("%s %s %s qty=%d required=%.2f available=%.2f: %v",
			sig.StrategyID, sig.Type, sig.Symbol, qty, required, available, err),
	}
}

// Report Execute 的汇总输出。
type Report struct {
	Time       time.Time         `json:"time"`
	Results    []ExecutionResult `json:"results"`
	Orders     []Order           `json:"orders"`
	Rejections []Rejection       `json:"rejections,omitempty"`
}

// Observer 执行器事件回调，指标埋点使用。
type Observer interface {
	StrategyLoadFailed(strategyID string, err error)
	SignalResolved(strategyID string, t signal.Type)
	OrderRejected(strategyID string, err error)
}

type nopObserver struct{}

func (nopObserver) StrategyLoadFailed(string, error)   {}
func (nopObserver) SignalResolved(string, signal.Type) {}
func (nopObserver) OrderRejected(string, error)        {}
