package strategy

import (
	"quantcore/internal/analysis/signal"
	"quantcore/internal/analysis/trend"
	"quantcore/internal/risk"
)

// Toolkit 各策略共享的评分与风控组件，通过组合注入而非继承。
type Toolkit struct {
	Classifier *trend.Classifier
	Scorer     *signal.Scorer
	Risk       *risk.Manager
	LotSize    int64
}

// NewToolkit 组装工具箱，nil 组件使用默认配置。
func NewToolkit(classifier *trend.Classifier, scorer *signal.Scorer, rm *risk.Manager) *Toolkit {
	if classifier == nil {
		classifier = trend.NewClassifier(trend.DefaultConfig())
	}
	if scorer == nil {
		scorer = signal.NewScorer(signal.DefaultConfig(), classifier)
	}
	if rm == nil {
		rm = risk.NewManager(risk.DefaultConfig())
	}
	return &Toolkit{
		Classifier: classifier,
		Scorer:     scorer,
		Risk:       rm,
		LotSize:    rm.Config().Pyramid.LotSize,
	}
}

// Score 对单个标的打分。
func (tk *Toolkit) Score(data InstrumentData) signal.TradingSignal {
	return tk.Scorer.Generate(data.Snapshot, data.Quant, data.Summary, data.Time)
}

// Attach 把评分结果包装成策略信号并附上风控参数。
func (tk *Toolkit) Attach(strategyID string, period risk.HoldingPeriod, data InstrumentData, ts signal.TradingSignal) Signal {
	price := data.LastPrice()
	return Signal{
		StrategyID:    strategyID,
		Symbol:        data.Symbol,
		TradingSignal: ts,
		Price:         price,
		Risk:          tk.Risk.Parameters(ts, price, data.ATR(), period, data.Levels.NearestSupport()),
	}
}

// Lots 资金按整手折算股数。
func (tk *Toolkit) Lots(amount, price float64) int64 {
	lot := tk.LotSize
	if lot <= 0 {
		lot = 1
	}
	if amount <= 0 || price <= 0 {
		return 0
	}
	shares := int64(amount / price)
	return shares / lot * lot
}

// ExitCheck 使用风控离场规则并结合当前评分判断是否离场。
func (tk *Toolkit) ExitCheck(pos *risk.Position, data InstrumentData, period risk.HoldingPeriod) risk.ExitDecision {
	ts := tk.Score(data)
	return tk.Risk.ExitCheck(pos, data.LastPrice(), data.ATR(), period, &ts, data.Time)
}
