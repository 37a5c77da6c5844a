package middlewares

import (
	"context"
	"errors"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/pipeline"
	"quantcore/internal/risk"
)

// Risk 计算止损止盈、建议仓位与分批计划文本。
type Risk struct {
	meta    pipeline.MiddlewareMeta
	manager *risk.Manager
	period  risk.HoldingPeriod
}

func NewRisk(opts Options, manager *risk.Manager, period risk.HoldingPeriod) *Risk {
	if manager == nil {
		manager = risk.NewManager(risk.DefaultConfig())
	}
	if period == "" {
		period = risk.PeriodSwing
	}
	return &Risk{meta: opts.meta("risk", 3, false), manager: manager, period: period}
}

func (m *Risk) Meta() pipeline.MiddlewareMeta { return m.meta }

func (m *Risk) Handle(_ context.Context, ac *pipeline.AnalysisContext) error {
	sig, ok := ac.Signal()
	if !ok {
		return errors.New("signal not scored")
	}
	price := ac.Price()
	if price <= 0 {
		return errors.New("price unavailable")
	}
	snap, _ := ac.Snapshot()
	period := ac.Input().HoldingPeriod
	if period == "" {
		period = m.period
	}
	params := m.manager.Parameters(sig, price, indicator.Or(snap.ATR, 0), period, ac.Levels().NearestSupport())
	ac.SetRisk(params, m.manager.PositionStrategy(sig, params, price))
	return nil
}
