package middlewares

import (
	"context"

	"quantcore/internal/analysis/signal"
	"quantcore/internal/logger"
	"quantcore/internal/pipeline"
)

// Signal 多指标评分。
type Signal struct {
	meta   pipeline.MiddlewareMeta
	scorer *signal.Scorer
}

func NewSignal(opts Options, scorer *signal.Scorer) *Signal {
	if scorer == nil {
		scorer = signal.NewScorer(signal.DefaultConfig(), nil)
	}
	return &Signal{meta: opts.meta("signal", 2, true), scorer: scorer}
}

func (m *Signal) Meta() pipeline.MiddlewareMeta { return m.meta }

func (m *Signal) Handle(_ context.Context, ac *pipeline.AnalysisContext) error {
	snap, ok := ac.Snapshot()
	if !ok {
		return errNoIndicatorInput
	}
	in := ac.Input()
	sig := m.scorer.Generate(snap, in.Quant, in.Summary, ac.Time())
	if sig.IsDirectional() {
		logger.Debugf("[pipeline] %s %s strength=%d buy=%.1f sell=%.1f", ac.Symbol, sig.Type, sig.Strength, sig.BuyScore, sig.SellScore)
	}
	ac.SetSignal(sig)
	return nil
}
