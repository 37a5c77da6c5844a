package middlewares

import (
	"context"
	"errors"
	"fmt"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/pipeline"
)

var errNoIndicatorInput = errors.New("neither snapshot nor candles provided")

// Indicators 由 K 线计算指标快照；输入已带快照时跳过。
type Indicators struct {
	meta     pipeline.MiddlewareMeta
	settings indicator.Settings
}

func NewIndicators(opts Options, settings indicator.Settings) *Indicators {
	return &Indicators{meta: opts.meta("indicators", 0, true), settings: settings}
}

func (m *Indicators) Meta() pipeline.MiddlewareMeta { return m.meta }

func (m *Indicators) Handle(ctx context.Context, ac *pipeline.AnalysisContext) error {
	if _, ok := ac.Snapshot(); ok {
		return nil
	}
	candles := ac.Input().Candles
	if len(candles) == 0 {
		return errNoIndicatorInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	snap, err := indicator.Compute(candles, m.settings)
	if err != nil {
		return fmt.Errorf("compute %s indicators: %w", ac.Symbol, err)
	}
	ac.SetSnapshot(snap)
	return nil
}
