package middlewares

import (
	"context"

	"quantcore/internal/analysis/trend"
	"quantcore/internal/pipeline"
)

// Trend 趋势分级。
type Trend struct {
	meta       pipeline.MiddlewareMeta
	classifier *trend.Classifier
}

func NewTrend(opts Options, classifier *trend.Classifier) *Trend {
	if classifier == nil {
		classifier = trend.NewClassifier(trend.DefaultConfig())
	}
	return &Trend{meta: opts.meta("trend", 1, true), classifier: classifier}
}

func (m *Trend) Meta() pipeline.MiddlewareMeta { return m.meta }

func (m *Trend) Handle(_ context.Context, ac *pipeline.AnalysisContext) error {
	snap, ok := ac.Snapshot()
	if !ok {
		return errNoIndicatorInput
	}
	ac.SetTrend(m.classifier.Classify(snap, ac.Input().Quant))
	return nil
}
