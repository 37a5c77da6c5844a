package export

import (
	"context"

	"quantcore/internal/market"
	"quantcore/internal/pipeline"
)

// FromBundle 把一次分析结果映射为 CSV 行。
func FromBundle(b pipeline.Bundle) Record {
	return Record{
		Time:         b.Time,
		Score:        b.Score,
		MarketRegime: b.MarketRegime,
		Trend:        string(b.Trend.State),
		BBStatus:     b.Indicators.Bollinger.Status,
		RSIStatus:    b.Indicators.RSI.Status,
	}
}

// Exporter K 线序列 -> 逐根分析 -> CSV 契约。
type Exporter struct {
	analyzer *pipeline.Analyzer
	opts     pipeline.ReplayOptions
}

func NewExporter(analyzer *pipeline.Analyzer, opts pipeline.ReplayOptions) *Exporter {
	return &Exporter{analyzer: analyzer, opts: opts}
}

// Records 逐根生成记录，同时返回完整的分析结果供回测复用。
func (e *Exporter) Records(ctx context.Context, symbol string, candles market.Candles) ([]Record, []pipeline.Bundle, error) {
	bundles, err := e.analyzer.Replay(ctx, symbol, candles, e.opts)
	if err != nil {
		return nil, nil, err
	}
	out := make([]Record, len(bundles))
	for i, b := range bundles {
		out[i] = FromBundle(b)
	}
	return out, bundles, nil
}
