package backtest

import (
	"context"
	"fmt"
	"strings"

	"quantcore/internal/market"
	"quantcore/internal/pipeline"
)

// BarsFromBundles 将逐根分析结果与 K 线按时间配对。bundles 对应 candles 的末尾部分（预热段之后）。
func BarsFromBundles(symbol string, candles market.Candles, bundles []pipeline.Bundle) ([]Bar, error) {
	offset := len(candles) - len(bundles)
	if offset < 0 {
		return nil, fmt.Errorf("bundles (%d) exceed candles (%d)", len(bundles), len(candles))
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	out := make([]Bar, len(bundles))
	for i, b := range bundles {
		c := candles[offset+i]
		if !b.Time.Equal(c.Time()) {
			return nil, fmt.Errorf("bundle %d at %s does not match candle at %s", i, b.Time, c.Time())
		}
		out[i] = Bar{Candle: c, Symbol: symbol, Data: b.Instrument()}
	}
	return out, nil
}

// ReplayBars 对 K 线逐根分析后生成回放序列，预热段不参与撮合。
func ReplayBars(ctx context.Context, analyzer *pipeline.Analyzer, symbol string, candles market.Candles, opts pipeline.ReplayOptions) ([]Bar, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	bundles, err := analyzer.Replay(ctx, symbol, candles, opts)
	if err != nil {
		return nil, err
	}
	return BarsFromBundles(symbol, candles, bundles)
}

// CandleBars 只有价格、没有分析输入的回放序列，供记录源（CSV 契约）使用。
func CandleBars(symbol string, candles market.Candles) []Bar {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	out := make([]Bar, len(candles))
	for i, c := range candles {
		out[i] = Bar{Candle: c, Symbol: symbol}
		out[i].Data.Symbol = symbol
		out[i].Data.Time = c.Time()
		out[i].Data.Price = c.Close
	}
	return out
}
