package factory

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/analysis/signal"
	"quantcore/internal/analysis/trend"
	"quantcore/internal/market"
	"quantcore/internal/pipeline"
	"quantcore/internal/risk"
)

var f = indicator.F

func bullishSnapshot() indicator.Snapshot {
	return indicator.Snapshot{
		Price: f(10.5),
		MA5:   f(10.4), MA10: f(10.2), MA20: f(10.0), MA60: f(9.5),
		MACD: indicator.MACD{DIF: f(0.12), DEA: f(0.08), Histogram: f(0.04), Cross: indicator.CrossGolden},
		RSI:  indicator.RSI{Value: f(38), Status: indicator.StatusNeutral},
		ATR:  f(0.25),
	}
}

func wave(n int) market.Candles {
	out := make(market.Candles, n)
	start := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	for i := range out {
		base := 10 + 0.02*float64(i) + 0.5*math.Sin(float64(i)/4)
		ts := start.AddDate(0, 0, i).UnixMilli()
		out[i] = market.Candle{OpenTime: ts, CloseTime: ts, Open: base - 0.05, High: base + 0.2, Low: base - 0.2, Close: base, Volume: 1e6 + float64(i%7)*1e5}
	}
	return out
}

func newAnalyzer(t *testing.T) *pipeline.Analyzer {
	t.Helper()
	fac := &Factory{Risk: risk.NewManager(risk.DefaultConfig())}
	p, err := fac.Pipeline("test")
	require.NoError(t, err)
	assert.Equal(t, []string{"indicators", "levels", "trend", "signal", "risk"}, p.Names())
	return pipeline.NewAnalyzer(p, indicator.DefaultSettings(), 2)
}

func TestAnalyzeSnapshot(t *testing.T) {
	a := newAnalyzer(t)
	snap := bullishSnapshot()
	b, err := a.Analyze(context.Background(), pipeline.Input{
		Symbol:   "600519",
		Snapshot: &snap,
		Quant:    &trend.QuantAnalysis{Score: f(78)},
	})
	require.NoError(t, err)
	assert.Equal(t, signal.Buy, b.Signal.Type)
	assert.GreaterOrEqual(t, b.Signal.Strength, 4)
	assert.Equal(t, 10.5, b.Price)
	assert.Equal(t, 10.0, b.Risk.StopLoss)
	assert.Equal(t, "1:2/1:3/1:5", b.Risk.RiskRewardRatio)
	assert.Contains(t, b.PositionStrategy, "建仓计划")
	assert.Equal(t, 78.0, b.Score)
	assert.Equal(t, trend.RegimeBull, b.MarketRegime)
	assert.Equal(t, b.Signal.Trend.State, b.Trend.State)

	inst := b.Instrument()
	assert.Equal(t, "600519", inst.Symbol)
	assert.Equal(t, 0.25, inst.ATR())
	require.NotNil(t, inst.Quant)
}

func TestAnalyzeMissingInput(t *testing.T) {
	a := newAnalyzer(t)
	_, err := a.Analyze(context.Background(), pipeline.Input{Symbol: "X"})
	var mwErr *pipeline.MiddlewareError
	require.ErrorAs(t, err, &mwErr)
	assert.Equal(t, "indicators", mwErr.Name)
}

func TestBatchIsolatesFailures(t *testing.T) {
	a := newAnalyzer(t)
	snap := bullishSnapshot()
	res := a.Batch(context.Background(), []pipeline.Input{
		{Symbol: "A", Snapshot: &snap},
		{Symbol: "B"},
		{Symbol: "C", Candles: wave(80)},
	})
	require.Len(t, res, 3)
	assert.NoError(t, res[0].Err)
	assert.Error(t, res[1].Err)
	assert.NoError(t, res[2].Err)
	assert.Equal(t, "C", res[2].Bundle.Symbol)
	assert.NotNil(t, res[2].Bundle.Indicators.MA20)
}

func TestReplayMatchesSingleShot(t *testing.T) {
	a := newAnalyzer(t)
	candles := wave(90)
	bundles, err := a.Replay(context.Background(), "W", candles, pipeline.ReplayOptions{Warmup: 30})
	require.NoError(t, err)
	require.Len(t, bundles, 60)
	assert.Equal(t, candles[30].Time(), bundles[0].Time)

	last, err := a.Analyze(context.Background(), pipeline.Input{Symbol: "W", Candles: candles})
	require.NoError(t, err)
	got := bundles[len(bundles)-1]
	assert.Equal(t, last.Signal.Type, got.Signal.Type)
	assert.Equal(t, last.Signal.BuyScore, got.Signal.BuyScore)
	assert.Equal(t, last.Trend.Score, got.Trend.Score)
	assert.Equal(t, last.Levels, got.Levels)
}

func TestBuildRejectsUnknown(t *testing.T) {
	fac := &Factory{}
	_, err := fac.Build(MiddlewareConfig{Name: "nope"})
	assert.Error(t, err)
	_, err = fac.Build(MiddlewareConfig{Name: "risk", Params: map[string]any{"holding_period": "forever"}})
	assert.Error(t, err)
	mw, err := fac.Build(MiddlewareConfig{Name: "levels", Params: map[string]any{"lookback": "30"}})
	require.NoError(t, err)
	assert.Equal(t, 0, mw.Meta().Stage)
}
