package strategy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/analysis/signal"
	"quantcore/internal/analysis/trend"
	"quantcore/internal/risk"
)

var f = indicator.F

func bullishData(sym string) InstrumentData {
	return InstrumentData{
		Symbol: sym,
		Time:   time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC),
		Snapshot: indicator.Snapshot{
			Price: f(10.5),
			MA5:   f(10.4), MA10: f(10.2), MA20: f(10.0), MA60: f(9.5),
			MACD: indicator.MACD{DIF: f(0.12), DEA: f(0.08), Histogram: f(0.04), Cross: indicator.CrossGolden},
			RSI:  indicator.RSI{Value: f(38), Status: indicator.StatusNeutral},
			ATR:  f(0.25),
		},
		Quant: &trend.QuantAnalysis{Score: f(78)},
	}
}

func build(t *testing.T, cfg Config) Strategy {
	t.Helper()
	def, ok := BuiltinRegistry().Lookup(cfg.DefinitionID())
	require.True(t, ok)
	cfg.Params = def.MergeDefaults(cfg.Params)
	require.NoError(t, def.Validate(cfg.Params))
	st, err := def.Factory(cfg, NewToolkit(nil, nil, nil))
	require.NoError(t, err)
	require.NoError(t, st.ValidateParams())
	return st
}

func TestMultiIndicator(t *testing.T) {
	st := build(t, Config{ID: "mi", Type: TypeMultiIndicator})
	data := MarketData{"600519": bullishData("600519"), "000001": {Symbol: "000001"}}

	sigs, err := st.GenerateSignals(context.Background(), []string{"600519", "000001", "missing"}, data)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	sig := sigs[0]
	assert.Equal(t, signal.Buy, sig.Type)
	assert.GreaterOrEqual(t, sig.Strength, 4)
	assert.Equal(t, 10.5, sig.Price)
	assert.Equal(t, 10.0, sig.Risk.StopLoss)
	assert.Equal(t, risk.PeriodSwing, sig.Risk.HoldingPeriod)

	qty := st.CalculatePositionSize(sig, 200000)
	assert.Positive(t, qty)
	assert.Zero(t, qty%100)
	assert.LessOrEqual(t, float64(qty)*10.5, 200000*sig.Risk.SuggestedPositionPct)

	t.Run("hold filtered by min strength", func(t *testing.T) {
		strict := build(t, Config{ID: "mi5", Type: TypeMultiIndicator, Params: map[string]any{"min_strength": 5}})
		weak := bullishData("x")
		weak.Quant = nil
		sigs, err := strict.GenerateSignals(context.Background(), []string{"x"}, MarketData{"x": weak})
		require.NoError(t, err)
		for _, s := range sigs {
			assert.Equal(t, 5, s.Strength)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := st.GenerateSignals(ctx, []string{"600519"}, data)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTrendFollowing(t *testing.T) {
	st := build(t, Config{ID: "tf", Type: TypeTrendFollowing, AllocatedCapital: 100000})
	sigs, err := st.GenerateSignals(context.Background(), []string{"A"}, MarketData{"A": bullishData("A")})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	// 25+8+10+10+5 +10(quant) = 68
	assert.Equal(t, signal.Buy, sigs[0].Type)
	assert.Equal(t, 3, sigs[0].Strength)
	assert.Equal(t, trend.StrongUp, sigs[0].Trend.State)
	assert.Len(t, sigs[0].TriggeredConditions, 2)

	bear := InstrumentData{Symbol: "B", Snapshot: indicator.Snapshot{
		Price: f(8), MA5: f(8.2), MA10: f(8.5), MA20: f(9), MA60: f(10),
		MACD: indicator.MACD{DIF: f(-0.2), DEA: f(-0.1), Histogram: f(-0.1)},
	}}
	sigs, err = st.GenerateSignals(context.Background(), []string{"B"}, MarketData{"B": bear})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, signal.Sell, sigs[0].Type)

	pos, err := risk.OpenPosition("B", 100, 8.1, time.Time{})
	require.NoError(t, err)
	// 评分器给出强度 2 的卖出信号，先于趋势反转命中
	exit, reason := st.CheckExitConditions(pos, bear)
	assert.True(t, exit)
	assert.Contains(t, reason, "sell_signal")

	t.Run("sell signal trims by strength", func(t *testing.T) {
		// 空头排列3 + 跌破MA20 1 + 绿柱1 = 5
		require.Equal(t, 2, st.(*TrendFollowing).tk.Score(bear).Strength)
		in := ResolveExit(st, pos, bear)
		assert.True(t, in.Exit)
		assert.Equal(t, 0.3, in.Ratio)
		assert.Contains(t, in.Reason, "sell_signal")
	})

	t.Run("trend reversal without sell signal", func(t *testing.T) {
		weak := InstrumentData{Symbol: "B", Snapshot: indicator.Snapshot{Price: f(8), MA20: f(9), MA60: f(10)}}
		exit, reason := st.CheckExitConditions(pos, weak)
		assert.True(t, exit)
		assert.Contains(t, reason, "trend_reversal")
		assert.Equal(t, 1.0, ResolveExit(st, pos, weak).Ratio)
	})
}

func TestMeanReversion(t *testing.T) {
	st := build(t, Config{ID: "mr", Type: TypeMeanReversion})
	oversold := InstrumentData{Symbol: "M", Price: 10, Snapshot: indicator.Snapshot{
		RSI:       indicator.RSI{Value: f(25)},
		Bollinger: indicator.Bollinger{Status: indicator.BandBelowLower},
	}}
	sigs, err := st.GenerateSignals(context.Background(), []string{"M"}, MarketData{"M": oversold})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, signal.Buy, sigs[0].Type)
	assert.Equal(t, 2, sigs[0].Strength)
	assert.InDelta(t, 0.6, sigs[0].Confidence, 1e-9)
	assert.Equal(t, int64(1000), st.CalculatePositionSize(sigs[0], 100000))

	t.Run("band required", func(t *testing.T) {
		mid := oversold
		mid.Snapshot.Bollinger.Status = indicator.BandMiddle
		sigs, err := st.GenerateSignals(context.Background(), []string{"M"}, MarketData{"M": mid})
		require.NoError(t, err)
		assert.Empty(t, sigs)
	})

	t.Run("exit once reverted", func(t *testing.T) {
		pos, err := risk.OpenPosition("M", 1000, 10, time.Time{})
		require.NoError(t, err)
		reverted := InstrumentData{Symbol: "M", Price: 10, Snapshot: indicator.Snapshot{RSI: indicator.RSI{Value: f(60)}}}
		exit, reason := st.CheckExitConditions(pos, reverted)
		assert.True(t, exit)
		assert.Contains(t, reason, "mean_reverted")

		still := reverted
		still.Snapshot.RSI.Value = f(40)
		exit, _ = st.CheckExitConditions(pos, still)
		assert.False(t, exit)
	})
}

func TestCatalogLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.yaml")
	write := func(body string) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	write(`strategies:
  - id: mi
    type: multi_indicator
    enabled: true
    allocated_capital: 100000
    params:
      min_strength: 3
`)
	cat, err := NewCatalog(path, false)
	require.NoError(t, err)
	snap := cat.Snapshot()
	require.Len(t, snap.Strategies, 1)
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, 3, snap.Strategies[0].Params["min_strength"])

	ex := NewExecutor(nil, nil, nil)
	report := ex.Watch(cat)
	assert.Equal(t, []string{"mi"}, report.Loaded)

	write(`strategies:
  - id: mi
    type: multi_indicator
    enabled: true
    allocated_capital: 100000
  - id: trend
    type: trend_following
    enabled: true
    allocated_capital: 300000
    holding_period: long
`)
	require.NoError(t, cat.Reload())
	assert.Equal(t, int64(2), cat.Snapshot().Version)
	assert.Len(t, ex.Strategies(), 2)

	t.Run("unknown fields rejected", func(t *testing.T) {
		_, err := ParseCatalog(strings.NewReader("strategies:\n  - id: x\n    capital: 1\n"))
		assert.Error(t, err)
	})

	t.Run("missing id rejected", func(t *testing.T) {
		_, err := ParseCatalog(strings.NewReader("strategies:\n  - type: multi_indicator\n"))
		assert.Error(t, err)
	})

	t.Run("empty file", func(t *testing.T) {
		cfgs, err := ParseCatalog(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, cfgs)
	})
}
