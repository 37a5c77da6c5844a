package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/export"
	"quantcore/internal/market"
	"quantcore/internal/pipeline"
	"quantcore/internal/pipeline/factory"
	"quantcore/internal/risk"
	"quantcore/internal/strategy"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Instantiate(id string) (strategy.Strategy, error) {
	args := m.Called(id)
	st, _ := args.Get(0).(strategy.Strategy)
	return st, args.Error(1)
}

func waveCandles(n int) market.Candles {
	out := make(market.Candles, n)
	for i := range out {
		base := 10 + 0.03*float64(i) + 0.6*math.Sin(float64(i)/5)
		ts := day0.AddDate(0, 0, i).UnixMilli()
		out[i] = market.Candle{OpenTime: ts - int64(6*time.Hour/time.Millisecond), CloseTime: ts,
			Open: base - 0.05, High: base + 0.2, Low: base - 0.2, Close: base, Volume: 1e6}
	}
	return out
}

func testAnalyzer(t *testing.T) *pipeline.Analyzer {
	t.Helper()
	fac := &factory.Factory{Risk: risk.NewManager(risk.DefaultConfig())}
	p, err := fac.Pipeline("backtest-test")
	require.NoError(t, err)
	return pipeline.NewAnalyzer(p, indicator.DefaultSettings(), 2)
}

func TestBuilder(t *testing.T) {
	ctx := context.Background()
	candles := waveCandles(90)

	t.Run("records source uses default thresholds", func(t *testing.T) {
		b := &Builder{BuyScore: 70, SellScore: 30}
		recs := []export.Record{{Time: candles[3].Time(), Score: 80}}
		bars, src, err := b.Build(ctx, "600000", candles, SourceSpec{Records: recs})
		require.NoError(t, err)
		assert.Len(t, bars, len(candles))
		assert.Equal(t, SourceRecords, src.Name())
	})

	t.Run("records thresholds must be ordered", func(t *testing.T) {
		b := &Builder{BuyScore: 70, SellScore: 30}
		_, _, err := b.Build(ctx, "600000", candles, SourceSpec{Kind: SourceRecords, BuyScore: 20})
		require.Error(t, err)
	})

	t.Run("strategy source replays after warmup", func(t *testing.T) {
		m := &mockStrategy{}
		p := &mockProvider{}
		p.On("Instantiate", "trend").Return(m, nil)
		b := &Builder{Analyzer: testAnalyzer(t), Strategies: p, Warmup: 60}

		bars, src, err := b.Build(ctx, "600000", candles, SourceSpec{Kind: SourceStrategy, StrategyID: "trend"})
		require.NoError(t, err)
		require.Len(t, bars, 30)
		assert.Equal(t, candles[60], bars[0].Candle)
		assert.NotNil(t, bars[0].Data.Snapshot.MA20, "indicator snapshot attached to each bar")
		assert.Equal(t, "mock", src.Name())
		p.AssertExpectations(t)
	})

	t.Run("strategy errors", func(t *testing.T) {
		p := &mockProvider{}
		p.On("Instantiate", "nope").Return(nil, strategy.ErrUnknownStrategy)
		b := &Builder{Analyzer: testAnalyzer(t), Strategies: p, Warmup: 60}
		_, _, err := b.Build(ctx, "600000", candles, SourceSpec{StrategyID: "nope"})
		require.ErrorIs(t, err, strategy.ErrUnknownStrategy)

		p.On("Instantiate", "trend").Return(&mockStrategy{}, nil)
		_, _, err = b.Build(ctx, "600000", candles, SourceSpec{StrategyID: "trend", Warmup: 200})
		require.Error(t, err)

		_, _, err = (&Builder{}).Build(ctx, "600000", candles, SourceSpec{StrategyID: "trend"})
		require.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, _, err := (&Builder{}).Build(ctx, "600000", candles, SourceSpec{Kind: "magic"})
		require.ErrorIs(t, err, ErrUnknownSource)
	})
}
