package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func curveOf(equity ...float64) []EquityPoint {
	out := make([]EquityPoint, len(equity))
	for i, e := range equity {
		out[i] = EquityPoint{Time: day0.AddDate(0, 0, i), Equity: e}
	}
	return out
}

func TestComputeMetrics(t *testing.T) {
	t.Run("known values", func(t *testing.T) {
		trades := []Trade{{PnL: 30}, {PnL: -10}, {PnL: 20}}
		m := ComputeMetrics(curveOf(100, 110, 99, 121), trades, MetricsConfig{PeriodsPerYear: 3})

		assert.InDelta(t, 100.0, m.InitialEquity, 1e-12)
		assert.InDelta(t, 121.0, m.FinalEquity, 1e-12)
		assert.InDelta(t, 0.21, m.TotalReturn, 1e-12)
		assert.InDelta(t, 0.21, m.AnnualizedReturn, 1e-12)
		assert.InDelta(t, 0.1, m.MaxDrawdown, 1e-12)
		assert.Equal(t, 1, m.MaxDrawdownDuration)
		assert.Equal(t, 3, m.Periods)
		assert.Greater(t, m.SharpeRatio, 0.0)
		assert.Greater(t, m.SortinoRatio, 0.0)
		assert.Greater(t, m.Volatility, 0.0)

		assert.Equal(t, 3, m.TradeCount)
		assert.Equal(t, 2, m.Wins)
		assert.Equal(t, 1, m.Losses)
		assert.InDelta(t, 2.0/3, m.WinRate, 1e-12)
		assert.InDelta(t, 5.0, m.ProfitFactor, 1e-12)
		assert.InDelta(t, 40.0/3, m.Expectancy, 1e-12)
		assert.InDelta(t, 25.0, m.AvgWin, 1e-12)
		assert.InDelta(t, -10.0, m.AvgLoss, 1e-12)
	})

	t.Run("no losing trades caps profit factor", func(t *testing.T) {
		m := ComputeMetrics(curveOf(100, 105), []Trade{{PnL: 5}}, DefaultMetricsConfig())
		assert.Equal(t, profitFactorCap, m.ProfitFactor)
		assert.Equal(t, 1.0, m.WinRate)
		assert.Zero(t, m.AvgLoss)
	})

	t.Run("flat trade counts as loss", func(t *testing.T) {
		m := ComputeMetrics(curveOf(100, 100), []Trade{{PnL: 0}}, DefaultMetricsConfig())
		assert.Equal(t, 0, m.Wins)
		assert.Equal(t, 1, m.Losses)
		assert.Zero(t, m.ProfitFactor)
	})

	t.Run("constant growth has no risk-adjusted ratio", func(t *testing.T) {
		m := ComputeMetrics(curveOf(100, 110, 121, 133.1), nil, DefaultMetricsConfig())
		assert.Zero(t, m.MaxDrawdown)
		assert.Zero(t, m.MaxDrawdownDuration)
		assert.InDelta(t, 0, m.Volatility, 1e-9)
		assert.Zero(t, m.SortinoRatio)
	})

	t.Run("longest underwater stretch", func(t *testing.T) {
		m := ComputeMetrics(curveOf(100, 90, 95, 99, 101, 100, 102), nil, DefaultMetricsConfig())
		assert.InDelta(t, 0.1, m.MaxDrawdown, 1e-12)
		assert.Equal(t, 3, m.MaxDrawdownDuration)
	})

	t.Run("empty inputs", func(t *testing.T) {
		assert.Equal(t, Metrics{}, ComputeMetrics(nil, nil, MetricsConfig{}))
	})

	t.Run("wiped out account", func(t *testing.T) {
		m := ComputeMetrics(curveOf(100, 0), nil, DefaultMetricsConfig())
		assert.Equal(t, -1.0, m.TotalReturn)
		assert.Equal(t, -1.0, m.AnnualizedReturn)
	})
}
