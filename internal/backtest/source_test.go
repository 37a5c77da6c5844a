package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"quantcore/internal/analysis/signal"
	"quantcore/internal/export"
	"quantcore/internal/risk"
	"quantcore/internal/strategy"
)

type mockStrategy struct {
	mock.Mock
}

func (m *mockStrategy) ID() string   { return "mock" }
func (m *mockStrategy) Type() string { return "mock" }

func (m *mockStrategy) GenerateSignals(ctx context.Context, symbols []string, data strategy.MarketData) ([]strategy.Signal, error) {
	args := m.Called(ctx, symbols, data)
	sigs, _ := args.Get(0).([]strategy.Signal)
	return sigs, args.Error(1)
}

func (m *mockStrategy) CalculatePositionSize(sig strategy.Signal, capital float64) int64 {
	return m.Called(sig, capital).Get(0).(int64)
}

func (m *mockStrategy) CheckExitConditions(pos *risk.Position, data strategy.InstrumentData) (bool, string) {
	args := m.Called(pos, data)
	return args.Bool(0), args.String(1)
}

func (m *mockStrategy) ValidateParams() error { return nil }

// signalExit 离场交给风控，按给定的卖出信号决定减仓比例。
type signalExit struct {
	*mockStrategy
	rm   *risk.Manager
	sell signal.TradingSignal
}

func (s signalExit) PlanExit(pos *risk.Position, data strategy.InstrumentData) strategy.ExitIntent {
	d := s.rm.ExitCheck(pos, data.LastPrice(), data.ATR(), risk.PeriodSwing, &s.sell, data.Time)
	return strategy.ExitIntent{Exit: d.Exit, Ratio: d.SellRatio, Reason: d.Reason.String()}
}

func tradingSignal(sym string, typ signal.Type, strength int) strategy.Signal {
	return strategy.Signal{
		StrategyID:    "mock",
		Symbol:        sym,
		TradingSignal: signal.TradingSignal{Type: typ, Strength: strength, TriggeredConditions: []string{"macd golden cross"}},
	}
}

func TestStrategySource(t *testing.T) {
	bars := mkBars(10)
	bar := bars[0]
	bar.Data.Symbol = bar.Symbol

	t.Run("buy when flat is sized by strategy", func(t *testing.T) {
		m := &mockStrategy{}
		m.On("GenerateSignals", mock.Anything, []string{"600000"}, mock.Anything).
			Return([]strategy.Signal{tradingSignal("600000", signal.Buy, 4)}, nil)
		m.On("CalculatePositionSize", mock.Anything, 50000.0).Return(int64(1200))

		d, err := NewStrategySource(m).Decide(context.Background(), bar, Account{Cash: 50000, Equity: 50000})
		require.NoError(t, err)
		assert.Equal(t, ActionBuy, d.Action)
		assert.Equal(t, int64(1200), d.Quantity)
		assert.Contains(t, d.Reason, "macd golden cross")
		m.AssertExpectations(t)
	})

	t.Run("exit condition wins while holding", func(t *testing.T) {
		pos, err := risk.OpenPosition("600000", 100, 10, day0)
		require.NoError(t, err)
		m := &mockStrategy{}
		m.On("CheckExitConditions", pos, mock.Anything).Return(true, "trend reversal")

		d, err := NewStrategySource(m).Decide(context.Background(), bar, Account{Cash: 1000, Position: pos})
		require.NoError(t, err)
		assert.Equal(t, ActionSell, d.Action)
		assert.Equal(t, 1.0, d.SellRatio)
		assert.Equal(t, "trend reversal", d.Reason)
		m.AssertNotCalled(t, "GenerateSignals", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("exit planner ratio is kept", func(t *testing.T) {
		pos, err := risk.OpenPosition("600000", 1000, 10, day0)
		require.NoError(t, err)
		st := signalExit{
			mockStrategy: &mockStrategy{},
			rm:           risk.NewManager(risk.Config{}),
			sell:         signal.TradingSignal{Type: signal.Sell, Strength: 2},
		}
		priced := bar
		priced.Data.Price, priced.Data.Time = 10, day0
		d, err := NewStrategySource(st).Decide(context.Background(), priced, Account{Cash: 1000, Position: pos})
		require.NoError(t, err)
		assert.Equal(t, ActionSell, d.Action)
		assert.Equal(t, 0.3, d.SellRatio)
		assert.Equal(t, "sell_signal", d.Reason)
	})

	t.Run("sell signal when flat holds", func(t *testing.T) {
		m := &mockStrategy{}
		m.On("GenerateSignals", mock.Anything, mock.Anything, mock.Anything).
			Return([]strategy.Signal{tradingSignal("600000", signal.Sell, 3)}, nil)

		d, err := NewStrategySource(m).Decide(context.Background(), bar, Account{Cash: 1000})
		require.NoError(t, err)
		assert.Equal(t, ActionHold, d.Action)
	})
}

func TestStrategySourcePartialExit(t *testing.T) {
	bars := mkBars(10, 10)
	m := &mockStrategy{}
	m.On("GenerateSignals", mock.Anything, []string{"600000"}, mock.Anything).
		Return([]strategy.Signal{tradingSignal("600000", signal.Buy, 3)}, nil).Once()
	m.On("CalculatePositionSize", mock.Anything, 100000.0).Return(int64(1000)).Once()
	st := signalExit{
		mockStrategy: m,
		rm:           risk.NewManager(risk.Config{}),
		sell:         signal.TradingSignal{Type: signal.Sell, Strength: 2},
	}

	res, err := NewEngine(plainConfig(), nil).Run(context.Background(), bars, NewStrategySource(st))
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	// 强度 2 的卖出信号减仓 30%，剩余在最后一根 bar 强制平仓
	assert.Equal(t, int64(300), res.Trades[0].Quantity)
	assert.Equal(t, "sell_signal", res.Trades[0].Reason)
	assert.Equal(t, int64(700), res.Trades[1].Quantity)
	assert.Equal(t, ReasonForceClose, res.Trades[1].Reason)
	m.AssertExpectations(t)
}

func TestRecordSource(t *testing.T) {
	bars := mkBars(10, 11, 12, 13)
	records := []export.Record{
		{Time: bars[0].Time(), Score: 72, MarketRegime: "bull"},
		{Time: bars[1].Time(), Score: 50, MarketRegime: "range"},
		{Time: bars[2].Time(), Score: 35, MarketRegime: "bear"},
	}
	src, err := NewRecordSource("csv", records, 60, 40)
	require.NoError(t, err)
	assert.Equal(t, "csv", src.Name())

	pos, err := risk.OpenPosition("600000", 100, 10, day0)
	require.NoError(t, err)

	cases := []struct {
		name string
		bar  Bar
		acct Account
		want Action
	}{
		{"buy above threshold", bars[0], Account{}, ActionBuy},
		{"no rebuy while holding", bars[0], Account{Position: pos}, ActionHold},
		{"neutral score", bars[1], Account{Position: pos}, ActionHold},
		{"sell below threshold", bars[2], Account{Position: pos}, ActionSell},
		{"no sell when flat", bars[2], Account{}, ActionHold},
		{"missing record", bars[3], Account{Position: pos}, ActionHold},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := src.Decide(context.Background(), tc.bar, tc.acct)
			require.NoError(t, err)
			assert.Equal(t, tc.want, d.Action)
		})
	}

	t.Run("thresholds must not overlap", func(t *testing.T) {
		_, err := NewRecordSource("csv", records, 50, 50)
		require.Error(t, err)
	})
}
