package risk

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/internal/analysis/signal"
)

func ptr(v float64) *float64 { return &v }

func TestStopLoss(t *testing.T) {
	m := NewManager(Config{})

	t.Run("swing atr stop", func(t *testing.T) {
		sl := m.StopLoss(10.5, 0.25, PeriodSwing, nil)
		assert.Equal(t, 10.0, sl.Price)
		assert.InDelta(t, 0.047619, sl.Pct, 1e-6)
		assert.Equal(t, StopMethodATR, sl.Method)
		assert.False(t, sl.Clamped)
	})

	t.Run("support is the higher stop", func(t *testing.T) {
		sl := m.StopLoss(10.5, 0.25, PeriodSwing, ptr(10.2))
		assert.Equal(t, 10.075, sl.Price)
		assert.Equal(t, StopMethodSupport, sl.Method)
	})

	t.Run("support below atr stop is ignored", func(t *testing.T) {
		sl := m.StopLoss(10.5, 0.25, PeriodSwing, ptr(9.0))
		assert.Equal(t, 10.0, sl.Price)
		assert.Equal(t, StopMethodATR, sl.Method)
	})

	t.Run("clamped to max", func(t *testing.T) {
		sl := m.StopLoss(10, 1, PeriodSwing, nil)
		assert.True(t, sl.Clamped)
		assert.Equal(t, 0.10, sl.Pct)
		assert.Equal(t, 9.0, sl.Price)
	})

	t.Run("clamped to min", func(t *testing.T) {
		sl := m.StopLoss(100, 0.1, PeriodShort, nil)
		assert.True(t, sl.Clamped)
		assert.Equal(t, 0.02, sl.Pct)
		assert.Equal(t, 98.0, sl.Price)
	})

	t.Run("missing atr falls back to band midpoint", func(t *testing.T) {
		sl := m.StopLoss(10, 0, PeriodLong, nil)
		assert.Equal(t, StopMethodFallback, sl.Method)
		assert.Equal(t, 9.4, sl.Price)
	})

	t.Run("period multipliers", func(t *testing.T) {
		assert.Equal(t, 97.0, m.StopLoss(100, 2, PeriodShort, nil).Price)
		assert.Equal(t, 96.0, m.StopLoss(100, 2, PeriodSwing, nil).Price)
		assert.Equal(t, 95.0, m.StopLoss(100, 2, PeriodLong, nil).Price)
	})
}

func TestStopLossPctAlwaysInBand(t *testing.T) {
	m := NewManager(Config{})
	cfg := m.Config()
	rng := rand.New(rand.NewSource(7))
	periods := []HoldingPeriod{PeriodShort, PeriodSwing, PeriodLong}
	for i := 0; i < 1000; i++ {
		entry := 0.5 + rng.Float64()*500
		atr := rng.Float64() * entry * 0.2
		var support *float64
		if rng.Intn(2) == 0 {
			support = ptr(entry * (0.7 + rng.Float64()*0.35))
		}
		sl := m.StopLoss(entry, atr, periods[rng.Intn(3)], support)
		assert.GreaterOrEqual(t, sl.Pct, cfg.MinStopLossPct, "entry=%v atr=%v", entry, atr)
		assert.LessOrEqual(t, sl.Pct, cfg.MaxStopLossPct, "entry=%v atr=%v", entry, atr)
		assert.Less(t, sl.Price, entry)
	}
}

func TestParametersScenarioA(t *testing.T) {
	m := NewManager(Config{})
	sig := signal.TradingSignal{Type: signal.Buy, Strength: 5, Confidence: 0.8}
	p := m.Parameters(sig, 10.5, 0.25, PeriodSwing, nil)

	assert.Equal(t, 10.0, p.StopLoss)
	assert.Equal(t, 11.5, p.TakeProfit1)
	assert.Equal(t, 12.0, p.TakeProfit2)
	assert.Equal(t, 13.0, p.TakeProfit3)
	assert.Equal(t, "1:2/1:3/1:5", p.RiskRewardRatio)
	assert.Equal(t, 0.30, p.SuggestedPositionPct)

	t.Run("risk budget caps position", func(t *testing.T) {
		// 止损 10%，单笔风险 2% => 最多 20%
		p := m.Parameters(sig, 10, 1, PeriodSwing, nil)
		assert.Equal(t, 0.20, p.SuggestedPositionPct)
	})

	t.Run("sell suggests no new position", func(t *testing.T) {
		p := m.Parameters(signal.TradingSignal{Type: signal.Sell, Strength: 4}, 10.5, 0.25, PeriodSwing, nil)
		assert.Zero(t, p.SuggestedPositionPct)
		assert.Equal(t, 10.0, p.StopLoss)
	})
}

func TestTrailingStopScenarioC(t *testing.T) {
	m := NewManager(Config{})

	t.Run("fires at highest minus half atr", func(t *testing.T) {
		r := m.TrailingStop(10, 11.75, 12, 0.5)
		assert.True(t, r.Active)
		assert.True(t, r.Fired)
		assert.Equal(t, 1.0, r.Ratio)
		assert.Equal(t, 11.75, r.StopPrice)
		assert.Equal(t, 11.5, r.ActivationPrice)

		r = m.TrailingStop(10, 11.76, 12, 0.5)
		assert.True(t, r.Active)
		assert.False(t, r.Fired)
	})

	t.Run("never fires before activation", func(t *testing.T) {
		r := m.TrailingStop(10, 9.0, 11.49, 0.5)
		assert.False(t, r.Active)
		assert.False(t, r.Fired)
	})

	t.Run("activates exactly at three atr", func(t *testing.T) {
		r := m.TrailingStop(10, 11.0, 11.5, 0.5)
		assert.True(t, r.Active)
		assert.True(t, r.Fired)
	})

	t.Run("monotonic in price", func(t *testing.T) {
		for cents := 1200; cents >= 1000; cents-- {
			price := float64(cents) / 100
			r := m.TrailingStop(10, price, 12, 0.5)
			assert.Equal(t, cents <= 1175, r.Fired, "price=%v", price)
		}
	})
}

func TestPyramidEntry(t *testing.T) {
	m := NewManager(Config{})

	d := m.EvaluateEntry(EntryInput{Score: 80, Price: 10, Capital: 1_000_000})
	require.True(t, d.Approved)
	assert.Equal(t, PhaseInitial, d.Phase)
	assert.Equal(t, int64(5000), d.Quantity)
	assert.Equal(t, 50000.0, d.Amount)

	assert.False(t, m.EvaluateEntry(EntryInput{Score: 70, Price: 10, Capital: 1_000_000}).Approved)

	t.Run("aggregate cap shrinks size", func(t *testing.T) {
		d := m.EvaluateEntry(EntryInput{Score: 80, Price: 10, Capital: 1_000_000, Exposure: 790_000})
		require.True(t, d.Approved)
		assert.Equal(t, int64(1000), d.Quantity)
		assert.Contains(t, d.Reason, "上限")
	})

	t.Run("no room rejects", func(t *testing.T) {
		d := m.EvaluateEntry(EntryInput{Score: 80, Price: 10, Capital: 1_000_000, Exposure: 800_000})
		assert.False(t, d.Approved)
	})
}

func TestPyramidAdds(t *testing.T) {
	m := NewManager(Config{})
	at := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	pos, err := OpenPosition("600519", 5000, 10, at)
	require.NoError(t, err)

	base := AddInput{Capital: 1_000_000, ATR: 0.5, Exposure: 50_000}

	t.Run("pullback rules", func(t *testing.T) {
		in := base
		in.Score, in.Price, in.Support = 85, 9.6, ptr(9.3)
		assert.False(t, m.EvaluateAdd(pos, in).Approved, "score below 90")

		in.Score, in.Price = 92, 9.2
		assert.False(t, m.EvaluateAdd(pos, in).Approved, "broke support")

		in.Price, in.Support = 9.6, nil
		assert.False(t, m.EvaluateAdd(pos, in).Approved, "unknown support")

		in.Price = 10.2
		in.Support = ptr(9.3)
		assert.False(t, m.EvaluateAdd(pos, in).Approved, "above cost")
	})

	in := base
	in.Score, in.Price, in.Support = 92, 9.6, ptr(9.3)
	d := m.EvaluateAdd(pos, in)
	require.True(t, d.Approved)
	assert.Equal(t, PhasePullbackAdd, d.Phase)
	assert.Equal(t, int64(3100), d.Quantity)

	require.NoError(t, m.ApplyAdd(pos, d, 9.6, at.Add(24*time.Hour)))
	assert.Equal(t, int64(8100), pos.Quantity)
	assert.InDelta(t, 9.846914, pos.CostPrice, 1e-6)
	assert.Equal(t, 1, pos.AddCount)
	assert.Equal(t, PhasePullbackAdd, pos.Phase)

	again := m.EvaluateAdd(pos, in)
	assert.False(t, again.Approved)
	assert.Contains(t, again.Reason, "回调加仓次数")

	breakout := base
	breakout.Price, breakout.Resistance = 10.7, ptr(10.5)
	d = m.EvaluateAdd(pos, breakout)
	require.True(t, d.Approved)
	assert.Equal(t, PhaseBreakoutAdd, d.Phase)
	require.NoError(t, m.ApplyAdd(pos, d, 10.7, at.Add(48*time.Hour)))
	assert.Equal(t, PhaseFull, pos.Phase)
	assert.Equal(t, 10.7, pos.HighestPrice)

	full := m.EvaluateAdd(pos, breakout)
	assert.False(t, full.Approved)
	assert.Equal(t, PhaseFull, full.Phase)

	t.Run("breakout needs atr margin", func(t *testing.T) {
		p, _ := OpenPosition("000001", 1000, 10, at)
		in := base
		in.Price, in.Resistance = 10.6, ptr(10.5)
		assert.False(t, m.EvaluateAdd(p, in).Approved)
	})

	t.Run("rejected decision cannot be applied", func(t *testing.T) {
		assert.Error(t, m.ApplyAdd(pos, PyramidDecision{Reason: "x"}, 10, at))
	})

	t.Run("approved add past the limit is refused", func(t *testing.T) {
		qty := pos.Quantity
		err := m.ApplyAdd(pos, PyramidDecision{Approved: true, Phase: PhaseBreakoutAdd, Quantity: 1000}, 11, at.Add(72*time.Hour))
		require.ErrorIs(t, err, ErrAddLimit)
		assert.Equal(t, qty, pos.Quantity)
		assert.Equal(t, 2, pos.AddCount)
	})

	t.Run("second pullback add is refused", func(t *testing.T) {
		p, _ := OpenPosition("000002", 1000, 10, at)
		d := PyramidDecision{Approved: true, Phase: PhasePullbackAdd, Quantity: 100}
		require.NoError(t, m.ApplyAdd(p, d, 9.8, at))
		require.ErrorIs(t, m.ApplyAdd(p, d, 9.7, at), ErrAddLimit)
		assert.Equal(t, int64(1100), p.Quantity)
		require.NoError(t, m.CheckAddLimit(p, PhaseBreakoutAdd))
	})
}

func TestExitCheckPriority(t *testing.T) {
	m := NewManager(Config{})
	entry := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	newPos := func(highest float64) *Position {
		p, err := OpenPosition("600000", 1000, 10, entry)
		require.NoError(t, err)
		p.HighestPrice = highest
		return p
	}
	sell := func(strength int) *signal.TradingSignal {
		return &signal.TradingSignal{Type: signal.Sell, Strength: strength}
	}
	day := entry.Add(24 * time.Hour)

	cases := []struct {
		name   string
		pos    *Position
		price  float64
		sig    *signal.TradingSignal
		now    time.Time
		reason ExitReason
		ratio  float64
	}{
		{"hard stop beats trailing", newPos(12), 8.9, sell(5), day, ExitHardStop, 1},
		{"trailing stop", newPos(12), 11.7, sell(5), day, ExitTrailingStop, 1},
		{"profit give back", newPos(10.3), 10.04, sell(5), day, ExitProfitProtect, 1},
		{"time stop", newPos(10.1), 9.95, sell(5), entry.Add(25 * 24 * time.Hour), ExitTimeStop, 1},
		{"signal strength three", newPos(10.1), 10.1, sell(3), day, ExitSignal, 0.5},
		{"signal strength two", newPos(10.1), 10.1, sell(2), day, ExitSignal, 0.3},
		{"weak signal ignored", newPos(10.1), 10.1, sell(1), day, ExitNone, 0},
		{"buy signal ignored", newPos(10.1), 10.1, &signal.TradingSignal{Type: signal.Buy, Strength: 5}, day, ExitNone, 0},
		{"profitable past max days", newPos(10.1), 10.05, nil, entry.Add(30 * 24 * time.Hour), ExitNone, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := m.ExitCheck(tc.pos, tc.price, 0.5, PeriodSwing, tc.sig, tc.now)
			assert.Equal(t, tc.reason, d.Reason, d.Detail)
			assert.Equal(t, tc.reason != ExitNone, d.Exit)
			assert.Equal(t, tc.ratio, d.SellRatio)
		})
	}

	t.Run("does not mutate position", func(t *testing.T) {
		p := newPos(10)
		m.ExitCheck(p, 10.4, 0.5, PeriodSwing, nil, day)
		assert.Equal(t, 10.0, p.HighestPrice)
	})

	t.Run("closed position never exits", func(t *testing.T) {
		assert.False(t, m.ExitCheck(nil, 5, 0.5, PeriodSwing, sell(5), day).Exit)
	})
}

func TestPositionLifecycle(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	_, err := OpenPosition("x", 0, 10, at)
	assert.Error(t, err)

	p, err := OpenPosition("x", 300, 10, at)
	require.NoError(t, err)
	p.Mark(11, at.Add(time.Hour))
	p.Mark(10.5, at.Add(2*time.Hour))
	assert.Equal(t, 11.0, p.HighestPrice)
	assert.InDelta(t, 0.1, p.MaxProfitPct(), 1e-9)
	assert.Equal(t, 3, p.HoldingDays(at.Add(80*time.Hour)))

	_, err = p.Reduce(400, at)
	assert.Error(t, err)
	closed, err := p.Reduce(100, at)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Equal(t, 10.0, p.CostPrice)
	closed, err = p.Reduce(200, at)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.False(t, p.IsOpen())
}

func TestPositionStrategyText(t *testing.T) {
	m := NewManager(Config{})
	sig := signal.TradingSignal{Type: signal.Buy, Strength: 4, Confidence: 0.7}
	params := m.Parameters(sig, 10.5, 0.25, PeriodSwing, nil)
	text := m.PositionStrategy(sig, params, 10.5)
	assert.Contains(t, text, "首仓")
	assert.Contains(t, text, "突破加仓")
	assert.Contains(t, text, "1:2/1:3/1:5")

	hold := m.PositionStrategy(signal.TradingSignal{Type: signal.Hold}, params, 10.5)
	assert.Contains(t, hold, "观望")
}

func TestParseHoldingPeriod(t *testing.T) {
	for raw, want := range map[string]HoldingPeriod{"": PeriodSwing, "SHORT": PeriodShort, " long ": PeriodLong, "swing": PeriodSwing} {
		got, err := ParseHoldingPeriod(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseHoldingPeriod("weekly")
	assert.Error(t, err)
}
