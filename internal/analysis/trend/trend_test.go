package trend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"quantcore/internal/analysis/indicator"
)

var f = indicator.F

func bullishSnapshot() indicator.Snapshot {
	return indicator.Snapshot{
		Price: f(12),
		MA5:   f(11.8), MA10: f(11.5), MA20: f(11.0), MA60: f(10.0), MA120: f(9.0),
		MACD: indicator.MACD{DIF: f(0.3), DEA: f(0.2), Histogram: f(0.1)},
		ADX:  indicator.ADX{Value: f(30), PlusDI: f(28), MinusDI: f(12)},
		Ichimoku: indicator.Ichimoku{
			Tenkan: f(11.6), Kijun: f(11.2), SpanA: f(10.5), SpanB: f(10.0),
		},
	}
}

func mirror(s indicator.Snapshot) indicator.Snapshot {
	neg := func(p *float64) *float64 {
		if p == nil {
			return nil
		}
		return f(-*p)
	}
	return indicator.Snapshot{
		Price: neg(s.Price),
		MA5:   neg(s.MA5), MA10: neg(s.MA10), MA20: neg(s.MA20), MA60: neg(s.MA60), MA120: neg(s.MA120),
		MACD: indicator.MACD{DIF: neg(s.MACD.DIF), DEA: neg(s.MACD.DEA), Histogram: neg(s.MACD.Histogram)},
		ADX:  indicator.ADX{Value: s.ADX.Value, PlusDI: s.ADX.MinusDI, MinusDI: s.ADX.PlusDI},
		Ichimoku: indicator.Ichimoku{
			Tenkan: neg(s.Ichimoku.Tenkan), Kijun: neg(s.Ichimoku.Kijun),
			SpanA: neg(s.Ichimoku.SpanA), SpanB: neg(s.Ichimoku.SpanB),
		},
	}
}

func TestClassifyComponents(t *testing.T) {
	c := NewClassifier(Config{})

	t.Run("full bullish clamps to 100", func(t *testing.T) {
		res := c.Classify(bullishSnapshot(), &QuantAnalysis{Score: f(80)})
		// 25 + 8+10+12 + 10+5 + 15 + 15 + 10 = 110
		assert.Equal(t, 100.0, res.Score)
		assert.Equal(t, StrongUp, res.State)
	})

	t.Run("symmetric for bearish mirror", func(t *testing.T) {
		bull := c.Classify(bullishSnapshot(), nil)
		bear := c.Classify(mirror(bullishSnapshot()), nil)
		assert.Equal(t, 100.0, bull.Score)
		assert.Equal(t, -bull.Score, bear.Score)
		assert.Equal(t, StrongDown, bear.State)
	})

	t.Run("adx weak band and cloud without tenkan agreement", func(t *testing.T) {
		snap := indicator.Snapshot{
			Price:    f(10),
			ADX:      indicator.ADX{Value: f(18), Direction: indicator.DirectionUp},
			Ichimoku: indicator.Ichimoku{Tenkan: f(9), Kijun: f(9.5), SpanA: f(8), SpanB: f(8.5)},
		}
		res := c.Classify(snap, nil)
		assert.Equal(t, 16.0, res.Score)
		assert.Equal(t, WeakUp, res.State)
	})

	t.Run("empty snapshot is neutral", func(t *testing.T) {
		res := c.Classify(indicator.Snapshot{}, nil)
		assert.Equal(t, 0.0, res.Score)
		assert.Equal(t, Sideways, res.State)
		assert.Empty(t, res.Components)
	})

	t.Run("quant nudge alone", func(t *testing.T) {
		cases := map[float64]float64{75: 10, 65: 5, 50: 0, 35: -5, 20: -10}
		for q, want := range cases {
			res := c.Classify(indicator.Snapshot{}, &QuantAnalysis{Score: f(q)})
			assert.Equal(t, want, res.Score, "quant=%v", q)
		}
	})
}

func TestStateForThresholds(t *testing.T) {
	c := NewClassifier(Config{})
	cases := []struct {
		score float64
		want  State
	}{
		{100, StrongUp}, {50, StrongUp}, {49.9, Up}, {25, Up}, {24, WeakUp}, {10, WeakUp},
		{9.9, Sideways}, {0, Sideways}, {-9.9, Sideways}, {-10, WeakDown}, {-25, Down},
		{-49, Down}, {-50, StrongDown}, {-100, StrongDown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.StateFor(tc.score), "score=%v", tc.score)
	}
	assert.True(t, Up.IsUp())
	assert.True(t, WeakDown.IsDown())
	assert.False(t, Sideways.IsUp() || Sideways.IsDown())
}

func TestNilClassifierUsesDefaults(t *testing.T) {
	var c *Classifier
	res := c.Classify(bullishSnapshot(), nil)
	assert.Equal(t, StrongUp, res.State)
}
