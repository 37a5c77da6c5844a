package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/internal/market"
)

func trendingCandles(n int, start, step float64) market.Candles {
	base := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	out := make(market.Candles, n)
	for i := 0; i < n; i++ {
		// 叠加小幅振荡，避免 RSI/ADX 退化
		px := start + step*float64(i) + math.Sin(float64(i))*0.3
		ts := base.AddDate(0, 0, i).UnixMilli()
		out[i] = market.Candle{
			OpenTime:  ts,
			CloseTime: ts,
			Open:      px - 0.1,
			High:      px + 0.5,
			Low:       px - 0.5,
			Close:     px,
			Volume:    1000 + float64(i%7)*100,
		}
	}
	return out
}

func TestComputeUptrend(t *testing.T) {
	candles := trendingCandles(200, 10, 0.2)
	snap, err := Compute(candles, Settings{})
	require.NoError(t, err)

	require.NotNil(t, snap.Price)
	require.NotNil(t, snap.MA120)
	assert.True(t, snap.MABullishAligned())
	assert.Equal(t, 1, snap.PriceVs(snap.MA60))
	require.NotNil(t, snap.MACD.DIF)
	require.NotNil(t, snap.ATR)
	assert.Greater(t, *snap.ATR, 0.0)
	require.NotNil(t, snap.ADX.Value)
	assert.Equal(t, DirectionUp, snap.ADX.Direction)
	assert.Equal(t, 1, snap.CloudPosition())
	require.NotNil(t, snap.KDJ.J)
	assert.NotEmpty(t, snap.Volume.Status)
}

func TestComputeShortHistoryLeavesNil(t *testing.T) {
	candles := trendingCandles(10, 10, 0.1)
	snap, err := Compute(candles, Settings{})
	require.NoError(t, err)

	assert.NotNil(t, snap.MA5)
	assert.Nil(t, snap.MA20)
	assert.Nil(t, snap.MA120)
	assert.Nil(t, snap.MACD.DIF)
	assert.Nil(t, snap.ADX.Value)
	assert.Nil(t, snap.Ichimoku.SpanB)
	assert.False(t, snap.MABullishAligned())
}

func TestComputeSeriesAligned(t *testing.T) {
	candles := trendingCandles(80, 20, -0.1)
	series, err := ComputeSeries(candles, Settings{})
	require.NoError(t, err)
	require.Len(t, series, len(candles))
	for i, snap := range series {
		assert.Equal(t, candles[i].Time(), snap.Time)
	}
	_, err = ComputeSeries(nil, Settings{})
	assert.Error(t, err)
}

func TestParseSnapshot(t *testing.T) {
	t.Run("flat payload", func(t *testing.T) {
		raw := []byte(`{
			"price": 10.5, "ma5": 10.4, "ma10": 10.2, "ma20": 10.0, "ma60": 9.5,
			"macd": 0.12, "macd_signal": 0.08, "macd_hist": 0.04, "macd_cross": "golden",
			"rsi": 38, "rsi_status": "NEUTRAL", "bb_status": "near_lower",
			"adx": 28, "plus_di": 25, "minus_di": 15, "atr": 0.3,
			"unknown": 1, "datetime": "2024-03-01 15:00:00"
		}`)
		snap, err := ParseSnapshot(raw)
		require.NoError(t, err)
		assert.Equal(t, 10.5, *snap.Price)
		assert.True(t, snap.MABullishAligned())
		assert.Equal(t, CrossGolden, snap.MACD.Cross)
		assert.Equal(t, 38.0, *snap.RSI.Value)
		assert.Equal(t, StatusNeutral, snap.RSI.Status)
		assert.Equal(t, BandNearLower, snap.Bollinger.Status)
		assert.Equal(t, 1, snap.ADX.DMIDirection())
		assert.Equal(t, 2024, snap.Time.Year())
		assert.Nil(t, snap.MFI)
	})

	t.Run("non numeric treated as missing", func(t *testing.T) {
		snap, err := ParseSnapshot([]byte(`{"rsi":"n/a","ma20":null}`))
		require.NoError(t, err)
		assert.Nil(t, snap.RSI.Value)
		assert.Nil(t, snap.MA20)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := ParseSnapshot([]byte(`{"rsi":`))
		assert.Error(t, err)
		_, err = ParseSnapshot([]byte(`[1,2]`))
		assert.Error(t, err)
	})
}

func TestFindLevels(t *testing.T) {
	prices := []float64{10, 9, 8, 9, 10, 11, 12, 11, 10, 9.5, 10, 10.5, 10.2}
	candles := make(market.Candles, len(prices))
	for i, p := range prices {
		candles[i] = market.Candle{OpenTime: int64(i), Open: p, High: p + 0.2, Low: p - 0.2, Close: p, Volume: 1}
	}
	levels := FindLevels(candles, 0, 2, 3)
	require.NotEmpty(t, levels.Supports)
	require.NotEmpty(t, levels.Resistances)
	assert.InDelta(t, 9.3, *levels.NearestSupport(), 1e-9)
	assert.InDelta(t, 12.2, *levels.NearestResistance(), 1e-9)

	assert.Empty(t, FindLevels(candles[:3], 0, 2, 3).Supports)
}
