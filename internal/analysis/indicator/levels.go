package indicator

import (
	"sort"

	"quantcore/internal/market"
)

// Levels 为关键支撑/压力位，均按距离当前价由近到远排序。
type Levels struct {
	Supports    []float64 `json:"supports,omitempty"`
	Resistances []float64 `json:"resistances,omitempty"`
}

// NearestSupport 返回最近的支撑位。
func (l Levels) NearestSupport() *float64 {
	if len(l.Supports) == 0 {
		return nil
	}
	return F(l.Supports[0])
}

// NearestResistance 返回最近的压力位。
func (l Levels) NearestResistance() *float64 {
	if len(l.Resistances) == 0 {
		return nil
	}
	return F(l.Resistances[0])
}

// FindLevels 在最近 lookback 根 K 线内寻找摆动高低点（左右各 window 根），
// 低于现价的低点为支撑，高于现价的高点为压力，各取最多 maxLevels 个。
func FindLevels(candles market.Candles, lookback, window, maxLevels int) Levels {
	if window <= 0 {
		window = 3
	}
	if maxLevels <= 0 {
		maxLevels = 3
	}
	n := len(candles)
	if n < 2*window+1 {
		return Levels{}
	}
	start := 0
	if lookback > 0 && n > lookback {
		start = n - lookback
	}
	price := candles[n-1].Close
	var supports, resistances []float64
	for i := start + window; i < n-window; i++ {
		isLow, isHigh := true, true
		for j := i - window; j <= i+window; j++ {
			if j == i {
				continue
			}
			if candles[j].Low < candles[i].Low {
				isLow = false
			}
			if candles[j].High > candles[i].High {
				isHigh = false
			}
		}
		if isLow && candles[i].Low < price {
			supports = appendUnique(supports, candles[i].Low)
		}
		if isHigh && candles[i].High > price {
			resistances = appendUnique(resistances, candles[i].High)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(supports)))
	sort.Float64s(resistances)
	if len(supports) > maxLevels {
		supports = supports[:maxLevels]
	}
	if len(resistances) > maxLevels {
		resistances = resistances[:maxLevels]
	}
	return Levels{Supports: supports, Resistances: resistances}
}

func appendUnique(list []float64, v float64) []float64 {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
