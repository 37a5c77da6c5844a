package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

var decimalZero = decimal.Zero

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimalZero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLTE(a, b float64) bool { return decimalCompare(a, b) <= 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }

// offsetByATR 计算 base + mult×atr（mult 可为负）。
func offsetByATR(base, mult, atr float64) float64 {
	return decToFloat(decFromFloat(base).Add(decFromFloat(mult).Mul(decFromFloat(atr))))
}

// pctBelow 计算 (entry-price)/entry。
func pctBelow(entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	e := decFromFloat(entry)
	return decToFloat(e.Sub(decFromFloat(price)).Div(e))
}

// priceAtPct 计算 entry×(1-pct)。
func priceAtPct(entry, pct float64) float64 {
	return decToFloat(decFromFloat(entry).Mul(decimal.NewFromInt(1).Sub(decFromFloat(pct))))
}

// weightedCost 计算加仓后的成交量加权成本。
func weightedCost(qty int64, cost float64, addQty int64, price float64) float64 {
	total := qty + addQty
	if total <= 0 {
		return 0
	}
	notional := decimal.NewFromInt(qty).Mul(decFromFloat(cost)).
		Add(decimal.NewFromInt(addQty).Mul(decFromFloat(price)))
	return decToFloat(notional.Div(decimal.NewFromInt(total)).Round(6))
}

// roundLots 按整手向下取整。
func roundLots(amount, price float64, lot int64) int64 {
	if amount <= 0 || price <= 0 {
		return 0
	}
	if lot <= 0 {
		lot = 1
	}
	shares := decFromFloat(amount).Div(decFromFloat(price)).Floor().IntPart()
	return shares / lot * lot
}
