package signal

import (
	"fmt"
	"sort"
)

// 买入条件 key。
const (
	BuyQuantStrong       = "quant_strong_buy"
	BuyQuant             = "quant_buy"
	BuyMAAlignment       = "ma_bullish_alignment"
	BuyPriceAboveMA20    = "price_above_ma20"
	BuyMACDGoldenCross   = "macd_golden_cross"
	BuyMACDHistogram     = "macd_histogram_positive"
	BuyRSIOversold       = "rsi_oversold"
	BuyRSIRecovery       = "rsi_recovery"
	BuyKDJGoldenCross    = "kdj_golden_cross"
	BuyKDJOversold       = "kdj_oversold"
	BuyBollLower         = "boll_lower_band"
	BuyVolumeConfirm     = "volume_confirm_up"
	BuyADXUptrend        = "adx_strong_uptrend"
	BuySARBullish        = "sar_bullish"
	BuyIchimokuAbove     = "ichimoku_above_cloud"
	BuyMFIOversold       = "mfi_oversold"
	BuyDMIBullish        = "dmi_bullish"
	BuyBIASOversold      = "bias_oversold"
	BuyTrendAnalysisBull = "trend_analysis_bullish"
)

// 卖出条件 key。
const (
	SellQuantStrong       = "quant_strong_sell"
	SellQuant             = "quant_sell"
	SellMAAlignment       = "ma_bearish_alignment"
	SellPriceBelowMA20    = "price_below_ma20"
	SellMACDDeathCross    = "macd_death_cross"
	SellMACDHistogram     = "macd_histogram_negative"
	SellRSIOverbought     = "rsi_overbought"
	SellRSIWeakRebound    = "rsi_weak_rebound"
	SellKDJDeathCross     = "kdj_death_cross"
	SellKDJOverbought     = "kdj_overbought"
	SellBollUpper         = "boll_upper_band"
	SellVolumeConfirm     = "volume_confirm_down"
	SellADXDowntrend      = "adx_strong_downtrend"
	SellSARBearish        = "sar_bearish"
	SellIchimokuBelow     = "ichimoku_below_cloud"
	SellMFIOverbought     = "mfi_overbought"
	SellDMIBearish        = "dmi_bearish"
	SellBIASOverbought    = "bias_overbought"
	SellTrendAnalysisBear = "trend_analysis_bearish"
)

var defaultBuyWeights = map[string]float64{
	BuyQuantStrong:       3,
	BuyQuant:             2,
	BuyMAAlignment:       3,
	BuyPriceAboveMA20:    1,
	BuyMACDGoldenCross:   3,
	BuyMACDHistogram:     1,
	BuyRSIOversold:       2,
	BuyRSIRecovery:       2,
	BuyKDJGoldenCross:    2,
	BuyKDJOversold:       1,
	BuyBollLower:         1,
	BuyVolumeConfirm:     1,
	BuyADXUptrend:        2,
	BuySARBullish:        1,
	BuyIchimokuAbove:     1,
	BuyMFIOversold:       1,
	BuyDMIBullish:        1,
	BuyBIASOversold:      1,
	BuyTrendAnalysisBull: 1,
}

var defaultSellWeights = map[string]float64{
	SellQuantStrong:       3,
	SellQuant:             2,
	SellMAAlignment:       3,
	SellPriceBelowMA20:    1,
	SellMACDDeathCross:    3,
	SellMACDHistogram:     1,
	SellRSIOverbought:     2,
	SellRSIWeakRebound:    2,
	SellKDJDeathCross:     2,
	SellKDJOverbought:     1,
	SellBollUpper:         1,
	SellVolumeConfirm:     1,
	SellADXDowntrend:      2,
	SellSARBearish:        1,
	SellIchimokuBelow:     1,
	SellMFIOverbought:     1,
	SellDMIBearish:        1,
	SellBIASOverbought:    1,
	SellTrendAnalysisBear: 1,
}

// Weights 是不可变的权重表。构造后内部 map 不再暴露，读取只能通过方法。
type Weights struct {
	buy  map[string]float64
	sell map[string]float64
}

// DefaultWeights 返回内置权重表。
func DefaultWeights() Weights {
	return Weights{buy: copyWeights(defaultBuyWeights), sell: copyWeights(defaultSellWeights)}
}

// NewWeights 在默认权重之上应用覆盖项。未知 key 或负数权重返回错误。
func NewWeights(buyOverrides, sellOverrides map[string]float64) (Weights, error) {
	w := DefaultWeights()
	for key, val := range buyOverrides {
		if _, ok := w.buy[key]; !ok {
			return Weights{}, fmt.Errorf("unknown buy condition %q", key)
		}
		if val < 0 {
			return Weights{}, fmt.Errorf("buy condition %q weight must be >= 0", key)
		}
		w.buy[key] = val
	}
	for key, val := range sellOverrides {
		if _, ok := w.sell[key]; !ok {
			return Weights{}, fmt.Errorf("unknown sell condition %q", key)
		}
		if val < 0 {
			return Weights{}, fmt.Errorf("sell condition %q weight must be >= 0", key)
		}
		w.sell[key] = val
	}
	return w, nil
}

// Buy 返回买入条件权重，未知 key 为 0。
func (w Weights) Buy(key string) float64 {
	if w.buy == nil {
		return defaultBuyWeights[key]
	}
	return w.buy[key]
}

// Sell 返回卖出条件权重，未知 key 为 0。
func (w Weights) Sell(key string) float64 {
	if w.sell == nil {
		return defaultSellWeights[key]
	}
	return w.sell[key]
}

// Table 返回权重表的副本，按 key 排序后的 key 列表一并返回便于展示。
func (w Weights) Table() (buy, sell map[string]float64, keys []string) {
	buy = copyWeights(w.buy)
	sell = copyWeights(w.sell)
	if w.buy == nil {
		buy = copyWeights(defaultBuyWeights)
	}
	if w.sell == nil {
		sell = copyWeights(defaultSellWeights)
	}
	for k := range buy {
		keys = append(keys, k)
	}
	for k := range sell {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return buy, sell, keys
}

func copyWeights(src map[string]float64) map[string]float64 {
	if src == nil {
		return nil
	}
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
