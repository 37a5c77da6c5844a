package indicator

import "time"

// Cross 表示金叉/死叉状态，空串表示无交叉。
type Cross string

const (
	CrossNone   Cross = ""
	CrossGolden Cross = "golden_cross"
	CrossDeath  Cross = "death_cross"
)

// 超买超卖状态（RSI 等振荡指标共用）。
const (
	StatusOverbought = "overbought"
	StatusOversold   = "oversold"
	StatusNeutral    = "neutral"
)

// 布林带位置。
const (
	BandAboveUpper = "above_upper"
	BandNearUpper  = "near_upper"
	BandMiddle     = "middle"
	BandNearLower  = "near_lower"
	BandBelowLower = "below_lower"
)

// 成交量状态。
const (
	VolumeExpanding = "expanding"
	VolumeShrinking = "shrinking"
	VolumeNormal    = "normal"
)

// 趋势方向。
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Snapshot 是单根 K 线上的指标快照。所有字段可选，nil 表示缺失，
// 下游一律按中性贡献处理。
type Snapshot struct {
	Time      time.Time `json:"time,omitempty"`
	Price     *float64  `json:"price,omitempty"`
	MA5       *float64  `json:"ma5,omitempty"`
	MA10      *float64  `json:"ma10,omitempty"`
	MA20      *float64  `json:"ma20,omitempty"`
	MA60      *float64  `json:"ma60,omitempty"`
	MA120     *float64  `json:"ma120,omitempty"`
	MACD      MACD      `json:"macd"`
	RSI       RSI       `json:"rsi"`
	KDJ       KDJ       `json:"kdj"`
	Bollinger Bollinger `json:"bollinger"`
	ADX       ADX       `json:"adx"`
	SAR       *float64  `json:"sar,omitempty"`
	Ichimoku  Ichimoku  `json:"ichimoku"`
	MFI       *float64  `json:"mfi,omitempty"`
	BIAS      *float64  `json:"bias,omitempty"`
	Volume    Volume    `json:"volume"`
	ATR       *float64  `json:"atr,omitempty"`
}

type MACD struct {
	DIF       *float64 `json:"dif,omitempty"`
	DEA       *float64 `json:"dea,omitempty"`
	Histogram *float64 `json:"histogram,omitempty"`
	Cross     Cross    `json:"cross,omitempty"`
}

type RSI struct {
	Value  *float64 `json:"value,omitempty"`
	Status string   `json:"status,omitempty"`
}

type KDJ struct {
	K     *float64 `json:"k,omitempty"`
	D     *float64 `json:"d,omitempty"`
	J     *float64 `json:"j,omitempty"`
	Cross Cross    `json:"cross,omitempty"`
}

type Bollinger struct {
	Upper  *float64 `json:"upper,omitempty"`
	Middle *float64 `json:"middle,omitempty"`
	Lower  *float64 `json:"lower,omitempty"`
	Status string   `json:"status,omitempty"`
}

// ADX 同时携带 DMI 的 +DI/-DI。
type ADX struct {
	Value     *float64 `json:"value,omitempty"`
	PlusDI    *float64 `json:"plus_di,omitempty"`
	MinusDI   *float64 `json:"minus_di,omitempty"`
	Direction string   `json:"direction,omitempty"`
}

type Ichimoku struct {
	Tenkan *float64 `json:"tenkan,omitempty"`
	Kijun  *float64 `json:"kijun,omitempty"`
	SpanA  *float64 `json:"span_a,omitempty"`
	SpanB  *float64 `json:"span_b,omitempty"`
}

type Volume struct {
	Ratio  *float64 `json:"ratio,omitempty"`
	Status string   `json:"status,omitempty"`
}

// F 返回 v 的指针，便于构造快照。
func F(v float64) *float64 {
	return &v
}

// Value 读取可选值。
func Value(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Or 读取可选值，缺失时返回 def。
func Or(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// MABullishAligned 判断 MA5>MA10>MA20>MA60 多头排列。缺任何一条均线返回 false。
func (s Snapshot) MABullishAligned() bool {
	if s.MA5 == nil || s.MA10 == nil || s.MA20 == nil || s.MA60 == nil {
		return false
	}
	return *s.MA5 > *s.MA10 && *s.MA10 > *s.MA20 && *s.MA20 > *s.MA60
}

// MABearishAligned 判断 MA5<MA10<MA20<MA60 空头排列。
func (s Snapshot) MABearishAligned() bool {
	if s.MA5 == nil || s.MA10 == nil || s.MA20 == nil || s.MA60 == nil {
		return false
	}
	return *s.MA5 < *s.MA10 && *s.MA10 < *s.MA20 && *s.MA20 < *s.MA60
}

// PriceVs 返回价格相对参考线的方向：1 在上方，-1 在下方，0 相等或缺失。
func (s Snapshot) PriceVs(ref *float64) int {
	if s.Price == nil || ref == nil {
		return 0
	}
	switch {
	case *s.Price > *ref:
		return 1
	case *s.Price < *ref:
		return -1
	default:
		return 0
	}
}

// DMIDirection 优先使用 +DI/-DI 比较，其次使用显式方向字段。
func (a ADX) DMIDirection() int {
	if a.PlusDI != nil && a.MinusDI != nil {
		switch {
		case *a.PlusDI > *a.MinusDI:
			return 1
		case *a.PlusDI < *a.MinusDI:
			return -1
		}
		return 0
	}
	switch a.Direction {
	case DirectionUp:
		return 1
	case DirectionDown:
		return -1
	}
	return 0
}

// CloudPosition 返回价格相对云层的位置：1 云上，-1 云下，0 云中或缺失。
func (s Snapshot) CloudPosition() int {
	if s.Price == nil || s.Ichimoku.SpanA == nil || s.Ichimoku.SpanB == nil {
		return 0
	}
	top := *s.Ichimoku.SpanA
	bottom := *s.Ichimoku.SpanB
	if bottom > top {
		top, bottom = bottom, top
	}
	switch {
	case *s.Price > top:
		return 1
	case *s.Price < bottom:
		return -1
	default:
		return 0
	}
}

// TenkanKijun 返回转换线相对基准线方向。
func (i Ichimoku) TenkanKijun() int {
	if i.Tenkan == nil || i.Kijun == nil {
		return 0
	}
	switch {
	case *i.Tenkan > *i.Kijun:
		return 1
	case *i.Tenkan < *i.Kijun:
		return -1
	}
	return 0
}
