package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"quantcore/internal/market"
)

// Settings 描述计算指标所需的参数。零值字段使用默认值。
type Settings struct {
	MACDFast      int     `json:"macd_fast,omitempty"`
	MACDSlow      int     `json:"macd_slow,omitempty"`
	MACDSignal    int     `json:"macd_signal,omitempty"`
	RSIPeriod     int     `json:"rsi_period,omitempty"`
	RSIOversold   float64 `json:"rsi_oversold,omitempty"`
	RSIOverbought float64 `json:"rsi_overbought,omitempty"`
	KDJPeriod     int     `json:"kdj_period,omitempty"`
	KDJSmooth     int     `json:"kdj_smooth,omitempty"`
	BollPeriod    int     `json:"boll_period,omitempty"`
	BollDev       float64 `json:"boll_dev,omitempty"`
	ADXPeriod     int     `json:"adx_period,omitempty"`
	MFIPeriod     int     `json:"mfi_period,omitempty"`
	BiasPeriod    int     `json:"bias_period,omitempty"`
	VolumePeriod  int     `json:"volume_period,omitempty"`
	ATRPeriod     int     `json:"atr_period,omitempty"`
	CrossLookback int     `json:"cross_lookback,omitempty"`
}

// DefaultSettings 返回 A 股常用参数。
func DefaultSettings() Settings {
	return Settings{}.withDefaults()
}

func (s Settings) withDefaults() Settings {
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	setInt(&s.MACDFast, 12)
	setInt(&s.MACDSlow, 26)
	setInt(&s.MACDSignal, 9)
	setInt(&s.RSIPeriod, 14)
	setInt(&s.KDJPeriod, 9)
	setInt(&s.KDJSmooth, 3)
	setInt(&s.BollPeriod, 20)
	setInt(&s.ADXPeriod, 14)
	setInt(&s.MFIPeriod, 14)
	setInt(&s.BiasPeriod, 6)
	setInt(&s.VolumePeriod, 5)
	setInt(&s.ATRPeriod, 14)
	setInt(&s.CrossLookback, 3)
	if s.RSIOversold <= 0 {
		s.RSIOversold = 30
	}
	if s.RSIOverbought <= 0 {
		s.RSIOverbought = 70
	}
	if s.BollDev <= 0 {
		s.BollDev = 2
	}
	return s
}

const (
	ichimokuTenkan = 9
	ichimokuKijun  = 26
	ichimokuSpanB  = 52
	ichimokuShift  = 26
)

// seriesSet 保存整段 K 线的 talib 输出，以及每条序列的首个有效下标。
type seriesSet struct {
	closes, highs, lows, volumes []float64

	ma    map[int][]float64
	dif   []float64
	dea   []float64
	hist  []float64
	rsi   []float64
	k, d  []float64
	upper []float64
	mid   []float64
	lower []float64
	adx   []float64
	pdi   []float64
	mdi   []float64
	sar   []float64
	mfi   []float64
	bias  []float64
	atr   []float64

	tenkan, kijun, spanBMid []float64

	lookback map[string]int
}

var maPeriods = []int{5, 10, 20, 60, 120}

// Compute 计算最后一根 K 线的指标快照。历史不足的指标保持 nil。
func Compute(candles market.Candles, cfg Settings) (Snapshot, error) {
	series, err := ComputeSeries(candles, cfg)
	if err != nil {
		return Snapshot{}, err
	}
	return series[len(series)-1], nil
}

// ComputeSeries 为每根 K 线生成快照，供回测与导出逐根使用。
func ComputeSeries(candles market.Candles, cfg Settings) ([]Snapshot, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles")
	}
	cfg = cfg.withDefaults()
	set := buildSeries(candles, cfg)
	out := make([]Snapshot, len(candles))
	for i := range candles {
		out[i] = set.snapshotAt(i, candles[i], cfg)
	}
	return out, nil
}

func buildSeries(candles market.Candles, cfg Settings) *seriesSet {
	n := len(candles)
	s := &seriesSet{
		closes:   make([]float64, n),
		highs:    make([]float64, n),
		lows:     make([]float64, n),
		volumes:  make([]float64, n),
		ma:       make(map[int][]float64, len(maPeriods)),
		lookback: make(map[string]int),
	}
	for i, c := range candles {
		s.closes[i] = c.Close
		s.highs[i] = c.High
		s.lows[i] = c.Low
		s.volumes[i] = c.Volume
	}
	// talib 在输入长度不足时可能越界，统一通过 guard 判断。
	guard := func(need int) bool { return n > need }

	for _, p := range maPeriods {
		if guard(p - 1) {
			s.ma[p] = talib.Sma(s.closes, p)
		}
	}
	if guard(cfg.MACDSlow + cfg.MACDSignal) {
		s.dif, s.dea, s.hist = talib.Macd(s.closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
		s.lookback["macd"] = cfg.MACDSlow + cfg.MACDSignal - 2
	}
	if guard(cfg.RSIPeriod) {
		s.rsi = talib.Rsi(s.closes, cfg.RSIPeriod)
		s.lookback["rsi"] = cfg.RSIPeriod
	}
	if guard(cfg.KDJPeriod + 2*cfg.KDJSmooth) {
		s.k, s.d = talib.Stoch(s.highs, s.lows, s.closes, cfg.KDJPeriod, cfg.KDJSmooth, talib.SMA, cfg.KDJSmooth, talib.SMA)
		s.lookback["kdj"] = cfg.KDJPeriod + 2*cfg.KDJSmooth - 3
	}
	if guard(cfg.BollPeriod) {
		s.upper, s.mid, s.lower = talib.BBands(s.closes, cfg.BollPeriod, cfg.BollDev, cfg.BollDev, talib.SMA)
		s.lookback["boll"] = cfg.BollPeriod - 1
	}
	if guard(2 * cfg.ADXPeriod) {
		s.adx = talib.Adx(s.highs, s.lows, s.closes, cfg.ADXPeriod)
		s.pdi = talib.PlusDI(s.highs, s.lows, s.closes, cfg.ADXPeriod)
		s.mdi = talib.MinusDI(s.highs, s.lows, s.closes, cfg.ADXPeriod)
		s.lookback["adx"] = 2*cfg.ADXPeriod - 1
		s.lookback["dmi"] = cfg.ADXPeriod
	}
	if guard(2) {
		s.sar = talib.Sar(s.highs, s.lows, 0.02, 0.2)
		s.lookback["sar"] = 1
	}
	if guard(cfg.MFIPeriod) {
		s.mfi = talib.Mfi(s.highs, s.lows, s.closes, s.volumes, cfg.MFIPeriod)
		s.lookback["mfi"] = cfg.MFIPeriod
	}
	if guard(cfg.BiasPeriod - 1) {
		ma := talib.Sma(s.closes, cfg.BiasPeriod)
		s.bias = make([]float64, n)
		for i := range s.closes {
			if ma[i] != 0 {
				s.bias[i] = (s.closes[i] - ma[i]) / ma[i] * 100
			}
		}
		s.lookback["bias"] = cfg.BiasPeriod - 1
	}
	if guard(cfg.ATRPeriod) {
		s.atr = talib.Atr(s.highs, s.lows, s.closes, cfg.ATRPeriod)
		s.lookback["atr"] = cfg.ATRPeriod
	}
	if guard(ichimokuTenkan - 1) {
		s.tenkan = midpoint(s.highs, s.lows, ichimokuTenkan)
	}
	if guard(ichimokuKijun - 1) {
		s.kijun = midpoint(s.highs, s.lows, ichimokuKijun)
	}
	if guard(ichimokuSpanB - 1) {
		s.spanBMid = midpoint(s.highs, s.lows, ichimokuSpanB)
	}
	return s
}

// midpoint 计算 (N 周期最高 + N 周期最低)/2。
func midpoint(highs, lows []float64, period int) []float64 {
	hh := talib.Max(highs, period)
	ll := talib.Min(lows, period)
	out := make([]float64, len(highs))
	for i := range out {
		if i < period-1 {
			continue
		}
		out[i] = (hh[i] + ll[i]) / 2
	}
	return out
}

func (s *seriesSet) valid(name string, series []float64, i int) bool {
	if len(series) <= i {
		return false
	}
	lb, ok := s.lookback[name]
	if !ok || i < lb {
		return false
	}
	v := series[i]
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (s *seriesSet) at(name string, series []float64, i int) *float64 {
	if !s.valid(name, series, i) {
		return nil
	}
	return F(round4(series[i]))
}

func (s *seriesSet) snapshotAt(i int, c market.Candle, cfg Settings) Snapshot {
	snap := Snapshot{
		Time:  c.Time(),
		Price: F(c.Close),
	}
	for _, p := range maPeriods {
		series, ok := s.ma[p]
		if !ok || i < p-1 {
			continue
		}
		v := F(round4(series[i]))
		switch p {
		case 5:
			snap.MA5 = v
		case 10:
			snap.MA10 = v
		case 20:
			snap.MA20 = v
		case 60:
			snap.MA60 = v
		case 120:
			snap.MA120 = v
		}
	}

	snap.MACD = MACD{
		DIF:       s.at("macd", s.dif, i),
		DEA:       s.at("macd", s.dea, i),
		Histogram: s.at("macd", s.hist, i),
	}
	if snap.MACD.DIF != nil {
		snap.MACD.Cross = s.recentCross("macd", s.dif, s.dea, i, cfg.CrossLookback)
	}

	if v := s.at("rsi", s.rsi, i); v != nil {
		snap.RSI = RSI{Value: v, Status: oscillatorState(*v, cfg.RSIOversold, cfg.RSIOverbought)}
	}

	if k := s.at("kdj", s.k, i); k != nil {
		d := s.at("kdj", s.d, i)
		snap.KDJ = KDJ{K: k, D: d}
		if d != nil {
			snap.KDJ.J = F(round4(3*(*k) - 2*(*d)))
			snap.KDJ.Cross = s.recentCross("kdj", s.k, s.d, i, cfg.CrossLookback)
		}
	}

	if up := s.at("boll", s.upper, i); up != nil {
		lo := s.at("boll", s.lower, i)
		snap.Bollinger = Bollinger{Upper: up, Middle: s.at("boll", s.mid, i), Lower: lo}
		if lo != nil {
			snap.Bollinger.Status = bandState(c.Close, *up, *lo)
		}
	}

	snap.ADX = ADX{
		Value:   s.at("adx", s.adx, i),
		PlusDI:  s.at("dmi", s.pdi, i),
		MinusDI: s.at("dmi", s.mdi, i),
	}
	switch snap.ADX.DMIDirection() {
	case 1:
		snap.ADX.Direction = DirectionUp
	case -1:
		snap.ADX.Direction = DirectionDown
	}

	snap.SAR = s.at("sar", s.sar, i)
	snap.MFI = s.at("mfi", s.mfi, i)
	snap.BIAS = s.at("bias", s.bias, i)
	snap.ATR = s.at("atr", s.atr, i)
	snap.Ichimoku = s.ichimokuAt(i)
	snap.Volume = s.volumeAt(i, cfg.VolumePeriod)
	return snap
}

func (s *seriesSet) ichimokuAt(i int) Ichimoku {
	var out Ichimoku
	if len(s.tenkan) > i && i >= ichimokuTenkan-1 {
		out.Tenkan = F(round4(s.tenkan[i]))
	}
	if len(s.kijun) > i && i >= ichimokuKijun-1 {
		out.Kijun = F(round4(s.kijun[i]))
	}
	// 当前云层由 26 根之前的数据前移得到
	j := i - ichimokuShift
	if j >= ichimokuKijun-1 && len(s.kijun) > j {
		out.SpanA = F(round4((s.tenkan[j] + s.kijun[j]) / 2))
	}
	if j >= ichimokuSpanB-1 && len(s.spanBMid) > j {
		out.SpanB = F(round4(s.spanBMid[j]))
	}
	return out
}

func (s *seriesSet) volumeAt(i, period int) Volume {
	if i < period {
		return Volume{}
	}
	sum := 0.0
	for j := i - period; j < i; j++ {
		sum += s.volumes[j]
	}
	avg := sum / float64(period)
	if avg <= 0 {
		return Volume{}
	}
	ratio := round4(s.volumes[i] / avg)
	status := VolumeNormal
	switch {
	case ratio >= 1.5:
		status = VolumeExpanding
	case ratio <= 0.7:
		status = VolumeShrinking
	}
	return Volume{Ratio: F(ratio), Status: status}
}

// recentCross 在最近 lookback 根内寻找最新一次快慢线交叉，且交叉状态需保持至今。
func (s *seriesSet) recentCross(name string, fast, slow []float64, i, lookback int) Cross {
	for j := i; j > i-lookback && j > 0; j-- {
		if !s.valid(name, fast, j-1) || !s.valid(name, slow, j-1) {
			return CrossNone
		}
		prevDiff := fast[j-1] - slow[j-1]
		currDiff := fast[j] - slow[j]
		nowDiff := fast[i] - slow[i]
		if prevDiff <= 0 && currDiff > 0 && nowDiff > 0 {
			return CrossGolden
		}
		if prevDiff >= 0 && currDiff < 0 && nowDiff < 0 {
			return CrossDeath
		}
	}
	return CrossNone
}

func oscillatorState(v, oversold, overbought float64) string {
	switch {
	case v >= overbought:
		return StatusOverbought
	case v <= oversold:
		return StatusOversold
	default:
		return StatusNeutral
	}
}

func bandState(price, upper, lower float64) string {
	width := upper - lower
	if width <= 0 {
		return BandMiddle
	}
	pos := (price - lower) / width
	switch {
	case pos > 1:
		return BandAboveUpper
	case pos >= 0.9:
		return BandNearUpper
	case pos < 0:
		return BandBelowLower
	case pos <= 0.1:
		return BandNearLower
	default:
		return BandMiddle
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
