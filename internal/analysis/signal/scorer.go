package signal

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/analysis/trend"
)

// Type 信号方向。
type Type string

const (
	Buy  Type = "buy"
	Sell Type = "sell"
	Hold Type = "hold"
)

// TradingSignal 评分输出。hold 时 Strength 为 0 且 TriggeredConditions 为空。
type TradingSignal struct {
	Type                Type         `json:"signal_type"`
	Strength            int          `json:"strength"`
	Confidence          float64      `json:"confidence"`
	TriggeredConditions []string     `json:"triggered_conditions"`
	PendingConditions   []string     `json:"pending_conditions"`
	Timestamp           time.Time    `json:"timestamp"`
	BuyScore            float64      `json:"buy_score"`
	SellScore           float64      `json:"sell_score"`
	Trend               trend.Result `json:"trend"`
}

// IsDirectional 是否为买/卖信号。
func (s TradingSignal) IsDirectional() bool {
	return s.Type == Buy || s.Type == Sell
}

// TrendSummary 外部趋势分析的多空信号计数。
type TrendSummary struct {
	BullishSignals int `json:"bullish_signals"`
	BearishSignals int `json:"bearish_signals"`
}

// Config 评分器参数。Weights 为不可变权重表。
// MinScoreForSignal 与 MinConditionsForSignal 为 0 时不设门槛，其余非正值取默认。
type Config struct {
	Weights                Weights
	MinScoreForSignal      float64
	MinConditionsForSignal int
	TrendProtectionFactor  float64
	RSIOversold            float64
	RSIOverbought          float64
	RSIRecoveryHigh        float64
	RSIReboundLow          float64
	KDJOversold            float64
	KDJOverbought          float64
	MFIOversold            float64
	MFIOverbought          float64
	BIASThreshold          float64
	VolumeRatioThreshold   float64
	ADXTrendThreshold      float64
	QuantStrongBuy         float64
	QuantBuy               float64
	QuantSell              float64
	QuantStrongSell        float64
	NearMissBand           float64
}

func DefaultConfig() Config {
	return Config{
		Weights:                DefaultWeights(),
		MinScoreForSignal:      4,
		MinConditionsForSignal: 2,
		TrendProtectionFactor:  1.5,
		RSIOversold:            30,
		RSIOverbought:          70,
		RSIRecoveryHigh:        45,
		RSIReboundLow:          55,
		KDJOversold:            20,
		KDJOverbought:          80,
		MFIOversold:            20,
		MFIOverbought:          80,
		BIASThreshold:          6,
		VolumeRatioThreshold:   1.5,
		ADXTrendThreshold:      25,
		QuantStrongBuy:         75,
		QuantBuy:               60,
		QuantSell:              40,
		QuantStrongSell:        25,
		NearMissBand:           5,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Weights.buy == nil && c.Weights.sell == nil {
		c.Weights = def.Weights
	}
	fill := func(v *float64, d float64) {
		if *v <= 0 {
			*v = d
		}
	}
	// 门槛允许显式取 0 关闭，只有负值回退默认
	if c.MinScoreForSignal < 0 {
		c.MinScoreForSignal = def.MinScoreForSignal
	}
	if c.MinConditionsForSignal < 0 {
		c.MinConditionsForSignal = def.MinConditionsForSignal
	}
	fill(&c.TrendProtectionFactor, def.TrendProtectionFactor)
	fill(&c.RSIOversold, def.RSIOversold)
	fill(&c.RSIOverbought, def.RSIOverbought)
	fill(&c.RSIRecoveryHigh, def.RSIRecoveryHigh)
	fill(&c.RSIReboundLow, def.RSIReboundLow)
	fill(&c.KDJOversold, def.KDJOversold)
	fill(&c.KDJOverbought, def.KDJOverbought)
	fill(&c.MFIOversold, def.MFIOversold)
	fill(&c.MFIOverbought, def.MFIOverbought)
	fill(&c.BIASThreshold, def.BIASThreshold)
	fill(&c.VolumeRatioThreshold, def.VolumeRatioThreshold)
	fill(&c.ADXTrendThreshold, def.ADXTrendThreshold)
	fill(&c.QuantStrongBuy, def.QuantStrongBuy)
	fill(&c.QuantBuy, def.QuantBuy)
	fill(&c.QuantSell, def.QuantSell)
	fill(&c.QuantStrongSell, def.QuantStrongSell)
	fill(&c.NearMissBand, def.NearMissBand)
	return c
}

// Scorer 多指标加权评分器。构造后只读，可并发使用。
type Scorer struct {
	cfg        Config
	classifier *trend.Classifier
}

func NewScorer(cfg Config, classifier *trend.Classifier) *Scorer {
	if classifier == nil {
		classifier = trend.NewClassifier(trend.Config{})
	}
	return &Scorer{cfg: cfg.withDefaults(), classifier: classifier}
}

// Config 返回评分器配置副本。
func (s *Scorer) Config() Config {
	return s.cfg
}

// Classifier 返回内部使用的趋势分类器。
func (s *Scorer) Classifier() *trend.Classifier {
	return s.classifier
}

type hit struct {
	key    string
	text   string
	weight float64
}

// collector 累积两侧命中条件与待确认提示。
type collector struct {
	weights Weights
	buy     []hit
	sell    []hit
	pending []string
}

func (c *collector) trigger(side Type, key, text string) {
	var w float64
	if side == Buy {
		w = c.weights.Buy(key)
	} else {
		w = c.weights.Sell(key)
	}
	if w <= 0 {
		return
	}
	h := hit{key: key, text: text, weight: w}
	if side == Buy {
		c.buy = append(c.buy, h)
	} else {
		c.sell = append(c.sell, h)
	}
}

// warnOrTrigger 用于超买超卖类条件：与主趋势相悖时只记为待确认。
func (c *collector) warnOrTrigger(side Type, key, text string, againstTrend bool) {
	if againstTrend {
		c.warn(text + "，与当前趋势相悖，仅作警示")
		return
	}
	c.trigger(side, key, text)
}

func (c *collector) warn(text string) {
	c.pending = append(c.pending, text)
}

func sum(hits []hit) float64 {
	total := 0.0
	for _, h := range hits {
		total += h.weight
	}
	return total
}

func describe(hits []hit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, fmt.Sprintf("%s(+%s)", h.text, strconv.FormatFloat(h.weight, 'f', -1, 64)))
	}
	return out
}

// Generate 根据指标快照与可选的量化/趋势摘要生成交易信号。永不失败，
// 缺失字段按中性处理。
func (s *Scorer) Generate(snap indicator.Snapshot, quant *trend.QuantAnalysis, summary *TrendSummary, at time.Time) TradingSignal {
	if s == nil {
		s = NewScorer(DefaultConfig(), nil)
	}
	if at.IsZero() {
		at = snap.Time
	}
	tr := s.classifier.Classify(snap, quant)
	col := &collector{weights: s.cfg.Weights}
	s.scoreQuant(col, quant)
	s.scoreMA(col, snap)
	s.scoreMACD(col, snap)
	s.scoreRSI(col, snap, tr.State)
	s.scoreKDJ(col, snap, tr.State)
	s.scoreBollinger(col, snap, tr.State)
	s.scoreVolume(col, snap, tr.Score)
	s.scoreADX(col, snap)
	s.scoreSAR(col, snap)
	s.scoreIchimoku(col, snap)
	s.scoreMFI(col, snap, tr.State)
	s.scoreDMI(col, snap)
	s.scoreBIAS(col, snap, tr.State)
	s.scoreSummary(col, summary)

	buyScore := sum(col.buy)
	sellScore := sum(col.sell)
	// 趋势保护：逆势一侧分数打折
	switch {
	case tr.State.IsUp():
		if sellScore > 0 {
			sellScore /= s.cfg.TrendProtectionFactor
			col.warn(fmt.Sprintf("趋势保护：%s中卖出分数按 %.1f 折算", tr.State.Label(), s.cfg.TrendProtectionFactor))
		}
	case tr.State.IsDown():
		if buyScore > 0 {
			buyScore /= s.cfg.TrendProtectionFactor
			col.warn(fmt.Sprintf("趋势保护：%s中买入分数按 %.1f 折算", tr.State.Label(), s.cfg.TrendProtectionFactor))
		}
	}
	buyScore = round2(buyScore)
	sellScore = round2(sellScore)

	out := TradingSignal{
		Type:                Hold,
		TriggeredConditions: []string{},
		Timestamp:           at,
		BuyScore:            buyScore,
		SellScore:           sellScore,
		Trend:               tr,
	}

	var winner, loser []hit
	var winScore, loseScore float64
	switch {
	case buyScore > sellScore:
		out.Type, winner, loser, winScore, loseScore = Buy, col.buy, col.sell, buyScore, sellScore
	case sellScore > buyScore:
		out.Type, winner, loser, winScore, loseScore = Sell, col.sell, col.buy, sellScore, buyScore
	}

	if out.Type != Hold {
		if winScore < s.cfg.MinScoreForSignal || len(winner) < s.cfg.MinConditionsForSignal {
			col.warn(fmt.Sprintf("%s信号未达门槛：得分 %.2f/%.0f，条件 %d/%d",
				sideLabel(out.Type), winScore, s.cfg.MinScoreForSignal, len(winner), s.cfg.MinConditionsForSignal))
			out.Type = Hold
		}
	}

	if out.Type == Hold {
		for _, text := range describe(col.buy) {
			col.warn("[买] " + text)
		}
		for _, text := range describe(col.sell) {
			col.warn("[卖] " + text)
		}
		out.PendingConditions = nonNil(col.pending)
		return out
	}

	out.TriggeredConditions = describe(winner)
	for _, text := range describe(loser) {
		col.warn("反向信号: " + text)
	}
	out.PendingConditions = nonNil(col.pending)
	out.Strength = strengthFor(winScore - loseScore)
	out.Confidence = round2(math.Min(1, winScore/(buyScore+sellScore+1)))
	return out
}

// strengthFor: clamp(1,5, floor(diff/3)+1)。
func strengthFor(diff float64) int {
	st := int(math.Floor(diff/3)) + 1
	if st < 1 {
		return 1
	}
	if st > 5 {
		return 5
	}
	return st
}

func (s *Scorer) scoreQuant(col *collector, quant *trend.QuantAnalysis) {
	if quant == nil {
		return
	}
	rec := normalizeRecommendation(quant.Recommendation)
	score, hasScore := indicator.Value(quant.Score)
	switch {
	case rec == "strong_buy" || (hasScore && score >= s.cfg.QuantStrongBuy):
		col.trigger(Buy, BuyQuantStrong, fmt.Sprintf("量化强烈看多(评分%s)", fmtScore(quant.Score)))
	case rec == "buy" || (hasScore && score >= s.cfg.QuantBuy):
		col.trigger(Buy, BuyQuant, fmt.Sprintf("量化看多(评分%s)", fmtScore(quant.Score)))
	case rec == "strong_sell" || (hasScore && score <= s.cfg.QuantStrongSell):
		col.trigger(Sell, SellQuantStrong, fmt.Sprintf("量化强烈看空(评分%s)", fmtScore(quant.Score)))
	case rec == "sell" || (hasScore && score <= s.cfg.QuantSell):
		col.trigger(Sell, SellQuant, fmt.Sprintf("量化看空(评分%s)", fmtScore(quant.Score)))
	case hasScore:
		band := s.cfg.NearMissBand
		if score >= s.cfg.QuantBuy-band {
			col.warn(fmt.Sprintf("量化评分 %.0f 接近看多阈值 %.0f", score, s.cfg.QuantBuy))
		} else if score <= s.cfg.QuantSell+band {
			col.warn(fmt.Sprintf("量化评分 %.0f 接近看空阈值 %.0f", score, s.cfg.QuantSell))
		}
	}
}

func (s *Scorer) scoreMA(col *collector, snap indicator.Snapshot) {
	switch {
	case snap.MABullishAligned():
		col.trigger(Buy, BuyMAAlignment, "均线多头排列(MA5>MA10>MA20>MA60)")
	case snap.MABearishAligned():
		col.trigger(Sell, SellMAAlignment, "均线空头排列(MA5<MA10<MA20<MA60)")
	}
	switch snap.PriceVs(snap.MA20) {
	case 1:
		col.trigger(Buy, BuyPriceAboveMA20, "价格站上MA20")
	case -1:
		col.trigger(Sell, SellPriceBelowMA20, "价格跌破MA20")
	}
}

func (s *Scorer) scoreMACD(col *collector, snap indicator.Snapshot) {
	switch snap.MACD.Cross {
	case indicator.CrossGolden:
		col.trigger(Buy, BuyMACDGoldenCross, "MACD金叉")
	case indicator.CrossDeath:
		col.trigger(Sell, SellMACDDeathCross, "MACD死叉")
	default:
		dif, okDif := indicator.Value(snap.MACD.DIF)
		dea, okDea := indicator.Value(snap.MACD.DEA)
		if okDif && okDea && dea != 0 && math.Abs(dif-dea) <= math.Abs(dea)*0.05 {
			col.warn("MACD快慢线即将交叉，等待确认")
		}
	}
	if hist, ok := indicator.Value(snap.MACD.Histogram); ok {
		switch {
		case hist > 0:
			col.trigger(Buy, BuyMACDHistogram, "MACD红柱")
		case hist < 0:
			col.trigger(Sell, SellMACDHistogram, "MACD绿柱")
		}
	}
}

func (s *Scorer) scoreRSI(col *collector, snap indicator.Snapshot, state trend.State) {
	rsi, ok := indicator.Value(snap.RSI.Value)
	if !ok {
		switch snap.RSI.Status {
		case indicator.StatusOversold:
			col.warnOrTrigger(Buy, BuyRSIOversold, "RSI超卖", state.IsDown())
		case indicator.StatusOverbought:
			col.warnOrTrigger(Sell, SellRSIOverbought, "RSI超买", state.IsUp())
		}
		return
	}
	switch {
	case rsi <= s.cfg.RSIOversold:
		col.warnOrTrigger(Buy, BuyRSIOversold, fmt.Sprintf("RSI超卖(%.1f)", rsi), state.IsDown())
	case rsi >= s.cfg.RSIOverbought:
		col.warnOrTrigger(Sell, SellRSIOverbought, fmt.Sprintf("RSI超买(%.1f)", rsi), state.IsUp())
	case rsi <= s.cfg.RSIRecoveryHigh && state.IsUp():
		col.trigger(Buy, BuyRSIRecovery, fmt.Sprintf("上升趋势中RSI回落企稳(%.1f)", rsi))
	case rsi >= s.cfg.RSIReboundLow && state.IsDown():
		col.trigger(Sell, SellRSIWeakRebound, fmt.Sprintf("下降趋势中RSI反弹乏力(%.1f)", rsi))
	case rsi <= s.cfg.RSIOversold+s.cfg.NearMissBand:
		col.warn(fmt.Sprintf("RSI %.1f 接近超卖", rsi))
	case rsi >= s.cfg.RSIOverbought-s.cfg.NearMissBand:
		col.warn(fmt.Sprintf("RSI %.1f 接近超买", rsi))
	}
}

func (s *Scorer) scoreKDJ(col *collector, snap indicator.Snapshot, state trend.State) {
	switch snap.KDJ.Cross {
	case indicator.CrossGolden:
		col.trigger(Buy, BuyKDJGoldenCross, "KDJ金叉")
	case indicator.CrossDeath:
		col.trigger(Sell, SellKDJDeathCross, "KDJ死叉")
	}
	k, okK := indicator.Value(snap.KDJ.K)
	j, okJ := indicator.Value(snap.KDJ.J)
	switch {
	case (okJ && j < 0) || (okK && k < s.cfg.KDJOversold):
		col.warnOrTrigger(Buy, BuyKDJOversold, "KDJ超卖", state.IsDown())
	case (okJ && j > 100) || (okK && k > s.cfg.KDJOverbought):
		col.warnOrTrigger(Sell, SellKDJOverbought, "KDJ超买", state.IsUp())
	}
}

func (s *Scorer) scoreBollinger(col *collector, snap indicator.Snapshot, state trend.State) {
	switch snap.Bollinger.Status {
	case indicator.BandBelowLower, indicator.BandNearLower:
		col.warnOrTrigger(Buy, BuyBollLower, "触及布林下轨", state.IsDown())
	case indicator.BandAboveUpper, indicator.BandNearUpper:
		col.warnOrTrigger(Sell, SellBollUpper, "触及布林上轨", state.IsUp())
	}
}

func (s *Scorer) scoreVolume(col *collector, snap indicator.Snapshot, trendScore float64) {
	ratio, ok := indicator.Value(snap.Volume.Ratio)
	expanding := (ok && ratio >= s.cfg.VolumeRatioThreshold) || (!ok && snap.Volume.Status == indicator.VolumeExpanding)
	if !expanding {
		return
	}
	switch {
	case trendScore > 0:
		col.trigger(Buy, BuyVolumeConfirm, "放量上涨确认")
	case trendScore < 0:
		col.trigger(Sell, SellVolumeConfirm, "放量下跌确认")
	default:
		col.warn("放量但方向不明")
	}
}

func (s *Scorer) scoreADX(col *collector, snap indicator.Snapshot) {
	adx, ok := indicator.Value(snap.ADX.Value)
	if !ok || adx < s.cfg.ADXTrendThreshold {
		return
	}
	switch snap.ADX.DMIDirection() {
	case 1:
		col.trigger(Buy, BuyADXUptrend, fmt.Sprintf("ADX强势上涨(%.1f)", adx))
	case -1:
		col.trigger(Sell, SellADXDowntrend, fmt.Sprintf("ADX强势下跌(%.1f)", adx))
	}
}

func (s *Scorer) scoreSAR(col *collector, snap indicator.Snapshot) {
	switch snap.PriceVs(snap.SAR) {
	case 1:
		col.trigger(Buy, BuySARBullish, "价格位于SAR之上")
	case -1:
		col.trigger(Sell, SellSARBearish, "价格位于SAR之下")
	}
}

func (s *Scorer) scoreIchimoku(col *collector, snap indicator.Snapshot) {
	switch snap.CloudPosition() {
	case 1:
		col.trigger(Buy, BuyIchimokuAbove, "价格位于一目云上方")
	case -1:
		col.trigger(Sell, SellIchimokuBelow, "价格位于一目云下方")
	}
}

func (s *Scorer) scoreMFI(col *collector, snap indicator.Snapshot, state trend.State) {
	mfi, ok := indicator.Value(snap.MFI)
	if !ok {
		return
	}
	switch {
	case mfi <= s.cfg.MFIOversold:
		col.warnOrTrigger(Buy, BuyMFIOversold, fmt.Sprintf("MFI资金超卖(%.1f)", mfi), state.IsDown())
	case mfi >= s.cfg.MFIOverbought:
		col.warnOrTrigger(Sell, SellMFIOverbought, fmt.Sprintf("MFI资金超买(%.1f)", mfi), state.IsUp())
	}
}

func (s *Scorer) scoreDMI(col *collector, snap indicator.Snapshot) {
	if snap.ADX.PlusDI == nil || snap.ADX.MinusDI == nil {
		return
	}
	switch snap.ADX.DMIDirection() {
	case 1:
		col.trigger(Buy, BuyDMIBullish, "DMI多头(+DI>-DI)")
	case -1:
		col.trigger(Sell, SellDMIBearish, "DMI空头(+DI<-DI)")
	}
}

func (s *Scorer) scoreBIAS(col *collector, snap indicator.Snapshot, state trend.State) {
	bias, ok := indicator.Value(snap.BIAS)
	if !ok {
		return
	}
	switch {
	case bias <= -s.cfg.BIASThreshold:
		col.warnOrTrigger(Buy, BuyBIASOversold, fmt.Sprintf("乖离率超跌(%.2f%%)", bias), state.IsDown())
	case bias >= s.cfg.BIASThreshold:
		col.warnOrTrigger(Sell, SellBIASOverbought, fmt.Sprintf("乖离率超涨(%.2f%%)", bias), state.IsUp())
	}
}

func (s *Scorer) scoreSummary(col *collector, summary *TrendSummary) {
	if summary == nil {
		return
	}
	switch {
	case summary.BullishSignals > summary.BearishSignals:
		col.trigger(Buy, BuyTrendAnalysisBull, fmt.Sprintf("趋势分析偏多(%d:%d)", summary.BullishSignals, summary.BearishSignals))
	case summary.BearishSignals > summary.BullishSignals:
		col.trigger(Sell, SellTrendAnalysisBear, fmt.Sprintf("趋势分析偏空(%d:%d)", summary.BullishSignals, summary.BearishSignals))
	}
}

func normalizeRecommendation(rec string) string {
	switch strings.ToLower(strings.TrimSpace(rec)) {
	case "strong_buy", "strong buy", "强烈买入":
		return "strong_buy"
	case "buy", "买入", "增持":
		return "buy"
	case "strong_sell", "strong sell", "强烈卖出":
		return "strong_sell"
	case "sell", "卖出", "减持":
		return "sell"
	default:
		return ""
	}
}

func sideLabel(t Type) string {
	switch t {
	case Buy:
		return "买入"
	case Sell:
		return "卖出"
	default:
		return "观望"
	}
}

func fmtScore(p *float64) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatFloat(*p, 'f', 0, 64)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
