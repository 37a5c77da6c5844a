package strategy

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/mitchellh/mapstructure"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/analysis/signal"
	"quantcore/internal/risk"
)

// 内置策略类型。
const (
	TypeMultiIndicator = "multi_indicator"
	TypeTrendFollowing = "trend_following"
	TypeMeanReversion  = "mean_reversion"
)

type base struct {
	id     string
	kind   string
	period risk.HoldingPeriod
	tk     *Toolkit
}

func newBase(cfg Config, kind string, tk *Toolkit) (base, error) {
	period, err := risk.ParseHoldingPeriod(cfg.HoldingPeriod)
	if err != nil {
		return base{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if tk == nil {
		tk = NewToolkit(nil, nil, nil)
	}
	return base{id: cfg.ID, kind: kind, period: period, tk: tk}, nil
}

func (b *base) ID() string   { return b.id }
func (b *base) Type() string { return b.kind }

// size 固定比例优先，否则使用风控建议仓位。
func (b *base) size(sig Signal, capital, fixedPct float64) int64 {
	if sig.Type != signal.Buy || capital <= 0 {
		return 0
	}
	pct := fixedPct
	if pct <= 0 {
		pct = sig.Risk.SuggestedPositionPct
	}
	return b.tk.Lots(capital*pct, sig.Price)
}

// riskExit 风控离场，信号离场按强度部分减仓。
func (b *base) riskExit(pos *risk.Position, data InstrumentData) ExitIntent {
	d := b.tk.ExitCheck(pos, data, b.period)
	if !d.Exit {
		return ExitIntent{}
	}
	return ExitIntent{Exit: true, Ratio: d.SellRatio, Reason: d.Reason.String() + ": " + d.Detail}
}

func fullExit(reason string) ExitIntent {
	return ExitIntent{Exit: true, Ratio: 1, Reason: reason}
}

func decodeParams(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

func directional(ts signal.TradingSignal) bool {
	return ts.Type == signal.Buy || ts.Type == signal.Sell
}

func clampStrength(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}

func eachSymbol(ctx context.Context, symbols []string, data MarketData, fn func(InstrumentData)) error {
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		inst, ok := data[sym]
		if !ok {
			continue
		}
		if inst.Symbol == "" {
			inst.Symbol = sym
		}
		fn(inst)
	}
	return nil
}

// ---- multi_indicator ----

type multiIndicatorParams struct {
	MinStrength int     `mapstructure:"min_strength"`
	PositionPct float64 `mapstructure:"position_pct"`
}

// MultiIndicator 直接使用多指标评分器的结果。
type MultiIndicator struct {
	base
	params multiIndicatorParams
}

func NewMultiIndicator(cfg Config, tk *Toolkit) (Strategy, error) {
	b, err := newBase(cfg, TypeMultiIndicator, tk)
	if err != nil {
		return nil, err
	}
	s := &MultiIndicator{base: b, params: multiIndicatorParams{MinStrength: 2}}
	if err := decodeParams(cfg.Params, &s.params); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MultiIndicator) GenerateSignals(ctx context.Context, symbols []string, data MarketData) ([]Signal, error) {
	var out []Signal
	err := eachSymbol(ctx, symbols, data, func(inst InstrumentData) {
		ts := s.tk.Score(inst)
		if !directional(ts) || ts.Strength < s.params.MinStrength {
			return
		}
		out = append(out, s.tk.Attach(s.id, s.period, inst, ts))
	})
	return out, err
}

func (s *MultiIndicator) CalculatePositionSize(sig Signal, capital float64) int64 {
	return s.size(sig, capital, s.params.PositionPct)
}

func (s *MultiIndicator) PlanExit(pos *risk.Position, data InstrumentData) ExitIntent {
	return s.riskExit(pos, data)
}

func (s *MultiIndicator) CheckExitConditions(pos *risk.Position, data InstrumentData) (bool, string) {
	in := s.PlanExit(pos, data)
	return in.Exit, in.Reason
}

func (s *MultiIndicator) ValidateParams() error {
	if s.params.MinStrength < 1 || s.params.MinStrength > 5 {
		return fmt.Errorf("%w: min_strength must be in [1,5], got %d", ErrInvalidParams, s.params.MinStrength)
	}
	if s.params.PositionPct < 0 || s.params.PositionPct > 1 {
		return fmt.Errorf("%w: position_pct must be in [0,1]", ErrInvalidParams)
	}
	return nil
}

// ---- trend_following ----

type trendFollowingParams struct {
	MinTrendScore  float64 `mapstructure:"min_trend_score"`
	ExitTrendScore float64 `mapstructure:"exit_trend_score"`
	RequireMACD    bool    `mapstructure:"require_macd"`
	PositionPct    float64 `mapstructure:"position_pct"`
}

// TrendFollowing 趋势得分达到阈值且 MACD 柱为正时做多，趋势转弱时卖出。
type TrendFollowing struct {
	base
	params trendFollowingParams
}

func NewTrendFollowing(cfg Config, tk *Toolkit) (Strategy, error) {
	b, err := newBase(cfg, TypeTrendFollowing, tk)
	if err != nil {
		return nil, err
	}
	s := &TrendFollowing{base: b, params: trendFollowingParams{MinTrendScore: 25, ExitTrendScore: -10, RequireMACD: true}}
	if err := decodeParams(cfg.Params, &s.params); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TrendFollowing) GenerateSignals(ctx context.Context, symbols []string, data MarketData) ([]Signal, error) {
	var out []Signal
	err := eachSymbol(ctx, symbols, data, func(inst InstrumentData) {
		res := s.tk.Classifier.Classify(inst.Snapshot, inst.Quant)
		ts := signal.TradingSignal{Type: signal.Hold, Timestamp: inst.Time, Trend: res}
		hist, hasHist := indicator.Value(inst.Snapshot.MACD.Histogram)
		switch {
		case res.Score >= s.params.MinTrendScore && (!s.params.RequireMACD || (hasHist && hist > 0)):
			ts.Type = signal.Buy
			ts.BuyScore = res.Score
			ts.TriggeredConditions = []string{fmt.Sprintf("趋势得分 %.0f (%s)", res.Score, res.State.Label())}
			if hasHist && hist > 0 {
				ts.TriggeredConditions = append(ts.TriggeredConditions, "MACD柱为正")
			}
		case res.Score <= s.params.ExitTrendScore:
			ts.Type = signal.Sell
			ts.SellScore = -res.Score
			ts.TriggeredConditions = []string{fmt.Sprintf("趋势转弱 %.0f (%s)", res.Score, res.State.Label())}
		default:
			return
		}
		ts.Strength = clampStrength(int(math.Abs(res.Score) / 20))
		ts.Confidence = math.Min(1, math.Round(math.Abs(res.Score))/100)
		out = append(out, s.tk.Attach(s.id, s.period, inst, ts))
	})
	return out, err
}

func (s *TrendFollowing) CalculatePositionSize(sig Signal, capital float64) int64 {
	return s.size(sig, capital, s.params.PositionPct)
}

func (s *TrendFollowing) PlanExit(pos *risk.Position, data InstrumentData) ExitIntent {
	if in := s.riskExit(pos, data); in.Exit {
		return in
	}
	res := s.tk.Classifier.Classify(data.Snapshot, data.Quant)
	if res.Score <= s.params.ExitTrendScore {
		return fullExit(fmt.Sprintf("trend_reversal: 趋势得分 %.0f", res.Score))
	}
	return ExitIntent{}
}

func (s *TrendFollowing) CheckExitConditions(pos *risk.Position, data InstrumentData) (bool, string) {
	in := s.PlanExit(pos, data)
	return in.Exit, in.Reason
}

func (s *TrendFollowing) ValidateParams() error {
	p := s.params
	if p.MinTrendScore <= 0 || p.MinTrendScore > 100 {
		return fmt.Errorf("%w: min_trend_score must be in (0,100]", ErrInvalidParams)
	}
	if p.ExitTrendScore >= p.MinTrendScore || p.ExitTrendScore < -100 {
		return fmt.Errorf("%w: exit_trend_score must be in [-100, min_trend_score)", ErrInvalidParams)
	}
	if p.PositionPct < 0 || p.PositionPct > 1 {
		return fmt.Errorf("%w: position_pct must be in [0,1]", ErrInvalidParams)
	}
	return nil
}

// ---- mean_reversion ----

type meanReversionParams struct {
	RSIOversold   float64 `mapstructure:"rsi_oversold"`
	RSIOverbought float64 `mapstructure:"rsi_overbought"`
	ExitRSI       float64 `mapstructure:"exit_rsi"`
	RequireBand   bool    `mapstructure:"require_band"`
	PositionPct   float64 `mapstructure:"position_pct"`
}

// MeanReversion RSI 超卖且价格贴近布林下轨时买入，回归均值后离场。
type MeanReversion struct {
	base
	params meanReversionParams
}

func NewMeanReversion(cfg Config, tk *Toolkit) (Strategy, error) {
	b, err := newBase(cfg, TypeMeanReversion, tk)
	if err != nil {
		return nil, err
	}
	s := &MeanReversion{base: b, params: meanReversionParams{RSIOversold: 30, RSIOverbought: 70, ExitRSI: 55, RequireBand: true, PositionPct: 0.1}}
	if err := decodeParams(cfg.Params, &s.params); err != nil {
		return nil, err
	}
	return s, nil
}

func nearLower(status string) bool {
	return status == indicator.BandBelowLower || status == indicator.BandNearLower
}

func nearUpper(status string) bool {
	return status == indicator.BandAboveUpper || status == indicator.BandNearUpper
}

func (s *MeanReversion) GenerateSignals(ctx context.Context, symbols []string, data MarketData) ([]Signal, error) {
	var out []Signal
	p := s.params
	err := eachSymbol(ctx, symbols, data, func(inst InstrumentData) {
		rsi, ok := indicator.Value(inst.Snapshot.RSI.Value)
		if !ok {
			return
		}
		band := strings.TrimSpace(inst.Snapshot.Bollinger.Status)
		ts := signal.TradingSignal{Type: signal.Hold, Timestamp: inst.Time}
		var depth float64
		switch {
		case rsi <= p.RSIOversold && (!p.RequireBand || nearLower(band)):
			depth = p.RSIOversold - rsi
			ts.Type = signal.Buy
			ts.BuyScore = depth
			ts.TriggeredConditions = []string{fmt.Sprintf("RSI超卖(%.1f)", rsi)}
		case rsi >= p.RSIOverbought && (!p.RequireBand || nearUpper(band)):
			depth = rsi - p.RSIOverbought
			ts.Type = signal.Sell
			ts.SellScore = depth
			ts.TriggeredConditions = []string{fmt.Sprintf("RSI超买(%.1f)", rsi)}
		default:
			return
		}
		if band != "" {
			ts.TriggeredConditions = append(ts.TriggeredConditions, "布林带:"+band)
		}
		ts.Strength = clampStrength(1 + int(depth/5))
		ts.Confidence = math.Min(1, 0.5+depth/50)
		ts.Trend = s.tk.Classifier.Classify(inst.Snapshot, inst.Quant)
		out = append(out, s.tk.Attach(s.id, s.period, inst, ts))
	})
	return out, err
}

func (s *MeanReversion) CalculatePositionSize(sig Signal, capital float64) int64 {
	return s.size(sig, capital, s.params.PositionPct)
}

func (s *MeanReversion) PlanExit(pos *risk.Position, data InstrumentData) ExitIntent {
	if in := s.riskExit(pos, data); in.Exit {
		return in
	}
	if rsi, ok := indicator.Value(data.Snapshot.RSI.Value); ok && rsi >= s.params.ExitRSI {
		return fullExit(fmt.Sprintf("mean_reverted: RSI %.1f >= %.0f", rsi, s.params.ExitRSI))
	}
	return ExitIntent{}
}

func (s *MeanReversion) CheckExitConditions(pos *risk.Position, data InstrumentData) (bool, string) {
	in := s.PlanExit(pos, data)
	return in.Exit, in.Reason
}

func (s *MeanReversion) ValidateParams() error {
	p := s.params
	if p.RSIOversold <= 0 || p.RSIOverbought >= 100 || p.RSIOversold >= p.RSIOverbought {
		return fmt.Errorf("%w: require 0 < rsi_oversold < rsi_overbought < 100", ErrInvalidParams)
	}
	if p.ExitRSI <= p.RSIOversold || p.ExitRSI >= 100 {
		return fmt.Errorf("%w: exit_rsi must be in (rsi_oversold, 100)", ErrInvalidParams)
	}
	if p.PositionPct < 0 || p.PositionPct > 1 {
		return fmt.Errorf("%w: position_pct must be in [0,1]", ErrInvalidParams)
	}
	return nil
}
