package risk

import (
	"fmt"
	"strings"
)

// HoldingPeriod 持仓周期，决定 ATR 止损倍数与最长持仓天数。
type HoldingPeriod string

const (
	PeriodShort HoldingPeriod = "short"
	PeriodSwing HoldingPeriod = "swing"
	PeriodLong  HoldingPeriod = "long"
)

// ParseHoldingPeriod 解析持仓周期，空串为 swing。
func ParseHoldingPeriod(raw string) (HoldingPeriod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "swing", "medium", "波段":
		return PeriodSwing, nil
	case "short", "短线":
		return PeriodShort, nil
	case "long", "长线":
		return PeriodLong, nil
	default:
		return "", fmt.Errorf("unknown holding period %q", raw)
	}
}

// Config 风控参数。
type Config struct {
	ShortATRMultiplier    float64
	SwingATRMultiplier    float64
	LongATRMultiplier     float64
	SupportBufferATR      float64
	MinStopLossPct        float64
	MaxStopLossPct        float64
	TakeProfitMultiples   []float64
	RiskPerTradePct       float64
	MaxPositionPct        float64
	TrailingActivationATR float64
	TrailingStopATR       float64
	Pyramid               PyramidConfig
	Exit                  ExitConfig
}

// PyramidConfig 三阶段建仓参数，比例均相对总资金。
type PyramidConfig struct {
	InitialScore    float64
	InitialPct      float64
	PullbackScore   float64
	PullbackPct     float64
	BreakoutATR     float64
	BreakoutPct     float64
	MaxPullbackAdds int
	MaxAdds         int
	MaxSinglePct    float64
	MaxTotalPct     float64
	LotSize         int64
}

// ExitConfig 离场规则参数。
type ExitConfig struct {
	ProfitProtectTrigger float64
	ProfitProtectFloor   float64
	ShortMaxDays         int
	SwingMaxDays         int
	LongMaxDays          int
	SignalMinStrength    int
}

func DefaultConfig() Config {
	return Config{
		ShortATRMultiplier:    1.5,
		SwingATRMultiplier:    2.0,
		LongATRMultiplier:     2.5,
		SupportBufferATR:      0.5,
		MinStopLossPct:        0.02,
		MaxStopLossPct:        0.10,
		TakeProfitMultiples:   []float64{2, 3, 5},
		RiskPerTradePct:       0.02,
		MaxPositionPct:        0.30,
		TrailingActivationATR: 3,
		TrailingStopATR:       0.5,
		Pyramid: PyramidConfig{
			InitialScore:    75,
			InitialPct:      0.05,
			PullbackScore:   90,
			PullbackPct:     0.03,
			BreakoutATR:     0.3,
			BreakoutPct:     0.05,
			MaxPullbackAdds: 1,
			MaxAdds:         2,
			MaxSinglePct:    0.20,
			MaxTotalPct:     0.80,
			LotSize:         100,
		},
		Exit: ExitConfig{
			ProfitProtectTrigger: 0.02,
			ProfitProtectFloor:   0.005,
			ShortMaxDays:         5,
			SwingMaxDays:         20,
			LongMaxDays:          60,
			SignalMinStrength:    2,
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	fill := func(v *float64, d float64) {
		if *v <= 0 {
			*v = d
		}
	}
	fillInt := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&c.ShortATRMultiplier, def.ShortATRMultiplier)
	fill(&c.SwingATRMultiplier, def.SwingATRMultiplier)
	fill(&c.LongATRMultiplier, def.LongATRMultiplier)
	fill(&c.SupportBufferATR, def.SupportBufferATR)
	fill(&c.MinStopLossPct, def.MinStopLossPct)
	fill(&c.MaxStopLossPct, def.MaxStopLossPct)
	if len(c.TakeProfitMultiples) == 0 {
		c.TakeProfitMultiples = def.TakeProfitMultiples
	}
	c.TakeProfitMultiples = append([]float64(nil), c.TakeProfitMultiples...)
	fill(&c.RiskPerTradePct, def.RiskPerTradePct)
	fill(&c.MaxPositionPct, def.MaxPositionPct)
	fill(&c.TrailingActivationATR, def.TrailingActivationATR)
	fill(&c.TrailingStopATR, def.TrailingStopATR)

	p := &c.Pyramid
	fill(&p.InitialScore, def.Pyramid.InitialScore)
	fill(&p.InitialPct, def.Pyramid.InitialPct)
	fill(&p.PullbackScore, def.Pyramid.PullbackScore)
	fill(&p.PullbackPct, def.Pyramid.PullbackPct)
	fill(&p.BreakoutATR, def.Pyramid.BreakoutATR)
	fill(&p.BreakoutPct, def.Pyramid.BreakoutPct)
	fillInt(&p.MaxPullbackAdds, def.Pyramid.MaxPullbackAdds)
	fillInt(&p.MaxAdds, def.Pyramid.MaxAdds)
	fill(&p.MaxSinglePct, def.Pyramid.MaxSinglePct)
	fill(&p.MaxTotalPct, def.Pyramid.MaxTotalPct)
	if p.LotSize <= 0 {
		p.LotSize = def.Pyramid.LotSize
	}

	e := &c.Exit
	fill(&e.ProfitProtectTrigger, def.Exit.ProfitProtectTrigger)
	fill(&e.ProfitProtectFloor, def.Exit.ProfitProtectFloor)
	fillInt(&e.ShortMaxDays, def.Exit.ShortMaxDays)
	fillInt(&e.SwingMaxDays, def.Exit.SwingMaxDays)
	fillInt(&e.LongMaxDays, def.Exit.LongMaxDays)
	fillInt(&e.SignalMinStrength, def.Exit.SignalMinStrength)
	return c
}

func (c Config) atrMultiplier(period HoldingPeriod) float64 {
	switch period {
	case PeriodShort:
		return c.ShortATRMultiplier
	case PeriodLong:
		return c.LongATRMultiplier
	default:
		return c.SwingATRMultiplier
	}
}

func (c Config) maxHoldingDays(period HoldingPeriod) int {
	switch period {
	case PeriodShort:
		return c.Exit.ShortMaxDays
	case PeriodLong:
		return c.Exit.LongMaxDays
	default:
		return c.Exit.SwingMaxDays
	}
}
