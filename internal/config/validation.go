package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Trend.validate(); err != nil {
		return err
	}
	if err := c.Scoring.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Pyramid.validate(); err != nil {
		return err
	}
	if err := c.Exit.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Executor.validate(); err != nil {
		return err
	}
	return nil
}

func (t *TrendConfig) validate() error {
	if !(t.WeakThreshold < t.TrendThreshold && t.TrendThreshold < t.StrongThreshold) {
		return fmt.Errorf("trend thresholds must satisfy weak < trend < strong")
	}
	if t.StrongThreshold > 100 {
		return fmt.Errorf("trend.strong_threshold must be <= 100")
	}
	if t.ADXWeak >= t.ADXStrong {
		return fmt.Errorf("trend.adx_weak must be < trend.adx_strong")
	}
	return nil
}

func (s *ScoringConfig) validate() error {
	if s.MinScoreForSignal < 0 || s.MinConditionsForSignal < 0 {
		return fmt.Errorf("scoring.min_score_for_signal and scoring.min_conditions_for_signal must be >= 0")
	}
	if s.TrendProtectionFactor < 1 {
		return fmt.Errorf("scoring.trend_protection_factor must be >= 1")
	}
	if s.RSIOversold >= s.RSIOverbought {
		return fmt.Errorf("scoring.rsi_oversold must be < scoring.rsi_overbought")
	}
	for key, w := range s.BuyWeights {
		if w < 0 {
			return fmt.Errorf("scoring.buy_weights.%s must be >= 0", key)
		}
	}
	for key, w := range s.SellWeights {
		if w < 0 {
			return fmt.Errorf("scoring.sell_weights.%s must be >= 0", key)
		}
	}
	return nil
}

func (r *RiskConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(r.HoldingPeriod)) {
	case "short", "swing", "long":
	default:
		return fmt.Errorf("risk.holding_period must be short|swing|long, got %s", r.HoldingPeriod)
	}
	if r.MinStopLossPct >= r.MaxStopLossPct {
		return fmt.Errorf("risk.min_stop_loss_pct must be < risk.max_stop_loss_pct")
	}
	if r.MaxStopLossPct >= 1 {
		return fmt.Errorf("risk.max_stop_loss_pct must be < 1")
	}
	if r.MaxPositionPct > 1 {
		return fmt.Errorf("risk.max_position_pct must be in (0, 1]")
	}
	for i, m := range r.TakeProfitMultiples {
		if m <= 0 {
			return fmt.Errorf("risk.take_profit_multiples[%d] must be > 0", i)
		}
		if i > 0 && m <= r.TakeProfitMultiples[i-1] {
			return fmt.Errorf("risk.take_profit_multiples must be increasing")
		}
	}
	if r.TrailingStopATR >= r.TrailingActivationATR {
		return fmt.Errorf("risk.trailing_stop_atr must be < risk.trailing_activation_atr")
	}
	return nil
}

func (p *PyramidConfig) validate() error {
	if p.InitialScore > 100 || p.PullbackScore > 100 {
		return fmt.Errorf("pyramid scores must be <= 100")
	}
	if p.MaxPullbackAdds > p.MaxAdds {
		return fmt.Errorf("pyramid.max_pullback_adds must be <= pyramid.max_adds")
	}
	if p.MaxSinglePct > p.MaxTotalPct || p.MaxTotalPct > 1 {
		return fmt.Errorf("pyramid caps must satisfy max_single_pct <= max_total_pct <= 1")
	}
	return nil
}

func (e *ExitConfig) validate() error {
	if e.ProfitProtectFloor >= e.ProfitProtectTrigger {
		return fmt.Errorf("exit.profit_protect_floor must be < exit.profit_protect_trigger")
	}
	if e.SignalMinStrength > 5 {
		return fmt.Errorf("exit.signal_min_strength must be in [1,5]")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.PositionPct > 1 {
		return fmt.Errorf("backtest.position_pct must be in (0, 1]")
	}
	if b.SellScore >= b.BuyScore {
		return fmt.Errorf("backtest.sell_score must be < backtest.buy_score")
	}
	if b.FeeRate < 0 || b.SlippageBps < 0 {
		return fmt.Errorf("backtest fee_rate/slippage_bps must be >= 0")
	}
	return nil
}

func (e *ExecutorConfig) validate() error {
	if e.MinBars > e.HistoryBars {
		return fmt.Errorf("executor.min_bars must be <= executor.history_bars")
	}
	return nil
}
