package backtest

import (
	"math"

	"github.com/montanaflynn/stats"
)

// 没有亏损交易时的盈亏比上限。
const profitFactorCap = 999.99

// MetricsConfig 绩效计算参数。
type MetricsConfig struct {
	// PeriodsPerYear 每年的 bar 数，日线为 252。
	PeriodsPerYear float64 `json:"periods_per_year"`
	// RiskFreeRate 年化无风险利率。
	RiskFreeRate float64 `json:"risk_free_rate"`
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{PeriodsPerYear: 252}
}

// Metrics 回测绩效。总是从完整的资金曲线与成交记录重新计算。
type Metrics struct {
	InitialEquity       float64 `json:"initial_equity"`
	FinalEquity         float64 `json:"final_equity"`
	TotalReturn         float64 `json:"total_return"`
	AnnualizedReturn    float64 `json:"annualized_return"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`
	Volatility          float64 `json:"volatility"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	TradeCount          int     `json:"trade_count"`
	Wins                int     `json:"wins"`
	Losses              int     `json:"losses"`
	WinRate             float64 `json:"win_rate"`
	ProfitFactor        float64 `json:"profit_factor"`
	Expectancy          float64 `json:"expectancy"`
	AvgWin              float64 `json:"avg_win"`
	AvgLoss             float64 `json:"avg_loss"`
	Periods             int     `json:"periods"`
}

// ComputeMetrics 纯函数：相同输入得到逐位相同的结果。
func ComputeMetrics(curve []EquityPoint, trades []Trade, cfg MetricsConfig) Metrics {
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = DefaultMetricsConfig().PeriodsPerYear
	}
	var m Metrics
	if len(curve) > 0 {
		m.InitialEquity = curve[0].Equity
		m.FinalEquity = curve[len(curve)-1].Equity
		m.Periods = len(curve) - 1
		m.TotalReturn, m.AnnualizedReturn = returns(m.InitialEquity, m.FinalEquity, m.Periods, cfg.PeriodsPerYear)
		m.MaxDrawdown, m.MaxDrawdownDuration = maxDrawdown(curve)
		m.Volatility, m.SharpeRatio, m.SortinoRatio = riskAdjusted(periodReturns(curve), cfg)
	}
	tradeStats(&m, trades)
	return m
}

func returns(first, last float64, periods int, perYear float64) (total, annual float64) {
	if first <= 0 {
		return 0, 0
	}
	total = last/first - 1
	if periods <= 0 {
		return total, 0
	}
	if last <= 0 {
		return total, -1
	}
	annual = math.Pow(last/first, perYear/float64(periods)) - 1
	return total, annual
}

// maxDrawdown 返回最大回撤比例以及最长的水下持续 bar 数（自峰值起至收复或序列结束）。
func maxDrawdown(curve []EquityPoint) (float64, int) {
	peak := curve[0].Equity
	peakIdx := 0
	worst := 0.0
	longest := 0
	for i, p := range curve {
		if p.Equity >= peak {
			peak = p.Equity
			peakIdx = i
			continue
		}
		if peak > 0 {
			worst = math.Max(worst, (peak-p.Equity)/peak)
		}
		if d := i - peakIdx; d > longest {
			longest = d
		}
	}
	return worst, longest
}

func periodReturns(curve []EquityPoint) stats.Float64Data {
	out := make(stats.Float64Data, 0, len(curve))
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}

// riskAdjusted 返回年化波动率、Sharpe 与 Sortino。样本不足或波动为 0 时比率取 0。
func riskAdjusted(rets stats.Float64Data, cfg MetricsConfig) (vol, sharpe, sortino float64) {
	if len(rets) < 2 {
		return 0, 0, 0
	}
	rf := cfg.RiskFreeRate / cfg.PeriodsPerYear
	excess := make(stats.Float64Data, len(rets))
	downside := make(stats.Float64Data, len(rets))
	for i, r := range rets {
		excess[i] = r - rf
		downside[i] = math.Pow(math.Min(0, excess[i]), 2)
	}
	scale := math.Sqrt(cfg.PeriodsPerYear)
	mean, err := stats.Mean(excess)
	if err != nil {
		return 0, 0, 0
	}
	std, err := stats.StandardDeviationSample(rets)
	if err == nil && std > 0 {
		vol = std * scale
		sharpe = mean / std * scale
	}
	if dd, err := stats.Mean(downside); err == nil && dd > 0 {
		sortino = mean / math.Sqrt(dd) * scale
	}
	return vol, sharpe, sortino
}

func tradeStats(m *Metrics, trades []Trade) {
	m.TradeCount = len(trades)
	if len(trades) == 0 {
		return
	}
	var wins, losses, all stats.Float64Data
	for _, t := range trades {
		all = append(all, t.PnL)
		if t.PnL > 0 {
			wins = append(wins, t.PnL)
		} else {
			losses = append(losses, t.PnL)
		}
	}
	m.Wins, m.Losses = len(wins), len(losses)
	m.WinRate = float64(len(wins)) / float64(len(trades))
	m.Expectancy, _ = stats.Mean(all)
	var gross, loss float64
	if len(wins) > 0 {
		m.AvgWin, _ = stats.Mean(wins)
		gross, _ = stats.Sum(wins)
	}
	if len(losses) > 0 {
		m.AvgLoss, _ = stats.Mean(losses)
		loss, _ = stats.Sum(losses)
	}
	switch {
	case loss < 0:
		m.ProfitFactor = math.Min(profitFactorCap, gross/-loss)
	case gross > 0:
		m.ProfitFactor = profitFactorCap
	}
}
