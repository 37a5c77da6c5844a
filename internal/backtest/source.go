package backtest

import (
	"context"
	"fmt"
	"strings"

	"quantcore/internal/analysis/signal"
	"quantcore/internal/export"
	"quantcore/internal/strategy"
)

// StrategySource 把策略池中的单个策略接入回放。
type StrategySource struct {
	st strategy.Strategy
}

func NewStrategySource(st strategy.Strategy) *StrategySource {
	return &StrategySource{st: st}
}

func (s *StrategySource) Name() string { return s.st.ID() }

func (s *StrategySource) Decide(ctx context.Context, bar Bar, acct Account) (Decision, error) {
	data := bar.Data
	sym := data.Symbol
	if acct.Position.IsOpen() {
		if in := strategy.ResolveExit(s.st, acct.Position, data); in.Exit {
			return Decision{Action: ActionSell, SellRatio: in.Ratio, Reason: in.Reason}, nil
		}
	}
	sigs, err := s.st.GenerateSignals(ctx, []string{sym}, strategy.MarketData{sym: data})
	if err != nil {
		return Decision{}, err
	}
	for _, sig := range sigs {
		if sig.Symbol != sym {
			continue
		}
		switch {
		case sig.Type == signal.Buy && !acct.Position.IsOpen():
			qty := s.st.CalculatePositionSize(sig, acct.Cash)
			if qty <= 0 {
				continue
			}
			return Decision{Action: ActionBuy, Quantity: qty, Score: sig.BuyScore, Reason: reasonFor(sig)}, nil
		case sig.Type == signal.Sell && acct.Position.IsOpen():
			return Decision{Action: ActionSell, SellRatio: 1, Score: sig.SellScore, Reason: reasonFor(sig)}, nil
		}
	}
	return Decision{}, nil
}

func reasonFor(sig strategy.Signal) string {
	head := fmt.Sprintf("%s strength=%d", sig.Type, sig.Strength)
	if len(sig.TriggeredConditions) == 0 {
		return head
	}
	return head + ": " + strings.Join(sig.TriggeredConditions, "; ")
}

// RecordSource 按 CSV 契约中的 score 阈值交易：score >= BuyScore 开仓，score <= SellScore 清仓。
type RecordSource struct {
	name      string
	buyScore  float64
	sellScore float64
	byTime    map[int64]export.Record
}

func NewRecordSource(name string, records []export.Record, buyScore, sellScore float64) (*RecordSource, error) {
	if sellScore >= buyScore {
		return nil, fmt.Errorf("sell score %.2f must be below buy score %.2f", sellScore, buyScore)
	}
	if name == "" {
		name = "records"
	}
	idx := make(map[int64]export.Record, len(records))
	for _, r := range records {
		idx[r.Time.Unix()] = r
	}
	return &RecordSource{name: name, buyScore: buyScore, sellScore: sellScore, byTime: idx}, nil
}

func (s *RecordSource) Name() string { return s.name }

// Decide 找不到对应时间的记录时观望。
func (s *RecordSource) Decide(_ context.Context, bar Bar, acct Account) (Decision, error) {
	rec, ok := s.byTime[bar.Time().Unix()]
	if !ok {
		return Decision{}, nil
	}
	holding := acct.Position.IsOpen()
	switch {
	case !holding && rec.Score >= s.buyScore:
		return Decision{Action: ActionBuy, Score: rec.Score,
			Reason: fmt.Sprintf("score %.2f >= %.2f (%s)", rec.Score, s.buyScore, rec.MarketRegime)}, nil
	case holding && rec.Score <= s.sellScore:
		return Decision{Action: ActionSell, SellRatio: 1, Score: rec.Score,
			Reason: fmt.Sprintf("score %.2f <= %.2f (%s)", rec.Score, s.sellScore, rec.MarketRegime)}, nil
	}
	return Decision{Action: ActionHold, Score: rec.Score}, nil
}
