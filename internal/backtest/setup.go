package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"quantcore/internal/export"
	"quantcore/internal/market"
	"quantcore/internal/pipeline"
	"quantcore/internal/strategy"
)

// 信号来源类型。
const (
	SourceStrategy = "strategy"
	SourceRecords  = "records"
)

var ErrUnknownSource = errors.New("unknown backtest source")

// StrategyProvider 按 ID 提供独立的策略实例。
type StrategyProvider interface {
	Instantiate(id string) (strategy.Strategy, error)
}

// SourceSpec 一次回测的信号来源描述。
type SourceSpec struct {
	Kind       string          `json:"kind"`
	StrategyID string          `json:"strategy_id,omitempty"`
	Records    []export.Record `json:"-"`
	BuyScore   float64         `json:"buy_score,omitempty"`
	SellScore  float64         `json:"sell_score,omitempty"`
	Warmup     int             `json:"warmup,omitempty"`
}

// Builder 由 K 线与来源描述生成回放序列和信号源。
type Builder struct {
	Analyzer   *pipeline.Analyzer
	Strategies StrategyProvider
	BuyScore   float64
	SellScore  float64
	Warmup     int
}

func (b *Builder) Build(ctx context.Context, symbol string, candles market.Candles, spec SourceSpec) ([]Bar, SignalSource, error) {
	if len(candles) == 0 {
		return nil, nil, errNoBars
	}
	kind := strings.ToLower(strings.TrimSpace(spec.Kind))
	if kind == "" {
		kind = SourceStrategy
		if len(spec.Records) > 0 {
			kind = SourceRecords
		}
	}
	switch kind {
	case SourceRecords:
		buy, sell := spec.BuyScore, spec.SellScore
		if buy == 0 {
			buy = b.BuyScore
		}
		if sell == 0 {
			sell = b.SellScore
		}
		src, err := NewRecordSource(SourceRecords, spec.Records, buy, sell)
		if err != nil {
			return nil, nil, err
		}
		return CandleBars(symbol, candles), src, nil
	case SourceStrategy:
		if b.Strategies == nil {
			return nil, nil, fmt.Errorf("strategy pool is not configured")
		}
		st, err := b.Strategies.Instantiate(spec.StrategyID)
		if err != nil {
			return nil, nil, err
		}
		warmup := spec.Warmup
		if warmup <= 0 {
			warmup = b.Warmup
		}
		if warmup >= len(candles) {
			return nil, nil, fmt.Errorf("warmup %d leaves no bars out of %d", warmup, len(candles))
		}
		bars, err := ReplayBars(ctx, b.Analyzer, symbol, candles, pipeline.ReplayOptions{Warmup: warmup})
		if err != nil {
			return nil, nil, err
		}
		return bars, NewStrategySource(st), nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownSource, spec.Kind)
	}
}
