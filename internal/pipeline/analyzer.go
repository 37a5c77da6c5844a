package pipeline

import (
	"context"
	"errors"
	"fmt"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/market"

	"golang.org/x/sync/errgroup"
)

const defaultReplayWindow = 250

// Analyzer 在 Pipeline 之上提供单标的、批量与逐根回放三种调用方式。
type Analyzer struct {
	pipe        *Pipeline
	settings    indicator.Settings
	concurrency int
}

func NewAnalyzer(p *Pipeline, settings indicator.Settings, concurrency int) *Analyzer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Analyzer{pipe: p, settings: settings, concurrency: concurrency}
}

func (a *Analyzer) Pipeline() *Pipeline { return a.pipe }

// Analyze 对单个标的执行完整 pipeline。
func (a *Analyzer) Analyze(ctx context.Context, in Input) (Bundle, error) {
	if a == nil || a.pipe == nil {
		return Bundle{}, errors.New("analyzer not initialized")
	}
	ac := NewContext(in)
	if err := a.pipe.Run(ctx, ac); err != nil {
		return Bundle{}, fmt.Errorf("analyze %s: %w", ac.Symbol, err)
	}
	return ac.Bundle(), nil
}

// BatchResult 批量分析中单个标的的结果。
type BatchResult struct {
	Symbol string
	Bundle Bundle
	Err    error
}

// Batch 并发分析多个标的，单个失败不影响其他标的。结果顺序与输入一致。
func (a *Analyzer) Batch(ctx context.Context, inputs []Input) []BatchResult {
	out := make([]BatchResult, len(inputs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.concurrency)
	for i, in := range inputs {
		group.Go(func() error {
			b, err := a.Analyze(groupCtx, in)
			out[i] = BatchResult{Symbol: in.Symbol, Bundle: b, Err: err}
			return nil
		})
	}
	_ = group.Wait()
	return out
}

// ReplayOptions 逐根回放参数。
type ReplayOptions struct {
	// Warmup 前若干根只用于计算，不产出结果。
	Warmup int
	// Window 传给每根分析的历史 K 线数量上限（用于关键位识别）。
	Window int
}

// Replay 逐根 K 线生成分析结果。指标序列一次性计算，保证与逐根单独计算一致且无未来数据。
func (a *Analyzer) Replay(ctx context.Context, symbol string, candles market.Candles, opts ReplayOptions) ([]Bundle, error) {
	snaps, err := indicator.ComputeSeries(candles, a.settings)
	if err != nil {
		return nil, err
	}
	window := opts.Window
	if window <= 0 {
		window = defaultReplayWindow
	}
	start := max(opts.Warmup, 0)
	out := make([]Bundle, 0, max(len(candles)-start, 0))
	for i := start; i < len(candles); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		from := max(0, i+1-window)
		snap := snaps[i]
		b, err := a.Analyze(ctx, Input{
			Symbol:   symbol,
			Time:     candles[i].Time(),
			Price:    candles[i].Close,
			Candles:  candles[from : i+1],
			Snapshot: &snap,
		})
		if err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}
