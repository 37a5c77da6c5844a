package pipeline

import (
	"context"
	"errors"
	"sort"

	"quantcore/internal/logger"

	"golang.org/x/sync/errgroup"
)

// Pipeline 按 stage 升序调度中间件，stage 之间串行，stage 内并发。
type Pipeline struct {
	name   string
	stages [][]Middleware
}

// New 按 Meta().Stage 归类中间件，nil 项忽略。
func New(name string, middlewares ...Middleware) *Pipeline {
	byStage := make(map[int][]Middleware)
	for _, mw := range middlewares {
		if mw == nil {
			continue
		}
		st := mw.Meta().Stage
		byStage[st] = append(byStage[st], mw)
	}
	keys := make([]int, 0, len(byStage))
	for st := range byStage {
		keys = append(keys, st)
	}
	sort.Ints(keys)
	p := &Pipeline{name: name, stages: make([][]Middleware, 0, len(keys))}
	for _, st := range keys {
		p.stages = append(p.stages, byStage[st])
	}
	return p
}

func (p *Pipeline) Name() string { return p.name }

// Names 按执行顺序返回中间件名称。
func (p *Pipeline) Names() []string {
	var out []string
	for _, stage := range p.stages {
		for _, mw := range stage {
			out = append(out, mw.Meta().Name)
		}
	}
	return out
}

// Run 执行全部 stage。关键中间件失败时返回 *MiddlewareError。
func (p *Pipeline) Run(ctx context.Context, ac *AnalysisContext) error {
	if ac == nil {
		return errors.New("nil analysis context")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.runStage(ctx, ac, stage); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, ac *AnalysisContext, stage []Middleware) error {
	group, stageCtx := errgroup.WithContext(ctx)
	warnings := make([]*MiddlewareError, len(stage))
	for i, mw := range stage {
		group.Go(func() error {
			meta := mw.Meta()
			runCtx := stageCtx
			if meta.Timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(stageCtx, meta.Timeout)
				defer cancel()
			}
			err := mw.Handle(runCtx, ac)
			if err == nil {
				return nil
			}
			mwErr := &MiddlewareError{Name: meta.Name, Stage: meta.Stage, Critical: meta.Critical, Err: err}
			if meta.Critical {
				return mwErr
			}
			warnings[i] = mwErr
			return nil
		})
	}
	err := group.Wait()
	for _, w := range warnings {
		if w == nil {
			continue
		}
		ac.AddWarning(w.Error())
		logger.Warnf("[pipeline] %s %s %s", p.name, ac.Symbol, w.Error())
	}
	return err
}
