package middlewares

import (
	"strings"
	"time"

	"quantcore/internal/pipeline"
)

// Options 各中间件共用的调度参数。
type Options struct {
	Name     string
	Stage    int
	Critical bool
	Timeout  time.Duration
}

func (o Options) meta(defName string, defStage int, defCritical bool) pipeline.MiddlewareMeta {
	name := strings.TrimSpace(o.Name)
	if name == "" {
		name = defName
	}
	stage := o.Stage
	if stage == 0 {
		stage = defStage
	}
	return pipeline.MiddlewareMeta{
		Name:     name,
		Stage:    stage,
		Critical: o.Critical || defCritical,
		Timeout:  o.Timeout,
	}
}
