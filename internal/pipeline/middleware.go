package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Middleware 一个分析步骤。同一 stage 内的中间件并发执行，只能写各自负责的字段。
type Middleware interface {
	Meta() MiddlewareMeta
	Handle(ctx context.Context, ac *AnalysisContext) error
}

// MiddlewareMeta 调度元信息。
type MiddlewareMeta struct {
	Name     string
	Stage    int
	Critical bool
	Timeout  time.Duration
}

// MiddlewareError 中间件失败。Critical 为 true 时中止整条 pipeline，否则只记为告警。
type MiddlewareError struct {
	Name     string
	Stage    int
	Critical bool
	Err      error
}

func (e *MiddlewareError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s(stage %d)", e.Name, e.Stage)
	}
	return fmt.Sprintf("%s(stage %d): %v", e.Name, e.Stage, e.Err)
}

func (e *MiddlewareError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
