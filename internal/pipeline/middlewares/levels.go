package middlewares

import (
	"context"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/pipeline"
)

// LevelSettings 摆动高低点搜索参数。
type LevelSettings struct {
	Lookback  int
	Window    int
	MaxLevels int
}

func DefaultLevelSettings() LevelSettings {
	return LevelSettings{Lookback: 60, Window: 3, MaxLevels: 3}
}

// Levels 从 K 线识别支撑/压力位；输入已给出时保持不变。
type Levels struct {
	meta     pipeline.MiddlewareMeta
	settings LevelSettings
}

func NewLevels(opts Options, settings LevelSettings) *Levels {
	return &Levels{meta: opts.meta("levels", 0, false), settings: settings}
}

func (m *Levels) Meta() pipeline.MiddlewareMeta { return m.meta }

func (m *Levels) Handle(_ context.Context, ac *pipeline.AnalysisContext) error {
	in := ac.Input()
	if in.Levels != nil || len(in.Candles) == 0 {
		return nil
	}
	ac.SetLevels(indicator.FindLevels(in.Candles, m.settings.Lookback, m.settings.Window, m.settings.MaxLevels))
	return nil
}
