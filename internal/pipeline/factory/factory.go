package factory

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/analysis/signal"
	"quantcore/internal/analysis/trend"
	"quantcore/internal/logger"
	"quantcore/internal/pipeline"
	"quantcore/internal/pipeline/middlewares"
	"quantcore/internal/risk"
)

// MiddlewareConfig 单个中间件的声明。
type MiddlewareConfig struct {
	Name           string         `mapstructure:"name"`
	Stage          int            `mapstructure:"stage"`
	Critical       bool           `mapstructure:"critical"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	Params         map[string]any `mapstructure:"params"`
}

// DefaultChain 标准分析链：指标与关键位、趋势、评分、风控。
var DefaultChain = []MiddlewareConfig{
	{Name: "indicators"},
	{Name: "levels"},
	{Name: "trend"},
	{Name: "signal"},
	{Name: "risk"},
}

// Factory 持有各中间件依赖的评分与风控组件。
type Factory struct {
	Indicators    indicator.Settings
	Levels        middlewares.LevelSettings
	Classifier    *trend.Classifier
	Scorer        *signal.Scorer
	Risk          *risk.Manager
	HoldingPeriod risk.HoldingPeriod
}

// Pipeline 按声明构建 pipeline，声明为空时使用 DefaultChain。
func (f *Factory) Pipeline(name string, cfgs ...MiddlewareConfig) (*pipeline.Pipeline, error) {
	if len(cfgs) == 0 {
		cfgs = DefaultChain
	}
	mws := make([]pipeline.Middleware, 0, len(cfgs))
	for _, cfg := range cfgs {
		mw, err := f.Build(cfg)
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}
	return pipeline.New(name, mws...), nil
}

func (f *Factory) Build(cfg MiddlewareConfig) (pipeline.Middleware, error) {
	opts := middlewares.Options{
		Name:     cfg.Name,
		Stage:    cfg.Stage,
		Critical: cfg.Critical,
		Timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	switch strings.TrimSpace(cfg.Name) {
	case "indicators":
		return f.buildIndicators(opts, cfg.Params), nil
	case "levels":
		return f.buildLevels(opts, cfg.Params), nil
	case "trend":
		return middlewares.NewTrend(opts, f.classifier()), nil
	case "signal":
		return middlewares.NewSignal(opts, f.scorer()), nil
	case "risk":
		return f.buildRisk(opts, cfg.Params)
	default:
		return nil, fmt.Errorf("unknown middleware: %s", cfg.Name)
	}
}

func (f *Factory) classifier() *trend.Classifier {
	if f.Classifier != nil {
		return f.Classifier
	}
	if f.Scorer != nil {
		return f.Scorer.Classifier()
	}
	return trend.NewClassifier(trend.DefaultConfig())
}

func (f *Factory) scorer() *signal.Scorer {
	if f.Scorer != nil {
		return f.Scorer
	}
	return signal.NewScorer(signal.DefaultConfig(), f.classifier())
}

func (f *Factory) buildIndicators(opts middlewares.Options, params map[string]any) pipeline.Middleware {
	settings := f.Indicators
	if v := intFromCfg(params, "atr_period"); v > 0 {
		settings.ATRPeriod = v
	}
	if v := intFromCfg(params, "rsi_period"); v > 0 {
		settings.RSIPeriod = v
	}
	if v := floatFromCfg(params, "rsi_oversold"); v > 0 {
		settings.RSIOversold = v
	}
	if v := floatFromCfg(params, "rsi_overbought"); v > 0 {
		settings.RSIOverbought = v
	}
	return middlewares.NewIndicators(opts, settings)
}

func (f *Factory) buildLevels(opts middlewares.Options, params map[string]any) pipeline.Middleware {
	settings := f.Levels
	if settings == (middlewares.LevelSettings{}) {
		settings = middlewares.DefaultLevelSettings()
	}
	if v := intFromCfg(params, "lookback"); v > 0 {
		settings.Lookback = v
	}
	if v := intFromCfg(params, "window"); v > 0 {
		settings.Window = v
	}
	if v := intFromCfg(params, "max_levels"); v > 0 {
		settings.MaxLevels = v
	}
	return middlewares.NewLevels(opts, settings)
}

func (f *Factory) buildRisk(opts middlewares.Options, params map[string]any) (pipeline.Middleware, error) {
	period := f.HoldingPeriod
	if raw := stringFromCfg(params, "holding_period"); raw != "" {
		p, err := risk.ParseHoldingPeriod(raw)
		if err != nil {
			return nil, fmt.Errorf("risk middleware: %w", err)
		}
		period = p
	}
	return middlewares.NewRisk(opts, f.Risk, period), nil
}

func stringFromCfg(params map[string]any, key string) string {
	raw, ok := params[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", raw))
}

func intFromCfg(params map[string]any, key string) int {
	raw, ok := params[key]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		val, err := strconv.Atoi(fmt.Sprintf("%v", v))
		if err != nil {
			logger.Warnf("[pipeline] middleware param %s invalid int: %v", key, err)
			return 0
		}
		return val
	}
}

func floatFromCfg(params map[string]any, key string) float64 {
	raw, ok := params[key]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		val, err := strconv.ParseFloat(fmt.Sprintf("%v", v), 64)
		if err != nil {
			logger.Warnf("[pipeline] middleware param %s invalid float: %v", key, err)
			return 0
		}
		return val
	}
}
