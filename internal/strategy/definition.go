package strategy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Factory 根据实例配置构造策略。
type Factory func(cfg Config, tk *Toolkit) (Strategy, error)

// Definition 描述一种可实例化的策略。
type Definition struct {
	ID          string
	Description string
	MinCapital  float64
	Schema      map[string]any
	Defaults    map[string]any
	Factory     Factory

	compiled *jsonschema.Schema
}

// Validate 用参数 schema 校验合并默认值后的参数。
func (d *Definition) Validate(params map[string]any) error {
	if d.compiled == nil {
		return nil
	}
	if err := d.compiled.Validate(toJSONValue(params)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// MergeDefaults 返回 defaults 与 params 合并后的新 map。
func (d *Definition) MergeDefaults(params map[string]any) map[string]any {
	out := make(map[string]any, len(d.Defaults)+len(params))
	for k, v := range d.Defaults {
		out[k] = v
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}

// Registry 策略定义表，按注册顺序保存。
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]*Definition
	order []string
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register 注册策略定义，schema 编译失败或 ID 重复返回错误。
func (r *Registry) Register(def Definition) error {
	id := strings.TrimSpace(def.ID)
	if id == "" {
		return fmt.Errorf("strategy definition requires id")
	}
	if def.Factory == nil {
		return fmt.Errorf("strategy definition %s requires factory", id)
	}
	def.ID = id
	if len(def.Schema) > 0 {
		compiled, err := compileSchema(id, def.Schema)
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", id, err)
		}
		def.compiled = compiled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[id]; ok {
		return fmt.Errorf("strategy definition %s already registered", id)
	}
	r.defs[id] = &def
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) Lookup(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[strings.TrimSpace(id)]
	return def, ok
}

// Definitions 按注册顺序返回全部定义。
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out
}

// IDs 返回排序后的定义 ID。
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}

// BuiltinRegistry 注册三种内置策略。
func BuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, def := range builtinDefinitions() {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

func builtinDefinitions() []Definition {
	pct := map[string]any{"type": "number", "minimum": 0, "maximum": 1}
	return []Definition{
		{
			ID:          TypeMultiIndicator,
			Description: "多指标加权评分，强度达标即出信号",
			MinCapital:  50000,
			Defaults:    map[string]any{"min_strength": 2},
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"min_strength": map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
					"position_pct": pct,
				},
				"additionalProperties": false,
			},
			Factory: NewMultiIndicator,
		},
		{
			ID:          TypeTrendFollowing,
			Description: "趋势得分与 MACD 共振跟随",
			MinCapital:  100000,
			Defaults:    map[string]any{"min_trend_score": 25, "exit_trend_score": -10, "require_macd": true},
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"min_trend_score":  map[string]any{"type": "number", "exclusiveMinimum": 0, "maximum": 100},
					"exit_trend_score": map[string]any{"type": "number", "minimum": -100, "maximum": 100},
					"require_macd":     map[string]any{"type": "boolean"},
					"position_pct":     pct,
				},
				"additionalProperties": false,
			},
			Factory: NewTrendFollowing,
		},
		{
			ID:          TypeMeanReversion,
			Description: "RSI 超卖 + 布林下轨均值回归",
			MinCapital:  50000,
			Defaults:    map[string]any{"rsi_oversold": 30, "rsi_overbought": 70, "exit_rsi": 55, "require_band": true, "position_pct": 0.1},
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"rsi_oversold":   map[string]any{"type": "number", "minimum": 1, "maximum": 50},
					"rsi_overbought": map[string]any{"type": "number", "minimum": 50, "maximum": 99},
					"exit_rsi":       map[string]any{"type": "number", "minimum": 1, "maximum": 99},
					"require_band":   map[string]any{"type": "boolean"},
					"position_pct":   pct,
				},
				"additionalProperties": false,
			},
			Factory: NewMeanReversion,
		},
	}
}

func compileSchema(id string, data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	url := id + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// toJSONValue 把 YAML/mapstructure 解出的数值统一成 jsonschema 可识别的类型。
func toJSONValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	if out == nil {
		return map[string]any{}
	}
	return out
}
