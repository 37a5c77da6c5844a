package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/analysis/signal"
	"quantcore/internal/analysis/trend"
	"quantcore/internal/market"
	"quantcore/internal/risk"
)

var ErrEmptyInput = errors.New("input has neither candles nor indicators")

// ParseInput 解析单个标的的分析请求。
//
// 支持两种形态：
//   - {"symbol": ..., "indicators": {...}, "candles": [...], "quant_analysis": {...}, "trend_analysis": {...}}
//   - 指标直接平铺在顶层，例如 {"symbol": "600000", "rsi": 28, "macd_cross": "golden"}
func ParseInput(raw []byte) (Input, error) {
	if !gjson.ValidBytes(raw) {
		return Input{}, fmt.Errorf("analysis payload is not valid json")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Input{}, fmt.Errorf("analysis payload must be a json object")
	}
	return InputFromResult(root)
}

// ParseInputs 解析批量请求：数组或 {"items": [...]}。
func ParseInputs(raw []byte) ([]Input, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("batch payload is not valid json")
	}
	root := gjson.ParseBytes(raw)
	if root.IsObject() {
		root = root.Get("items")
	}
	if !root.IsArray() {
		return nil, fmt.Errorf("batch payload must be an array or an object with items")
	}
	var (
		out  []Input
		ferr error
	)
	root.ForEach(func(key, value gjson.Result) bool {
		in, err := InputFromResult(value)
		if err != nil {
			ferr = fmt.Errorf("item %d: %w", key.Int(), err)
			return false
		}
		out = append(out, in)
		return true
	})
	if ferr != nil {
		return nil, ferr
	}
	return out, nil
}

func InputFromResult(root gjson.Result) (Input, error) {
	in := Input{
		Symbol: strings.ToUpper(strings.TrimSpace(root.Get("symbol").String())),
		Price:  root.Get("price").Float(),
	}
	if in.Symbol == "" {
		return Input{}, fmt.Errorf("symbol is required")
	}
	if ts := root.Get("time"); ts.Exists() && ts.String() != "" {
		at, err := market.ParseTime(ts.String())
		if err != nil {
			return Input{}, fmt.Errorf("time: %w", err)
		}
		in.Time = at
	}
	hp, err := risk.ParseHoldingPeriod(root.Get("holding_period").String())
	if err != nil {
		return Input{}, err
	}
	in.HoldingPeriod = hp

	if c := root.Get("candles"); c.Exists() {
		candles, err := parseCandles(c)
		if err != nil {
			return Input{}, err
		}
		in.Candles = candles
	}

	snapRoot := root.Get("indicators")
	if !snapRoot.Exists() && len(in.Candles) == 0 {
		snapRoot = root
	}
	if snapRoot.IsObject() {
		snap, err := indicator.SnapshotFromResult(snapRoot)
		if err != nil {
			return Input{}, fmt.Errorf("indicators: %w", err)
		}
		if snap != (indicator.Snapshot{}) {
			in.Snapshot = &snap
		}
	}
	if in.Snapshot == nil && len(in.Candles) == 0 {
		return Input{}, fmt.Errorf("%s: %w", in.Symbol, ErrEmptyInput)
	}

	if v := root.Get("levels"); v.IsObject() {
		var lv indicator.Levels
		if err := json.Unmarshal([]byte(v.Raw), &lv); err != nil {
			return Input{}, fmt.Errorf("levels: %w", err)
		}
		in.Levels = &lv
	}
	if v := root.Get("quant_analysis"); v.IsObject() {
		var q trend.QuantAnalysis
		if err := json.Unmarshal([]byte(v.Raw), &q); err != nil {
			return Input{}, fmt.Errorf("quant_analysis: %w", err)
		}
		in.Quant = &q
	}
	if v := root.Get("trend_analysis"); v.IsObject() {
		var s signal.TrendSummary
		if err := json.Unmarshal([]byte(v.Raw), &s); err != nil {
			return Input{}, fmt.Errorf("trend_analysis: %w", err)
		}
		in.Summary = &s
	}
	return in, nil
}

// parseCandles 每根 K 线可用毫秒时间戳 close_time/open_time，或字符串 datetime/time。
func parseCandles(arr gjson.Result) (market.Candles, error) {
	if !arr.IsArray() {
		return nil, fmt.Errorf("candles must be an array")
	}
	var (
		out  market.Candles
		ferr error
	)
	arr.ForEach(func(key, v gjson.Result) bool {
		c := market.Candle{
			OpenTime:  v.Get("open_time").Int(),
			CloseTime: v.Get("close_time").Int(),
			Open:      v.Get("open").Float(),
			High:      v.Get("high").Float(),
			Low:       v.Get("low").Float(),
			Close:     v.Get("close").Float(),
			Volume:    v.Get("volume").Float(),
		}
		if c.CloseTime == 0 && c.OpenTime == 0 {
			raw := v.Get("datetime").String()
			if raw == "" {
				raw = v.Get("time").String()
			}
			at, err := market.ParseTime(raw)
			if err != nil {
				ferr = fmt.Errorf("candle %d: %w", key.Int(), err)
				return false
			}
			c.CloseTime = at.UnixMilli()
		}
		if err := c.Validate(); err != nil {
			ferr = fmt.Errorf("candle %d: %w", key.Int(), err)
			return false
		}
		out = append(out, c)
		return true
	})
	if ferr != nil {
		return nil, ferr
	}
	return out, nil
}
