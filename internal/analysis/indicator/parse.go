package indicator

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"quantcore/internal/market"
)

// floatKeys 将扁平 key 映射到快照字段。同一字段可有多个别名。
var floatKeys = map[string]func(*Snapshot) **float64{
	"price":          func(s *Snapshot) **float64 { return &s.Price },
	"close":          func(s *Snapshot) **float64 { return &s.Price },
	"ma5":            func(s *Snapshot) **float64 { return &s.MA5 },
	"ma10":           func(s *Snapshot) **float64 { return &s.MA10 },
	"ma20":           func(s *Snapshot) **float64 { return &s.MA20 },
	"ma60":           func(s *Snapshot) **float64 { return &s.MA60 },
	"ma120":          func(s *Snapshot) **float64 { return &s.MA120 },
	"macd":           func(s *Snapshot) **float64 { return &s.MACD.DIF },
	"macd_dif":       func(s *Snapshot) **float64 { return &s.MACD.DIF },
	"macd_signal":    func(s *Snapshot) **float64 { return &s.MACD.DEA },
	"macd_dea":       func(s *Snapshot) **float64 { return &s.MACD.DEA },
	"macd_hist":      func(s *Snapshot) **float64 { return &s.MACD.Histogram },
	"macd_histogram": func(s *Snapshot) **float64 { return &s.MACD.Histogram },
	"rsi":            func(s *Snapshot) **float64 { return &s.RSI.Value },
	"kdj_k":          func(s *Snapshot) **float64 { return &s.KDJ.K },
	"kdj_d":          func(s *Snapshot) **float64 { return &s.KDJ.D },
	"kdj_j":          func(s *Snapshot) **float64 { return &s.KDJ.J },
	"boll_upper":     func(s *Snapshot) **float64 { return &s.Bollinger.Upper },
	"boll_middle":    func(s *Snapshot) **float64 { return &s.Bollinger.Middle },
	"boll_lower":     func(s *Snapshot) **float64 { return &s.Bollinger.Lower },
	"adx":            func(s *Snapshot) **float64 { return &s.ADX.Value },
	"plus_di":        func(s *Snapshot) **float64 { return &s.ADX.PlusDI },
	"minus_di":       func(s *Snapshot) **float64 { return &s.ADX.MinusDI },
	"sar":            func(s *Snapshot) **float64 { return &s.SAR },
	"tenkan":         func(s *Snapshot) **float64 { return &s.Ichimoku.Tenkan },
	"kijun":          func(s *Snapshot) **float64 { return &s.Ichimoku.Kijun },
	"senkou_a":       func(s *Snapshot) **float64 { return &s.Ichimoku.SpanA },
	"senkou_b":       func(s *Snapshot) **float64 { return &s.Ichimoku.SpanB },
	"mfi":            func(s *Snapshot) **float64 { return &s.MFI },
	"bias":           func(s *Snapshot) **float64 { return &s.BIAS },
	"volume_ratio":   func(s *Snapshot) **float64 { return &s.Volume.Ratio },
	"atr":            func(s *Snapshot) **float64 { return &s.ATR },
}

var stringKeys = map[string]func(*Snapshot) *string{
	"rsi_status":    func(s *Snapshot) *string { return &s.RSI.Status },
	"boll_status":   func(s *Snapshot) *string { return &s.Bollinger.Status },
	"bb_status":     func(s *Snapshot) *string { return &s.Bollinger.Status },
	"adx_direction": func(s *Snapshot) *string { return &s.ADX.Direction },
	"volume_status": func(s *Snapshot) *string { return &s.Volume.Status },
}

var crossKeys = map[string]func(*Snapshot) *Cross{
	"macd_cross": func(s *Snapshot) *Cross { return &s.MACD.Cross },
	"kdj_cross":  func(s *Snapshot) *Cross { return &s.KDJ.Cross },
}

// ParseSnapshot 解析扁平 key→value 的 JSON 指标载荷。未知 key 忽略，
// 非数值的数值字段视为缺失。
func ParseSnapshot(raw []byte) (Snapshot, error) {
	if !gjson.ValidBytes(raw) {
		return Snapshot{}, fmt.Errorf("indicator payload is not valid json")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Snapshot{}, fmt.Errorf("indicator payload must be a json object")
	}
	return SnapshotFromResult(root)
}

// SnapshotFromResult 从已解析的 gjson 对象读取快照，便于嵌在更大的请求体中。
func SnapshotFromResult(root gjson.Result) (Snapshot, error) {
	var snap Snapshot
	var parseErr error
	root.ForEach(func(key, value gjson.Result) bool {
		name := strings.ToLower(strings.TrimSpace(key.String()))
		if name == "time" || name == "datetime" {
			ts, err := market.ParseTime(value.String())
			if err != nil {
				parseErr = fmt.Errorf("field %s: %w", name, err)
				return false
			}
			snap.Time = ts
			return true
		}
		if fn, ok := floatKeys[name]; ok {
			if value.Type == gjson.Number {
				*fn(&snap) = F(value.Float())
			}
			return true
		}
		if fn, ok := stringKeys[name]; ok {
			*fn(&snap) = strings.ToLower(strings.TrimSpace(value.String()))
			return true
		}
		if fn, ok := crossKeys[name]; ok {
			*fn(&snap) = normalizeCross(value.String())
		}
		return true
	})
	if parseErr != nil {
		return Snapshot{}, parseErr
	}
	return snap, nil
}

func normalizeCross(raw string) Cross {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "golden", "golden_cross", "金叉":
		return CrossGolden
	case "death", "death_cross", "dead", "死叉":
		return CrossDeath
	default:
		return CrossNone
	}
}
