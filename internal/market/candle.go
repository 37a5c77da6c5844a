package market

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Candle 单根 K 线，时间戳为毫秒。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

type Candles []Candle

// Time 返回 K 线的代表时间（优先收盘时间）。
func (c Candle) Time() time.Time {
	ts := c.CloseTime
	if ts == 0 {
		ts = c.OpenTime
	}
	return time.UnixMilli(ts).UTC()
}

func (c Candle) TimeString() string {
	ts := c.CloseTime
	if ts == 0 {
		ts = c.OpenTime
	}
	if ts <= 0 {
		return "-"
	}
	return time.UnixMilli(ts).UTC().Format("01-02 15:04") + "Z"
}

// Validate 检查价格字段是否自洽。
func (c Candle) Validate() error {
	if c.High < c.Low {
		return fmt.Errorf("high %.4f < low %.4f at %s", c.High, c.Low, c.TimeString())
	}
	if c.Close <= 0 || c.Open <= 0 {
		return fmt.Errorf("non-positive price at %s", c.TimeString())
	}
	if c.Volume < 0 {
		return fmt.Errorf("negative volume at %s", c.TimeString())
	}
	return nil
}

// Summary 输出窗口内涨跌幅与区间，用于日志。
func (cs Candles) Summary(symbol string) string {
	if len(cs) == 0 {
		return ""
	}
	first := cs[0]
	last := cs[len(cs)-1]
	low := math.MaxFloat64
	high := -math.MaxFloat64
	for _, bar := range cs {
		low = math.Min(low, bar.Low)
		high = math.Max(high, bar.High)
	}
	var sb strings.Builder
	if s := strings.TrimSpace(symbol); s != "" {
		sb.WriteString(s + " ")
	}
	sb.WriteString(fmt.Sprintf("%d bars %s→%s close≈%.4f", len(cs), first.TimeString(), last.TimeString(), last.Close))
	if first.Close != 0 {
		sb.WriteString(fmt.Sprintf(" (%+.2f%%)", (last.Close-first.Close)/first.Close*100))
	}
	sb.WriteString(fmt.Sprintf(", 区间 %.4f–%.4f", low, high))
	return sb.String()
}
