package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// TimeLayout 是 CSV 中 datetime 列的标准格式。
const TimeLayout = "2006-01-02 15:04:05"

var candleHeader = []string{"datetime", "open", "high", "low", "close", "volume"}

// ReadCandleCSV 读取 datetime,open,high,low,close,volume 格式的 K 线。
// 以 # 开头的行视为元信息并跳过；datetime 支持标准格式、日期或毫秒时间戳。
func ReadCandleCSV(r io.Reader) (Candles, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("candle csv is empty")
		}
		return nil, fmt.Errorf("read candle header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range candleHeader {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("candle csv missing column %q", col)
		}
	}
	var out Candles
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read candle line %d: %w", line, err)
		}
		ts, err := ParseTime(rec[idx["datetime"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var vals [5]float64
		for i, col := range candleHeader[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx[col]]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, col, err)
			}
			vals[i] = v
		}
		out = append(out, Candle{
			OpenTime:  ts.UnixMilli(),
			CloseTime: ts.UnixMilli(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return out, nil
}

// WriteCandleCSV 按 ReadCandleCSV 可回读的格式写出 K 线。
func WriteCandleCSV(w io.Writer, candles Candles) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(candleHeader); err != nil {
		return err
	}
	for _, c := range candles {
		rec := []string{
			c.Time().Format(TimeLayout),
			formatPlainFloat(c.Open),
			formatPlainFloat(c.High),
			formatPlainFloat(c.Low),
			formatPlainFloat(c.Close),
			formatPlainFloat(c.Volume),
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ParseTime 解析 CSV 时间字段。
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}
	for _, layout := range []string{TimeLayout, "2006-01-02", time.RFC3339} {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts, nil
		}
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported datetime %q", raw)
}

func formatPlainFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
