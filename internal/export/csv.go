package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"quantcore/internal/market"
)

// 必选列与可选列，顺序即写出顺序。
var (
	RequiredColumns = []string{"datetime", "score", "market_regime"}
	OptionalColumns = []string{"trend", "bb_status", "rsi_status"}
)

// Record CSV 契约中的一行。
type Record struct {
	Time         time.Time `json:"datetime"`
	Score        float64   `json:"score"`
	MarketRegime string    `json:"market_regime"`
	Trend        string    `json:"trend,omitempty"`
	BBStatus     string    `json:"bb_status,omitempty"`
	RSIStatus    string    `json:"rsi_status,omitempty"`
}

// WriteSignalCSV 写出信号 CSV。withOptional 为 true 时追加 trend/bb_status/rsi_status 列。
// score 使用最短可回读精度，读回后数值逐位一致。
func WriteSignalCSV(w io.Writer, records []Record, withOptional bool) error {
	writer := csv.NewWriter(w)
	header := append([]string(nil), RequiredColumns...)
	if withOptional {
		header = append(header, OptionalColumns...)
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Time.UTC().Format(market.TimeLayout),
			strconv.FormatFloat(r.Score, 'f', -1, 64),
			r.MarketRegime,
		}
		if withOptional {
			row = append(row, r.Trend, r.BBStatus, r.RSIStatus)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadSignalCSV 读取信号 CSV，列顺序不限，缺少必选列时报错。
func ReadSignalCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("signal csv is empty")
		}
		return nil, fmt.Errorf("read signal header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range RequiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("signal csv missing column %q", col)
		}
	}
	field := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []Record
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read signal line %d: %w", line, err)
		}
		ts, err := market.ParseTime(field(rec, "datetime"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		score, err := strconv.ParseFloat(field(rec, "score"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d score: %w", line, err)
		}
		out = append(out, Record{
			Time:         ts,
			Score:        score,
			MarketRegime: field(rec, "market_regime"),
			Trend:        field(rec, "trend"),
			BBStatus:     field(rec, "bb_status"),
			RSIStatus:    field(rec, "rsi_status"),
		})
	}
	return out, nil
}
