package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"quantcore/internal/app"
	"quantcore/internal/export"
	"quantcore/internal/market"
	"quantcore/internal/pipeline"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

func newEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate [file]",
		Short: "对 JSON 指标快照或 K 线评分，输出分析结果",
		Long:  "输入为单个对象、对象数组或 {\"items\": [...]}；省略文件或传 - 时读取标准输入。",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			var path string
			if len(args) > 0 {
				path = args[0]
			}
			raw, err := openInput(cmd, path)
			if err != nil {
				return err
			}
			analyzer, err := app.NewAnalyzer(cfg)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if root := gjson.ParseBytes(raw); root.IsObject() && !root.Get("items").Exists() {
				in, err := pipeline.ParseInput(raw)
				if err != nil {
					return err
				}
				b, err := analyzer.Analyze(cmd.Context(), in)
				if err != nil {
					return err
				}
				return enc.Encode(b)
			}
			inputs, err := pipeline.ParseInputs(raw)
			if err != nil {
				return err
			}
			results := analyzer.Batch(cmd.Context(), inputs)
			out := make([]map[string]any, len(results))
			for i, res := range results {
				item := map[string]any{"symbol": res.Symbol}
				if res.Err != nil {
					item["error"] = res.Err.Error()
				} else {
					item["result"] = res.Bundle
				}
				out[i] = item
			}
			return enc.Encode(out)
		},
	}
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "逐根回放 K 线 CSV，导出 datetime,score,market_regime 信号 CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			symbol, _ := cmd.Flags().GetString("symbol")
			candlesPath, _ := cmd.Flags().GetString("candles")
			outPath, _ := cmd.Flags().GetString("out")
			warmup, _ := cmd.Flags().GetInt("warmup")
			optional, _ := cmd.Flags().GetBool("optional")

			candles, err := readCandles(candlesPath)
			if err != nil {
				return err
			}
			analyzer, err := app.NewAnalyzer(cfg)
			if err != nil {
				return err
			}
			if warmup <= 0 {
				warmup = cfg.Backtest.Warmup
			}
			exp := export.NewExporter(analyzer, pipeline.ReplayOptions{Warmup: warmup})
			records, _, err := exp.Records(cmd.Context(), symbol, candles)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := export.WriteSignalCSV(w, records, optional); err != nil {
				return err
			}
			if outPath != "" && outPath != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d records to %s\n", len(records), outPath)
			}
			return nil
		},
	}
	cmd.Flags().String("symbol", "", "标的代码")
	cmd.Flags().String("candles", "", "K 线 CSV 文件（datetime,open,high,low,close,volume）")
	cmd.Flags().StringP("out", "o", "", "输出文件，默认标准输出")
	cmd.Flags().Int("warmup", 0, "预热根数，默认取配置 backtest.warmup")
	cmd.Flags().Bool("optional", false, "附加 trend/bb_status/rsi_status 列")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("candles")
	return cmd
}

func readCandles(path string) (market.Candles, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("candles file is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	candles, err := market.ReadCandleCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return candles, nil
}
