package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"quantcore/internal/app"
	"quantcore/internal/backtest"
	"quantcore/internal/export"
	"quantcore/internal/feed"

	"github.com/spf13/cobra"
)

func newBacktestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "用策略或信号 CSV 回测一段 K 线，结果写入回测库",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			symbol, _ := cmd.Flags().GetString("symbol")
			candlesPath, _ := cmd.Flags().GetString("candles")
			recordsPath, _ := cmd.Flags().GetString("records")
			strategyID, _ := cmd.Flags().GetString("strategy")
			chart, _ := cmd.Flags().GetBool("chart")
			warmup, _ := cmd.Flags().GetInt("warmup")
			if (recordsPath == "") == (strategyID == "") {
				return fmt.Errorf("exactly one of --strategy or --records is required")
			}

			candles, err := readCandles(candlesPath)
			if err != nil {
				return err
			}
			spec := backtest.SourceSpec{StrategyID: strategyID, Warmup: warmup}
			if recordsPath != "" {
				f, err := os.Open(recordsPath)
				if err != nil {
					return err
				}
				recs, err := export.ReadSignalCSV(f)
				f.Close()
				if err != nil {
					return fmt.Errorf("%s: %w", recordsPath, err)
				}
				spec.Kind, spec.Records = backtest.SourceRecords, recs
			}

			a, err := app.NewApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			svc, builder := a.Backtests()
			bars, src, err := builder.Build(cmd.Context(), symbol, candles, spec)
			if err != nil {
				return err
			}
			run, res, err := svc.Run(cmd.Context(), backtest.Request{Symbol: strings.ToUpper(symbol), Chart: chart}, bars, src)
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), run, res)
			return nil
		},
	}
	cmd.Flags().String("symbol", "", "标的代码")
	cmd.Flags().String("candles", "", "K 线 CSV 文件")
	cmd.Flags().String("strategy", "", "策略池中的策略 ID")
	cmd.Flags().String("records", "", "信号 CSV 文件（datetime,score,market_regime）")
	cmd.Flags().Int("warmup", 0, "策略回测的预热根数")
	cmd.Flags().Bool("chart", false, "生成 HTML 报告")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("candles")
	return cmd
}

func printRun(w io.Writer, run backtest.Run, res backtest.Result) {
	m := res.Metrics
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", run.ID)
	fmt.Fprintf(tw, "source\t%s\n", run.Source)
	fmt.Fprintf(tw, "symbol\t%s\n", run.Symbol)
	fmt.Fprintf(tw, "bars\t%d\n", run.Bars)
	fmt.Fprintf(tw, "final equity\t%.2f\n", m.FinalEquity)
	fmt.Fprintf(tw, "total return\t%.2f%%\n", m.TotalReturn*100)
	fmt.Fprintf(tw, "annualized\t%.2f%%\n", m.AnnualizedReturn*100)
	fmt.Fprintf(tw, "max drawdown\t%.2f%% (%d bars)\n", m.MaxDrawdown*100, m.MaxDrawdownDuration)
	fmt.Fprintf(tw, "sharpe / sortino\t%.2f / %.2f\n", m.SharpeRatio, m.SortinoRatio)
	fmt.Fprintf(tw, "trades\t%d (win %.1f%%, pf %.2f)\n", m.TradeCount, m.WinRate*100, m.ProfitFactor)
	if run.ChartPath != "" {
		fmt.Fprintf(tw, "chart\t%s\n", run.ChartPath)
	}
	_ = tw.Flush()
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "把 K 线 CSV 逐根推入实时队列，驱动分析、信号日志与策略池",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			symbol, _ := cmd.Flags().GetString("symbol")
			candlesPath, _ := cmd.Flags().GetString("candles")
			candles, err := readCandles(candlesPath)
			if err != nil {
				return err
			}

			a, err := app.NewApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			live := a.LiveService()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- live.Run(ctx) }()
			for _, c := range candles {
				if err := live.Publish(ctx, feed.Event{Symbol: symbol, Candle: c}); err != nil {
					live.Close()
					<-done
					return err
				}
			}
			live.Close()
			if err := <-done; err != nil {
				return err
			}

			upd, ok := live.Last(symbol)
			if !ok {
				return fmt.Errorf("no bar analyzed, need at least %d candles", cfg.Executor.MinBars)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "symbol\t%s\n", upd.Symbol)
			fmt.Fprintf(tw, "time\t%s\n", upd.Time.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(tw, "signal\t%s (score %.1f)\n", upd.Bundle.Signal.Type, upd.Bundle.Score)
			fmt.Fprintf(tw, "trend\t%s\n", upd.Bundle.Trend.State)
			fmt.Fprintf(tw, "orders\t%d\n", len(upd.Report.Orders))
			fmt.Fprintf(tw, "exits\t%d\n", len(upd.Exits))
			return tw.Flush()
		},
	}
	cmd.Flags().String("symbol", "", "标的代码")
	cmd.Flags().String("candles", "", "K 线 CSV 文件")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("candles")
	return cmd
}
