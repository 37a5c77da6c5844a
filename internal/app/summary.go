package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"quantcore/internal/config"
	"quantcore/internal/pipeline"
	"quantcore/internal/strategy"
)

type StartupSummary struct {
	Storage    StorageSummary
	HTTP       HTTPSummary
	Pipeline   PipelineSummary
	Backtest   BacktestSummary
	Catalog    string
	Strategies []StrategyDetail
}

type StorageSummary struct {
	BacktestDB string
	JournalDB  string
	ChartDir   string
}

type HTTPSummary struct {
	Addr      string
	Metrics   bool
	RateLimit float64
	Burst     int
}

type PipelineSummary struct {
	Name          string
	Middlewares   []string
	HoldingPeriod string
	Concurrency   int
}

type BacktestSummary struct {
	InitialCapital float64
	FeeRate        float64
	SlippageBps    float64
	BuyScore       float64
	SellScore      float64
	Warmup         int
}

type StrategyDetail struct {
	ID         string
	Type       string
	Capital    float64
	MinCapital float64
}

func newStartupSummary(cfg *config.Config, analyzer *pipeline.Analyzer, exec *strategy.Executor, catalog *strategy.Catalog) *StartupSummary {
	s := &StartupSummary{
		Storage: StorageSummary{
			BacktestDB: cfg.Storage.BacktestDB,
			JournalDB:  cfg.Storage.JournalDB,
			ChartDir:   cfg.Chart.Dir,
		},
		HTTP: HTTPSummary{
			Addr:      cfg.HTTP.Addr,
			Metrics:   cfg.HTTP.Metrics,
			RateLimit: cfg.HTTP.RateLimit,
			Burst:     cfg.HTTP.Burst,
		},
		Pipeline: PipelineSummary{
			HoldingPeriod: cfg.Risk.HoldingPeriod,
			Concurrency:   cfg.Executor.Concurrency,
		},
		Backtest: BacktestSummary{
			InitialCapital: cfg.Backtest.InitialCapital,
			FeeRate:        cfg.Backtest.FeeRate,
			SlippageBps:    cfg.Backtest.SlippageBps,
			BuyScore:       cfg.Backtest.BuyScore,
			SellScore:      cfg.Backtest.SellScore,
			Warmup:         cfg.Backtest.Warmup,
		},
	}
	if analyzer != nil && analyzer.Pipeline() != nil {
		s.Pipeline.Name = analyzer.Pipeline().Name()
		s.Pipeline.Middlewares = analyzer.Pipeline().Names()
	}
	if catalog != nil {
		s.Catalog = catalog.Path()
	}
	if exec != nil {
		for _, info := range exec.Strategies() {
			s.Strategies = append(s.Strategies, StrategyDetail{
				ID:         info.ID,
				Type:       info.Type,
				Capital:    info.Ledger.Allocated,
				MinCapital: info.MinCapital,
			})
		}
	}
	return s
}

func (s *StartupSummary) Print() { s.Fprint(os.Stdout) }

func (s *StartupSummary) Fprint(w io.Writer) {
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[存储 (STORAGE)]")
	fmt.Fprintf(w, "  回测结果: %s\n", s.Storage.BacktestDB)
	fmt.Fprintf(w, "  信号日志: %s\n", s.Storage.JournalDB)
	fmt.Fprintf(w, "  图表目录: %s\n", s.Storage.ChartDir)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[HTTP]")
	fmt.Fprintf(w, "  监听地址: %s\n", s.HTTP.Addr)
	fmt.Fprintf(w, "  指标导出: %t\n", s.HTTP.Metrics)
	if s.HTTP.RateLimit > 0 {
		fmt.Fprintf(w, "  限流: %.1f req/s (burst %d)\n", s.HTTP.RateLimit, s.HTTP.Burst)
	} else {
		fmt.Fprintln(w, "  限流: 关闭")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[分析链 (PIPELINE)]")
	fmt.Fprintf(w, "  名称: %s\n", s.Pipeline.Name)
	fmt.Fprintf(w, "  中间件: %s\n", formatList(s.Pipeline.Middlewares))
	fmt.Fprintf(w, "  持仓周期: %s\n", s.Pipeline.HoldingPeriod)
	fmt.Fprintf(w, "  批量并发: %d\n", s.Pipeline.Concurrency)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[回测默认参数 (BACKTEST)]")
	fmt.Fprintf(w, "  初始资金: %.0f\n", s.Backtest.InitialCapital)
	fmt.Fprintf(w, "  费率/滑点: %.4f / %.1fbps\n", s.Backtest.FeeRate, s.Backtest.SlippageBps)
	fmt.Fprintf(w, "  买入/卖出阈值: %.0f / %.0f\n", s.Backtest.BuyScore, s.Backtest.SellScore)
	fmt.Fprintf(w, "  预热根数: %d\n", s.Backtest.Warmup)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[策略池 (STRATEGIES)]")
	if s.Catalog != "" {
		fmt.Fprintf(w, "  目录: %s\n", s.Catalog)
	}
	if len(s.Strategies) == 0 {
		fmt.Fprintln(w, "  (无)")
	}
	for _, st := range s.Strategies {
		fmt.Fprintf(w, "  > %s (%s) 资金 %.0f 最低 %.0f\n", st.ID, st.Type, st.Capital, st.MinCapital)
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
