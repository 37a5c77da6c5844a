package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"quantcore/internal/feed"
	"quantcore/internal/logger"
	"quantcore/internal/market"
	"quantcore/internal/pipeline"
	"quantcore/internal/store/journal"
	"quantcore/internal/strategy"
)

var liveLog = logger.Named("live")

// journalSource 实时推送写入信号日志时使用的来源标记。
const journalSource = "feed"

// FeedObserver 推送与分析埋点。
type FeedObserver interface {
	ObserveFeed(err error)
	ObserveAnalysis(mode string, d time.Duration, err error)
}

// LiveConfig 配置 LiveService。Journal 与 Metrics 可为空。
type LiveConfig struct {
	Analyzer    *pipeline.Analyzer
	Executor    *strategy.Executor
	Journal     *journal.Store
	Metrics     FeedObserver
	Capacity    int
	HistoryBars int
	MinBars     int
}

// LiveService 消费推送的 K 线：累积历史、分析、写日志，再驱动策略池出单与离场检查。
type LiveService struct {
	analyzer *pipeline.Analyzer
	executor *strategy.Executor
	journal  *journal.Store
	metrics  FeedObserver
	feed     *feed.Feed
	history  int
	minBars  int

	mu      sync.RWMutex
	candles map[string]market.Candles
	last    map[string]LiveUpdate
}

// LiveUpdate 单根 K 线处理后的结果。
type LiveUpdate struct {
	Symbol    string           `json:"symbol"`
	Time      time.Time        `json:"time"`
	Bundle    pipeline.Bundle  `json:"result"`
	JournalID string           `json:"journal_id,omitempty"`
	Report    strategy.Report  `json:"report"`
	Exits     []strategy.Order `json:"exits,omitempty"`
}

func NewLiveService(cfg LiveConfig) *LiveService {
	s := &LiveService{
		analyzer: cfg.Analyzer,
		executor: cfg.Executor,
		journal:  cfg.Journal,
		metrics:  cfg.Metrics,
		history:  cfg.HistoryBars,
		minBars:  cfg.MinBars,
		candles:  make(map[string]market.Candles),
		last:     make(map[string]LiveUpdate),
	}
	if s.history <= 0 {
		s.history = 250
	}
	if s.minBars <= 0 || s.minBars > s.history {
		s.minBars = min(60, s.history)
	}
	s.feed = feed.New(cfg.Capacity, s.handle,
		feed.WithContinueOnError(),
		feed.WithErrorHook(func(_ feed.Event, err error) { s.observeFeed(err) }),
	)
	return s
}

// Publish 推送一根 K 线，队列满时阻塞。
func (s *LiveService) Publish(ctx context.Context, evt feed.Event) error {
	return s.feed.Publish(ctx, evt)
}

// Pending 队列中待处理的 K 线数。
func (s *LiveService) Pending() int { return s.feed.Len() }

// Run 阻塞消费直到 ctx 取消或 Close。
func (s *LiveService) Run(ctx context.Context) error {
	return s.feed.Run(ctx)
}

func (s *LiveService) Close() { s.feed.Close() }

// Last 返回标的最近一次处理结果。
func (s *LiveService) Last(symbol string) (LiveUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.last[strings.ToUpper(strings.TrimSpace(symbol))]
	return u, ok
}

// Bars 返回标的当前缓存的 K 线根数。
func (s *LiveService) Bars(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles[strings.ToUpper(strings.TrimSpace(symbol))])
}

// append 追加 K 线并截断到 history，返回副本。
func (s *LiveService) append(evt feed.Event) market.Candles {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := append(s.candles[evt.Symbol], evt.Candle)
	if len(hist) > s.history {
		hist = append(market.Candles(nil), hist[len(hist)-s.history:]...)
	}
	s.candles[evt.Symbol] = hist
	return append(market.Candles(nil), hist...)
}

func (s *LiveService) handle(ctx context.Context, evt feed.Event) error {
	hist := s.append(evt)
	if len(hist) < s.minBars {
		liveLog.Debugf("%s buffered %d/%d bars", evt.Symbol, len(hist), s.minBars)
		s.observeFeed(nil)
		return nil
	}

	start := time.Now()
	b, err := s.analyzer.Analyze(ctx, pipeline.Input{Symbol: evt.Symbol, Candles: hist})
	if s.metrics != nil {
		s.metrics.ObserveAnalysis("feed", time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("analyze %s: %w", evt.Symbol, err)
	}

	upd := LiveUpdate{Symbol: evt.Symbol, Time: evt.Candle.Time(), Bundle: b}
	if s.journal != nil {
		entry, err := s.journal.Record(ctx, journalSource, b)
		if err != nil {
			liveLog.Errorf("journal record %s failed: %v", evt.Symbol, err)
		} else {
			upd.JournalID = entry.ID
		}
	}

	if s.executor != nil {
		data := strategy.MarketData{evt.Symbol: b.Instrument()}
		report, err := s.executor.Execute(ctx, []string{evt.Symbol}, data)
		if err != nil {
			return fmt.Errorf("execute %s: %w", evt.Symbol, err)
		}
		exits, err := s.executor.CheckExits(ctx, data)
		if err != nil {
			return fmt.Errorf("check exits %s: %w", evt.Symbol, err)
		}
		upd.Report, upd.Exits = report, exits
		for _, o := range report.Orders {
			liveLog.Infof("order %s %s %s qty=%d price=%.3f %s", o.StrategyID, o.Side, o.Symbol, o.Quantity, o.Price, o.Reason)
		}
		for _, o := range exits {
			liveLog.Infof("exit %s %s qty=%d price=%.3f %s", o.StrategyID, o.Symbol, o.Quantity, o.Price, o.Reason)
		}
	}

	s.mu.Lock()
	s.last[evt.Symbol] = upd
	s.mu.Unlock()
	s.observeFeed(nil)
	return nil
}

func (s *LiveService) observeFeed(err error) {
	if s.metrics != nil {
		s.metrics.ObserveFeed(err)
	}
}
