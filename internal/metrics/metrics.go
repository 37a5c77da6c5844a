package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"quantcore/internal/analysis/signal"
	"quantcore/internal/backtest"
	"quantcore/internal/strategy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quantcore"

// Registry 持有全部 prometheus 指标。使用独立 registry，测试中可多次创建。
type Registry struct {
	reg *prometheus.Registry

	Signals          *prometheus.CounterVec
	LoadFailures     *prometheus.CounterVec
	Rejections       *prometheus.CounterVec
	BacktestRuns     *prometheus.CounterVec
	BacktestReturn   *prometheus.GaugeVec
	AnalysisDuration *prometheus.HistogramVec
	AnalysisTotal    *prometheus.CounterVec
	FeedEvents       *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_resolved_total",
			Help:      "Resolved strategy signals by strategy and type",
		}, []string{"strategy", "type"}),
		LoadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_load_failures_total",
			Help:      "Strategies rejected at load time",
		}, []string{"strategy"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_rejections_total",
			Help:      "Orders rejected by the executor",
		}, []string{"strategy", "reason"}),
		BacktestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backtest_runs_total",
			Help:      "Finished backtest runs by source and status",
		}, []string{"source", "status"}),
		BacktestReturn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backtest_last_total_return",
			Help:      "Total return of the latest successful run per source and symbol",
		}, []string{"source", "symbol"}),
		AnalysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Duration of one analysis call",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"mode"}),
		AnalysisTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_total",
			Help:      "Analysis calls by mode and result",
		}, []string{"mode", "result"}),
		FeedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_total",
			Help:      "Bars consumed from the feed by result",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.Signals,
		r.LoadFailures,
		r.Rejections,
		r.BacktestRuns,
		r.BacktestReturn,
		r.AnalysisDuration,
		r.AnalysisTotal,
		r.FeedEvents,
		r.HTTPRequests,
		r.HTTPDuration,
	)
	return r
}

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler /metrics 处理器。
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// StrategyLoadFailed 实现 strategy.Observer。
func (r *Registry) StrategyLoadFailed(strategyID string, _ error) {
	r.LoadFailures.WithLabelValues(strategyID).Inc()
}

func (r *Registry) SignalResolved(strategyID string, t signal.Type) {
	r.Signals.WithLabelValues(strategyID, string(t)).Inc()
}

func (r *Registry) OrderRejected(strategyID string, err error) {
	r.Rejections.WithLabelValues(strategyID, rejectionReason(err)).Inc()
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, strategy.ErrInsufficientCapital):
		return "insufficient_capital"
	case errors.Is(err, strategy.ErrPyramidRejected):
		return "pyramid"
	default:
		return "other"
	}
}

// ObserveRun 实现 backtest.RunObserver。
func (r *Registry) ObserveRun(run backtest.Run, res backtest.Result) {
	r.BacktestRuns.WithLabelValues(run.Source, run.Status).Inc()
	if run.Status == backtest.RunStatusDone {
		r.BacktestReturn.WithLabelValues(run.Source, run.Symbol).Set(res.Metrics.TotalReturn)
	}
}

// ObserveAnalysis 记录一次分析耗时与结果。
func (r *Registry) ObserveAnalysis(mode string, d time.Duration, err error) {
	r.AnalysisDuration.WithLabelValues(mode).Observe(d.Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.AnalysisTotal.WithLabelValues(mode, result).Inc()
}

func (r *Registry) ObserveFeed(err error) {
	if err != nil {
		r.FeedEvents.WithLabelValues("error").Inc()
		return
	}
	r.FeedEvents.WithLabelValues("ok").Inc()
}

func (r *Registry) ObserveHTTP(method, route string, code int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	r.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

var (
	_ strategy.Observer    = (*Registry)(nil)
	_ backtest.RunObserver = (*Registry)(nil)
)
