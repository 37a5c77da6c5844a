package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/internal/analysis/signal"
	"quantcore/internal/backtest"
	"quantcore/internal/strategy"
)

func TestRegistryCounters(t *testing.T) {
	r := New()

	r.SignalResolved("trend", signal.Buy)
	r.SignalResolved("trend", signal.Buy)
	r.SignalResolved("revert", signal.Sell)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Signals.WithLabelValues("trend", "buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Signals.WithLabelValues("revert", "sell")))

	r.StrategyLoadFailed("broken", strategy.ErrInvalidParams)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.LoadFailures.WithLabelValues("broken")))

	t.Run("rejection reasons", func(t *testing.T) {
		r.OrderRejected("trend", fmt.Errorf("wrap: %w", strategy.ErrInsufficientCapital))
		r.OrderRejected("trend", strategy.ErrPyramidRejected)
		r.OrderRejected("trend", io.EOF)
		for _, reason := range []string{"insufficient_capital", "pyramid", "other"} {
			assert.Equal(t, 1.0, testutil.ToFloat64(r.Rejections.WithLabelValues("trend", reason)), reason)
		}
	})

	t.Run("backtest runs", func(t *testing.T) {
		done := backtest.Run{Source: "csv", Symbol: "600000", Status: backtest.RunStatusDone}
		r.ObserveRun(done, backtest.Result{Metrics: backtest.Metrics{TotalReturn: 0.12}})
		r.ObserveRun(backtest.Run{Source: "csv", Symbol: "600000", Status: backtest.RunStatusFailed}, backtest.Result{})
		assert.Equal(t, 1.0, testutil.ToFloat64(r.BacktestRuns.WithLabelValues("csv", "done")))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.BacktestRuns.WithLabelValues("csv", "failed")))
		assert.Equal(t, 0.12, testutil.ToFloat64(r.BacktestReturn.WithLabelValues("csv", "600000")))
	})

	t.Run("analysis and feed", func(t *testing.T) {
		r.ObserveAnalysis("single", 3*time.Millisecond, nil)
		r.ObserveAnalysis("single", time.Millisecond, io.EOF)
		r.ObserveFeed(nil)
		assert.Equal(t, 1.0, testutil.ToFloat64(r.AnalysisTotal.WithLabelValues("single", "ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.AnalysisTotal.WithLabelValues("single", "error")))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.FeedEvents.WithLabelValues("ok")))
	})
}

func TestRegistryHandler(t *testing.T) {
	r := New()
	r.ObserveHTTP("GET", "/healthz", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `quantcore_http_requests_total{code="200",method="GET",route="/healthz"} 1`)
	assert.Contains(t, body, "go_goroutines")

	t.Run("independent registries", func(t *testing.T) {
		assert.NotPanics(t, func() { _ = New() })
	})
}
