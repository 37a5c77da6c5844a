package backtesthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/backtest"
	"quantcore/internal/feed"
	"quantcore/internal/metrics"
	"quantcore/internal/pipeline"
	"quantcore/internal/pipeline/factory"
	"quantcore/internal/risk"
	"quantcore/internal/store/journal"
	"quantcore/internal/strategy"
	livehttp "quantcore/internal/transport/http/live"
)

type fixture struct {
	srv     *Server
	svc     *backtest.Service
	metrics *metrics.Registry
}

func newFixture(t *testing.T, rps float64) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	store, err := backtest.NewResultStore(filepath.Join(dir, "backtest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	jr, err := journal.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = jr.Close() })

	rm := risk.NewManager(risk.DefaultConfig())
	fac := &factory.Factory{Risk: rm}
	p, err := fac.Pipeline("http-test")
	require.NoError(t, err)
	analyzer := pipeline.NewAnalyzer(p, indicator.DefaultSettings(), 2)

	ex := strategy.NewExecutor(strategy.BuiltinRegistry(), strategy.NewToolkit(nil, nil, rm), nil)
	ex.Load([]strategy.Config{{ID: "multi", Type: strategy.TypeMultiIndicator, Enabled: true, AllocatedCapital: 200000}})

	reg := metrics.New()
	engine := backtest.DefaultEngineConfig()
	engine.UseRiskExits = false
	svc := backtest.NewService(backtest.ServiceConfig{
		Store:    store,
		Engine:   engine,
		Risk:     rm,
		ChartDir: filepath.Join(dir, "charts"),
		Observer: reg,
	})
	srv, err := NewServer(Config{
		Svc:       svc,
		Builder:   &backtest.Builder{Analyzer: analyzer, Strategies: ex, BuyScore: 70, SellScore: 30, Warmup: 60},
		Live:      &livehttp.Router{Analyzer: analyzer, Executor: ex, Journal: jr, Observer: reg},
		Metrics:   reg.Handler(),
		Observer:  reg,
		RateLimit: rps,
		Burst:     1,
	})
	require.NoError(t, err)
	return fixture{srv: srv, svc: svc, metrics: reg}
}

func (f fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func candlesCSV(closes ...float64) string {
	var b strings.Builder
	b.WriteString("datetime,open,high,low,close,volume\n")
	day := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	for i, c := range closes {
		fmt.Fprintf(&b, "%s,%g,%g,%g,%g,1000\n", day.AddDate(0, 0, i).Format("2006-01-02 15:04:05"), c, c*1.01, c*0.99, c)
	}
	return b.String()
}

func recordsCSV(scores map[int]float64, n int) string {
	var b strings.Builder
	b.WriteString("datetime,score,market_regime\n")
	day := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	for i := range n {
		s, ok := scores[i]
		if !ok {
			s = 50
		}
		fmt.Fprintf(&b, "%s,%g,range\n", day.AddDate(0, 0, i).Format("2006-01-02 15:04:05"), s)
	}
	return b.String()
}

func recordsRun(async bool) map[string]any {
	return map[string]any{
		"symbol":      "600000",
		"source":      "records",
		"candles_csv": candlesCSV(10, 10.2, 10.4, 10.8, 11, 11.2, 11.1, 11.3),
		"records_csv": recordsCSV(map[int]float64{1: 80, 5: 20}, 8),
		"config":      map[string]any{"fee_rate": 0, "slippage_bps": 0},
		"chart":       true,
		"async":       async,
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, 0)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `quantcore_http_requests_total{code="200",method="GET",route="/healthz"} 1`)
}

func TestBacktestRuns(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodPost, "/api/backtest/runs", recordsRun(false))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	id := gjson.Get(body, "run.id").String()
	require.NotEmpty(t, id)
	assert.Equal(t, backtest.RunStatusDone, gjson.Get(body, "run.status").String())
	assert.Equal(t, int64(1), gjson.Get(body, "metrics.trade_count").Int())
	assert.Equal(t, 0.0, gjson.Get(body, "run.config.fee_rate").Float(), "config override applied")
	assert.False(t, gjson.Get(body, "run.config.use_risk_exits").Bool(), "defaults kept for fields not overridden")

	t.Run("detail and children", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/backtest/runs/"+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "600000", gjson.Get(rec.Body.String(), "run.symbol").String())

		rec = f.do(t, http.MethodGet, "/api/backtest/runs/"+id+"/trades", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, gjson.Get(rec.Body.String(), "trades").Array(), 1)

		rec = f.do(t, http.MethodGet, "/api/backtest/runs/"+id+"/equity", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, gjson.Get(rec.Body.String(), "equity").Array(), 8)

		rec = f.do(t, http.MethodGet, "/api/backtest/runs/"+id+"/chart", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "<html")

		rec = f.do(t, http.MethodGet, "/api/backtest/runs?limit=5", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, gjson.Get(rec.Body.String(), "runs").Array(), 1)
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/backtest/runs/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("async run", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/backtest/runs", recordsRun(true))
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		id := gjson.Get(rec.Body.String(), "run.id").String()
		f.svc.Wait()
		rec = f.do(t, http.MethodGet, "/api/backtest/runs/"+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, backtest.RunStatusDone, gjson.Get(rec.Body.String(), "run.status").String())
	})

	t.Run("bad requests", func(t *testing.T) {
		cases := []struct {
			name string
			body any
			code int
		}{
			{"invalid json", "{", http.StatusBadRequest},
			{"missing symbol", map[string]any{"candles_csv": candlesCSV(10, 11)}, http.StatusBadRequest},
			{"no candles", map[string]any{"symbol": "600000"}, http.StatusBadRequest},
			{"bad config", map[string]any{"symbol": "600000", "candles_csv": candlesCSV(10), "config": "x"}, http.StatusBadRequest},
			{"unknown source", map[string]any{"symbol": "600000", "source": "magic", "candles_csv": candlesCSV(10)}, http.StatusUnprocessableEntity},
			{"unknown strategy", map[string]any{"symbol": "600000", "strategy_id": "ghost", "candles_csv": candlesCSV(10)}, http.StatusUnprocessableEntity},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				rec := f.do(t, http.MethodPost, "/api/backtest/runs", tc.body)
				assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			})
		}
	})
}

func TestLiveAnalyzeAndJournal(t *testing.T) {
	f := newFixture(t, 0)
	payload := `{"symbol":"600519","time":"2024-06-03 15:00:00","price":10.5,
		"indicators":{"ma5":10.4,"ma10":10.2,"ma20":10.0,"ma60":9.5,"macd_dif":0.12,"macd_dea":0.08,"macd_hist":0.04,"macd_cross":"golden","rsi":38,"atr":0.25},
		"quant_analysis":{"quant_score":78}}`

	rec := f.do(t, http.MethodPost, "/api/live/analyze", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Equal(t, "600519", gjson.Get(body, "result.symbol").String())
	assert.True(t, gjson.Get(body, "result.signal.type").Exists())
	assert.Greater(t, gjson.Get(body, "result.risk.stop_loss").Float(), 0.0)
	journalID := gjson.Get(body, "journal_id").String()
	require.NotEmpty(t, journalID)

	t.Run("not recorded when disabled", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/live/analyze?record=false", payload)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, gjson.Get(rec.Body.String(), "journal_id").Exists())
	})

	t.Run("journal queries", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/live/signals?symbol=600519", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, gjson.Get(rec.Body.String(), "items").Array(), 1)

		rec = f.do(t, http.MethodGet, "/api/live/signals/"+journalID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "600519", gjson.Get(rec.Body.String(), "result.symbol").String())

		rec = f.do(t, http.MethodGet, "/api/live/signals/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, gjson.Get(rec.Body.String(), "counts").IsObject())

		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/live/signals/missing", nil).Code)
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/live/signals?since=yesterday", nil).Code)
	})

	t.Run("bad payloads", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/live/analyze", `{"symbol":"AAA"}`).Code)
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/live/analyze", `not json`).Code)
	})

	t.Run("batch", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/live/analyze/batch",
			`{"items":[{"symbol":"AAA","rsi":25,"rsi_status":"oversold"},{"symbol":"BBB","rsi":80,"rsi_status":"overbought"}]}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "succeeded").Int())
		assert.Equal(t, "BBB", gjson.Get(rec.Body.String(), "items.1.symbol").String())
	})

	assert.Equal(t, 2.0, analysisCount(f, "single", "ok"))
}

func analysisCount(f fixture, mode, result string) float64 {
	var total float64
	mfs, _ := f.metrics.Gatherer().Gather()
	for _, mf := range mfs {
		if mf.GetName() != "quantcore_analysis_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["mode"] == mode && labels["result"] == result {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func TestLiveStrategies(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(t, http.MethodGet, "/api/live/strategies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "multi", gjson.Get(rec.Body.String(), "strategies.0.strategy_id").String())

	rec = f.do(t, http.MethodPost, "/api/live/execute", `[{"symbol":"AAA","price":10,"rsi":25,"rsi_status":"oversold","macd_cross":"golden"}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, gjson.Get(rec.Body.String(), "report").IsObject())

	t.Run("fills", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/live/fills", map[string]any{
			"strategy_id": "multi", "symbol": "aaa", "side": "buy", "quantity": 100, "price": 10,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 199000.0, gjson.Get(rec.Body.String(), "ledger.cash").Float())

		rec = f.do(t, http.MethodGet, "/api/live/strategies/multi/positions/AAA", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(t, http.MethodPost, "/api/live/fills", map[string]any{
			"strategy_id": "ghost", "symbol": "AAA", "side": "buy", "quantity": 100, "price": 10,
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/live/strategies/ghost/ledger", nil).Code)
	})

	t.Run("reload without catalog", func(t *testing.T) {
		assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/api/live/strategies/reload", nil).Code)
	})
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, 0.001)
	first := f.do(t, http.MethodPost, "/api/live/analyze", `{"symbol":"AAA","rsi":30}`)
	assert.Equal(t, http.StatusOK, first.Code)
	second := f.do(t, http.MethodPost, "/api/live/analyze", `{"symbol":"AAA","rsi":30}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code, "health is not limited")
}

type stubPublisher struct {
	events []feed.Event
	last   int64
}

func (p *stubPublisher) Publish(_ context.Context, evt feed.Event) error {
	if evt.Candle.CloseTime <= p.last {
		return feed.ErrOutOfOrder
	}
	p.last = evt.Candle.CloseTime
	p.events = append(p.events, evt)
	return nil
}

func (p *stubPublisher) Pending() int { return len(p.events) }

func TestLiveBars(t *testing.T) {
	base := newFixture(t, 0)
	assert.Equal(t, http.StatusServiceUnavailable, base.do(t, http.MethodPost, "/api/live/bars", map[string]any{"symbol": "AAA"}).Code)

	pub := &stubPublisher{}
	srv, err := NewServer(Config{Svc: base.svc, Live: &livehttp.Router{Bars: pub}})
	require.NoError(t, err)
	f := fixture{srv: srv}

	body := map[string]any{
		"symbol": "aaa",
		"candles": []map[string]any{
			{"open_time": 1000, "close_time": 2000, "open": 10, "high": 11, "low": 9, "close": 10.5, "volume": 100},
			{"open_time": 3000, "close_time": 4000, "open": 10.5, "high": 11, "low": 10, "close": 10.8, "volume": 120},
		},
	}
	rec := f.do(t, http.MethodPost, "/api/live/bars", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "accepted").Int())
	require.Len(t, pub.events, 2)

	rec = f.do(t, http.MethodPost, "/api/live/bars", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, int64(0), gjson.Get(rec.Body.String(), "accepted").Int())

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/live/bars", `{"candles":[]}`).Code)
}
