package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, validate(cfg))
	assert.Equal(t, "swing", cfg.Risk.HoldingPeriod)
	assert.Equal(t, []float64{2, 3, 5}, cfg.Risk.TakeProfitMultiples)
	assert.Equal(t, int64(100), cfg.Pyramid.LotSize)
	assert.True(t, cfg.Backtest.UseRiskExits)
	assert.True(t, cfg.HTTP.Metrics)
	assert.Equal(t, 60, cfg.Backtest.Warmup)
	assert.Equal(t, filepath.Join("data", "journal.db"), cfg.Storage.JournalDB)
	assert.Equal(t, filepath.Join("data", "charts"), cfg.Chart.Dir)
}

func TestLoad(t *testing.T) {
	t.Run("include merge and explicit zero values", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "scoring.yaml", `scoring:
  min_score_for_signal: 5
  buy_weights:
    rsi_oversold: 3
`)
		path := writeFile(t, dir, "config.yaml", `include:
  - scoring.yaml
app:
  data_dir: /var/lib/qc
risk:
  holding_period: LONG
backtest:
  use_risk_exits: false
http:
  rate_limit: 0
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 5.0, cfg.Scoring.MinScoreForSignal)
		assert.Equal(t, 3.0, cfg.Scoring.BuyWeights["rsi_oversold"])
		assert.Equal(t, "long", cfg.Risk.HoldingPeriod)
		assert.False(t, cfg.Backtest.UseRiskExits, "explicit false kept")
		assert.Zero(t, cfg.HTTP.RateLimit, "explicit zero disables limiter")
		assert.Equal(t, filepath.Join("/var/lib/qc", "backtest.db"), cfg.Storage.BacktestDB)
		assert.Equal(t, float64(defaultTrendStrong), cfg.Trend.StrongThreshold)
	})

	t.Run("env override", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "config.yaml", "http:\n  addr: \":8000\"\n")
		t.Setenv("QUANTCORE_HTTP_ADDR", ":7000")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":7000", cfg.HTTP.Addr)
	})

	t.Run("env covers keys absent from file", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "config.yaml", "app:\n  env: test\n")
		t.Setenv("QUANTCORE_BACKTEST_WARMUP", "30")
		t.Setenv("QUANTCORE_HTTP_METRICS", "false")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 30, cfg.Backtest.Warmup)
		assert.False(t, cfg.HTTP.Metrics)
		assert.Equal(t, defaultHistoryBars, cfg.Executor.HistoryBars)
	})

	t.Run("explicit zero scoring gates", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "config.yaml", "scoring:\n  min_score_for_signal: 0\n  min_conditions_for_signal: 0\n")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Zero(t, cfg.Scoring.MinScoreForSignal)
		assert.Zero(t, cfg.Scoring.MinConditionsForSignal)
	})

	t.Run("include cycle", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
		writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")
		_, err := Load(filepath.Join(dir, "a.yaml"))
		require.ErrorContains(t, err, "include cycle")
	})

	t.Run("validation errors", func(t *testing.T) {
		cases := map[string]string{
			"trend order":     "trend:\n  weak_threshold: 30\n  trend_threshold: 20\n",
			"holding period":  "risk:\n  holding_period: forever\n",
			"tp increasing":   "risk:\n  take_profit_multiples: [3, 2]\n",
			"backtest scores": "backtest:\n  buy_score: 40\n  sell_score: 60\n",
			"negative weight": "scoring:\n  sell_weights:\n    macd_death_cross: -1\n",
			"min bars":        "executor:\n  history_bars: 30\n  min_bars: 60\n",
			"negative gate":   "scoring:\n  min_conditions_for_signal: -1\n",
		}
		for name, body := range cases {
			t.Run(name, func(t *testing.T) {
				path := writeFile(t, t.TempDir(), "config.yaml", body)
				_, err := Load(path)
				require.Error(t, err)
			})
		}
	})

	t.Run("load or default", func(t *testing.T) {
		cfg, err := LoadOrDefault("")
		require.NoError(t, err)
		assert.Equal(t, defaultHTTPAddr, cfg.HTTP.Addr)
		_, err = LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}
