package main

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type cliEnv struct {
	dir    string
	config string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	catalog := filepath.Join(dir, "strategies.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(`strategies:
  - id: trend
    type: trend_following
    enabled: true
    allocated_capital: 300000
  - id: paused
    type: mean_reversion
    enabled: false
    allocated_capital: 100000
`), 0o644))
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(fmt.Sprintf(`app:
  log_level: warn
  data_dir: %s
executor:
  catalog_path: %s
`, filepath.Join(dir, "data"), catalog)), 0o644))
	return cliEnv{dir: dir, config: cfg}
}

func (e cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e cliEnv) writeCandles(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("datetime,open,high,low,close,volume\n")
	day := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	for i := range n {
		c := 10 + 0.03*float64(i) + 0.6*math.Sin(float64(i)/5)
		fmt.Fprintf(&b, "%s,%.4f,%.4f,%.4f,%.4f,1000000\n", day.AddDate(0, 0, i).Format("2006-01-02 15:04:05"), c-0.05, c+0.2, c-0.2, c)
	}
	path := filepath.Join(e.dir, "candles.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestEvaluateCmd(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, `{"symbol":"aaa","rsi":25,"rsi_status":"oversold","macd_cross":"golden"}`, "evaluate")
	require.NoError(t, err)
	assert.Equal(t, "AAA", gjson.Get(out, "symbol").String())
	assert.True(t, gjson.Get(out, "signal.signal_type").Exists())

	out, err = env.run(t, `{"items":[{"symbol":"AAA","rsi":25},{"symbol":"BBB","rsi":75}]}`, "evaluate", "-")
	require.NoError(t, err)
	assert.Equal(t, "AAA", gjson.Get(out, "0.symbol").String())
	assert.Equal(t, "BBB", gjson.Get(out, "1.result.symbol").String())

	_, err = env.run(t, `[{"symbol":"BBB"}]`, "evaluate")
	require.Error(t, err)
	_, err = env.run(t, `not json`, "evaluate")
	require.Error(t, err)
}

func TestExportAndBacktestCmd(t *testing.T) {
	env := newCLIEnv(t)
	candles := env.writeCandles(t, 120)
	signals := filepath.Join(env.dir, "signals.csv")

	_, err := env.run(t, "", "export", "--symbol", "AAA", "--candles", candles, "--warmup", "60", "-o", signals)
	require.NoError(t, err)
	raw, err := os.ReadFile(signals)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Equal(t, "datetime,score,market_regime", lines[0])
	assert.Len(t, lines, 61)

	t.Run("records source", func(t *testing.T) {
		out, err := env.run(t, "", "backtest", "--symbol", "AAA", "--candles", candles, "--records", signals)
		require.NoError(t, err)
		assert.Contains(t, out, "source")
		assert.Contains(t, out, "records")
		assert.Contains(t, out, "total return")
	})

	t.Run("strategy source", func(t *testing.T) {
		out, err := env.run(t, "", "backtest", "--symbol", "AAA", "--candles", candles, "--strategy", "trend", "--warmup", "60")
		require.NoError(t, err)
		assert.Contains(t, out, "bars")
	})

	t.Run("source flags are exclusive", func(t *testing.T) {
		_, err := env.run(t, "", "backtest", "--symbol", "AAA", "--candles", candles)
		require.Error(t, err)
		_, err = env.run(t, "", "backtest", "--symbol", "AAA", "--candles", candles, "--strategy", "trend", "--records", signals)
		require.Error(t, err)
	})
}

func TestReplayCmd(t *testing.T) {
	env := newCLIEnv(t)
	candles := env.writeCandles(t, 80)

	out, err := env.run(t, "", "replay", "--symbol", "aaa", "--candles", candles)
	require.NoError(t, err)
	assert.Contains(t, out, "AAA")
	assert.Contains(t, out, "2024-03-21")

	short := env.writeCandles(t, 10)
	_, err = env.run(t, "", "replay", "--symbol", "aaa", "--candles", short)
	require.Error(t, err)
}

func TestStrategiesCmd(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(t, "", "strategies")
	require.NoError(t, err)
	assert.Contains(t, out, "trend_following")
	assert.Contains(t, out, "skipped: paused")

	bad := filepath.Join(env.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("strategies:\n  - id: tiny\n    type: trend_following\n    enabled: true\n    allocated_capital: 10\n"), 0o644))
	out, err = env.run(t, "", "strategies", "--catalog", bad)
	require.Error(t, err)
	assert.Contains(t, out, "failed: tiny")
}
