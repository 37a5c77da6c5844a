package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/internal/analysis/indicator"
	"quantcore/internal/feed"
	"quantcore/internal/pipeline"
	"quantcore/internal/pipeline/factory"
	"quantcore/internal/risk"
	"quantcore/internal/store/journal"
	"quantcore/internal/strategy"
)

type feedCounter struct {
	mu       sync.Mutex
	ok, fail int
	analyses int
}

func (c *feedCounter) ObserveFeed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.fail++
		return
	}
	c.ok++
}

func (c *feedCounter) ObserveAnalysis(string, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.analyses++
}

func newTestLive(t *testing.T, minBars int) (*LiveService, *journal.Store, *feedCounter) {
	t.Helper()
	rm := risk.NewManager(risk.DefaultConfig())
	fac := &factory.Factory{Risk: rm}
	p, err := fac.Pipeline("live-test")
	require.NoError(t, err)
	analyzer := pipeline.NewAnalyzer(p, indicator.DefaultSettings(), 2)

	ex := strategy.NewExecutor(nil, strategy.NewToolkit(nil, nil, rm), nil)
	ex.Load([]strategy.Config{{ID: "trend", Type: strategy.TypeTrendFollowing, Enabled: true, AllocatedCapital: 300000}})

	jr, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = jr.Close() })

	counter := &feedCounter{}
	live := NewLiveService(LiveConfig{
		Analyzer:    analyzer,
		Executor:    ex,
		Journal:     jr,
		Metrics:     counter,
		Capacity:    16,
		HistoryBars: 80,
		MinBars:     minBars,
	})
	return live, jr, counter
}

func TestLiveService(t *testing.T) {
	ctx := context.Background()

	t.Run("buffers until min bars then analyzes each bar", func(t *testing.T) {
		live, jr, counter := newTestLive(t, 60)
		candles := waveCandles(100)

		done := make(chan error, 1)
		go func() { done <- live.Run(ctx) }()
		for _, c := range candles {
			require.NoError(t, live.Publish(ctx, feed.Event{Symbol: "600000", Candle: c}))
		}
		live.Close()
		require.NoError(t, <-done)

		assert.Equal(t, 80, live.Bars("600000"), "history trimmed to window")
		assert.Equal(t, 100, counter.ok)
		assert.Equal(t, 41, counter.analyses)

		upd, ok := live.Last("600000")
		require.True(t, ok)
		assert.Equal(t, candles[99].Time(), upd.Time)
		assert.NotEmpty(t, upd.JournalID)
		assert.Len(t, upd.Report.Results, 1)

		counts, err := jr.Count(ctx, "600000")
		require.NoError(t, err)
		var total int64
		for _, n := range counts {
			total += n
		}
		assert.Equal(t, int64(41), total)
	})

	t.Run("out of order bars rejected at publish", func(t *testing.T) {
		live, _, _ := newTestLive(t, 10)
		candles := waveCandles(3)
		require.NoError(t, live.Publish(ctx, feed.Event{Symbol: "AAA", Candle: candles[2]}))
		err := live.Publish(ctx, feed.Event{Symbol: "AAA", Candle: candles[1]})
		require.ErrorIs(t, err, feed.ErrOutOfOrder)
		assert.Equal(t, 1, live.Pending())

		live.Close()
		require.ErrorIs(t, live.Publish(ctx, feed.Event{Symbol: "AAA", Candle: waveCandles(5)[4]}), feed.ErrClosed)
		require.NoError(t, live.Run(ctx))
		_, ok := live.Last("AAA")
		assert.False(t, ok, "below min bars nothing is analyzed")
	})

	t.Run("defaults", func(t *testing.T) {
		live := NewLiveService(LiveConfig{MinBars: 500})
		assert.Equal(t, 250, live.history)
		assert.Equal(t, 60, live.minBars)
	})
}
