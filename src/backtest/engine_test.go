package backtest

// Test index:
//  1. TestReplayIsDeterministic replays the same ticks twice and gets identical results.
//  2. TestRunIsolatesConfigurations keeps a missing pair from affecting other configurations.
//  3. TestRunFetchesEachPairOnce deduplicates history requests per pair.
//  4. TestReplayResetsCapital rebuilds the instance when the reset bound is crossed.
//  5. TestRunConfigTimeout fails only the configuration that ran out of time.
//  6. TestRunInvalidConfiguration marks a malformed configuration failed.
//  7. TestRunSinkErrorsAreLogged never fails the batch on a persistence error.
//  8. TestRunRejectsEmptyWindow refuses a window that ends before it starts.

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"gridexecutor/src/grid"
	"gridexecutor/src/model"
)

var t0 = time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC)

// sawtooth walks 100 → 105 → 95 → 100 in unit steps, cycles times.
func sawtooth(pair string, cycles int) []model.PriceTick {
	var prices []float64
	for c := 0; c < cycles; c++ {
		for p := 100.0; p < 105; p++ {
			prices = append(prices, p)
		}
		for p := 105.0; p > 95; p-- {
			prices = append(prices, p)
		}
		for p := 95.0; p < 100; p++ {
			prices = append(prices, p)
		}
	}
	prices = append(prices, 100)

	ticks := make([]model.PriceTick, len(prices))
	for i, p := range prices {
		ticks[i] = model.PriceTick{Pair: pair, At: t0.Add(time.Duration(i) * time.Minute), Price: p}
	}
	return ticks
}

type memorySource struct {
	mu    sync.Mutex
	ticks map[string][]model.PriceTick
	calls map[string]int
	err   error
}

func newMemorySource() *memorySource {
	return &memorySource{ticks: map[string][]model.PriceTick{}, calls: map[string]int{}}
}

func (s *memorySource) FetchTicks(_ context.Context, pair string, _, _ time.Time) ([]model.PriceTick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[pair]++
	if s.err != nil {
		return nil, s.err
	}
	return s.ticks[pair], nil
}

type memorySink struct {
	mu   sync.Mutex
	rows []*model.BacktestResult
	err  error
}

func (s *memorySink) SaveResult(_ context.Context, requestID string, r *model.BacktestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	r.RequestID = requestID
	s.rows = append(s.rows, r)
	return nil
}

func runConfig(id, pair string, gridSize int) RunConfig {
	return RunConfig{Grid: grid.Config{
		ID:          id,
		Pair:        pair,
		Capital:     1000,
		Multiplier:  1,
		DiapasonPct: 10,
		GridSize:    gridSize,
		HedgeMode:   true,
	}}
}

var testDefaults = grid.Defaults{FeeRate: 0.00055}

func window() Window {
	return Window{From: t0, To: t0.Add(24 * time.Hour)}
}

func newTestEngine(cfg Config, source TickSource, sink ResultSink) (*Engine, *logrustest.Hook) {
	log, hook := logrustest.NewNullLogger()
	return NewEngine(cfg, testDefaults, source, sink, nil, logrus.NewEntry(log)), hook
}

func TestReplayIsDeterministic(t *testing.T) {
	ticks := sawtooth("BTCUSDT", 10)
	a, err := Replay(context.Background(), runConfig("a", "BTCUSDT", 4), testDefaults, ticks)
	require.NoError(t, err)
	b, err := Replay(context.Background(), runConfig("a", "BTCUSDT", 4), testDefaults, ticks)
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.Equal(t, len(ticks), a.Ticks)
	require.Equal(t, ticks[0].At, a.StartTime)
	require.Equal(t, ticks[len(ticks)-1].At, a.EndTime)
	require.Greater(t, a.FinalCapital, 1000.0)
}

func TestRunIsolatesConfigurations(t *testing.T) {
	source := newMemorySource()
	source.ticks["BTCUSDT"] = sawtooth("BTCUSDT", 10)
	sink := &memorySink{}
	engine, _ := newTestEngine(Config{Workers: 2}, source, sink)

	batch, err := engine.Run(context.Background(), "req-1", []RunConfig{
		runConfig("btc-4", "BTCUSDT", 4),
		runConfig("btc-8", "BTCUSDT", 8),
		runConfig("xrp-4", "XRPUSDT", 4),
	}, window())
	require.NoError(t, err)

	require.Equal(t, "req-1", batch.RequestID)
	require.Equal(t, StatusPartial, batch.Status)
	require.Len(t, batch.Results, 3)

	four, eight, missing := batch.Results[0], batch.Results[1], batch.Results[2]
	require.Equal(t, "btc-4", four.ConfigID)
	require.False(t, four.Failed)
	require.False(t, eight.Failed)
	require.NotEqual(t, four.FinalCapital, eight.FinalCapital)

	require.True(t, missing.Failed)
	require.Contains(t, missing.Error, ErrNoTicks.Error())

	require.Len(t, sink.rows, 3)
	for _, row := range sink.rows {
		require.Equal(t, "req-1", row.RequestID)
	}

	alone, err := engine.Run(context.Background(), "req-2", []RunConfig{runConfig("btc-4", "BTCUSDT", 4)}, window())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, alone.Status)
	require.Equal(t, four.FinalCapital, alone.Results[0].FinalCapital)
}

func TestRunFetchesEachPairOnce(t *testing.T) {
	source := newMemorySource()
	source.ticks["BTCUSDT"] = sawtooth("BTCUSDT", 2)
	source.ticks["ETHUSDT"] = sawtooth("ETHUSDT", 2)
	engine, _ := newTestEngine(Config{Workers: 4}, source, nil)

	configs := []RunConfig{
		runConfig("b1", "BTCUSDT", 4),
		runConfig("b2", "BTCUSDT", 6),
		runConfig("e1", "ETHUSDT", 4),
		runConfig("b3", "BTCUSDT", 8),
	}
	batch, err := engine.Run(context.Background(), "", configs, window())
	require.NoError(t, err)
	require.NotEmpty(t, batch.RequestID)
	require.Equal(t, map[string]int{"BTCUSDT": 1, "ETHUSDT": 1}, source.calls)
}

func TestReplayResetsCapital(t *testing.T) {
	rc := runConfig("reset", "BTCUSDT", 4)
	rc.TakeProfitPct = 1

	res, err := Replay(context.Background(), rc, testDefaults, sawtooth("BTCUSDT", 10))
	require.NoError(t, err)
	require.Greater(t, res.Resets, 0)
	require.Greater(t, res.FinalCapital, 1000.0)
}

func TestRunConfigTimeout(t *testing.T) {
	source := newMemorySource()
	source.ticks["BTCUSDT"] = sawtooth("BTCUSDT", 500)
	engine, _ := newTestEngine(Config{Workers: 1, ConfigTimeout: time.Nanosecond}, source, nil)

	batch, err := engine.Run(context.Background(), "req", []RunConfig{runConfig("slow", "BTCUSDT", 4)}, window())
	require.NoError(t, err)
	require.Equal(t, StatusFailed, batch.Status)
	require.True(t, batch.Results[0].Failed)
	require.Contains(t, batch.Results[0].Error, context.DeadlineExceeded.Error())
}

func TestRunInvalidConfiguration(t *testing.T) {
	source := newMemorySource()
	source.ticks["BTCUSDT"] = sawtooth("BTCUSDT", 1)
	engine, _ := newTestEngine(Config{}, source, nil)

	batch, err := engine.Run(context.Background(), "req", []RunConfig{
		runConfig("bad", "BTCUSDT", 0),
		runConfig("good", "BTCUSDT", 4),
	}, window())
	require.NoError(t, err)
	require.Equal(t, StatusPartial, batch.Status)
	require.True(t, batch.Results[0].Failed)
	require.Contains(t, batch.Results[0].Error, grid.ErrInvalidConfig.Error())
	require.False(t, batch.Results[1].Failed)
}

func TestRunSinkErrorsAreLogged(t *testing.T) {
	source := newMemorySource()
	source.ticks["BTCUSDT"] = sawtooth("BTCUSDT", 1)
	engine, hook := newTestEngine(Config{}, source, &memorySink{err: errors.New("db down")})

	batch, err := engine.Run(context.Background(), "req", []RunConfig{runConfig("a", "BTCUSDT", 4)}, window())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, batch.Status)

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "Failed to save backtest result" {
			logged = true
		}
	}
	require.True(t, logged)
}

func TestRunRejectsEmptyWindow(t *testing.T) {
	engine, _ := newTestEngine(Config{}, newMemorySource(), nil)
	_, err := engine.Run(context.Background(), "req", nil, Window{From: t0, To: t0})
	require.Error(t, err)
}
