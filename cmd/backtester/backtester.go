// Package backtester replays stored candles through the simulation parameter
// grid and prints the batch outcome.
package backtester

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"gridexecutor/src/backtest"
	"gridexecutor/src/database"
	"gridexecutor/src/grid"
	"gridexecutor/src/observability"
	"gridexecutor/src/repository"
	"gridexecutor/src/simulation"
)

type Backtester struct {
	Log *logrus.Entry
	Out io.Writer
}

func (b *Backtester) Start() error {
	config := GetConfig()
	engineCfg := backtest.GetConfig()
	if b.Log == nil {
		b.Log = logrus.WithField("cmd", "backtest")
	}
	if b.Out == nil {
		b.Out = os.Stdout
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.InitMainDB(); err != nil {
		b.Log.WithError(err).Error("Failed to connect to main database")
		return err
	}
	if err := database.InitReadOnlyDB(); err != nil {
		b.Log.WithError(err).Warn("Read-only database unavailable, reading candles from the main database")
	}

	var sink backtest.ResultSink
	if config.Persist {
		sink = repository.NewBacktestResultRepository()
	}
	source := repository.NewOHLCVRepository(engineCfg.TickInterval)
	defaults := grid.GetConfig()

	runs, window, err := plan(*config, simulation.GetConfig(), defaults, time.Now().UTC())
	if err != nil {
		return err
	}

	engine := backtest.NewEngine(engineCfg, defaults, source, sink, observability.NewMetrics(nil), b.Log)
	batch, err := engine.Run(ctx, config.RequestID, runs, window)
	if err != nil {
		b.Log.WithError(err).Error("Backtest batch failed")
		return err
	}
	return report(b.Out, batch)
}

// plan expands the simulation parameter grid into backtest runs and resolves the window.
func plan(cfg Config, sim simulation.Config, defaults grid.Defaults, now time.Time) ([]backtest.RunConfig, backtest.Window, error) {
	to := cfg.To
	if to.IsZero() {
		to = now
	}
	from := cfg.From
	if from.IsZero() {
		from = to.Add(-cfg.Lookback)
	}

	configs, err := sim.Configs(defaults)
	if err != nil {
		return nil, backtest.Window{}, err
	}
	runs := make([]backtest.RunConfig, len(configs))
	for i, c := range configs {
		runs[i] = backtest.RunConfig{
			Grid:          c,
			TakeProfitPct: cfg.ResetTakeProfitPct,
			StopLossPct:   cfg.ResetStopLossPct,
		}
	}
	return runs, backtest.Window{From: from, To: to}, nil
}

func report(out io.Writer, batch *backtest.BatchResult) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(batch)
}
