// Package backtest replays stored price history through many grid
// configurations in parallel.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gridexecutor/src/grid"
	"gridexecutor/src/model"
	"gridexecutor/src/observability"
)

// ErrNoTicks fails a configuration whose pair has no history in the window.
var ErrNoTicks = errors.New("no ticks for pair in window")

// ctxCheckEvery is how many ticks are replayed between deadline checks.
const ctxCheckEvery = 256

// TickSource returns the ticks of pair in [from, to), oldest first.
type TickSource interface {
	FetchTicks(ctx context.Context, pair string, from, to time.Time) ([]model.PriceTick, error)
}

// ResultSink persists configuration outcomes keyed by request id.
type ResultSink interface {
	SaveResult(ctx context.Context, requestID string, result *model.BacktestResult) error
}

// Window is the half-open time range replayed for every pair.
type Window struct {
	From time.Time
	To   time.Time
}

// RunConfig is one grid configuration plus its capital-reset bounds. A zero
// bound disables that side of the reset rule.
type RunConfig struct {
	Grid          grid.Config
	TakeProfitPct float64
	StopLossPct   float64
}

type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// ConfigResult is the outcome of one configuration.
type ConfigResult struct {
	ConfigID       string    `json:"config_id"`
	Pair           string    `json:"pair"`
	InitialCapital float64   `json:"initial_capital"`
	FinalCapital   float64   `json:"final_capital"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Ticks          int       `json:"ticks"`
	Resets         int       `json:"resets"`
	Failed         bool      `json:"failed"`
	Error          string    `json:"error,omitempty"`
}

func (r ConfigResult) record() *model.BacktestResult {
	return &model.BacktestResult{
		ConfigID:       r.ConfigID,
		Pair:           r.Pair,
		InitialCapital: r.InitialCapital,
		FinalCapital:   r.FinalCapital,
		Resets:         r.Resets,
		Ticks:          r.Ticks,
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		Failed:         r.Failed,
		Error:          r.Error,
	}
}

// BatchResult holds one result per configuration in input order.
type BatchResult struct {
	RequestID string         `json:"request_id"`
	Status    Status         `json:"status"`
	Results   []ConfigResult `json:"results"`
}

type Engine struct {
	cfg      Config
	defaults grid.Defaults
	source   TickSource
	sink     ResultSink
	metrics  *observability.Metrics
	log      *logrus.Entry
}

// NewEngine wires an engine. sink, metrics and log may be nil.
func NewEngine(cfg Config, defaults grid.Defaults, source TickSource, sink ResultSink, metrics *observability.Metrics, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		cfg:      cfg,
		defaults: defaults,
		source:   source,
		sink:     sink,
		metrics:  metrics,
		log:      log.WithField("component", "backtest"),
	}
}

// Run replays window through every configuration. Ticks are fetched once per
// distinct pair. A failing configuration is marked failed and never aborts the
// others; only a cancelled ctx or an invalid window fail the call.
func (e *Engine) Run(ctx context.Context, requestID string, configs []RunConfig, window Window) (*BatchResult, error) {
	if !window.From.Before(window.To) {
		return nil, fmt.Errorf("backtest window %s..%s is empty", window.From, window.To)
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	start := time.Now()
	defer e.metrics.RecordBacktestBatch(start)

	log := e.log.WithFields(map[string]interface{}{
		"requestId": requestID,
		"configs":   len(configs),
		"from":      window.From,
		"to":        window.To,
	})
	log.Info("Backtest batch started")

	history, err := e.fetch(ctx, configs, window)
	if err != nil {
		return nil, err
	}

	results := make([]ConfigResult, len(configs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, rc := range configs {
		g.Go(func() error {
			results[i] = e.runOne(gctx, rc, history[rc.Grid.Pair])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := &BatchResult{RequestID: requestID, Results: results}
	failed := 0
	for i := range results {
		if results[i].Failed {
			failed++
			e.metrics.RecordBacktestConfig(string(StatusFailed))
		} else {
			e.metrics.RecordBacktestConfig(string(StatusCompleted))
		}
		e.save(ctx, requestID, results[i])
	}
	switch {
	case failed == 0:
		batch.Status = StatusCompleted
	case failed == len(results):
		batch.Status = StatusFailed
	default:
		batch.Status = StatusPartial
	}

	log.WithFields(map[string]interface{}{
		"status":   batch.Status,
		"failed":   failed,
		"duration": time.Since(start).String(),
	}).Info("Backtest batch finished")
	return batch, nil
}

type pairHistory struct {
	ticks []model.PriceTick
	err   error
}

// fetch loads every distinct pair once, concurrently. Fetch errors are kept per pair.
func (e *Engine) fetch(ctx context.Context, configs []RunConfig, window Window) (map[string]pairHistory, error) {
	var (
		mu      sync.Mutex
		history = make(map[string]pairHistory)
	)
	seen := make(map[string]bool)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, rc := range configs {
		pair := rc.Grid.Pair
		if seen[pair] {
			continue
		}
		seen[pair] = true
		g.Go(func() error {
			ticks, err := e.source.FetchTicks(gctx, pair, window.From, window.To)
			if err == nil && len(ticks) == 0 {
				err = ErrNoTicks
			}
			if err != nil {
				e.log.WithField("pair", pair).WithError(err).Warn("No history for pair")
			}
			mu.Lock()
			history[pair] = pairHistory{ticks: ticks, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

func (e *Engine) runOne(ctx context.Context, rc RunConfig, h pairHistory) ConfigResult {
	res := ConfigResult{ConfigID: rc.Grid.ID, Pair: rc.Grid.Pair, InitialCapital: rc.Grid.Capital}
	if h.err != nil {
		return failed(res, fmt.Errorf("fetch %s: %w", rc.Grid.Pair, h.err))
	}

	if e.cfg.ConfigTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ConfigTimeout)
		defer cancel()
	}

	out, err := Replay(ctx, rc, e.defaults, h.ticks)
	if err != nil {
		e.log.WithFields(map[string]interface{}{
			"config": rc.Grid.ID,
			"pair":   rc.Grid.Pair,
		}).WithError(err).Warn("Backtest configuration failed")
		return failed(out, err)
	}
	return out
}

func failed(res ConfigResult, err error) ConfigResult {
	res.Failed = true
	res.Error = err.Error()
	return res
}

// Replay drives one configuration through ticks. When capital with open
// positions crosses base·(1+TakeProfitPct%) or base·(1−StopLossPct%), the
// instance is closed out and a fresh one is built at the current price with the
// banked capital. A dead instance ends the replay.
func Replay(ctx context.Context, rc RunConfig, defaults grid.Defaults, ticks []model.PriceTick) (ConfigResult, error) {
	res := ConfigResult{ConfigID: rc.Grid.ID, Pair: rc.Grid.Pair, InitialCapital: rc.Grid.Capital}
	if len(ticks) == 0 {
		return res, ErrNoTicks
	}

	cfg := rc.Grid.WithDefaults(defaults)
	first := ticks[0]
	strat, err := grid.New(cfg, first.Price, first.At)
	if err != nil {
		return res, err
	}
	res.StartTime = first.At
	res.EndTime = first.At
	res.Ticks = 1

	base := cfg.Capital
	prev := first.Price
	for i, t := range ticks[1:] {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				res.FinalCapital = strat.CapitalWithOpenPositions(prev)
				return res, fmt.Errorf("replay stopped after %d ticks: %w", res.Ticks, err)
			}
		}

		strat.AcceptPriceChange(prev, t.Price, t.At)
		prev = t.Price
		res.Ticks++
		res.EndTime = t.At
		if strat.Dead() {
			break
		}

		if !resetCrossed(strat.CapitalWithOpenPositions(t.Price), base, rc) {
			continue
		}
		banked, _ := strat.CloseAll(t.Price)
		if banked <= 0 || strat.Dead() {
			break
		}
		cfg.Capital = banked
		if strat, err = grid.New(cfg, t.Price, t.At); err != nil {
			return res, err
		}
		base = banked
		res.Resets++
	}

	res.FinalCapital = strat.CapitalWithOpenPositions(prev)
	return res, nil
}

func resetCrossed(value, base float64, rc RunConfig) bool {
	if rc.TakeProfitPct > 0 && value >= base*(1+rc.TakeProfitPct/100) {
		return true
	}
	return rc.StopLossPct > 0 && value <= base*(1-rc.StopLossPct/100)
}

func (e *Engine) save(ctx context.Context, requestID string, res ConfigResult) {
	if e.sink == nil {
		return
	}
	if err := e.sink.SaveResult(ctx, requestID, res.record()); err != nil {
		e.log.WithFields(map[string]interface{}{
			"requestId": requestID,
			"config":    res.ConfigID,
		}).WithError(err).Error("Failed to save backtest result")
	}
}
