// Package executors wires the simulation roster, the live execution manager
// and the exchange price feed into the long-running live process.
package executors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gridexecutor/src/connectors"
	"gridexecutor/src/execution"
	"gridexecutor/src/instrument"
	"gridexecutor/src/model"
	"gridexecutor/src/observability"
	"gridexecutor/src/repository"
	"gridexecutor/src/risk"
	"gridexecutor/src/security"
	"gridexecutor/src/simulation"
)

var (
	ErrUnsupportedExchange = errors.New("unsupported exchange")
	ErrMissingCredentials  = errors.New("exchange api key/secret not set")
)

// newExchangeClient builds the signed client for TARGET_EXCHANGE.
var newExchangeClient = func(target, apiKey, apiSecret string, conn connectors.Config, log *logger.Entry) (connectors.ExchangeClient, error) {
	switch strings.ToLower(target) {
	case "phemex":
		return connectors.NewClient(apiKey, apiSecret, conn.PhemexBaseURL, conn.HedgeMode, conn.HTTPTimeout), nil
	case "binance":
		return connectors.NewBinanceClient(apiKey, apiSecret, conn, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExchange, target)
	}
}

// newOrderStream opens the pushed order updates of TARGET_EXCHANGE. Exchanges
// without a stream return nil and rely on Reconcile polling alone.
var newOrderStream = func(target, apiKey, apiSecret string, conn connectors.Config, deps Deps) connectors.OrderStream {
	if strings.ToLower(target) != "phemex" || conn.PhemexWSURL == "" {
		return nil
	}
	return connectors.NewPhemexOrderStream(apiKey, apiSecret, conn, deps.Metrics, deps.Log)
}

// Deps are the persistence and observability collaborators of the live loop.
// Every field is optional.
type Deps struct {
	Snapshots  simulation.SnapshotSink
	Journal    execution.Journal
	Exceptions *repository.ExceptionRepository
	Metrics    *observability.Metrics
	Log        *logger.Entry
}

// Live is the wired live process: every tick is fanned out to the simulation
// roster first and then mirrored by the execution manager.
type Live struct {
	Runner  *simulation.Runner
	Manager *execution.Manager

	cfg    Config
	pairs  []string
	feed   *connectors.PollingPriceFeed
	stream connectors.OrderStream
	log    *logger.Entry
}

// Build decrypts the exchange credentials, connects to the exchange and wires
// the live process.
func Build(ctx context.Context, s Settings, deps Deps) (*Live, error) {
	if deps.Log == nil {
		deps.Log = logger.NewEntry(logger.StandardLogger())
	}
	if s.Loop.APIKey == "" || s.Loop.APISecret == "" {
		return nil, ErrMissingCredentials
	}

	apiKey, err := security.DecryptString(s.Loop.APIKey)
	if err != nil {
		deps.Log.WithError(err).Error("Failed to decrypt API Key")
		return nil, err
	}
	apiSecret, err := security.DecryptString(s.Loop.APISecret)
	if err != nil {
		deps.Log.WithError(err).Error("Failed to decrypt API Secret")
		return nil, err
	}

	conn := connectors.GetConfig()
	client, err := newExchangeClient(s.Loop.TargetExchange, apiKey, apiSecret, conn, deps.Log)
	if err != nil {
		return nil, err
	}
	retrying := connectors.NewRetryingClient(client, conn.RetryAttempts, deps.Metrics, deps.Log)
	live, err := NewLive(ctx, s, retrying, deps)
	if err != nil {
		return nil, err
	}
	if s.Loop.OrderStream {
		live.stream = newOrderStream(s.Loop.TargetExchange, apiKey, apiSecret, conn, deps)
	}
	return live, nil
}

// NewLive loads instrument rules and starting prices for every simulated pair
// and builds the roster, the runner and the execution manager on client.
func NewLive(ctx context.Context, s Settings, client connectors.ExchangeClient, deps Deps) (*Live, error) {
	log := deps.Log
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	log = log.WithFields(logger.Fields{"component": "live", "exchange": client.Name()})

	if s.Loop.StartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Loop.StartupTimeout)
		defer cancel()
	}

	pairs := s.Simulation.Pairs
	instruments, err := instrument.Load(ctx, client, pairs)
	if err != nil {
		return nil, err
	}

	feed := connectors.NewPollingPriceFeed(client, pairs, s.Loop.PollInterval, log)
	centers := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		tick, err := feed.NextTick(ctx, pair)
		if err != nil {
			return nil, fmt.Errorf("starting price %s: %w", pair, err)
		}
		centers[pair] = tick.Price
	}

	configs, err := s.Simulation.Configs(s.Grid)
	if err != nil {
		return nil, err
	}
	roster, err := simulation.NewRoster(configs, centers, time.Now())
	if err != nil {
		return nil, err
	}
	runner := simulation.NewRunner(s.Simulation, roster, deps.Snapshots, deps.Metrics, log)

	manager := execution.NewManager(s.Execution, execution.Deps{
		Exchange:    client,
		Instruments: instruments,
		Picker:      runner,
		Gate:        risk.NewSessionGate(s.Session.Multipliers()),
		Journal:     deps.Journal,
		Exceptions:  deps.Exceptions,
		Metrics:     deps.Metrics,
		Log:         log,
	})

	log.WithFields(map[string]interface{}{
		"pairs":     pairs,
		"instances": len(configs),
	}).Info("Live process wired")

	return &Live{
		Runner:  runner,
		Manager: manager,
		cfg:     s.Loop,
		pairs:   pairs,
		feed:    feed,
		log:     log,
	}, nil
}

// Run polls prices until ctx ends or a fatal exchange error occurs. Pushed
// order updates are applied as they arrive when a stream is wired, and resting
// orders are reconciled against the exchange every ReconcileInterval.
func (l *Live) Run(ctx context.Context) error {
	ticks := make(chan model.PriceTick, 4*len(l.pairs)+1)
	var events chan model.OrderEvent

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ticks)
		return l.feed.Run(gctx, ticks)
	})
	if l.stream != nil {
		events = make(chan model.OrderEvent, 64)
		g.Go(func() error {
			return l.stream.Run(gctx, events)
		})
	}
	g.Go(func() error {
		return l.consume(gctx, ticks, events)
	})

	err := g.Wait()
	if err != nil {
		l.log.WithError(err).Error("Live loop stopped")
		return err
	}
	l.log.Info("Live loop stopped")
	return nil
}

func (l *Live) consume(ctx context.Context, ticks <-chan model.PriceTick, events <-chan model.OrderEvent) error {
	interval := l.cfg.ReconcileInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	reconcile := time.NewTicker(interval)
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			if err := l.onTick(ctx, tick); err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// resting acknowledgements carry nothing to apply
			if ev.Status == model.OrderStatusNew {
				continue
			}
			if err := l.Manager.OnExchangeOrderEvent(ctx, ev); err != nil {
				if stop := l.stopOn(err); stop != nil {
					return stop
				}
			}
		case <-reconcile.C:
			if err := l.Manager.Reconcile(ctx); err != nil {
				if stop := l.stopOn(err); stop != nil {
					return stop
				}
			}
		}
	}
}

func (l *Live) onTick(ctx context.Context, tick model.PriceTick) error {
	if err := l.Runner.OnTick(ctx, tick); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	if err := l.Manager.OnPriceTick(ctx, tick.Pair, tick.Price); err != nil {
		return l.stopOn(err)
	}
	return nil
}

// stopOn returns err when the loop must stop. Anything else has already been
// captured by the manager and only costs one attempt.
func (l *Live) stopOn(err error) error {
	switch {
	case connectors.IsFatal(err):
		return err
	case errors.Is(err, context.Canceled):
		return nil
	default:
		l.log.WithError(err).Error("Live execution attempt failed")
		return nil
	}
}
