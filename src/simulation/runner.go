package simulation

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gridexecutor/src/execution"
	"gridexecutor/src/grid"
	"gridexecutor/src/leaderboard"
	"gridexecutor/src/model"
	"gridexecutor/src/observability"
)

// SnapshotSink persists analyzer snapshots of the roster.
type SnapshotSink interface {
	CreateBatch(ctx context.Context, snaps []*model.AnalyzerSnapshot) error
}

var _ execution.Picker = (*Runner)(nil)

// Runner advances the roster tick by tick, ranks it and exposes the best
// instance to live execution.
type Runner struct {
	cfg     Config
	roster  *Roster
	board   *leaderboard.Leaderboard
	sink    SnapshotSink
	metrics *observability.Metrics
	log     *logrus.Entry

	mu           sync.Mutex
	lastPrice    map[string]float64
	lastRank     time.Time
	lastSnapshot time.Time
}

// NewRunner wires a runner over roster. sink, metrics and log may be nil.
func NewRunner(cfg Config, roster *Roster, sink SnapshotSink, metrics *observability.Metrics, log *logrus.Entry) *Runner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	candidates := make([]leaderboard.Candidate, 0, len(roster.all))
	for _, s := range roster.all {
		candidates = append(candidates, s)
	}
	lastPrice := make(map[string]float64, len(roster.centers))
	for pair, c := range roster.centers {
		lastPrice[pair] = c
	}
	return &Runner{
		cfg:       cfg,
		roster:    roster,
		board:     leaderboard.New(candidates, log),
		sink:      sink,
		metrics:   metrics,
		log:       log.WithField("component", "simulation"),
		lastPrice: lastPrice,
	}
}

// OnTick advances every instance of the tick's pair in parallel and waits for
// all of them before returning, so each instance sees its ticks in order.
// OnTick itself must not be called concurrently.
func (r *Runner) OnTick(ctx context.Context, tick model.PriceTick) error {
	instances := r.roster.Pair(tick.Pair)
	if len(instances) == 0 || tick.Price <= 0 {
		return nil
	}

	r.mu.Lock()
	prev, ok := r.lastPrice[tick.Pair]
	if !ok {
		prev = tick.Price
	}
	r.lastPrice[tick.Pair] = tick.Price
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, s := range instances {
		if s.Dead() {
			continue
		}
		g.Go(func() error {
			res := s.AcceptPriceChange(prev, tick.Price, tick.At)
			if res.Recentered {
				r.metrics.RecordRecenter(res.RecenterReason)
			}
			if res.Died {
				r.metrics.RecordDeath()
				r.log.WithFields(map[string]interface{}{
					"instance": s.ID(),
					"pair":     tick.Pair,
					"price":    tick.Price,
				}).Info("Simulation instance died")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.metrics.RecordTick(tick.Pair)

	r.mu.Lock()
	rank := r.cfg.LeaderboardInterval <= 0 || tick.At.Sub(r.lastRank) >= r.cfg.LeaderboardInterval
	if rank {
		r.lastRank = tick.At
	}
	snapshot := r.sink != nil && r.cfg.SnapshotInterval > 0 && tick.At.Sub(r.lastSnapshot) >= r.cfg.SnapshotInterval
	if snapshot {
		r.lastSnapshot = tick.At
	}
	r.mu.Unlock()

	if rank {
		r.board.Rank()
		r.metrics.RecordRankingPass()
	}
	if snapshot {
		if err := r.PersistSnapshots(ctx, tick.At); err != nil {
			r.log.WithError(err).Error("Failed to persist analyzer snapshots")
		}
	}
	return ctx.Err()
}

// Pick returns the instance standing highest in both rankings.
func (r *Runner) Pick() (execution.Source, bool) {
	c, ok := r.board.GetHigherPlaceByBalanceAndOrder(r.cfg.LeaderboardGap)
	if !ok {
		return nil, false
	}
	s, ok := c.(*grid.Strategy)
	return s, ok
}

func (r *Runner) Leaderboard() *leaderboard.Leaderboard { return r.board }

// Snapshots returns a runtime snapshot of every instance, richest first.
func (r *Runner) Snapshots() []grid.Snapshot {
	out := make([]grid.Snapshot, 0, len(r.roster.all))
	for _, s := range r.roster.all {
		out = append(out, s.RuntimeSnapshot())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].WalletValue > out[j].WalletValue
	})
	return out
}

// PersistSnapshots stores one analyzer snapshot per instance taken at at.
func (r *Runner) PersistSnapshots(ctx context.Context, at time.Time) error {
	if r.sink == nil {
		return nil
	}
	snaps := make([]*model.AnalyzerSnapshot, 0, len(r.roster.all))
	for _, s := range r.roster.all {
		snap := s.RuntimeSnapshot()
		row, err := model.NewAnalyzerSnapshot(snap.ID, snap.Pair, at, snap.Document())
		if err != nil {
			return err
		}
		snaps = append(snaps, row)
	}
	return r.sink.CreateBatch(ctx, snaps)
}
