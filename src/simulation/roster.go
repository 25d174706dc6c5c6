// Package simulation runs the roster of grid instances that compete for the
// live capital.
package simulation

import (
	"fmt"
	"strconv"
	"time"

	"gridexecutor/src/grid"
)

func exitKind(name string) (grid.ExitPolicyKind, error) {
	switch name {
	case "", "capital_percent":
		return grid.ExitPolicyCapitalPercent, nil
	case "margin_roi":
		return grid.ExitPolicyMarginROI, nil
	}
	return 0, fmt.Errorf("%w: unknown exit kind %q", grid.ErrInvalidConfig, name)
}

func orDefault[T any](values []T, def T) []T {
	if len(values) == 0 {
		return []T{def}
	}
	return values
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Configs expands the parameter grid into one configuration per combination.
// IDs encode every parameter so they are stable across restarts.
func (c Config) Configs(defaults grid.Defaults) ([]grid.Config, error) {
	kind, err := exitKind(c.ExitKind)
	if err != nil {
		return nil, err
	}

	var out []grid.Config
	for _, pair := range c.Pairs {
		for _, n := range c.GridSizes {
			for _, d := range c.DiapasonPcts {
				for _, mult := range orDefault(c.Multipliers, 1) {
					for _, tp := range orDefault(c.TakeProfitPct, 0) {
						for _, sl := range orDefault(c.StopLossPct, 0) {
							cfg := grid.Config{
								ID:          fmt.Sprintf("%s-n%d-d%s-x%s-%s-tp%s-sl%s", pair, n, num(d), num(mult), kind, num(tp), num(sl)),
								Pair:        pair,
								Capital:     c.Capital,
								Multiplier:  mult,
								DiapasonPct: d,
								GridSize:    n,
								Exit:        grid.ExitPolicy{Kind: kind, TakeProfitPct: tp, StopLossPct: sl},
								HedgeMode:   c.HedgeMode,
							}.WithDefaults(defaults)
							if err := cfg.Validate(); err != nil {
								return nil, fmt.Errorf("config %s: %w", cfg.ID, err)
							}
							out = append(out, cfg)
						}
					}
				}
			}
		}
	}
	return out, nil
}

// Roster is the fixed set of simulation instances, grouped by pair.
type Roster struct {
	all     []*grid.Strategy
	byPair  map[string][]*grid.Strategy
	centers map[string]float64
}

// NewRoster builds every configuration around the current price of its pair.
func NewRoster(configs []grid.Config, centers map[string]float64, at time.Time) (*Roster, error) {
	r := &Roster{byPair: make(map[string][]*grid.Strategy), centers: make(map[string]float64)}
	for _, cfg := range configs {
		center, ok := centers[cfg.Pair]
		if !ok {
			return nil, fmt.Errorf("no center price for %s", cfg.Pair)
		}
		s, err := grid.New(cfg, center, at)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", cfg.ID, err)
		}
		r.centers[cfg.Pair] = center
		r.all = append(r.all, s)
		r.byPair[cfg.Pair] = append(r.byPair[cfg.Pair], s)
	}
	return r, nil
}

func (r *Roster) All() []*grid.Strategy { return r.all }

func (r *Roster) Pair(pair string) []*grid.Strategy { return r.byPair[pair] }

// Pairs lists the pairs with at least one instance.
func (r *Roster) Pairs() []string {
	out := make([]string, 0, len(r.byPair))
	for p := range r.byPair {
		out = append(out, p)
	}
	return out
}

// Get finds an instance by id.
func (r *Roster) Get(id string) (*grid.Strategy, bool) {
	for _, s := range r.all {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}
