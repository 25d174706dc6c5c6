package grid

import (
	"fmt"
	"gridexecutor/src/model"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Defaults are the tuning knobs shared by every grid instance unless a configuration overrides them.
type Defaults struct {
	FeeRate          float64       `envconfig:"GRID_FEE_RATE" default:"0.00055"`
	OutOfBoundsTicks int           `envconfig:"GRID_OUT_OF_BOUNDS_TICKS" default:"100"`
	MiddleCrossTicks int           `envconfig:"GRID_MIDDLE_CROSS_TICKS" default:"1500"`
	RecenterInterval time.Duration `envconfig:"GRID_RECENTER_INTERVAL" default:"3h"`
}

func GetConfig() Defaults {
	var config Defaults
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// ExitPolicyKind selects how a position's take-profit and stop-loss thresholds are measured.
type ExitPolicyKind int

const (
	// ExitPolicyCapitalPercent compares position profit with a percentage of capital.
	ExitPolicyCapitalPercent ExitPolicyKind = iota
	// ExitPolicyMarginROI compares position profit with the margin backing it.
	ExitPolicyMarginROI
)

func (k ExitPolicyKind) String() string {
	if k == ExitPolicyMarginROI {
		return "margin_roi"
	}
	return "capital_percent"
}

// ExitPolicy thresholds are percentages; zero disables that side.
type ExitPolicy struct {
	Kind          ExitPolicyKind `json:"kind"`
	TakeProfitPct float64        `json:"take_profit_pct"`
	StopLossPct   float64        `json:"stop_loss_pct"`
}

// Config fully describes one grid instance.
type Config struct {
	ID          string  `json:"id"`
	Pair        string  `json:"pair"`
	Capital     float64 `json:"capital"`
	Multiplier  float64 `json:"multiplier"`
	DiapasonPct float64 `json:"diapason_pct"`
	GridSize    int     `json:"grid_size"`

	MinPriceStep float64 `json:"min_price_step"`
	MinQtyStep   float64 `json:"min_qty_step"`

	FeeRate          float64       `json:"fee_rate"`
	OutOfBoundsTicks int           `json:"out_of_bounds_ticks"`
	MiddleCrossTicks int           `json:"middle_cross_ticks"`
	RecenterInterval time.Duration `json:"recenter_interval"`

	Exit      ExitPolicy `json:"exit"`
	HedgeMode bool       `json:"hedge_mode"`

	// ExternalFills leaves armed orders pending until ConfirmFill is called.
	ExternalFills bool `json:"external_fills"`
}

// Disabled turns off a drift trigger in a configuration. Zero means "use the
// default", so a negative value is how a configuration opts out.
const Disabled = -1

// WithDefaults fills every unset (zero) tuning field from d. Negative drift
// settings are kept and disable their trigger.
func (c Config) WithDefaults(d Defaults) Config {
	if c.FeeRate == 0 {
		c.FeeRate = d.FeeRate
	}
	if c.OutOfBoundsTicks == 0 {
		c.OutOfBoundsTicks = d.OutOfBoundsTicks
	}
	if c.MiddleCrossTicks == 0 {
		c.MiddleCrossTicks = d.MiddleCrossTicks
	}
	if c.RecenterInterval == 0 {
		c.RecenterInterval = d.RecenterInterval
	}
	return c
}

// Validate rejects configurations a lattice cannot be built from.
func (c Config) Validate() error {
	switch {
	case c.GridSize <= 0:
		return fmt.Errorf("%w: grid size %d", ErrInvalidConfig, c.GridSize)
	case c.Capital <= 0:
		return fmt.Errorf("%w: capital %v", ErrInvalidConfig, c.Capital)
	case c.DiapasonPct <= 0:
		return fmt.Errorf("%w: diapason %v%%", ErrInvalidConfig, c.DiapasonPct)
	case c.Multiplier <= 0:
		return fmt.Errorf("%w: multiplier %v", ErrInvalidConfig, c.Multiplier)
	case c.MinPriceStep < 0 || c.MinQtyStep < 0:
		return fmt.Errorf("%w: negative step", ErrInvalidConfig)
	case c.FeeRate < 0:
		return fmt.Errorf("%w: fee rate %v", ErrInvalidConfig, c.FeeRate)
	}
	return nil
}

// Kind maps the exit policy onto the analyzer document kind.
func (c Config) Kind() model.StrategyKind {
	if c.Exit.Kind == ExitPolicyMarginROI {
		return model.StrategyKindGridMarginROI
	}
	return model.StrategyKindGridCapitalPercent
}
