package simulation

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config describes the parameter grid of the simulation roster and how often
// it is ranked and snapshotted.
type Config struct {
	Pairs        []string  `envconfig:"SIM_PAIRS" default:"BTCUSDT,ETHUSDT"`
	Capital      float64   `envconfig:"SIM_CAPITAL" default:"1000"`
	GridSizes    []int     `envconfig:"SIM_GRID_SIZES" default:"10,20,40"`
	DiapasonPcts []float64 `envconfig:"SIM_DIAPASON_PCTS" default:"1,2,5"`
	Multipliers  []float64 `envconfig:"SIM_MULTIPLIERS" default:"1,3"`
	// ExitKind is capital_percent or margin_roi.
	ExitKind      string    `envconfig:"SIM_EXIT_KIND" default:"capital_percent"`
	TakeProfitPct []float64 `envconfig:"SIM_TAKE_PROFIT_PCTS" default:"0"`
	StopLossPct   []float64 `envconfig:"SIM_STOP_LOSS_PCTS" default:"0"`
	HedgeMode     bool      `envconfig:"EXCHANGE_HEDGE_MODE" default:"true"`

	// LeaderboardInterval throttles ranking passes; 0 ranks on every tick.
	LeaderboardInterval time.Duration `envconfig:"LEADERBOARD_INTERVAL" default:"0s"`
	SnapshotInterval    time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"1m"`
	LeaderboardGap      int           `envconfig:"LEADERBOARD_GAP" default:"4"`
	Workers             int           `envconfig:"SIM_WORKERS" default:"0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
