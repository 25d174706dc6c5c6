package backtester

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// From and To bound the replayed window. A zero From replays Lookback up to To,
	// and a zero To means now.
	From     time.Time     `envconfig:"BACKTEST_FROM"`
	To       time.Time     `envconfig:"BACKTEST_TO"`
	Lookback time.Duration `envconfig:"BACKTEST_LOOKBACK" default:"168h"`

	RequestID string `envconfig:"BACKTEST_REQUEST_ID"`
	// Capital-reset bounds applied to every configuration; 0 disables a side.
	ResetTakeProfitPct float64 `envconfig:"BACKTEST_RESET_TAKE_PROFIT_PCT" default:"0"`
	ResetStopLossPct   float64 `envconfig:"BACKTEST_RESET_STOP_LOSS_PCT" default:"0"`
	Persist            bool    `envconfig:"ENABLE_DB" default:"true"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
