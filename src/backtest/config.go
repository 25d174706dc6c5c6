package backtest

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Workers bounds the configurations replayed at once; 0 means GOMAXPROCS.
	Workers       int           `envconfig:"BACKTEST_WORKERS" default:"0"`
	ConfigTimeout time.Duration `envconfig:"BACKTEST_CONFIG_TIMEOUT" default:"2m"`
	// TickInterval is the candle size replayed as one tick.
	TickInterval time.Duration `envconfig:"BACKTEST_TICK_INTERVAL" default:"1m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
