package execution

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	SwitchInterval  time.Duration `envconfig:"SWITCH_INTERVAL" default:"1m"`
	SwitchMarginPct float64       `envconfig:"SWITCH_MARGIN_PCT" default:"0.5"`
	LeaderboardGap  int           `envconfig:"LEADERBOARD_GAP" default:"4"`

	OrderFillTimeout  time.Duration `envconfig:"ORDER_FILL_TIMEOUT" default:"30s"`
	CallTimeout       time.Duration `envconfig:"EXCHANGE_CALL_TIMEOUT" default:"10s"`
	DetachedRetention time.Duration `envconfig:"DETACHED_ORDER_RETENTION" default:"10m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
