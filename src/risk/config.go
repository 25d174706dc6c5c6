package risk

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config scales live order sizes by New York trading session. All multipliers
// default to 1 so only the no-trade window changes live behaviour out of the box.
type Config struct {
	EnableNoTradeWindow bool    `envconfig:"SESSION_NO_TRADE_WINDOW" default:"false"`
	WeekendHoliday      float64 `envconfig:"SESSION_WEEKEND_MULTIPLIER" default:"1"`
	DeadZone            float64 `envconfig:"SESSION_DEAD_ZONE_MULTIPLIER" default:"1"`
	Asia                float64 `envconfig:"SESSION_ASIA_MULTIPLIER" default:"1"`
	London              float64 `envconfig:"SESSION_LONDON_MULTIPLIER" default:"1"`
	US                  float64 `envconfig:"SESSION_US_MULTIPLIER" default:"1"`
	Default             float64 `envconfig:"SESSION_DEFAULT_MULTIPLIER" default:"1"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Multipliers converts the env config into session multipliers.
func (c Config) Multipliers() SessionMultipliers {
	return SessionMultipliers{
		WeekendHoliday:      decimal.NewFromFloat(c.WeekendHoliday),
		DeadZone:            decimal.NewFromFloat(c.DeadZone),
		Asia:                decimal.NewFromFloat(c.Asia),
		London:              decimal.NewFromFloat(c.London),
		US:                  decimal.NewFromFloat(c.US),
		Default:             decimal.NewFromFloat(c.Default),
		EnableNoTradeWindow: c.EnableNoTradeWindow,
	}
}
