package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"gridexecutor/src/execution"
	"gridexecutor/src/grid"
	"gridexecutor/src/risk"
	"gridexecutor/src/simulation"
)

type Config struct {
	TargetExchange string `envconfig:"TARGET_EXCHANGE" default:"phemex"`
	// Credentials as produced by the encrypt_key command.
	APIKey    string `envconfig:"EXCHANGE_API_KEY"`
	APISecret string `envconfig:"EXCHANGE_API_SECRET"`

	PollInterval      time.Duration `envconfig:"PRICE_POLL_INTERVAL" default:"1s"`
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"30s"`
	StartupTimeout    time.Duration `envconfig:"STARTUP_TIMEOUT" default:"30s"`
	// Apply pushed order updates on exchanges with a private stream.
	OrderStream bool `envconfig:"ORDER_STREAM_ENABLED" default:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Settings gathers the configuration of every component the live loop wires.
type Settings struct {
	Loop       Config
	Simulation simulation.Config
	Execution  execution.Config
	Session    risk.Config
	Grid       grid.Defaults
}

func LoadSettings() Settings {
	return Settings{
		Loop:       GetConfig(),
		Simulation: simulation.GetConfig(),
		Execution:  execution.GetConfig(),
		Session:    risk.GetConfig(),
		Grid:       grid.GetConfig(),
	}
}
