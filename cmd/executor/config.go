package executor

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Monitoring starts the /metrics, /snapshots and /execution server next to the live loop.
	Monitoring bool `envconfig:"MONITORING_ENABLED" default:"true"`
	// Persist journals live orders, exceptions and analyzer snapshots in the main database.
	Persist bool `envconfig:"ENABLE_DB" default:"true"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
