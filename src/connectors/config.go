package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	PhemexBaseURL  string `envconfig:"PHEMEX_BASE_URL" default:"https://testnet-api.phemex.com"`
	PhemexWSURL    string `envconfig:"PHEMEX_WS_URL" default:"wss://testnet-api.phemex.com/ws"`
	BinanceBaseURL string `envconfig:"BINANCE_FUTURES_BASE_URL" default:"https://testnet.binancefuture.com"`

	// Requests per second allowed towards Binance, and the burst on top of it.
	BinanceRateLimit float64 `envconfig:"BINANCE_RATE_LIMIT" default:"10"`
	BinanceRateBurst int     `envconfig:"BINANCE_RATE_BURST" default:"5"`

	HedgeMode     bool          `envconfig:"EXCHANGE_HEDGE_MODE" default:"true"`
	HTTPTimeout   time.Duration `envconfig:"EXCHANGE_HTTP_TIMEOUT" default:"15s"`
	RetryAttempts int           `envconfig:"EXCHANGE_RETRY_ATTEMPTS" default:"3"`
	SettleAsset   string        `envconfig:"EXCHANGE_SETTLE_ASSET" default:"USDT"`

	// Order stream heartbeat; a connection silent for three intervals is redialed.
	WSPingInterval   time.Duration `envconfig:"EXCHANGE_WS_PING_INTERVAL" default:"15s"`
	WSReconnectDelay time.Duration `envconfig:"EXCHANGE_WS_RECONNECT_DELAY" default:"5s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
