package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"gridexecutor/cmd/backtester"
	"gridexecutor/cmd/executor"
	"gridexecutor/cmd/keys"
	"gridexecutor/cmd/ohlcvcrypto"
	"gridexecutor/src/database"
)

var Version string

// SetupLogger applies LOG_LEVEL and LOG_FORMAT (text or json).
func SetupLogger() {
	config := database.GetConfig()

	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(config.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func main() {
	// A missing .env is fine; the environment may already be set.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Failed to load .env")
	}
	SetupLogger()

	app := cli.NewApp()
	app.Name = "Grid executor CMD"
	app.Usage = "Grid trading simulation, live execution and backtesting"
	app.Version = Version

	app.Commands = []cli.Command{
		liveCMD,
		backtestCMD,
		ohlcvCryptoCMD,
		encryptKeyCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	liveCMD = cli.Command{
		Name:        "live",
		Usage:       "run the live grid executor",
		Action:      liveAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Simulate the parameter grid on live prices and mirror the best instance on the exchange`,
	}
	backtestCMD = cli.Command{
		Name:        "backtest",
		Usage:       "run a backtest batch",
		Action:      backtestAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Replay stored candles through the simulation parameter grid`,
	}
	ohlcvCryptoCMD = cli.Command{
		Name:        "ohlcv_crypto",
		Usage:       "run OHLCV crypto",
		Action:      ohlcvCryptoAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Ingest Binance candles into the backtest tick store`,
	}
	encryptKeyCMD = cli.Command{
		Name:      "encrypt_key",
		Usage:     "encrypt exchange credentials",
		Action:    encryptKeyAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "key", Usage: "exchange API key"},
			cli.StringFlag{Name: "secret", Usage: "exchange API secret"},
		},
		Description: `Print EXCHANGE_API_KEY / EXCHANGE_API_SECRET, interactively when no flags are given`,
	}
)

func liveAction(_ *cli.Context) error {
	logrus.Info("Starting live CMD")

	live := &executor.Executor{Log: logrus.WithField("cmd", "live")}
	if err := live.Start(); err != nil {
		logrus.WithError(err).Error("Starting live cmd")
		return err
	}
	return nil
}

func backtestAction(_ *cli.Context) error {
	logrus.Info("Starting backtest CMD")

	bt := &backtester.Backtester{Log: logrus.WithField("cmd", "backtest")}
	if err := bt.Start(); err != nil {
		logrus.WithError(err).Error("Starting backtest cmd")
		return err
	}
	return nil
}

// ohlcvCryptoAction fetches Binance candles for the configured symbols.
func ohlcvCryptoAction(_ *cli.Context) error {
	logrus.Info("Starting OHLCV crypto CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}
	_ohlcv := &ohlcvcrypto.OHLCVCrypto{
		Log: logrus.WithField("cmd", "ohlcv_crypto"),
		DB:  database.MainDB,
	}

	if err := _ohlcv.Start(); err != nil {
		logrus.WithError(err).Error("Starting OHLCV cmd")
		return err
	}
	return nil
}

func encryptKeyAction(c *cli.Context) error {
	k := &keys.Keys{In: os.Stdin, Out: os.Stdout}
	if c.String("key") != "" || c.String("secret") != "" {
		if c.String("key") == "" || c.String("secret") == "" {
			return fmt.Errorf("both --key and --secret are required")
		}
		return k.Encrypt(c.String("key"), c.String("secret"))
	}
	return k.Start()
}
