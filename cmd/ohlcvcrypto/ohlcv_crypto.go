// Package ohlcvcrypto ingests Binance spot candles into the tables the
// backtest engine replays from.
package ohlcvcrypto

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"

	common "gridexecutor/src/model"
)

const (
	Duration1m = "1m"
	Duration1h = "1h"
)

type OHLCVCrypto struct {
	Log      *logger.Entry
	DB       *gorm.DB
	Config   *Config
	exchange goex.API
}

func (o *OHLCVCrypto) Start() error {
	if o.Config == nil {
		o.Config = GetConfig()
	}
	if o.Log == nil {
		o.Log = logger.NewEntry(logger.StandardLogger())
	}
	if o.exchange == nil {
		o.exchange = o.newBinanceInstance()
	}

	for _, base := range o.Config.Symbols {
		base = strings.ToUpper(strings.TrimSpace(base))
		if base == "" {
			continue
		}
		if err := o.ingest(base); err != nil {
			o.Log.WithField("symbol", base).WithError(err).Error("ingest failed")
			return err
		}
	}
	return nil
}

func (*OHLCVCrypto) newBinanceInstance() *binance.Binance {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return binance.NewWithConfig(apiConfig)
}

// pairSymbol is the exchange pair form used by tick readers, e.g. BTCUSDT.
func (o *OHLCVCrypto) pairSymbol(base string) string {
	return strings.ToUpper(base + o.Config.Quote)
}

// ingest pages through [StartDt, EndDt) for base, upserting every candle.
func (o *OHLCVCrypto) ingest(base string) error {
	from, to := o.Config.StartDt, o.Config.EndDt
	if o.Config.AutoMode {
		var err error
		if from, to, err = o.determineStartPoint(base); err != nil {
			return err
		}
	}

	step := o.parseDuration()
	saved := 0
	for page := 0; page < o.Config.MaxPages && from.Before(to); page++ {
		series, err := o.fetchOHLCVSeries(base, from, to)
		if err != nil {
			return err
		}
		if len(series) == 0 {
			break
		}
		if err := o.saveSeries(base, series); err != nil {
			return err
		}
		saved += len(series)

		next := time.Unix(series[len(series)-1].Timestamp, 0).UTC().Add(step)
		if !next.After(from) || len(series) < o.Config.Limit {
			break
		}
		from = next
	}

	o.Log.WithFields(logger.Fields{
		"symbol":  o.pairSymbol(base),
		"candles": saved,
		"to":      to,
	}).Info("OHLCV ingest finished")
	return nil
}

func (o *OHLCVCrypto) saveSeries(base string, series []goex.Kline) error {
	symbol := o.pairSymbol(base)
	for i := range series {
		result := series[i]

		var target interface{}
		target = &common.OHLCVBase{
			Datetime: time.Unix(result.Timestamp, 0).UTC(),
			Open:     decimal.NewFromFloat(result.Open),
			High:     decimal.NewFromFloat(result.High),
			Low:      decimal.NewFromFloat(result.Low),
			Close:    decimal.NewFromFloat(result.Close),
			Volume:   decimal.NewFromFloat(result.Vol),
			Symbol:   symbol,
		}

		switch o.Config.DurationStr {
		case Duration1m:
			target = target.(*common.OHLCVBase).ConvertToOHLCVCrypto1m()
		case Duration1h:
			target = target.(*common.OHLCVBase).ConvertToOHLCVCrypto1h()
		}

		// Upsert on the (symbol, datetime) unique index.
		if err := o.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "datetime"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
		}).Create(target).Error; err != nil {
			o.Log.WithError(err).Error("saveSeries, Create")
			return err
		}
	}

	o.Log.WithFields(logger.Fields{
		"symbol":  symbol,
		"candles": len(series),
	}).Debug("OHLCV page inserted or updated in database")
	return nil
}

// determineStartPoint resumes one interval before the newest stored candle of
// base, or from the configured StartDt when there is none.
func (o *OHLCVCrypto) determineStartPoint(base string) (time.Time, time.Time, error) {
	from := o.Config.StartDt.Add(-o.parseDuration())
	to := time.Now().UTC()

	var latestTime sql.NullTime
	result := o.getModel().
		Select("MAX(datetime)").
		Where("symbol = ?", o.pairSymbol(base)).
		Take(&latestTime)

	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			o.Log.WithError(result.Error).Error("Failed to query latest datetime")
			return time.Time{}, time.Time{}, result.Error
		}
	}

	log := o.Log.WithFields(logger.Fields{"symbol": o.pairSymbol(base), "to": to.String()})
	if latestTime.Valid {
		from = latestTime.Time.Add(-o.parseDuration())
		log.WithField("from", from.String()).Info("determineStartPoint resuming after stored candles")
	} else {
		log.WithField("from", from.String()).Warn("determineStartPoint no stored candles, starting from START_DATE")
	}
	return from, to, nil
}

func (o *OHLCVCrypto) fetchOHLCVSeries(base string, from, to time.Time) ([]goex.Kline, error) {
	targetSymbol := goex.NewCurrencyPair(goex.Currency{Symbol: base}, goex.Currency{Symbol: o.Config.Quote})

	const millis = 1000
	return o.exchange.GetKlineRecords(
		targetSymbol,
		o.parseDurationToGoex(),
		o.Config.Limit,
		goex.OptionalParameter{}.
			Optional("startTime", from.Unix()*millis).
			Optional("endTime", to.Unix()*millis),
	)
}

func (o *OHLCVCrypto) parseDuration() time.Duration {
	var duration time.Duration
	switch o.Config.DurationStr {
	case Duration1m:
		duration = time.Minute
	case Duration1h:
		duration = time.Hour
	default:
		panic("invalid DURATION env var")
	}
	return duration
}

func (o *OHLCVCrypto) parseDurationToGoex() goex.KlinePeriod {
	var duration goex.KlinePeriod
	switch o.Config.DurationStr {
	case Duration1m:
		duration = goex.KLINE_PERIOD_1MIN
	case Duration1h:
		duration = goex.KLINE_PERIOD_1H
	default:
		panic("invalid DURATION env var")
	}
	return duration
}

func (o *OHLCVCrypto) getModel() (tx *gorm.DB) {
	switch o.Config.DurationStr {
	case Duration1m:
		tx = o.DB.Model(&common.OHLCVCrypto1m{})
	case Duration1h:
		tx = o.DB.Model(&common.OHLCVCrypto1h{})
	default:
		panic("getModel, invalid DURATION")
	}
	return tx
}
