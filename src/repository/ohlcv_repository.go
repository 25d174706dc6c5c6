package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"gridexecutor/src/database"
	"gridexecutor/src/model"
)

var ErrInvalidInterval = errors.New("invalid interval. allowed: 1m,5m,15m,30m,45m,1h")

// OHLCVRepository reads stored candles as a tick history.
type OHLCVRepository struct {
	db       *gorm.DB
	interval time.Duration
}

// NewOHLCVRepository reads from the read-only database and replays one tick per
// candle of the given interval, aggregated from 1m candles.
func NewOHLCVRepository(interval time.Duration) *OHLCVRepository {
	logger.WithField("component", "OHLCVRepository").
		Info("Creating new OHLCVRepository on the read database")

	return &OHLCVRepository{
		db:       database.ReadDB(),
		interval: interval,
	}
}

func NewOHLCVRepositoryWithDB(db *gorm.DB, interval time.Duration) *OHLCVRepository {
	return &OHLCVRepository{
		db:       db,
		interval: interval,
	}
}

// FetchOHLCV1m returns the 1m candles of symbol in [from, to), ascending.
func (s *OHLCVRepository) FetchOHLCV1m(
	ctx context.Context,
	symbol string,
	from, to time.Time,
) ([]model.OHLCVCrypto1m, error) {
	var rows []model.OHLCVCrypto1m
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND datetime >= ? AND datetime < ?", symbol, from, to).
		Order("datetime ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FetchTicks returns the close price of every candle of pair in [from, to).
func (s *OHLCVRepository) FetchTicks(ctx context.Context, pair string, from, to time.Time) ([]model.PriceTick, error) {
	candles, err := s.FetchOHLCV1m(ctx, pair, from, to)
	if err != nil {
		return nil, err
	}

	if s.interval > time.Minute {
		candles, err = AggregateOHLCVFrom1m(candles, s.interval)
		if err != nil {
			return nil, err
		}
	}

	ticks := make([]model.PriceTick, 0, len(candles))
	for _, c := range candles {
		ticks = append(ticks, c.PriceTick())
	}

	logger.WithFields(map[string]interface{}{
		"pair":  pair,
		"from":  from,
		"to":    to,
		"ticks": len(ticks),
	}).Debug("Loaded tick history")

	return ticks, nil
}

func bucketStart(t time.Time, interval time.Duration) time.Time {
	// Works for intervals that are multiples of 1 minute
	// Align to wall-clock boundaries: 12:07 with 5m => 12:05
	secs := t.Unix()
	step := int64(interval.Seconds())
	return time.Unix((secs/step)*step, 0).UTC()
}

func AggregateOHLCVFrom1m(
	candles []model.OHLCVCrypto1m,
	interval time.Duration,
) ([]model.OHLCVCrypto1m, error) {
	if interval != 5*time.Minute &&
		interval != 15*time.Minute &&
		interval != 30*time.Minute &&
		interval != 45*time.Minute &&
		interval != time.Hour {
		return nil, ErrInvalidInterval
	}

	if len(candles) == 0 {
		return []model.OHLCVCrypto1m{}, nil
	}

	out := make([]model.OHLCVCrypto1m, 0, len(candles)/int(interval.Minutes())+2)

	var cur model.OHLCVCrypto1m
	var curBucket time.Time
	hasCur := false

	for _, c := range candles {
		b := bucketStart(c.Datetime, interval)

		if !hasCur || !b.Equal(curBucket) {
			if hasCur {
				out = append(out, cur)
			}
			curBucket = b
			hasCur = true
			cur = model.OHLCVCrypto1m{
				Symbol:   c.Symbol,
				Datetime: curBucket, // bucket open time
				Open:     c.Open,
				High:     c.High,
				Low:      c.Low,
				Close:    c.Close,
				Volume:   c.Volume,
			}
			continue
		}

		if c.High.GreaterThan(cur.High) {
			cur.High = c.High
		}
		if c.Low.LessThan(cur.Low) {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume = cur.Volume.Add(c.Volume)
	}

	if hasCur {
		out = append(out, cur)
	}

	return out, nil
}
