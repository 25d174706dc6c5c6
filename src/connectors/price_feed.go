package connectors

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"gridexecutor/src/model"
)

// TickerSource is the read-only part of an exchange needed to poll prices.
type TickerSource interface {
	Name() string
	GetTickerPrice(ctx context.Context, pair string) (float64, error)
}

// PollingPriceFeed turns periodic ticker requests into a stream of PriceTick.
type PollingPriceFeed struct {
	source   TickerSource
	pairs    []string
	interval time.Duration
	log      *logrus.Entry
	now      func() time.Time
}

func NewPollingPriceFeed(source TickerSource, pairs []string, interval time.Duration, log *logrus.Entry) *PollingPriceFeed {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PollingPriceFeed{
		source:   source,
		pairs:    pairs,
		interval: interval,
		log:      log.WithFields(logrus.Fields{"component": "price_feed", "exchange": source.Name()}),
		now:      time.Now,
	}
}

// Run polls every pair once per interval and sends the ticks to out until ctx ends.
// Failed polls are logged and skipped. A signature error stops the feed.
func (f *PollingPriceFeed) Run(ctx context.Context, out chan<- model.PriceTick) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		if err := f.poll(ctx, out); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			f.log.Info("Price feed stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (f *PollingPriceFeed) poll(ctx context.Context, out chan<- model.PriceTick) error {
	for _, pair := range f.pairs {
		price, err := f.source.GetTickerPrice(ctx, pair)
		if err != nil {
			if IsFatal(err) {
				return err
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			f.log.WithField("pair", pair).WithError(err).Warn("Ticker poll failed")
			continue
		}

		select {
		case out <- model.PriceTick{Pair: pair, At: f.now(), Price: price}:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// NextTick polls pair until the exchange answers, waiting one interval after a
// failed attempt. Signature errors and the end of ctx are returned.
func (f *PollingPriceFeed) NextTick(ctx context.Context, pair string) (model.PriceTick, error) {
	for {
		price, err := f.source.GetTickerPrice(ctx, pair)
		if err == nil {
			return model.PriceTick{Pair: pair, At: f.now(), Price: price}, nil
		}
		if IsFatal(err) {
			return model.PriceTick{}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.PriceTick{}, ctxErr
		}
		f.log.WithField("pair", pair).WithError(err).Warn("Ticker poll failed, retrying")

		select {
		case <-ctx.Done():
			return model.PriceTick{}, ctx.Err()
		case <-time.After(f.interval):
		}
	}
}
