package connectors

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"gridexecutor/src/model"
	"gridexecutor/src/observability"
)

const defaultRetryAttempts = 3

// RetryingClient retries transient failures of the wrapped client immediately,
// up to a bounded number of attempts. Other errors are returned on first sight.
type RetryingClient struct {
	inner    ExchangeClient
	attempts int
	metrics  *observability.Metrics
	log      *logrus.Entry
}

func NewRetryingClient(inner ExchangeClient, attempts int, metrics *observability.Metrics, log *logrus.Entry) *RetryingClient {
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RetryingClient{
		inner:    inner,
		attempts: attempts,
		metrics:  metrics,
		log:      log.WithFields(logrus.Fields{"component": "exchange", "exchange": inner.Name()}),
	}
}

func retryCall[T any](ctx context.Context, r *RetryingClient, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	var (
		out T
		err error
	)
	for attempt := 1; attempt <= r.attempts; attempt++ {
		out, err = fn()
		if err == nil || !IsRetryable(err) || ctx.Err() != nil || attempt == r.attempts {
			break
		}
		r.metrics.RecordRetry(r.inner.Name(), op)
		r.log.WithFields(map[string]interface{}{
			"operation": op,
			"attempt":   attempt,
		}).WithError(err).Warn("Transient exchange error, retrying")
	}
	r.metrics.RecordExchangeCall(r.inner.Name(), op, start, err)
	return out, err
}

func retryErr(ctx context.Context, r *RetryingClient, op string, fn func() error) error {
	_, err := retryCall(ctx, r, op, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (r *RetryingClient) Name() string { return r.inner.Name() }

func (r *RetryingClient) CreateOrder(ctx context.Context, req OrderRequest) (PlacedOrder, error) {
	return retryCall(ctx, r, "create_order", func() (PlacedOrder, error) { return r.inner.CreateOrder(ctx, req) })
}

func (r *RetryingClient) CancelOrder(ctx context.Context, pair, exchangeOrderID string, side PositionSide) error {
	return retryErr(ctx, r, "cancel_order", func() error { return r.inner.CancelOrder(ctx, pair, exchangeOrderID, side) })
}

func (r *RetryingClient) CancelAllOrders(ctx context.Context, pair string) error {
	return retryErr(ctx, r, "cancel_all_orders", func() error { return r.inner.CancelAllOrders(ctx, pair) })
}

func (r *RetryingClient) GetAccountBalance(ctx context.Context) (decimal.Decimal, error) {
	return retryCall(ctx, r, "get_account_balance", func() (decimal.Decimal, error) { return r.inner.GetAccountBalance(ctx) })
}

func (r *RetryingClient) GetOpenPositions(ctx context.Context, pair string) ([]ExchangePosition, error) {
	return retryCall(ctx, r, "get_open_positions", func() ([]ExchangePosition, error) { return r.inner.GetOpenPositions(ctx, pair) })
}

func (r *RetryingClient) SetLeverage(ctx context.Context, pair string, leverage int) error {
	return retryErr(ctx, r, "set_leverage", func() error { return r.inner.SetLeverage(ctx, pair, leverage) })
}

func (r *RetryingClient) ClosePosition(ctx context.Context, pair string, side PositionSide, size decimal.Decimal) error {
	return retryErr(ctx, r, "close_position", func() error { return r.inner.ClosePosition(ctx, pair, side, size) })
}

func (r *RetryingClient) GetInstrumentInfo(ctx context.Context, pair string) (InstrumentSpec, error) {
	return retryCall(ctx, r, "get_instrument_info", func() (InstrumentSpec, error) { return r.inner.GetInstrumentInfo(ctx, pair) })
}

func (r *RetryingClient) QueryOrder(ctx context.Context, pair, exchangeOrderID string) (model.OrderEvent, error) {
	return retryCall(ctx, r, "query_order", func() (model.OrderEvent, error) { return r.inner.QueryOrder(ctx, pair, exchangeOrderID) })
}

func (r *RetryingClient) GetTickerPrice(ctx context.Context, pair string) (float64, error) {
	return retryCall(ctx, r, "get_ticker_price", func() (float64, error) { return r.inner.GetTickerPrice(ctx, pair) })
}
