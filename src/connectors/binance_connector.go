package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"gridexecutor/src/mapper"
	"gridexecutor/src/model"
)

// BinanceClient trades USDⓈ-M futures. Every call waits on the shared rate limiter first.
type BinanceClient struct {
	client      *futures.Client
	rateLimiter *rate.Limiter
	hedgeMode   bool
	settleAsset string
	log         *logrus.Entry
}

var _ ExchangeClient = (*BinanceClient)(nil)

func NewBinanceClient(apiKey, secretKey string, cfg Config, log *logrus.Entry) *BinanceClient {
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	futuresClient := futures.NewClient(apiKey, secretKey)
	futuresClient.HTTPClient = httpClient
	if cfg.BinanceBaseURL != "" {
		futuresClient.BaseURL = cfg.BinanceBaseURL
	}

	limit, burst := cfg.BinanceRateLimit, cfg.BinanceRateBurst
	if limit <= 0 {
		limit = 10
	}
	if burst <= 0 {
		burst = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	settle := cfg.SettleAsset
	if settle == "" {
		settle = "USDT"
	}

	return &BinanceClient{
		client:      futuresClient,
		rateLimiter: rate.NewLimiter(rate.Limit(limit), burst),
		hedgeMode:   cfg.HedgeMode,
		settleAsset: settle,
		log:         log.WithField("exchange", "binance"),
	}
}

func (c *BinanceClient) Name() string { return "binance" }

// classifyBinanceError maps API errors by code and treats anything else as a transport failure.
func classifyBinanceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if classified := classifyBinanceCode(apiErr.Code, apiErr.Message); classified != nil {
			return fmt.Errorf("%s: %w", op, classified)
		}
		return nil
	}
	return transient("binance "+op, err)
}

func (c *BinanceClient) wait(ctx context.Context) error {
	return c.rateLimiter.Wait(ctx)
}

func (c *BinanceClient) positionSide(side PositionSide) futures.PositionSideType {
	if !c.hedgeMode {
		return futures.PositionSideTypeBoth
	}
	if side == SideShort {
		return futures.PositionSideTypeShort
	}
	return futures.PositionSideTypeLong
}

func binanceEntrySide(side PositionSide) futures.SideType {
	if side == SideShort {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func binanceExitSide(side PositionSide) futures.SideType {
	if side == SideShort {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

// CreateOrder places the limit entry and then its take-profit and stop-loss as
// conditional market orders on the same position side.
func (c *BinanceClient) CreateOrder(ctx context.Context, req OrderRequest) (PlacedOrder, error) {
	if err := c.wait(ctx); err != nil {
		return PlacedOrder{}, err
	}
	resp, err := c.client.NewCreateOrderService().
		Symbol(req.Pair).
		Side(binanceEntrySide(req.Side)).
		PositionSide(c.positionSide(req.Side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Price(req.Price.String()).
		Quantity(req.Quantity.String()).
		NewClientOrderID(req.ClientOrderID).
		Do(ctx)
	if err != nil {
		return PlacedOrder{}, classifyBinanceError("create order", err)
	}

	placed := PlacedOrder{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID:   resp.ClientOrderID,
		Status:          mapper.MapBinanceStatus(resp.Status),
	}

	if req.TakeProfit.IsPositive() {
		if err := c.placeConditional(ctx, req, futures.OrderTypeTakeProfitMarket, req.TakeProfit); err != nil {
			c.log.WithFields(map[string]interface{}{
				"symbol":  req.Pair,
				"orderID": placed.ExchangeOrderID,
			}).WithError(err).Error("Failed to attach take-profit")
		}
	}
	if req.StopLoss.IsPositive() {
		if err := c.placeConditional(ctx, req, futures.OrderTypeStopMarket, req.StopLoss); err != nil {
			c.log.WithFields(map[string]interface{}{
				"symbol":  req.Pair,
				"orderID": placed.ExchangeOrderID,
			}).WithError(err).Error("Failed to attach stop-loss")
		}
	}

	c.log.WithFields(map[string]interface{}{
		"symbol":  req.Pair,
		"side":    req.Side,
		"price":   req.Price.String(),
		"qty":     req.Quantity.String(),
		"orderID": placed.ExchangeOrderID,
	}).Info("Binance order placed")

	return placed, nil
}

func (c *BinanceClient) placeConditional(ctx context.Context, req OrderRequest, orderType futures.OrderType, stop decimal.Decimal) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	svc := c.client.NewCreateOrderService().
		Symbol(req.Pair).
		Side(binanceExitSide(req.Side)).
		PositionSide(c.positionSide(req.Side)).
		Type(orderType).
		StopPrice(stop.String()).
		Quantity(req.Quantity.String()).
		WorkingType(futures.WorkingTypeMarkPrice)
	if !c.hedgeMode {
		svc = svc.ReduceOnly(true)
	}
	_, err := svc.Do(ctx)
	return classifyBinanceError("create conditional order", err)
}

func (c *BinanceClient) CancelOrder(ctx context.Context, pair, exchangeOrderID string, _ PositionSide) error {
	id, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance order id %q: %w", exchangeOrderID, err)
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err = c.client.NewCancelOrderService().Symbol(pair).OrderID(id).Do(ctx)
	return classifyBinanceError("cancel order", err)
}

func (c *BinanceClient) CancelAllOrders(ctx context.Context, pair string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return classifyBinanceError("cancel all orders", c.client.NewCancelAllOpenOrdersService().Symbol(pair).Do(ctx))
}

func (c *BinanceClient) GetAccountBalance(ctx context.Context) (decimal.Decimal, error) {
	if err := c.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	balances, err := c.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return decimal.Zero, classifyBinanceError("get balance", err)
	}
	for _, b := range balances {
		if b.Asset != c.settleAsset {
			continue
		}
		balance, err := decimal.NewFromString(b.Balance)
		if err != nil {
			return decimal.Zero, fmt.Errorf("binance balance %q: %w", b.Balance, err)
		}
		return balance, nil
	}
	return decimal.Zero, nil
}

func (c *BinanceClient) GetOpenPositions(ctx context.Context, pair string) ([]ExchangePosition, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	risks, err := c.client.NewGetPositionRiskService().Symbol(pair).Do(ctx)
	if err != nil {
		return nil, classifyBinanceError("get positions", err)
	}

	var out []ExchangePosition
	for _, r := range risks {
		amt, err := decimal.NewFromString(r.PositionAmt)
		if err != nil || amt.IsZero() {
			continue
		}
		side := SideLong
		switch futures.PositionSideType(r.PositionSide) {
		case futures.PositionSideTypeShort:
			side = SideShort
		case futures.PositionSideTypeBoth:
			if amt.IsNegative() {
				side = SideShort
			}
		}
		entry, _ := decimal.NewFromString(r.EntryPrice)
		out = append(out, ExchangePosition{Pair: pair, Side: side, Size: amt.Abs(), EntryPrice: entry})
	}
	return out, nil
}

func (c *BinanceClient) SetLeverage(ctx context.Context, pair string, leverage int) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.client.NewChangeLeverageService().Symbol(pair).Leverage(leverage).Do(ctx)
	return classifyBinanceError("set leverage", err)
}

func (c *BinanceClient) ClosePosition(ctx context.Context, pair string, side PositionSide, size decimal.Decimal) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	svc := c.client.NewCreateOrderService().
		Symbol(pair).
		Side(binanceExitSide(side)).
		PositionSide(c.positionSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(size.String())
	if !c.hedgeMode {
		svc = svc.ReduceOnly(true)
	}

	c.log.WithFields(map[string]interface{}{
		"symbol":  pair,
		"posSide": side,
		"size":    size.String(),
	}).Info("Closing position")

	if _, err := svc.Do(ctx); err != nil {
		return fmt.Errorf("failed to close position %s %s: %w", pair, side, classifyBinanceError("close position", err))
	}
	return nil
}

func (c *BinanceClient) GetInstrumentInfo(ctx context.Context, pair string) (InstrumentSpec, error) {
	if err := c.wait(ctx); err != nil {
		return InstrumentSpec{}, err
	}
	info, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return InstrumentSpec{}, classifyBinanceError("exchange info", err)
	}

	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != pair {
			continue
		}
		spec := InstrumentSpec{Pair: pair}
		if pf := s.PriceFilter(); pf != nil {
			spec.TickSize = decimalOrZero(pf.TickSize)
			spec.MinPrice = decimalOrZero(pf.MinPrice)
			spec.MaxPrice = decimalOrZero(pf.MaxPrice)
		}
		if lf := s.LotSizeFilter(); lf != nil {
			spec.QtyStep = decimalOrZero(lf.StepSize)
			spec.MinOrderQty = decimalOrZero(lf.MinQuantity)
			spec.MaxOrderQty = decimalOrZero(lf.MaxQuantity)
		}
		return spec, nil
	}
	return InstrumentSpec{}, fmt.Errorf("binance: no symbol info for %s", pair)
}

func (c *BinanceClient) QueryOrder(ctx context.Context, pair, exchangeOrderID string) (model.OrderEvent, error) {
	id, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return model.OrderEvent{}, fmt.Errorf("binance order id %q: %w", exchangeOrderID, err)
	}
	if err := c.wait(ctx); err != nil {
		return model.OrderEvent{}, err
	}
	order, err := c.client.NewGetOrderService().Symbol(pair).OrderID(id).Do(ctx)
	if err != nil {
		return model.OrderEvent{}, classifyBinanceError("query order", err)
	}
	return mapper.MapBinanceOrderToEvent(order), nil
}

func (c *BinanceClient) GetTickerPrice(ctx context.Context, pair string) (float64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	prices, err := c.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return 0, classifyBinanceError("ticker price", err)
	}
	for _, p := range prices {
		if p.Symbol != pair {
			continue
		}
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil || price <= 0 {
			return 0, fmt.Errorf("invalid price for %s: %q", pair, p.Price)
		}
		return price, nil
	}
	return 0, fmt.Errorf("binance: no price for %s", pair)
}
