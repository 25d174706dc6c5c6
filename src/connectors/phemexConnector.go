// Phemex USDT-M hedged perpetual client.
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"gridexecutor/src/mapper"
	"gridexecutor/src/model"
)

// APIResponse is the envelope of every signed Phemex endpoint.
type APIResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type phemexPosition struct {
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	PosSide         string `json:"posSide"`
	SizeRq          string `json:"sizeRq"`
	AvgEntryPriceRp string `json:"avgEntryPriceRp"`
}

// GAccountPositions is the payload of /g-accounts/positions.
type GAccountPositions struct {
	Account struct {
		UserID           int64  `json:"userID"`
		AccountID        int64  `json:"accountId"`
		Currency         string `json:"currency"`
		AccountBalanceRv string `json:"accountBalanceRv"`
	} `json:"account"`
	Positions []phemexPosition `json:"positions"`
}

type phemexProduct struct {
	Symbol        string `json:"symbol"`
	TickSize      string `json:"tickSize"`
	QtyStepSize   string `json:"qtyStepSize"`
	MinPriceRp    string `json:"minPriceRp"`
	MaxPriceRp    string `json:"maxPriceRp"`
	MinOrderQtyRq string `json:"minOrderQtyRq"`
	MaxOrderQtyRq string `json:"maxOrderQtyRq"`
	MaxLeverage   int    `json:"maxLeverage"`
}

type phemexProducts struct {
	PerpProductsV2 []phemexProduct `json:"perpProductsV2"`
}

// Client signs and sends Phemex requests. Transient failures are retried only
// by the RetryingClient wrapping every ExchangeClient, so the resty transport
// keeps its retry count at zero; resty retries here would multiply attempts.
type Client struct {
	apiKey    string
	apiSecret string
	baseURL   string
	hedgeMode bool
	http      *resty.Client
}

var _ ExchangeClient = (*Client)(nil)

// checkResponse classifies a transport error or a non-200 status.
func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return transient(op, err)
	}
	if resp == nil {
		return fmt.Errorf("%s: empty response", op)
	}
	return classifyHTTPStatus("phemex", resp.StatusCode(), string(resp.Body()))
}

func NewClient(apiKey, apiSecret, baseURL string, hedgeMode bool, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://testnet-api.phemex.com"
		logger.WithField("baseURL", baseURL).Warn("No base URL provided, using default")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0)

	return &Client{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		hedgeMode: hedgeMode,
		http:      httpClient,
	}
}

func (c *Client) Name() string { return "phemex" }

func signRequest(path, query, body string, expiry int64, secret string) string {
	base := path
	if query != "" {
		base += query
	}
	base += fmt.Sprintf("%d", expiry)
	if body != "" {
		base += body
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

// doRequest signs and executes a request and classifies every failure.
func (c *Client) doRequest(ctx context.Context, method, path, query string, body []byte) (*APIResponse, error) {
	expiry := time.Now().Add(1 * time.Minute).Unix()
	sig := signRequest(path, query, string(body), expiry, c.apiSecret)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("x-phemex-access-token", c.apiKey).
		SetHeader("x-phemex-request-expiry", fmt.Sprintf("%d", expiry)).
		SetHeader("x-phemex-request-signature", sig)

	if query != "" {
		req = req.SetQueryString(query)
	}
	if body != nil {
		req = req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err := checkResponse("phemex "+method+" "+path, resp, err); err != nil {
		return nil, err
	}

	raw := resp.Body()

	var apiResp APIResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("phemex decode %s: %w", path, err)
	}
	if err := classifyPhemexCode(apiResp.Code, apiResp.Msg); err != nil {
		return nil, err
	}
	return &apiResp, nil
}

func (c *Client) posSide(side PositionSide) string {
	if !c.hedgeMode {
		return "Merged"
	}
	return string(side)
}

func entrySide(side PositionSide) string {
	if side == SideShort {
		return "Sell"
	}
	return "Buy"
}

func exitSide(side PositionSide) string {
	if side == SideShort {
		return "Buy"
	}
	return "Sell"
}

// CreateOrder places a GoodTillCancel limit order with attached take-profit and stop-loss.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (PlacedOrder, error) {
	body := map[string]interface{}{
		"symbol":      req.Pair,
		"side":        entrySide(req.Side),
		"posSide":     c.posSide(req.Side),
		"ordType":     "Limit",
		"priceRp":     req.Price.String(),
		"orderQtyRq":  req.Quantity.String(),
		"clOrdID":     req.ClientOrderID,
		"timeInForce": "GoodTillCancel",
	}
	if req.TakeProfit.IsPositive() {
		body["takeProfitRp"] = req.TakeProfit.String()
		body["tpTrigger"] = "ByMarkPrice"
	}
	if req.StopLoss.IsPositive() {
		body["stopLossRp"] = req.StopLoss.String()
		body["slTrigger"] = "ByMarkPrice"
	}

	b, _ := json.Marshal(body)
	resp, err := c.doRequest(ctx, "POST", "/g-orders", "", b)
	if err != nil {
		return PlacedOrder{}, err
	}

	var order model.PhemexOrderResponse
	if err := json.Unmarshal(resp.Data, &order); err != nil {
		return PlacedOrder{}, fmt.Errorf("phemex decode order: %w", err)
	}
	if err := classifyPhemexCode(order.BizError, order.OrdStatus); err != nil {
		return PlacedOrder{}, err
	}

	logger.WithFields(map[string]interface{}{
		"symbol":  req.Pair,
		"side":    req.Side,
		"price":   req.Price.String(),
		"qty":     req.Quantity.String(),
		"orderID": order.OrderID,
		"clOrdID": order.ClOrdID,
	}).Info("Phemex order placed")

	return PlacedOrder{
		ExchangeOrderID: order.OrderID,
		ClientOrderID:   order.ClOrdID,
		Status:          mapper.MapPhemexStatus(order.OrdStatus),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, pair, exchangeOrderID string, side PositionSide) error {
	q := url.Values{}
	q.Set("orderID", exchangeOrderID)
	q.Set("posSide", c.posSide(side))
	q.Set("symbol", pair)
	_, err := c.doRequest(ctx, "DELETE", "/g-orders/cancel", q.Encode(), nil)
	return err
}

func (c *Client) CancelAllOrders(ctx context.Context, pair string) error {
	_, err := c.doRequest(ctx, "DELETE", "/g-orders/all", fmt.Sprintf("symbol=%s", pair), nil)
	return err
}

func (c *Client) GetPositionsUSDT(ctx context.Context) (*GAccountPositions, error) {
	resp, err := c.doRequest(ctx, "GET", "/g-accounts/positions", "currency=USDT", nil)
	if err != nil {
		return nil, err
	}
	var parsed GAccountPositions
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, fmt.Errorf("phemex decode positions: %w", err)
	}
	return &parsed, nil
}

func (c *Client) GetAccountBalance(ctx context.Context) (decimal.Decimal, error) {
	positions, err := c.GetPositionsUSDT(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(positions.Account.AccountBalanceRv)
	if err != nil {
		return decimal.Zero, fmt.Errorf("phemex balance %q: %w", positions.Account.AccountBalanceRv, err)
	}
	return balance, nil
}

func (c *Client) GetOpenPositions(ctx context.Context, pair string) ([]ExchangePosition, error) {
	positions, err := c.GetPositionsUSDT(ctx)
	if err != nil {
		return nil, err
	}

	var out []ExchangePosition
	for _, p := range positions.Positions {
		if p.Symbol != pair {
			continue
		}
		size, err := decimal.NewFromString(p.SizeRq)
		if err != nil || !size.IsPositive() {
			continue
		}
		side := SideLong
		switch {
		case p.PosSide == "Short":
			side = SideShort
		case p.PosSide != "Long" && p.Side == "Sell":
			side = SideShort
		case p.PosSide != "Long" && p.Side != "Buy":
			logger.WithFields(map[string]interface{}{
				"symbol": p.Symbol,
				"side":   p.Side,
			}).Error("Unknown position side, skipping")
			continue
		}
		entry, _ := decimal.NewFromString(p.AvgEntryPriceRp)
		out = append(out, ExchangePosition{Pair: pair, Side: side, Size: size, EntryPrice: entry})
	}
	return out, nil
}

func (c *Client) SetLeverage(ctx context.Context, pair string, leverage int) error {
	q := url.Values{}
	q.Set("symbol", pair)
	if c.hedgeMode {
		q.Set("longLeverageRr", strconv.Itoa(leverage))
		q.Set("shortLeverageRr", strconv.Itoa(leverage))
	} else {
		q.Set("leverageRr", strconv.Itoa(leverage))
	}
	_, err := c.doRequest(ctx, "PUT", "/g-positions/leverage", q.Encode(), nil)
	return err
}

// ClosePosition sends a reduce-only market order in the opposite direction.
func (c *Client) ClosePosition(ctx context.Context, pair string, side PositionSide, size decimal.Decimal) error {
	body := map[string]interface{}{
		"symbol":      pair,
		"side":        exitSide(side),
		"posSide":     c.posSide(side),
		"ordType":     "Market",
		"orderQtyRq":  size.String(),
		"reduceOnly":  true,
		"clOrdID":     fmt.Sprintf("close-%d", time.Now().UnixNano()),
		"timeInForce": "ImmediateOrCancel",
	}
	b, _ := json.Marshal(body)

	logger.WithFields(map[string]interface{}{
		"symbol":    pair,
		"posSide":   side,
		"closeSide": exitSide(side),
		"size":      size.String(),
	}).Info("Closing position")

	if _, err := c.doRequest(ctx, "POST", "/g-orders", "", b); err != nil {
		return fmt.Errorf("failed to close position %s %s: %w", pair, side, err)
	}
	return nil
}

func (c *Client) GetInstrumentInfo(ctx context.Context, pair string) (InstrumentSpec, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/public/products")
	if err := checkResponse("phemex products", resp, err); err != nil {
		return InstrumentSpec{}, err
	}

	var envelope APIResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return InstrumentSpec{}, fmt.Errorf("phemex decode products: %w", err)
	}
	var products phemexProducts
	if err := json.Unmarshal(envelope.Data, &products); err != nil {
		return InstrumentSpec{}, fmt.Errorf("phemex decode products: %w", err)
	}

	for _, p := range products.PerpProductsV2 {
		if p.Symbol != pair {
			continue
		}
		return InstrumentSpec{
			Pair:        pair,
			TickSize:    decimalOrZero(p.TickSize),
			QtyStep:     decimalOrZero(p.QtyStepSize),
			MinPrice:    decimalOrZero(p.MinPriceRp),
			MaxPrice:    decimalOrZero(p.MaxPriceRp),
			MinOrderQty: decimalOrZero(p.MinOrderQtyRq),
			MaxOrderQty: decimalOrZero(p.MaxOrderQtyRq),
			MaxLeverage: p.MaxLeverage,
		}, nil
	}
	return InstrumentSpec{}, fmt.Errorf("phemex: no product found for %s", pair)
}

func (c *Client) QueryOrder(ctx context.Context, pair, exchangeOrderID string) (model.OrderEvent, error) {
	q := url.Values{}
	q.Set("symbol", pair)
	q.Set("orderID", exchangeOrderID)
	resp, err := c.doRequest(ctx, "GET", "/api-data/g-futures/orders/by-order-id", q.Encode(), nil)
	if err != nil {
		return model.OrderEvent{}, err
	}

	var orders []model.PhemexOrderResponse
	if err := json.Unmarshal(resp.Data, &orders); err != nil {
		return model.OrderEvent{}, fmt.Errorf("phemex decode order %s: %w", exchangeOrderID, err)
	}
	for i := range orders {
		if orders[i].OrderID != exchangeOrderID {
			continue
		}
		event, ok := mapper.MapPhemexOrderToEvent(&orders[i])
		if !ok {
			break
		}
		return event, nil
	}
	return model.OrderEvent{}, fmt.Errorf("phemex: order %s not found", exchangeOrderID)
}

type mdResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (*APIResponse, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		Get("/md/v3/ticker/24hr")
	if err := checkResponse("phemex ticker", resp, err); err != nil {
		return nil, err
	}

	var md mdResponse
	if err := json.Unmarshal(resp.Body(), &md); err != nil {
		return nil, err
	}
	if md.Error != nil {
		return nil, errors.New(md.Error.Message)
	}
	return &APIResponse{Code: 0, Data: md.Result}, nil
}

func (c *Client) GetTickerPrice(ctx context.Context, pair string) (float64, error) {
	ticker, err := c.GetTicker(ctx, pair)
	if err != nil {
		return 0, err
	}
	var tk struct {
		LastRp string `json:"lastRp"`
	}
	if err := json.Unmarshal(ticker.Data, &tk); err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(tk.LastRp, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("invalid price for %s: %q", pair, tk.LastRp)
	}
	return price, nil
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
