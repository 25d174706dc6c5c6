package connectors

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"gridexecutor/src/model"
)

// PositionSide is the hedge-mode side an order opens or a position holds.
type PositionSide string

const (
	SideLong  PositionSide = "Long"
	SideShort PositionSide = "Short"
)

// OrderRequest is a limit entry order with already quantized values.
type OrderRequest struct {
	Pair          string
	ClientOrderID string
	Side          PositionSide
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
}

// PlacedOrder is the exchange acknowledgement of an OrderRequest.
type PlacedOrder struct {
	ExchangeOrderID string
	ClientOrderID   string
	Status          model.OrderStatus
}

// ExchangePosition is an open position as reported by the exchange.
type ExchangePosition struct {
	Pair       string
	Side       PositionSide
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
}

// InstrumentSpec holds the static trading rules of a pair.
type InstrumentSpec struct {
	Pair        string
	TickSize    decimal.Decimal
	QtyStep     decimal.Decimal
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	MinOrderQty decimal.Decimal
	MaxOrderQty decimal.Decimal
	MaxLeverage int
}

// ExchangeClient is the signed trading surface used by live execution.
// Errors are classified with the sentinels and types in errors.go.
type ExchangeClient interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (PlacedOrder, error)
	CancelOrder(ctx context.Context, pair, exchangeOrderID string, side PositionSide) error
	CancelAllOrders(ctx context.Context, pair string) error
	GetAccountBalance(ctx context.Context) (decimal.Decimal, error)
	GetOpenPositions(ctx context.Context, pair string) ([]ExchangePosition, error)
	SetLeverage(ctx context.Context, pair string, leverage int) error
	ClosePosition(ctx context.Context, pair string, side PositionSide, size decimal.Decimal) error
	GetInstrumentInfo(ctx context.Context, pair string) (InstrumentSpec, error)
	QueryOrder(ctx context.Context, pair, exchangeOrderID string) (model.OrderEvent, error)
	GetTickerPrice(ctx context.Context, pair string) (float64, error)
}

// CloseAllPositions closes every open position of pair with reduce-only market orders.
func CloseAllPositions(ctx context.Context, client ExchangeClient, pair string) error {
	positions, err := client.GetOpenPositions(ctx, pair)
	if err != nil {
		return fmt.Errorf("get open positions %s: %w", pair, err)
	}
	for _, p := range positions {
		if !p.Size.IsPositive() {
			continue
		}
		if err := client.ClosePosition(ctx, pair, p.Side, p.Size); err != nil {
			return fmt.Errorf("close %s %s position of %s: %w", pair, p.Side, p.Size, err)
		}
	}
	return nil
}
