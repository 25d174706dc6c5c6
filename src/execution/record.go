package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"gridexecutor/src/grid"
	"gridexecutor/src/model"
)

// LiveOrderRecord links one resting exchange order to the grid slot it mirrors.
type LiveOrderRecord struct {
	ExchangeOrderID string
	ClientOrderID   string
	Pair            string
	InstanceID      string

	SlotIndex  int
	Generation uint64
	Trend      grid.Trend

	QuantizedPrice decimal.Decimal
	QuantizedQty   decimal.Decimal
	StopLoss       decimal.Decimal
	TakeProfit     decimal.Decimal

	IsFilled bool
	PlacedAt time.Time

	// DetachedAt is set once the slot no longer owns the order, after a simulated
	// exit or a recenter. Events for a detached record only remove it.
	DetachedAt time.Time
	cancelling bool
}

func (r *LiveOrderRecord) detached() bool {
	return !r.DetachedAt.IsZero()
}

func (r *LiveOrderRecord) toModel(exchange string) *model.LiveOrder {
	status := model.OrderStatusNew
	if r.IsFilled {
		status = model.OrderStatusFilled
	}
	return &model.LiveOrder{
		ExchangeOrderID: r.ExchangeOrderID,
		ClientOrderID:   r.ClientOrderID,
		Exchange:        exchange,
		Pair:            r.Pair,
		InstanceID:      r.InstanceID,
		SlotIndex:       r.SlotIndex,
		Generation:      r.Generation,
		Trend:           r.Trend.String(),
		Price:           r.QuantizedPrice.InexactFloat64(),
		Quantity:        r.QuantizedQty.InexactFloat64(),
		StopLoss:        r.StopLoss.InexactFloat64(),
		TakeProfit:      r.TakeProfit.InexactFloat64(),
		Status:          string(status),
		PlacedAt:        r.PlacedAt,
	}
}
