package model

import "time"

// OrderStatus is the exchange-neutral status carried by an OrderEvent.
type OrderStatus string

const (
	OrderStatusNew         OrderStatus = "New"
	OrderStatusFilled      OrderStatus = "Filled"
	OrderStatusClosed      OrderStatus = "Closed"
	OrderStatusRejected    OrderStatus = "Rejected"
	OrderStatusCancelled   OrderStatus = "Cancelled"
	OrderStatusDeactivated OrderStatus = "Deactivated"
)

// Terminal reports whether no further events are expected for the order.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusClosed, OrderStatusRejected, OrderStatusCancelled, OrderStatusDeactivated:
		return true
	}
	return false
}

// OrderEvent is a status change reported by the exchange, either pushed or polled.
type OrderEvent struct {
	Pair            string      `json:"pair"`
	ExchangeOrderID string      `json:"exchange_order_id"`
	ClientOrderID   string      `json:"client_order_id"`
	Status          OrderStatus `json:"status"`
	Price           float64     `json:"price"`
	StopLoss        float64     `json:"stop_loss"`
	TakeProfit      float64     `json:"take_profit"`
	At              time.Time   `json:"at"`
}

// PhemexOrderResponse is the order payload returned by Phemex hedged contract endpoints.
type PhemexOrderResponse struct {
	BizError       int    `json:"bizError"`
	OrderID        string `json:"orderID"`
	ClOrdID        string `json:"clOrdID"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	PosSide        string `json:"posSide"`
	ActionTimeNs   int64  `json:"actionTimeNs"`
	TransactTimeNs int64  `json:"transactTimeNs"`
	OrderType      string `json:"orderType"`
	PriceRp        string `json:"priceRp"`
	OrderQtyRq     string `json:"orderQtyRq"`
	CumQtyRq       string `json:"cumQtyRq"`
	OrdStatus      string `json:"ordStatus"`
	ExecStatus     string `json:"execStatus"`
	TakeProfitRp   string `json:"takeProfitRp"`
	StopLossRp     string `json:"stopLossRp"`
}
