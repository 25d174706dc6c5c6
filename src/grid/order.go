package grid

import "time"

// Trend is the direction of an order or position.
type Trend int

const (
	Long Trend = iota + 1
	Short
)

func (t Trend) String() string {
	switch t {
	case Long:
		return "Long"
	case Short:
		return "Short"
	}
	return "Unknown"
}

// Direction is +1 for Long and -1 for Short.
func (t Trend) Direction() float64 {
	if t == Short {
		return -1
	}
	return 1
}

// Order is the order held by a grid slot.
type Order struct {
	EntryPrice      float64   `json:"entry_price"`
	Quantity        float64   `json:"quantity"`
	StopLossPrice   float64   `json:"stop_loss_price"`
	TakeProfitPrice float64   `json:"take_profit_price"`
	Trend           Trend     `json:"trend"`
	Filled          bool      `json:"filled"`
	CreatedAt       time.Time `json:"created_at"`

	armedTick uint64
}

// Slot is one price level of the lattice.
type Slot struct {
	Price  float64 `json:"price"`
	Order  *Order  `json:"order,omitempty"`
	Center bool    `json:"center"`
}

// CloseReason records why an order left its slot.
type CloseReason string

const (
	CloseTakeProfit   CloseReason = "take_profit"
	ClosePositionExit CloseReason = "position_exit"
	CloseRecenter     CloseReason = "recenter"
	CloseForced       CloseReason = "forced"
	CloseExternal     CloseReason = "external"
)

// ClosedOrder is a realized order reported by a tick or a close call.
type ClosedOrder struct {
	Slot       int         `json:"slot"`
	Trend      Trend       `json:"trend"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	Quantity   float64     `json:"quantity"`
	PnL        float64     `json:"pnl"`
	Reason     CloseReason `json:"reason"`
}

// TickResult describes what one AcceptPriceChange call did.
type TickResult struct {
	Generation     uint64        `json:"generation"`
	Armed          []int         `json:"armed,omitempty"`
	Closed         []ClosedOrder `json:"closed,omitempty"`
	Recentered     bool          `json:"recentered"`
	RecenterReason string        `json:"recenter_reason,omitempty"`
	Died           bool          `json:"died"`
}

// PendingOrder is an armed order still waiting for an exchange fill.
type PendingOrder struct {
	Slot       int
	Generation uint64
	Order      Order
}

func fee(rate, qty, entry, exit float64) float64 {
	return rate * qty * (entry + exit)
}
