package model

import "time"

// LiveOrder journals one exchange order placed on behalf of a grid slot.
type LiveOrder struct {
	ID uint `gorm:"primaryKey" json:"id"`

	ExchangeOrderID string `gorm:"size:100;uniqueIndex" json:"exchange_order_id"`
	ClientOrderID   string `gorm:"size:100;index" json:"client_order_id"`
	Exchange        string `gorm:"size:30" json:"exchange"`
	Pair            string `gorm:"size:50;index" json:"pair"`
	InstanceID      string `gorm:"size:100;index" json:"instance_id"`

	SlotIndex  int    `json:"slot_index"`
	Generation uint64 `json:"generation"`
	Trend      string `gorm:"size:10" json:"trend"`

	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	FillPrice  float64 `json:"fill_price"`

	Status string `gorm:"size:20;index" json:"status"`

	PlacedAt  time.Time `json:"placed_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
