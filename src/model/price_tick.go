package model

import "time"

// PriceTick is one observation of a pair's price, live or replayed from history.
type PriceTick struct {
	Pair  string    `json:"pair"`
	At    time.Time `json:"at"`
	Price float64   `json:"price"`
}
