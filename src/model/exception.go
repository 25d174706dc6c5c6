package model

import "time"

// Exception is a persisted system error raised while trading or replaying history.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Origin
	Service string `gorm:"size:100;index" json:"service"` // e.g. "grid_executor"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "execution_manager"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "placeOrder"
	Pair    string `gorm:"size:50;index" json:"pair,omitempty"`

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`

	// debug | info | warn | error | fatal
	Level string `gorm:"size:20;index" json:"level"`

	// JSON encoded extra fields
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
