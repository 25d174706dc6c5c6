package model

import "time"

// BacktestResult is the persisted outcome of one configuration in a backtest batch.
type BacktestResult struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	RequestID string `gorm:"size:64;index:idx_backtest_result_request,priority:1" json:"request_id"`
	ConfigID  string `gorm:"size:100;index:idx_backtest_result_request,priority:2" json:"config_id"`
	Pair      string `gorm:"size:50" json:"pair"`

	InitialCapital float64 `json:"initial_capital"`
	FinalCapital   float64 `json:"final_capital"`
	Resets         int     `json:"resets"`
	Ticks          int     `json:"ticks"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Failed bool   `json:"failed"`
	Error  string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
