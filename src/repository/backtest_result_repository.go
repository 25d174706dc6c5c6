package repository

import (
	"context"

	"gorm.io/gorm"

	"gridexecutor/src/database"
	"gridexecutor/src/model"
)

// BacktestResultRepository stores backtest outcomes keyed by request id.
type BacktestResultRepository struct {
	db *gorm.DB
}

func NewBacktestResultRepository() *BacktestResultRepository {
	return &BacktestResultRepository{db: database.MainDB}
}

func NewBacktestResultRepositoryWithDB(db *gorm.DB) *BacktestResultRepository {
	return &BacktestResultRepository{db: db}
}

func (r *BacktestResultRepository) Create(ctx context.Context, result *model.BacktestResult) error {
	return r.db.WithContext(ctx).Create(result).Error
}

// FindByRequest returns the results of one batch ordered by configuration id.
func (r *BacktestResultRepository) FindByRequest(ctx context.Context, requestID string) ([]model.BacktestResult, error) {
	var rows []model.BacktestResult
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("config_id ASC").
		Find(&rows).Error
	return rows, err
}

// SaveResult stores one configuration outcome under the batch requestID.
func (r *BacktestResultRepository) SaveResult(ctx context.Context, requestID string, result *model.BacktestResult) error {
	result.RequestID = requestID
	return r.Create(ctx, result)
}
