package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"gridexecutor/src/database"
	"gridexecutor/src/model"
)

// LiveOrderRepository journals exchange orders placed by the live manager.
type LiveOrderRepository struct {
	db *gorm.DB
}

func NewLiveOrderRepository() *LiveOrderRepository {
	return &LiveOrderRepository{db: database.MainDB}
}

func NewLiveOrderRepositoryWithDB(db *gorm.DB) *LiveOrderRepository {
	return &LiveOrderRepository{db: db}
}

func (r *LiveOrderRepository) SaveOrder(ctx context.Context, order *model.LiveOrder) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"exchange_order_id": order.ExchangeOrderID,
			"pair":              order.Pair,
		}).WithError(err).Error("Failed to save live order")
		return err
	}
	return nil
}

// UpdateStatus sets the status of an order and, when positive, its fill price.
func (r *LiveOrderRepository) UpdateStatus(ctx context.Context, exchangeOrderID string, status model.OrderStatus, fillPrice float64) error {
	updates := map[string]interface{}{
		"status":     string(status),
		"updated_at": time.Now(),
	}
	if fillPrice > 0 {
		updates["fill_price"] = fillPrice
	}
	return r.db.WithContext(ctx).
		Model(&model.LiveOrder{}).
		Where("exchange_order_id = ?", exchangeOrderID).
		Updates(updates).Error
}

// FindByExchangeOrderID returns nil, nil when the order is unknown.
func (r *LiveOrderRepository) FindByExchangeOrderID(ctx context.Context, exchangeOrderID string) (*model.LiveOrder, error) {
	var order model.LiveOrder
	err := r.db.WithContext(ctx).
		Where("exchange_order_id = ?", exchangeOrderID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOpen returns the orders of pair that have not reached a terminal status.
func (r *LiveOrderRepository) ListOpen(ctx context.Context, pair string) ([]model.LiveOrder, error) {
	var rows []model.LiveOrder
	err := r.db.WithContext(ctx).
		Where("pair = ? AND status IN ?", pair, []string{string(model.OrderStatusNew), string(model.OrderStatusFilled)}).
		Order("placed_at ASC").
		Find(&rows).Error
	return rows, err
}
