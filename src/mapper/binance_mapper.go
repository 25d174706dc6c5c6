package mapper

import (
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"gridexecutor/src/model"
)

func MapBinanceStatus(status futures.OrderStatusType) model.OrderStatus {
	switch status {
	case futures.OrderStatusTypeFilled:
		return model.OrderStatusFilled
	case futures.OrderStatusTypeCanceled:
		return model.OrderStatusCancelled
	case futures.OrderStatusTypeRejected:
		return model.OrderStatusRejected
	case futures.OrderStatusTypeExpired:
		return model.OrderStatusDeactivated
	default:
		return model.OrderStatusNew
	}
}

// MapBinanceOrderToEvent converts a queried futures order. The average price
// is preferred over the limit price once anything executed.
func MapBinanceOrderToEvent(o *futures.Order) model.OrderEvent {
	price, _ := strconv.ParseFloat(o.AvgPrice, 64)
	if price == 0 {
		price, _ = strconv.ParseFloat(o.Price, 64)
	}
	return model.OrderEvent{
		Pair:            o.Symbol,
		ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:   o.ClientOrderID,
		Status:          MapBinanceStatus(o.Status),
		Price:           price,
		At:              time.UnixMilli(o.UpdateTime),
	}
}
