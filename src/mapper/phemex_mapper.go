package mapper

import (
	"strconv"
	"time"

	logger "github.com/sirupsen/logrus"

	"gridexecutor/src/model"
)

// MapPhemexStatus translates a Phemex ordStatus into the exchange-neutral status.
func MapPhemexStatus(ordStatus string) model.OrderStatus {
	switch ordStatus {
	case "Filled":
		return model.OrderStatusFilled
	case "Canceled", "Cancelled":
		return model.OrderStatusCancelled
	case "Rejected":
		return model.OrderStatusRejected
	case "Deactivated", "Expired":
		return model.OrderStatusDeactivated
	case "Closed":
		return model.OrderStatusClosed
	default:
		// Created, Init, New, PartiallyFilled, Untriggered: still resting
		return model.OrderStatusNew
	}
}

// MapPhemexOrderToEvent converts a Phemex order payload into an OrderEvent.
// Numeric fields that fail to parse are logged and left at 0 so one bad field
// never drops the whole event.
func MapPhemexOrderToEvent(resp *model.PhemexOrderResponse) (model.OrderEvent, bool) {
	if resp == nil {
		logger.WithField("mapper", "MapPhemexOrderToEvent").Error("Nil PhemexOrderResponse received")
		return model.OrderEvent{}, false
	}

	parseFloatSafe := func(field, v string) float64 {
		if v == "" {
			return 0
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"field": field,
				"value": v,
			}).WithError(err).Error("Failed to parse float from Phemex response field; defaulting to 0")
			return 0
		}
		return f
	}

	at := time.Unix(0, resp.TransactTimeNs)
	if resp.TransactTimeNs == 0 {
		at = time.Unix(0, resp.ActionTimeNs)
	}

	event := model.OrderEvent{
		Pair:            resp.Symbol,
		ExchangeOrderID: resp.OrderID,
		ClientOrderID:   resp.ClOrdID,
		Status:          MapPhemexStatus(resp.OrdStatus),
		Price:           parseFloatSafe("PriceRp", resp.PriceRp),
		StopLoss:        parseFloatSafe("StopLossRp", resp.StopLossRp),
		TakeProfit:      parseFloatSafe("TakeProfitRp", resp.TakeProfitRp),
		At:              at,
	}

	logger.WithFields(map[string]interface{}{
		"mapper":            "MapPhemexOrderToEvent",
		"exchange_order_id": resp.OrderID,
		"symbol":            resp.Symbol,
		"ord_status":        resp.OrdStatus,
		"status":            event.Status,
	}).Debug("Phemex order mapped to event")

	return event, true
}
