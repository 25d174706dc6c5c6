package execution

import (
	"context"
	"errors"

	"gridexecutor/src/connectors"
	"gridexecutor/src/grid"
	"gridexecutor/src/model"
)

// stale reports grid errors meaning the event no longer applies to the lattice.
func stale(err error) bool {
	return errors.Is(err, grid.ErrStaleGeneration) ||
		errors.Is(err, grid.ErrNoOrder) ||
		errors.Is(err, grid.ErrSlotRange) ||
		errors.Is(err, grid.ErrDead)
}

// OnExchangeOrderEvent applies an exchange status change to the order's slot.
// Repeated events are harmless: a second Filled is a no-op and terminal events
// for an already removed order are ignored.
func (m *Manager) OnExchangeOrderEvent(ctx context.Context, ev model.OrderEvent) error {
	m.metrics.RecordOrderEvent(string(ev.Status))
	fields := map[string]interface{}{
		"exchangeOrderId": ev.ExchangeOrderID,
		"status":          ev.Status,
		"price":           ev.Price,
	}

	m.mu.Lock()
	rec, ok := m.records[ev.ExchangeOrderID]
	if !ok {
		m.mu.Unlock()
		m.log.WithFields(fields).Warn("Order event for unknown order ignored")
		return nil
	}
	key := slotKey{rec.Generation, rec.SlotIndex}
	strat := m.active
	linked := strat != nil && !rec.detached() && m.bySlot[key] == rec.ExchangeOrderID

	var err error
	switch {
	case ev.Status == model.OrderStatusNew:
		m.mu.Unlock()
		return nil

	case !linked:
		m.removeLocked(rec)
		err = grid.ErrStaleGeneration

	case ev.Status == model.OrderStatusFilled:
		if rec.IsFilled {
			m.mu.Unlock()
			return nil
		}
		rec.IsFilled = true
		if err = strat.ConfirmFill(rec.SlotIndex, rec.Generation, ev.Price, ev.StopLoss, ev.TakeProfit); stale(err) {
			m.removeLocked(rec)
		}

	case ev.Status == model.OrderStatusClosed:
		m.removeLocked(rec)
		price := ev.Price
		if price <= 0 {
			price = m.lastPrice
		}
		var closed grid.ClosedOrder
		if closed, err = strat.CloseSlot(rec.SlotIndex, rec.Generation, price); err == nil {
			fields["pnl"] = closed.PnL
		}

	case ev.Status.Terminal():
		m.removeLocked(rec)
		_, err = strat.ResetSlot(rec.SlotIndex, rec.Generation)

	default:
		m.mu.Unlock()
		m.log.WithFields(fields).Warn("Order event with unknown status ignored")
		return nil
	}
	resting := len(m.records)
	m.mu.Unlock()

	m.metrics.SetRestingOrders(resting)
	fields["slot"] = rec.SlotIndex
	fields["generation"] = rec.Generation
	if err != nil && !stale(err) {
		m.log.WithFields(fields).WithError(err).Error("Failed to apply order event")
		return err
	}
	if err != nil {
		m.log.WithFields(fields).WithError(err).Debug("Order event no longer owned by a slot, record dropped")
	} else {
		m.log.WithFields(fields).Info("Order event applied")
	}

	if m.journal != nil {
		if jerr := m.journal.UpdateStatus(ctx, ev.ExchangeOrderID, ev.Status, ev.Price); jerr != nil {
			m.log.WithError(jerr).Error("Failed to journal order status")
		}
	}
	return nil
}

func (m *Manager) removeLocked(rec *LiveOrderRecord) {
	delete(m.records, rec.ExchangeOrderID)
	key := slotKey{rec.Generation, rec.SlotIndex}
	if m.bySlot[key] == rec.ExchangeOrderID {
		delete(m.bySlot, key)
	}
}

// Reconcile polls the exchange for every tracked order and applies the
// reported status, catching up on events that were never pushed.
func (m *Manager) Reconcile(ctx context.Context) error {
	type target struct{ pair, id string }

	m.mu.Lock()
	targets := make([]target, 0, len(m.records))
	for id, rec := range m.records {
		targets = append(targets, target{pair: rec.Pair, id: id})
	}
	m.mu.Unlock()

	var surfaced []error
	for _, t := range targets {
		var ev model.OrderEvent
		err := m.withTimeout(ctx, func(ctx context.Context) error {
			var err error
			ev, err = m.exchange.QueryOrder(ctx, t.pair, t.id)
			return err
		})
		if err = m.surface(ctx, "queryOrder", t.pair, err, map[string]interface{}{"exchangeOrderId": t.id}); err != nil {
			if connectors.IsFatal(err) {
				return err
			}
			surfaced = append(surfaced, err)
			continue
		}
		if ev.Status == "" || ev.Status == model.OrderStatusNew {
			continue
		}
		ev.ExchangeOrderID = t.id
		if err := m.OnExchangeOrderEvent(ctx, ev); err != nil {
			surfaced = append(surfaced, err)
		}
	}
	return errors.Join(surfaced...)
}
