package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"gridexecutor/src/connectors"
	"gridexecutor/src/grid"
	"gridexecutor/src/instrument"
	"gridexecutor/src/model"
	"gridexecutor/src/observability"
	"gridexecutor/src/repository"
	"gridexecutor/src/risk"
)

const module = "execution_manager"

// Source is a simulation instance whose configuration can be mirrored live.
type Source interface {
	ID() string
	Config() grid.Config
	WalletValue() float64
	Dead() bool
}

// Picker names the simulation instance that currently deserves the capital.
type Picker interface {
	Pick() (Source, bool)
}

// Journal persists placements and status transitions of live orders.
type Journal interface {
	SaveOrder(ctx context.Context, order *model.LiveOrder) error
	UpdateStatus(ctx context.Context, exchangeOrderID string, status model.OrderStatus, fillPrice float64) error
}

// Deps are the collaborators of a Manager. Gate, Journal, Exceptions, Metrics
// and Log are optional.
type Deps struct {
	Exchange    connectors.ExchangeClient
	Instruments *instrument.Table
	Picker      Picker
	Gate        *risk.SessionGate
	Journal     Journal
	Exceptions  *repository.ExceptionRepository
	Metrics     *observability.Metrics
	Log         *logrus.Entry
}

type slotKey struct {
	generation uint64
	slot       int
}

// Manager routes the managed capital to one live grid instance at a time and
// keeps its slots in sync with resting exchange orders.
//
// The tick path and the event path share mu. Exchange calls are never made
// while holding it: intents are collected under the lock, executed unlocked and
// applied under the lock again after re-validating the instance and generation.
type Manager struct {
	cfg         Config
	exchange    connectors.ExchangeClient
	instruments *instrument.Table
	picker      Picker
	gate        *risk.SessionGate
	journal     Journal
	exceptions  *repository.ExceptionRepository
	metrics     *observability.Metrics
	log         *logrus.Entry

	now         func() time.Time
	newClientID func() string

	mu              sync.Mutex
	state           State
	active          *grid.Strategy
	sourceID        string
	managedCapital  float64
	lastPrice       float64
	prices          map[string]float64
	lastSwitchCheck time.Time
	switching       bool

	records  map[string]*LiveOrderRecord
	bySlot   map[slotKey]string
	inFlight map[slotKey]bool
}

func NewManager(cfg Config, deps Deps) *Manager {
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		cfg:         cfg,
		exchange:    deps.Exchange,
		instruments: deps.Instruments,
		picker:      deps.Picker,
		gate:        deps.Gate,
		journal:     deps.Journal,
		exceptions:  deps.Exceptions,
		metrics:     deps.Metrics,
		log:         log.WithFields(logrus.Fields{"component": "execution", "exchange": deps.Exchange.Name()}),
		now:         time.Now,
		newClientID: func() string { return uuid.NewString() },
		prices:      make(map[string]float64),
		records:     make(map[string]*LiveOrderRecord),
		bySlot:      make(map[slotKey]string),
		inFlight:    make(map[slotKey]bool),
	}
}

type placement struct {
	key   slotKey
	trend grid.Trend
	req   connectors.OrderRequest
}

type positionClose struct {
	side connectors.PositionSide
	qty  decimal.Decimal
}

// tickPlan is the exchange work decided under the lock for one tick.
type tickPlan struct {
	strat      *grid.Strategy
	pair       string
	generation uint64
	flatten    bool
	closes     []positionClose
	cancels    []LiveOrderRecord
	placements []placement
}

// OnPriceTick feeds one observed price to the manager. It may switch the live
// instance, advances the active instance when pair matches and mirrors the
// result on the exchange. Only signature failures, unknown exchange codes and
// exhausted retries are returned.
func (m *Manager) OnPriceTick(ctx context.Context, pair string, price float64) error {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil
	}
	now := m.now()

	m.mu.Lock()
	m.prices[pair] = price
	m.mu.Unlock()

	if err := m.maybeSwitch(ctx, now); err != nil {
		return err
	}

	m.mu.Lock()
	strat := m.active
	if strat == nil || strat.Pair() != pair || m.switching {
		m.mu.Unlock()
		return nil
	}
	m.state = StateEvaluating
	prev := m.lastPrice
	m.lastPrice = price
	res := strat.AcceptPriceChange(prev, price, now)
	plan := m.planLocked(strat, res, now)
	m.mu.Unlock()

	return m.execute(ctx, plan)
}

func (m *Manager) planLocked(strat *grid.Strategy, res grid.TickResult, now time.Time) tickPlan {
	plan := tickPlan{strat: strat, pair: strat.Pair(), generation: res.Generation}

	if res.Died || strat.Dead() {
		m.log.WithFields(map[string]interface{}{
			"instance": strat.ID(),
			"pair":     plan.pair,
		}).Warn("Live instance died, flattening")
		m.metrics.RecordDeath()
		m.detachAllLocked(now)
		m.active = nil
		m.sourceID = ""
		m.lastSwitchCheck = time.Time{}
		m.state = StateSettling
		plan.flatten = true
		return plan
	}
	if res.Recentered {
		m.log.WithFields(map[string]interface{}{
			"instance":   strat.ID(),
			"pair":       plan.pair,
			"reason":     res.RecenterReason,
			"generation": res.Generation,
		}).Info("Live instance recentered, flattening")
		m.metrics.RecordRecenter(res.RecenterReason)
		m.detachAllLocked(now)
		m.state = StateSettling
		plan.flatten = true
		return plan
	}

	exits := map[grid.Trend]float64{}
	for _, c := range res.Closed {
		if id, ok := m.bySlot[slotKey{res.Generation, c.Slot}]; ok {
			m.detachLocked(id, now)
		}
		if c.Reason == grid.ClosePositionExit {
			exits[c.Trend] += c.Quantity
		}
	}

	info, infoErr := m.instruments.Get(plan.pair)
	for _, trend := range []grid.Trend{grid.Long, grid.Short} {
		if exits[trend] <= 0 || infoErr != nil {
			continue
		}
		qty := quantizeQty(decimal.NewFromFloat(exits[trend]), info)
		plan.closes = append(plan.closes, positionClose{side: sideOf(trend), qty: qty})
	}

	plan.cancels = m.expireLocked(now)
	m.state = StateArmed

	if infoErr != nil {
		m.log.WithError(infoErr).WithField("pair", plan.pair).Error("No instrument info, placement skipped")
		return plan
	}
	if m.gate != nil {
		if m.gate.Session(now) == risk.SessionNoTrade {
			m.log.WithField("pair", plan.pair).Debug("No-trade window, placement skipped")
			return plan
		}
	}

	for _, po := range strat.PendingOrders() {
		key := slotKey{po.Generation, po.Slot}
		if _, linked := m.bySlot[key]; linked || m.inFlight[key] {
			continue
		}
		req, ok := m.orderRequest(plan.pair, po, info, now)
		if !ok {
			continue
		}
		m.inFlight[key] = true
		plan.placements = append(plan.placements, placement{key: key, trend: po.Order.Trend, req: req})
	}
	return plan
}

// expireLocked selects unfilled orders resting longer than the fill timeout and
// forgets detached records past their retention.
func (m *Manager) expireLocked(now time.Time) []LiveOrderRecord {
	var out []LiveOrderRecord
	for id, rec := range m.records {
		if rec.detached() {
			if m.cfg.DetachedRetention > 0 && now.Sub(rec.DetachedAt) > m.cfg.DetachedRetention {
				delete(m.records, id)
			}
			continue
		}
		if m.cfg.OrderFillTimeout <= 0 || rec.IsFilled || rec.cancelling || now.Sub(rec.PlacedAt) < m.cfg.OrderFillTimeout {
			continue
		}
		rec.cancelling = true
		out = append(out, *rec)
	}
	return out
}

func (m *Manager) orderRequest(pair string, po grid.PendingOrder, info instrument.Info, now time.Time) (connectors.OrderRequest, bool) {
	qty := decimal.NewFromFloat(po.Order.Quantity)
	if m.gate != nil {
		qty, _ = m.gate.Size(qty, now)
	}
	qty = quantizeQty(qty, info)
	if !qty.IsPositive() {
		return connectors.OrderRequest{}, false
	}
	return connectors.OrderRequest{
		Pair:          pair,
		ClientOrderID: m.newClientID(),
		Side:          sideOf(po.Order.Trend),
		Price:         quantizePrice(po.Order.EntryPrice, info),
		Quantity:      qty,
		StopLoss:      quantizePrice(po.Order.StopLossPrice, info),
		TakeProfit:    quantizePrice(po.Order.TakeProfitPrice, info),
	}, true
}

func (m *Manager) execute(ctx context.Context, plan tickPlan) error {
	var surfaced []error

	if plan.flatten {
		err := m.flatten(ctx, plan.pair)
		m.settle()
		if err != nil {
			return err
		}
	}

	for _, c := range plan.closes {
		err := m.withTimeout(ctx, func(ctx context.Context) error {
			return m.exchange.ClosePosition(ctx, plan.pair, c.side, c.qty)
		})
		if err = m.surface(ctx, "closePosition", plan.pair, err, map[string]interface{}{"side": c.side, "qty": c.qty.String()}); err != nil {
			if connectors.IsFatal(err) {
				m.releaseInFlight(plan.placements)
				return err
			}
			surfaced = append(surfaced, err)
		}
	}

	for _, rec := range plan.cancels {
		if err := m.cancelExpired(ctx, rec); err != nil {
			if connectors.IsFatal(err) {
				m.releaseInFlight(plan.placements)
				return err
			}
			surfaced = append(surfaced, err)
		}
	}

	for i, p := range plan.placements {
		if err := m.place(ctx, plan, p); err != nil {
			if connectors.IsFatal(err) {
				m.releaseInFlight(plan.placements[i+1:])
				return err
			}
			surfaced = append(surfaced, err)
		}
	}
	return errors.Join(surfaced...)
}

func (m *Manager) place(ctx context.Context, plan tickPlan, p placement) error {
	var placed connectors.PlacedOrder
	err := m.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		placed, err = m.exchange.CreateOrder(ctx, p.req)
		return err
	})

	fields := map[string]interface{}{
		"slot":          p.key.slot,
		"generation":    p.key.generation,
		"clientOrderId": p.req.ClientOrderID,
		"side":          p.req.Side,
		"price":         p.req.Price.String(),
		"qty":           p.req.Quantity.String(),
	}
	if err != nil {
		m.releaseInFlight([]placement{p})
		m.metrics.RecordOrderFailed(plan.pair, errorClass(err))
		return m.surface(ctx, "placeOrder", plan.pair, err, fields)
	}
	m.metrics.RecordOrderPlaced(plan.pair, string(p.req.Side))

	rec := &LiveOrderRecord{
		ExchangeOrderID: placed.ExchangeOrderID,
		ClientOrderID:   p.req.ClientOrderID,
		Pair:            plan.pair,
		InstanceID:      plan.strat.ID(),
		SlotIndex:       p.key.slot,
		Generation:      p.key.generation,
		Trend:           p.trend,
		QuantizedPrice:  p.req.Price,
		QuantizedQty:    p.req.Quantity,
		StopLoss:        p.req.StopLoss,
		TakeProfit:      p.req.TakeProfit,
		PlacedAt:        m.now(),
	}

	m.mu.Lock()
	delete(m.inFlight, p.key)
	valid := m.active == plan.strat && plan.strat.Generation() == p.key.generation
	if valid {
		m.records[rec.ExchangeOrderID] = rec
		m.bySlot[p.key] = rec.ExchangeOrderID
	}
	resting := len(m.records)
	m.mu.Unlock()

	if !valid {
		m.log.WithFields(fields).Warn("Instance changed while placing, cancelling orphan order")
		err := m.withTimeout(ctx, func(ctx context.Context) error {
			return m.exchange.CancelOrder(ctx, plan.pair, rec.ExchangeOrderID, p.req.Side)
		})
		return m.surface(ctx, "cancelOrphan", plan.pair, err, fields)
	}

	m.metrics.SetRestingOrders(resting)
	m.log.WithFields(fields).WithField("exchangeOrderId", rec.ExchangeOrderID).Info("Order placed")
	if m.journal != nil {
		if err := m.journal.SaveOrder(ctx, rec.toModel(m.exchange.Name())); err != nil {
			m.log.WithError(err).Error("Failed to journal order")
		}
	}
	return nil
}

// cancelExpired cancels an order that was not filled in time and frees its slot.
func (m *Manager) cancelExpired(ctx context.Context, rec LiveOrderRecord) error {
	err := m.withTimeout(ctx, func(ctx context.Context) error {
		return m.exchange.CancelOrder(ctx, rec.Pair, rec.ExchangeOrderID, sideOf(rec.Trend))
	})
	if err != nil {
		m.mu.Lock()
		if r, ok := m.records[rec.ExchangeOrderID]; ok {
			r.cancelling = false
		}
		m.mu.Unlock()
		return m.surface(ctx, "cancelOrder", rec.Pair, err, map[string]interface{}{"exchangeOrderId": rec.ExchangeOrderID})
	}

	m.metrics.RecordOrderTimeout()
	m.log.WithFields(map[string]interface{}{
		"exchangeOrderId": rec.ExchangeOrderID,
		"slot":            rec.SlotIndex,
		"age":             m.now().Sub(rec.PlacedAt).String(),
	}).Info("Order fill timed out, cancelled")
	return m.OnExchangeOrderEvent(ctx, model.OrderEvent{
		Pair:            rec.Pair,
		ExchangeOrderID: rec.ExchangeOrderID,
		ClientOrderID:   rec.ClientOrderID,
		Status:          model.OrderStatusCancelled,
		At:              m.now(),
	})
}

// maybeSwitch runs the periodic switch decision.
func (m *Manager) maybeSwitch(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	if m.switching || (!m.lastSwitchCheck.IsZero() && now.Sub(m.lastSwitchCheck) < m.cfg.SwitchInterval) {
		m.mu.Unlock()
		return nil
	}
	cand, ok := m.picker.Pick()
	if !ok || cand.Dead() {
		m.lastSwitchCheck = now
		m.mu.Unlock()
		return nil
	}
	candPrice, seen := m.prices[cand.Config().Pair]
	if !seen {
		m.mu.Unlock()
		return nil
	}
	m.lastSwitchCheck = now
	m.switching = true
	m.state = StateEvaluating
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.switching = false
		if m.active != nil {
			m.state = StateArmed
		} else {
			m.state = StateIdle
		}
		m.mu.Unlock()
	}()

	var balance decimal.Decimal
	err := m.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		balance, err = m.exchange.GetAccountBalance(ctx)
		return err
	})
	if err != nil {
		return m.surface(ctx, "getAccountBalance", "", err, nil)
	}
	capital := balance.InexactFloat64()

	m.mu.Lock()
	m.managedCapital = capital
	old := m.active
	if old != nil && (cand.ID() == m.sourceID || cand.WalletValue() <= capital*(1+m.cfg.SwitchMarginPct/100)) {
		m.mu.Unlock()
		m.metrics.SetManagedCapital(capital)
		return nil
	}
	if capital <= 0 {
		m.mu.Unlock()
		m.log.WithField("balance", balance.String()).Warn("No managed capital, switch skipped")
		return nil
	}
	m.state = StateSettling
	m.active = nil
	m.sourceID = ""
	m.records = make(map[string]*LiveOrderRecord)
	m.bySlot = make(map[slotKey]string)
	m.inFlight = make(map[slotKey]bool)
	m.mu.Unlock()

	m.metrics.SetManagedCapital(capital)
	m.metrics.SetRestingOrders(0)

	if old != nil {
		m.log.WithFields(map[string]interface{}{
			"from":     old.ID(),
			"fromPair": old.Pair(),
			"to":       cand.ID(),
			"toWallet": cand.WalletValue(),
			"managed":  capital,
		}).Info("Switching live instance")
		if err := m.flatten(ctx, old.Pair()); err != nil {
			return err
		}
	}

	strat, err := m.adopt(ctx, cand, candPrice, capital, now)
	if err != nil {
		return err
	}

	if strat == nil {
		return nil
	}
	m.mu.Lock()
	m.active = strat
	m.sourceID = cand.ID()
	m.lastPrice = candPrice
	m.mu.Unlock()
	m.metrics.RecordSwitch()
	return nil
}

// adopt builds a live instance from the candidate's configuration centered at
// price. A nil instance with a nil error means the candidate was skipped.
func (m *Manager) adopt(ctx context.Context, cand Source, price, capital float64, now time.Time) (*grid.Strategy, error) {
	cfg := cand.Config()
	fields := map[string]interface{}{"source": cand.ID(), "pair": cfg.Pair, "center": price, "capital": capital}

	info, err := m.instruments.Get(cfg.Pair)
	if err != nil {
		m.log.WithFields(fields).WithError(err).Error("Candidate pair has no instrument info")
		return nil, nil
	}
	cfg.ID = cand.ID()
	cfg.Capital = capital
	cfg.ExternalFills = true
	cfg.MinPriceStep = info.MinPriceStep()
	cfg.MinQtyStep = info.MinQtyStep()

	strat, err := grid.New(cfg, price, now)
	if err != nil {
		m.log.WithFields(fields).WithError(err).Error("Failed to build live instance")
		return nil, nil
	}

	leverage := int(math.Ceil(cfg.Multiplier))
	if leverage < 1 {
		leverage = 1
	}
	if info.MaxLeverage > 0 && leverage > info.MaxLeverage {
		leverage = info.MaxLeverage
	}
	err = m.withTimeout(ctx, func(ctx context.Context) error {
		return m.exchange.SetLeverage(ctx, cfg.Pair, leverage)
	})
	if err = m.surface(ctx, "setLeverage", cfg.Pair, err, fields); err != nil && connectors.IsFatal(err) {
		return nil, err
	}

	m.log.WithFields(fields).WithField("leverage", leverage).Info("Live instance adopted")
	return strat, nil
}

// flatten cancels every resting order and closes every position of pair.
func (m *Manager) flatten(ctx context.Context, pair string) error {
	err := m.withTimeout(ctx, func(ctx context.Context) error {
		return m.exchange.CancelAllOrders(ctx, pair)
	})
	if err = m.surface(ctx, "cancelAllOrders", pair, err, nil); err != nil && connectors.IsFatal(err) {
		return err
	}
	err = m.withTimeout(ctx, func(ctx context.Context) error {
		return connectors.CloseAllPositions(ctx, m.exchange, pair)
	})
	return m.surface(ctx, "closeAllPositions", pair, err, nil)
}

func (m *Manager) settle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.state = StateArmed
	} else {
		m.state = StateIdle
	}
}

func (m *Manager) detachLocked(id string, now time.Time) {
	rec, ok := m.records[id]
	if !ok {
		return
	}
	delete(m.bySlot, slotKey{rec.Generation, rec.SlotIndex})
	if !rec.detached() {
		rec.DetachedAt = now
	}
}

func (m *Manager) detachAllLocked(now time.Time) {
	for id := range m.records {
		m.detachLocked(id, now)
	}
	m.bySlot = make(map[slotKey]string)
	m.inFlight = make(map[slotKey]bool)
}

func (m *Manager) releaseInFlight(ps []placement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		delete(m.inFlight, p.key)
	}
}

func (m *Manager) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

// surface decides what happens to an exchange error. Fatal and unknown errors
// are captured and returned. Attempt-level rejections are logged and swallowed,
// exhausted transient errors are logged and returned.
func (m *Manager) surface(ctx context.Context, method, pair string, err error, fields map[string]interface{}) error {
	if err == nil {
		return nil
	}
	log := m.log.WithFields(fields).WithFields(map[string]interface{}{"method": method, "pair": pair}).WithError(err)

	var rejected *connectors.RejectedError
	switch {
	case connectors.IsFatal(err):
		repository.Capture(ctx, m.exceptions, module, method, pair, "fatal", err, fields)
		return err
	case connectors.IsUnknown(err):
		repository.Capture(ctx, m.exceptions, module, method, pair, "error", err, fields)
		return err
	case errors.Is(err, connectors.ErrInsufficientBalance), errors.As(err, &rejected):
		log.Warn("Exchange refused the attempt")
		return nil
	case errors.Is(err, context.Canceled):
		return err
	default:
		log.Error("Exchange call failed")
		return fmt.Errorf("%s %s: %w", method, pair, err)
	}
}

func errorClass(err error) string {
	var rejected *connectors.RejectedError
	switch {
	case connectors.IsFatal(err):
		return "invalid_signature"
	case errors.Is(err, connectors.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.As(err, &rejected):
		return "rejected"
	case connectors.IsUnknown(err):
		return "unknown"
	case connectors.IsRetryable(err):
		return "transient"
	}
	return "other"
}

func sideOf(t grid.Trend) connectors.PositionSide {
	if t == grid.Short {
		return connectors.SideShort
	}
	return connectors.SideLong
}

// State reports the lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Active returns the live instance, or nil when idle.
func (m *Manager) Active() *grid.Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) ManagedCapital() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.managedCapital
}

// Records returns a copy of every tracked order, detached ones included.
func (m *Manager) Records() []LiveOrderRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LiveOrderRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	return out
}
