package grid

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Strategy is one simulated grid instance.
//
// AcceptPriceChange must be called by a single goroutine in tick order. The
// ranking accessors (WalletValue, OrderCompletionFactor, Dead) are lock-free and
// may be read from anywhere; RuntimeSnapshot takes a short read lock.
type Strategy struct {
	mu sync.RWMutex

	cfg     Config
	capital float64

	center   float64
	minPrice float64
	maxPrice float64
	step     float64
	slots    []Slot
	ledger   *Ledger

	outOfBoundTicks       int
	ticksSinceMiddleCross int
	lastRecenter          time.Time
	generation            uint64

	tick      uint64
	lastPrice float64
	dead      bool

	profitableFills int64
	losingFills     int64

	walletBits atomic.Uint64
	factor     atomic.Int64
	deadFlag   atomic.Bool
}

// New builds the lattice around center.
func New(cfg Config, center float64, at time.Time) (*Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if center <= 0 || math.IsNaN(center) || math.IsInf(center, 0) {
		return nil, fmt.Errorf("%w: center price %v", ErrInvalidConfig, center)
	}

	s := &Strategy{
		cfg:       cfg,
		capital:   cfg.Capital,
		ledger:    NewLedger(cfg.Exit, cfg.Multiplier),
		lastPrice: center,
	}
	s.rebuild(center, at)
	s.publish()
	return s, nil
}

// rebuild regenerates the whole lattice; slots are never edited in place.
func (s *Strategy) rebuild(center float64, at time.Time) {
	n := s.cfg.GridSize
	step := center * s.cfg.DiapasonPct * 2 / (100 * float64(n))
	if step < s.cfg.MinPriceStep {
		step = s.cfg.MinPriceStep
	}
	half := float64(n) / 2

	slots := make([]Slot, n+1)
	for i := range slots {
		slots[i] = Slot{
			Price:  center + (float64(i)-half)*step,
			Center: n%2 == 0 && i == n/2,
		}
	}

	s.center = center
	s.step = step
	s.slots = slots
	s.minPrice = slots[0].Price
	s.maxPrice = slots[n].Price
	s.outOfBoundTicks = 0
	s.ticksSinceMiddleCross = 0
	s.lastRecenter = at
	s.generation++
}

func (s *Strategy) quantity() float64 {
	qty := s.capital * s.cfg.Multiplier / (float64(len(s.slots)) * s.center)
	return math.Max(qty, s.cfg.MinQtyStep)
}

func (s *Strategy) newOrder(price float64, at time.Time) *Order {
	trend := Long
	if price > s.center {
		trend = Short
	}
	stopLoss := s.minPrice - s.step
	if trend == Short {
		stopLoss = s.maxPrice + s.step
	}
	return &Order{
		EntryPrice:      price,
		Quantity:        s.quantity(),
		TakeProfitPrice: price + trend.Direction()*s.step,
		StopLossPrice:   stopLoss,
		Trend:           trend,
		Filled:          !s.cfg.ExternalFills,
		CreatedAt:       at,
		armedTick:       s.tick,
	}
}

// AcceptPriceChange advances the instance by one tick moving from prev to curr.
func (s *Strategy) AcceptPriceChange(prev, curr float64, at time.Time) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := TickResult{Generation: s.generation}
	if s.dead {
		return res
	}
	s.tick++
	lo, hi := math.Min(prev, curr), math.Max(prev, curr)

	for i := range s.slots {
		slot := &s.slots[i]
		if slot.Center || slot.Order != nil || slot.Price < lo || slot.Price > hi {
			continue
		}
		slot.Order = s.newOrder(slot.Price, at)
		if slot.Order.Filled {
			s.ledger.UpdateSizeAndEntryPrice(slot.Order)
		}
		res.Armed = append(res.Armed, i)
	}

	for i := range s.slots {
		o := s.slots[i].Order
		if o == nil || !o.Filled || o.armedTick == s.tick {
			continue
		}
		if o.TakeProfitPrice < lo || o.TakeProfitPrice > hi {
			continue
		}
		res.Closed = append(res.Closed, s.closeSlot(i, o.TakeProfitPrice, CloseTakeProfit))
	}

	for _, trend := range []Trend{Long, Short} {
		if s.ledger.IsTpOrSlCrossed(trend, curr, s.capital) {
			res.Closed = append(res.Closed, s.closeTrend(trend, curr, ClosePositionExit)...)
		}
	}

	if reason := s.driftReason(lo, hi, curr, at); reason != "" {
		res.Closed = append(res.Closed, s.closeTrend(0, curr, CloseRecenter)...)
		s.rebuild(curr, at)
		res.Recentered = true
		res.RecenterReason = reason
		res.Generation = s.generation
	}

	if s.capital <= 0 {
		s.die()
		res.Died = true
	}

	s.lastPrice = curr
	s.publish()
	return res
}

// driftReason updates the staleness counters and names the recenter trigger, if any.
func (s *Strategy) driftReason(lo, hi, curr float64, at time.Time) string {
	if s.cfg.RecenterInterval > 0 && at.Sub(s.lastRecenter) >= s.cfg.RecenterInterval {
		return "interval"
	}
	if curr >= s.minPrice && curr <= s.maxPrice {
		s.outOfBoundTicks = 0
	}
	if !s.ledger.Empty() {
		return ""
	}

	if curr < s.minPrice || curr > s.maxPrice {
		s.outOfBoundTicks++
	}
	if lo <= s.center && s.center <= hi {
		s.ticksSinceMiddleCross = 0
	} else {
		s.ticksSinceMiddleCross++
	}

	switch {
	case s.cfg.OutOfBoundsTicks > 0 && s.outOfBoundTicks > s.cfg.OutOfBoundsTicks:
		return "out_of_bounds"
	case s.cfg.MiddleCrossTicks > 0 && s.ticksSinceMiddleCross > s.cfg.MiddleCrossTicks:
		return "middle_not_crossed"
	}
	return ""
}

// closeSlot realizes the filled order of slot i at exit and empties the slot.
func (s *Strategy) closeSlot(i int, exit float64, reason CloseReason) ClosedOrder {
	o := s.slots[i].Order
	pnl := (exit-o.EntryPrice)*o.Quantity*o.Trend.Direction() - fee(s.cfg.FeeRate, o.Quantity, o.EntryPrice, exit)

	s.capital += pnl
	s.ledger.Reduce(o)
	if pnl > 0 {
		s.profitableFills++
	} else {
		s.losingFills++
	}
	s.slots[i].Order = nil

	return ClosedOrder{
		Slot:       i,
		Trend:      o.Trend,
		EntryPrice: o.EntryPrice,
		ExitPrice:  exit,
		Quantity:   o.Quantity,
		PnL:        pnl,
		Reason:     reason,
	}
}

// closeTrend force-closes every filled order of trend at price; trend 0 means both
// directions. Pending orders are dropped without PnL.
func (s *Strategy) closeTrend(trend Trend, price float64, reason CloseReason) []ClosedOrder {
	var closed []ClosedOrder
	for i := range s.slots {
		o := s.slots[i].Order
		if o == nil || (trend != 0 && o.Trend != trend) {
			continue
		}
		if !o.Filled {
			if trend == 0 {
				s.slots[i].Order = nil
			}
			continue
		}
		closed = append(closed, s.closeSlot(i, price, reason))
	}
	return closed
}

func (s *Strategy) die() {
	s.dead = true
	s.slots = nil
	s.ledger.Clear()
}

// publish refreshes the lock-free ranking metrics.
func (s *Strategy) publish() {
	wallet := s.capital + s.ledger.UnrealizedPnL(s.lastPrice)
	s.walletBits.Store(math.Float64bits(wallet))
	s.factor.Store(s.profitableFills - s.losingFills)
	s.deadFlag.Store(s.dead)
}

// CloseAll force-closes every open order at price and returns the banked capital.
func (s *Strategy) CloseAll(price float64) (float64, []ClosedOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	closed := s.closeTrend(0, price, CloseForced)
	s.lastPrice = price
	if s.capital <= 0 && !s.dead {
		s.die()
	}
	s.publish()
	return s.capital, closed
}

// PendingOrders lists armed orders that have not been confirmed as filled.
func (s *Strategy) PendingOrders() []PendingOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []PendingOrder
	for i, slot := range s.slots {
		if slot.Order != nil && !slot.Order.Filled {
			out = append(out, PendingOrder{Slot: i, Generation: s.generation, Order: *slot.Order})
		}
	}
	return out
}

func (s *Strategy) orderAt(slot int, generation uint64) (*Order, error) {
	if s.dead {
		return nil, ErrDead
	}
	if generation != s.generation {
		return nil, ErrStaleGeneration
	}
	if slot < 0 || slot >= len(s.slots) {
		return nil, fmt.Errorf("%w: %d", ErrSlotRange, slot)
	}
	o := s.slots[slot].Order
	if o == nil {
		return nil, ErrNoOrder
	}
	return o, nil
}

// ConfirmFill marks a pending order as filled, adopting the exchange's prices
// when they are set. Confirming an already filled order is a no-op.
func (s *Strategy) ConfirmFill(slot int, generation uint64, price, stopLoss, takeProfit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.orderAt(slot, generation)
	if err != nil {
		return err
	}
	if o.Filled {
		return nil
	}
	if price > 0 {
		o.EntryPrice = price
	}
	if stopLoss > 0 {
		o.StopLossPrice = stopLoss
	}
	if takeProfit > 0 {
		o.TakeProfitPrice = takeProfit
	}
	o.Filled = true
	o.armedTick = s.tick
	s.ledger.UpdateSizeAndEntryPrice(o)
	s.publish()
	return nil
}

// ResetSlot drops a pending order so the slot can be armed again. It reports
// false when the order had already been filled and was kept.
func (s *Strategy) ResetSlot(slot int, generation uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.orderAt(slot, generation)
	if err != nil {
		return false, err
	}
	if o.Filled {
		return false, nil
	}
	s.slots[slot].Order = nil
	return true, nil
}

// CloseSlot realizes a filled order at price, as when the exchange closed it.
func (s *Strategy) CloseSlot(slot int, generation uint64, price float64) (ClosedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.orderAt(slot, generation)
	if err != nil {
		return ClosedOrder{}, err
	}
	if !o.Filled {
		s.slots[slot].Order = nil
		return ClosedOrder{Slot: slot, Trend: o.Trend, EntryPrice: o.EntryPrice, Reason: CloseExternal}, nil
	}
	closed := s.closeSlot(slot, price, CloseExternal)
	if s.capital <= 0 {
		s.die()
	}
	s.publish()
	return closed, nil
}

func (s *Strategy) ID() string     { return s.cfg.ID }
func (s *Strategy) Pair() string   { return s.cfg.Pair }
func (s *Strategy) Config() Config { return s.cfg }

func (s *Strategy) WalletValue() float64 {
	return math.Float64frombits(s.walletBits.Load())
}

// OrderCompletionFactor is profitable closes minus losing closes.
func (s *Strategy) OrderCompletionFactor() int64 {
	return s.factor.Load()
}

func (s *Strategy) Dead() bool {
	return s.deadFlag.Load()
}

func (s *Strategy) Capital() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capital
}

func (s *Strategy) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Step is the lattice spacing.
func (s *Strategy) Step() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.step
}

// Bounds returns the outermost lattice prices.
func (s *Strategy) Bounds() (float64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minPrice, s.maxPrice
}

// Slots returns a copy of the lattice.
func (s *Strategy) Slots() []Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Slot, len(s.slots))
	for i, slot := range s.slots {
		out[i] = slot
		if slot.Order != nil {
			o := *slot.Order
			out[i].Order = &o
		}
	}
	return out
}

// Positions returns the ledger's open positions, netted when hedge mode is off.
func (s *Strategy) Positions() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions()
}

func (s *Strategy) positions() []Position {
	if s.cfg.HedgeMode {
		return s.ledger.Positions()
	}
	if p, ok := s.ledger.Netted(); ok {
		return []Position{p}
	}
	return nil
}

// CapitalWithOpenPositions is capital plus unrealized PnL at price.
func (s *Strategy) CapitalWithOpenPositions(price float64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capital + s.ledger.UnrealizedPnL(price)
}
