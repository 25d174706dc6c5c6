package grid

// Position is the aggregated exposure of one direction.
type Position struct {
	Trend      Trend   `json:"trend"`
	EntryPrice float64 `json:"entry_price"`
	Size       float64 `json:"size"`

	orders int
}

// Ledger tracks Long and Short exposure of a grid instance independently.
type Ledger struct {
	policy     ExitPolicy
	multiplier float64
	long       *Position
	short      *Position
}

func NewLedger(policy ExitPolicy, multiplier float64) *Ledger {
	return &Ledger{policy: policy, multiplier: multiplier}
}

func (l *Ledger) slot(trend Trend) **Position {
	if trend == Short {
		return &l.short
	}
	return &l.long
}

// UpdateSizeAndEntryPrice adds a filled order to its direction with a size weighted entry.
func (l *Ledger) UpdateSizeAndEntryPrice(o *Order) {
	if o == nil || o.Quantity <= 0 {
		return
	}
	p := l.slot(o.Trend)
	if *p == nil {
		*p = &Position{Trend: o.Trend, EntryPrice: o.EntryPrice, Size: o.Quantity, orders: 1}
		return
	}
	pos := *p
	newSize := pos.Size + o.Quantity
	pos.EntryPrice = (pos.EntryPrice*pos.Size + o.EntryPrice*o.Quantity) / newSize
	pos.Size = newSize
	pos.orders++
}

// Reduce takes one closed order out of its direction. The remaining entry is
// the size weighted average of the orders still open, and the position
// disappears with its last order.
func (l *Ledger) Reduce(o *Order) {
	if o == nil {
		return
	}
	p := l.slot(o.Trend)
	pos := *p
	if pos == nil {
		return
	}
	newSize := pos.Size - o.Quantity
	pos.orders--
	if pos.orders <= 0 || newSize <= 0 {
		*p = nil
		return
	}
	pos.EntryPrice = (pos.EntryPrice*pos.Size - o.EntryPrice*o.Quantity) / newSize
	pos.Size = newSize
}

func (l *Ledger) Position(trend Trend) (Position, bool) {
	pos := *l.slot(trend)
	if pos == nil {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns open positions, Long first.
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, 2)
	if l.long != nil {
		out = append(out, *l.long)
	}
	if l.short != nil {
		out = append(out, *l.short)
	}
	return out
}

func (l *Ledger) Empty() bool {
	return l.long == nil && l.short == nil
}

func (l *Ledger) Clear() {
	l.long, l.short = nil, nil
}

// CalculateProfit is the unrealized PnL of one direction at price.
func (l *Ledger) CalculateProfit(trend Trend, price float64) float64 {
	pos, ok := l.Position(trend)
	if !ok {
		return 0
	}
	return (price - pos.EntryPrice) * pos.Size * trend.Direction()
}

func (l *Ledger) UnrealizedPnL(price float64) float64 {
	return l.CalculateProfit(Long, price) + l.CalculateProfit(Short, price)
}

// Margin is the collateral backing a direction at the configured multiplier.
func (l *Ledger) Margin(trend Trend) float64 {
	pos, ok := l.Position(trend)
	if !ok || l.multiplier <= 0 {
		return 0
	}
	return pos.EntryPrice * pos.Size / l.multiplier
}

// IsTpOrSlCrossed reports whether the direction's profit reached either threshold.
func (l *Ledger) IsTpOrSlCrossed(trend Trend, price, capital float64) bool {
	if _, ok := l.Position(trend); !ok {
		return false
	}
	profit := l.CalculateProfit(trend, price)
	tp, sl := l.policy.TakeProfitPct, l.policy.StopLossPct

	switch l.policy.Kind {
	case ExitPolicyMarginROI:
		margin := l.Margin(trend)
		if margin <= 0 {
			return false
		}
		roi := profit / margin * 100
		return (tp > 0 && roi >= tp) || (sl > 0 && roi <= -sl)
	default:
		if capital <= 0 {
			return false
		}
		return (tp > 0 && profit >= capital*tp/100) || (sl > 0 && profit <= -capital*sl/100)
	}
}

// Netted collapses both directions into the single position a one-way account holds.
// The entry keeps the netted unrealized PnL equal to the sum of both legs' slopes.
func (l *Ledger) Netted() (Position, bool) {
	long, hasLong := l.Position(Long)
	short, hasShort := l.Position(Short)
	switch {
	case hasLong && !hasShort:
		return long, true
	case hasShort && !hasLong:
		return short, true
	case !hasLong && !hasShort:
		return Position{}, false
	}
	net := long.Size - short.Size
	if net == 0 {
		return Position{}, false
	}
	entry := (long.EntryPrice*long.Size - short.EntryPrice*short.Size) / net
	if net > 0 {
		return Position{Trend: Long, EntryPrice: entry, Size: net}, true
	}
	return Position{Trend: Short, EntryPrice: entry, Size: -net}, true
}
