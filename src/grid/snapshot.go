package grid

import (
	"gridexecutor/src/model"
)

// SlotSummary counts lattice slots by state.
type SlotSummary struct {
	Empty   int `json:"empty"`
	Pending int `json:"pending"`
	Filled  int `json:"filled"`
}

// Snapshot is a consistent read-only view of an instance.
type Snapshot struct {
	ID                    string      `json:"id"`
	Pair                  string      `json:"pair"`
	Capital               float64     `json:"capital"`
	WalletValue           float64     `json:"wallet_value"`
	LastPrice             float64     `json:"last_price"`
	MinPrice              float64     `json:"min_price"`
	MaxPrice              float64     `json:"max_price"`
	Step                  float64     `json:"step"`
	Generation            uint64      `json:"generation"`
	OpenPositions         []Position  `json:"open_positions"`
	Slots                 SlotSummary `json:"slots"`
	OrderCompletionFactor int64       `json:"order_completion_factor"`
	Dead                  bool        `json:"dead"`

	config Config
	margin float64
}

func (s *Strategy) RuntimeSnapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summary SlotSummary
	for _, slot := range s.slots {
		switch {
		case slot.Center:
		case slot.Order == nil:
			summary.Empty++
		case slot.Order.Filled:
			summary.Filled++
		default:
			summary.Pending++
		}
	}

	return Snapshot{
		ID:                    s.cfg.ID,
		Pair:                  s.cfg.Pair,
		Capital:               s.capital,
		WalletValue:           s.capital + s.ledger.UnrealizedPnL(s.lastPrice),
		LastPrice:             s.lastPrice,
		MinPrice:              s.minPrice,
		MaxPrice:              s.maxPrice,
		Step:                  s.step,
		Generation:            s.generation,
		OpenPositions:         s.positions(),
		Slots:                 summary,
		OrderCompletionFactor: s.profitableFills - s.losingFills,
		Dead:                  s.dead,
		config:                s.cfg,
		margin:                s.ledger.Margin(Long) + s.ledger.Margin(Short),
	}
}

// Document renders the snapshot as the analyzer document matching its exit policy.
func (snap Snapshot) Document() model.AnalyzerDocument {
	state := model.GridState{
		Capital:     snap.Capital,
		WalletValue: snap.WalletValue,
		MinPrice:    snap.MinPrice,
		MaxPrice:    snap.MaxPrice,
		Step:        snap.Step,
		Generation:  snap.Generation,
		FilledSlots: snap.Slots.Filled,
		EmptySlots:  snap.Slots.Empty,
		Dead:        snap.Dead,
	}
	for _, p := range snap.OpenPositions {
		if p.Trend == Short {
			state.ShortSize, state.ShortEntry = p.Size, p.EntryPrice
		} else {
			state.LongSize, state.LongEntry = p.Size, p.EntryPrice
		}
	}

	exit := snap.config.Exit
	switch exit.Kind {
	case ExitPolicyMarginROI:
		return model.MarginROIDocument{
			GridState:        state,
			Multiplier:       snap.config.Multiplier,
			MarginUsed:       snap.margin,
			TakeProfitROIPct: exit.TakeProfitPct,
			StopLossROIPct:   exit.StopLossPct,
		}
	default:
		return model.CapitalPercentDocument{
			GridState:         state,
			TakeProfitPercent: exit.TakeProfitPct,
			StopLossPercent:   exit.StopLossPct,
		}
	}
}
