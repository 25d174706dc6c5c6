package leaderboard

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// TopK is the number of rank groups that earn credit on a pass.
	TopK = 4
	// MaxCredit caps how many passes of absence an entry survives.
	MaxCredit = 4
)

// Candidate is a ranked simulation instance. Implementations must make every
// method safe to call while the instance is being ticked.
type Candidate interface {
	ID() string
	WalletValue() float64
	OrderCompletionFactor() int64
	Dead() bool
}

// Entry is the standing of one instance in one ranking.
type Entry struct {
	ID     string `json:"id"`
	Rank   int    `json:"rank"`
	Credit int    `json:"credit"`
}

// Leaderboard ranks a fixed roster by wallet value and by order completion.
type Leaderboard struct {
	mu      sync.Mutex
	roster  []Candidate
	byID    map[string]Candidate
	balance map[string]*Entry
	order   map[string]*Entry
	passes  uint64
	log     *logrus.Entry
}

func New(roster []Candidate, log *logrus.Entry) *Leaderboard {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	byID := make(map[string]Candidate, len(roster))
	for _, c := range roster {
		byID[c.ID()] = c
	}
	return &Leaderboard{
		roster:  roster,
		byID:    byID,
		balance: make(map[string]*Entry),
		order:   make(map[string]*Entry),
		log:     log.WithField("component", "leaderboard"),
	}
}

type scored struct {
	id    string
	value float64
}

// Rank runs one ranking pass over both rankings.
func (lb *Leaderboard) Rank() {
	balance := make([]scored, 0, len(lb.roster))
	order := make([]scored, 0, len(lb.roster))
	var dead []string
	for _, c := range lb.roster {
		if c.Dead() {
			dead = append(dead, c.ID())
			continue
		}
		balance = append(balance, scored{id: c.ID(), value: c.WalletValue()})
		order = append(order, scored{id: c.ID(), value: float64(c.OrderCompletionFactor())})
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	for _, id := range dead {
		delete(lb.balance, id)
		delete(lb.order, id)
	}
	pass(lb.balance, balance)
	pass(lb.order, order)
	lb.passes++

	lb.log.WithFields(map[string]interface{}{
		"pass":          lb.passes,
		"balanceRanked": len(lb.balance),
		"orderRanked":   len(lb.order),
		"delisted":      len(dead),
	}).Debug("Leaderboard pass completed")
}

// pass groups equal values, ranks groups descending and applies credit.
func pass(entries map[string]*Entry, alive []scored) {
	sort.SliceStable(alive, func(i, j int) bool {
		if alive[i].value != alive[j].value {
			return alive[i].value > alive[j].value
		}
		return alive[i].id < alive[j].id
	})

	ranks := make(map[string]int, len(alive))
	rank := -1
	for i, sc := range alive {
		if i == 0 || sc.value != alive[i-1].value {
			rank++
		}
		ranks[sc.id] = rank
	}

	for id, e := range entries {
		r, ok := ranks[id]
		if ok {
			e.Rank = r
		}
		if ok && r < TopK {
			continue
		}
		e.Credit--
		if e.Credit <= 0 {
			delete(entries, id)
		}
	}

	for id, r := range ranks {
		if r >= TopK {
			continue
		}
		e, ok := entries[id]
		if !ok {
			e = &Entry{ID: id}
			entries[id] = e
		}
		e.Rank = r
		e.Credit = min(e.Credit+1, MaxCredit)
	}
}

func standing(entries map[string]*Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Credit != out[j].Credit {
			return out[i].Credit > out[j].Credit
		}
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Balance returns the balance ranking, best standing first.
func (lb *Leaderboard) Balance() []Entry {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return standing(lb.balance)
}

// Order returns the order-completion ranking, best standing first.
func (lb *Leaderboard) Order() []Entry {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return standing(lb.order)
}

// GetHigherPlaceByBalanceAndOrder takes the gap best balance entries and returns
// the one standing highest in the order-completion ranking.
func (lb *Leaderboard) GetHigherPlaceByBalanceAndOrder(gap int) (Candidate, bool) {
	if gap <= 0 {
		gap = TopK
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	shortlist := standing(lb.balance)
	if len(shortlist) > gap {
		shortlist = shortlist[:gap]
	}

	var best *Entry
	var bestOrder *Entry
	for i := range shortlist {
		cand := &shortlist[i]
		if c, ok := lb.byID[cand.ID]; !ok || c.Dead() {
			continue
		}
		ord := lb.order[cand.ID]
		if best == nil || betterOrder(cand, ord, best, bestOrder) {
			best, bestOrder = cand, ord
		}
	}
	if best == nil {
		return nil, false
	}

	lb.log.WithFields(map[string]interface{}{
		"id":          best.ID,
		"balanceRank": best.Rank,
		"gap":         gap,
	}).Debug("Leaderboard candidate selected")

	return lb.byID[best.ID], true
}

func betterOrder(a *Entry, aOrd *Entry, b *Entry, bOrd *Entry) bool {
	if (aOrd != nil) != (bOrd != nil) {
		return aOrd != nil
	}
	if aOrd != nil {
		if aOrd.Rank != bOrd.Rank {
			return aOrd.Rank < bOrd.Rank
		}
		if aOrd.Credit != bOrd.Credit {
			return aOrd.Credit > bOrd.Credit
		}
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.ID < b.ID
}
