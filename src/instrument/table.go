// Package instrument holds the static trading rules of every traded pair.
package instrument

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"gridexecutor/src/connectors"
)

var ErrUnknownPair = errors.New("no instrument info for pair")

// Info is the quantization and bounds metadata of one pair.
type Info struct {
	Pair        string
	TickSize    decimal.Decimal
	QtyStep     decimal.Decimal
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	MinOrderQty decimal.Decimal
	MaxOrderQty decimal.Decimal
	MaxLeverage int
}

// MinPriceStep is the tick size as used by the grid simulation.
func (i Info) MinPriceStep() float64 { return i.TickSize.InexactFloat64() }

// MinQtyStep is the quantity step as used by the grid simulation.
func (i Info) MinQtyStep() float64 { return i.QtyStep.InexactFloat64() }

// Source is anything able to describe a pair, usually an exchange client.
type Source interface {
	GetInstrumentInfo(ctx context.Context, pair string) (connectors.InstrumentSpec, error)
}

// Table is built once at startup and read-only afterwards, so it needs no locking.
type Table struct {
	infos map[string]Info
}

func NewTable(infos ...Info) *Table {
	t := &Table{infos: make(map[string]Info, len(infos))}
	for _, info := range infos {
		t.infos[info.Pair] = info
	}
	return t
}

// Load asks source for every pair and fails on the first pair it cannot describe.
func Load(ctx context.Context, source Source, pairs []string) (*Table, error) {
	infos := make([]Info, 0, len(pairs))
	for _, pair := range pairs {
		spec, err := source.GetInstrumentInfo(ctx, pair)
		if err != nil {
			return nil, fmt.Errorf("load instrument %s: %w", pair, err)
		}
		if !spec.TickSize.IsPositive() || !spec.QtyStep.IsPositive() {
			return nil, fmt.Errorf("load instrument %s: tick size %s / qty step %s must be positive", pair, spec.TickSize, spec.QtyStep)
		}
		infos = append(infos, Info{
			Pair:        pair,
			TickSize:    spec.TickSize,
			QtyStep:     spec.QtyStep,
			MinPrice:    spec.MinPrice,
			MaxPrice:    spec.MaxPrice,
			MinOrderQty: spec.MinOrderQty,
			MaxOrderQty: spec.MaxOrderQty,
			MaxLeverage: spec.MaxLeverage,
		})

		logger.WithFields(map[string]interface{}{
			"pair":      pair,
			"tick_size": spec.TickSize.String(),
			"qty_step":  spec.QtyStep.String(),
		}).Info("Instrument loaded")
	}
	return NewTable(infos...), nil
}

func (t *Table) Get(pair string) (Info, error) {
	info, ok := t.infos[pair]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	return info, nil
}

// Pairs lists the described pairs in no particular order.
func (t *Table) Pairs() []string {
	out := make([]string, 0, len(t.infos))
	for pair := range t.infos {
		out = append(out, pair)
	}
	return out
}
