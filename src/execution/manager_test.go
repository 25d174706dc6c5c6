package execution

// Test index:
//  1. TestQuantize floors to the step and leaves x alone for a zero step.
//  2. TestQuantizeQtyClamps bounds quantities by the instrument limits.
//  3. TestManagerAdoptsAndPlaces adopts the best candidate and mirrors an armed slot.
//  4. TestCancelledSlotIsRearmedWithNewOrderID resets a cancelled slot so it is placed again with a new id.
//  5. TestFilledThenClosed confirms a fill once and realizes the exchange close.
//  6. TestUnknownOrderEventIsIgnored logs a warning for ids it never placed.
//  7. TestFillTimeoutCancels cancels orders resting past the fill timeout.
//  8. TestSwitchFlattensPreviousPair cancels and closes the old pair before adopting a better candidate.
//  9. TestSwitchRespectsMargin keeps the active instance when the candidate is not better by the margin.
// 10. TestInvalidSignatureSurfaces aborts the tick and releases the slot for a later retry.
// 11. TestInsufficientBalanceIsSwallowed logs at warn and keeps trading.
// 12. TestNoTradeWindowBlocksPlacement places nothing while the session gate is closed.
// 13. TestRecenterFlattensAndDropsStaleEvents flattens on recenter and ignores events of the old lattice.
// 14. TestReconcileAppliesQueriedStatus applies polled statuses.
// 15. TestJournalRecordsLifecycle persists placements and transitions.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"gridexecutor/src/connectors"
	"gridexecutor/src/grid"
	"gridexecutor/src/instrument"
	"gridexecutor/src/model"
	"gridexecutor/src/risk"
)

type fakeExchange struct {
	mu sync.Mutex

	balance   decimal.Decimal
	positions map[string][]connectors.ExchangePosition
	queried   map[string]model.OrderEvent

	createErr error
	placed    []connectors.OrderRequest
	cancelled []string
	cancelAll []string
	closed    []connectors.ExchangePosition
	leverage  map[string]int
	nextID    int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		balance:   decimal.NewFromInt(1000),
		positions: map[string][]connectors.ExchangePosition{},
		queried:   map[string]model.OrderEvent{},
		leverage:  map[string]int{},
	}
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) CreateOrder(_ context.Context, req connectors.OrderRequest) (connectors.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return connectors.PlacedOrder{}, f.createErr
	}
	f.nextID++
	f.placed = append(f.placed, req)
	return connectors.PlacedOrder{
		ExchangeOrderID: fmt.Sprintf("ex-%d", f.nextID),
		ClientOrderID:   req.ClientOrderID,
		Status:          model.OrderStatusNew,
	}, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, _, id string, _ connectors.PositionSide) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeExchange) CancelAllOrders(_ context.Context, pair string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAll = append(f.cancelAll, pair)
	return nil
}

func (f *fakeExchange) GetAccountBalance(context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeExchange) GetOpenPositions(_ context.Context, pair string) ([]connectors.ExchangePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[pair], nil
}

func (f *fakeExchange) SetLeverage(_ context.Context, pair string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leverage[pair] = leverage
	return nil
}

func (f *fakeExchange) ClosePosition(_ context.Context, pair string, side connectors.PositionSide, size decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, connectors.ExchangePosition{Pair: pair, Side: side, Size: size})
	return nil
}

func (f *fakeExchange) GetInstrumentInfo(context.Context, string) (connectors.InstrumentSpec, error) {
	return connectors.InstrumentSpec{}, errors.New("not used")
}

func (f *fakeExchange) QueryOrder(_ context.Context, _, id string) (model.OrderEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.queried[id]
	if !ok {
		return model.OrderEvent{ExchangeOrderID: id, Status: model.OrderStatusNew}, nil
	}
	return ev, nil
}

func (f *fakeExchange) GetTickerPrice(context.Context, string) (float64, error) {
	return 0, errors.New("not used")
}

// fakeSource is a ranked simulation instance with a fixed wallet value.
type fakeSource struct {
	id     string
	cfg    grid.Config
	wallet float64
}

func (s *fakeSource) ID() string           { return s.id }
func (s *fakeSource) Config() grid.Config  { return s.cfg }
func (s *fakeSource) WalletValue() float64 { return s.wallet }
func (s *fakeSource) Dead() bool           { return false }

type fakePicker struct {
	mu     sync.Mutex
	source Source
}

func (p *fakePicker) set(s Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = s
}

func (p *fakePicker) Pick() (Source, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source, p.source != nil
}

type fakeJournal struct {
	mu      sync.Mutex
	saved   []*model.LiveOrder
	updates []model.OrderStatus
}

func (j *fakeJournal) SaveOrder(_ context.Context, o *model.LiveOrder) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.saved = append(j.saved, o)
	return nil
}

func (j *fakeJournal) UpdateStatus(_ context.Context, _ string, status model.OrderStatus, _ float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.updates = append(j.updates, status)
	return nil
}

func gridConfig(id, pair string) grid.Config {
	return grid.Config{
		ID:          id,
		Pair:        pair,
		Capital:     1000,
		Multiplier:  1,
		DiapasonPct: 10,
		GridSize:    4,
		FeeRate:     0.00055,
		HedgeMode:   true,
	}
}

func testInstruments() *instrument.Table {
	info := func(pair string) instrument.Info {
		return instrument.Info{
			Pair:        pair,
			TickSize:    decimal.RequireFromString("0.01"),
			QtyStep:     decimal.RequireFromString("0.001"),
			MinOrderQty: decimal.RequireFromString("0.001"),
			MaxOrderQty: decimal.NewFromInt(1000),
			MaxLeverage: 100,
		}
	}
	return instrument.NewTable(info("BTCUSDT"), info("ETHUSDT"))
}

type fixture struct {
	m        *Manager
	exchange *fakeExchange
	picker   *fakePicker
	journal  *fakeJournal
	hook     *logrustest.Hook
	clock    time.Time
}

func newFixture(t *testing.T, gate *risk.SessionGate) *fixture {
	t.Helper()
	log, hook := logrustest.NewNullLogger()
	f := &fixture{
		exchange: newFakeExchange(),
		picker:   &fakePicker{},
		journal:  &fakeJournal{},
		hook:     hook,
		clock:    time.Date(2025, time.March, 4, 15, 0, 0, 0, time.UTC),
	}
	f.picker.set(&fakeSource{id: "sim-a", cfg: gridConfig("sim-a", "BTCUSDT"), wallet: 1000})

	f.m = NewManager(Config{
		SwitchInterval:    time.Minute,
		SwitchMarginPct:   0.5,
		OrderFillTimeout:  30 * time.Second,
		CallTimeout:       time.Second,
		DetachedRetention: 10 * time.Minute,
	}, Deps{
		Exchange:    f.exchange,
		Instruments: testInstruments(),
		Picker:      f.picker,
		Gate:        gate,
		Journal:     f.journal,
		Log:         logrus.NewEntry(log),
	})
	f.m.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) tick(t *testing.T, pair string, price float64) {
	t.Helper()
	require.NoError(t, f.m.OnPriceTick(context.Background(), pair, price))
}

func (f *fixture) event(t *testing.T, id string, status model.OrderStatus, price float64) {
	t.Helper()
	require.NoError(t, f.m.OnExchangeOrderEvent(context.Background(), model.OrderEvent{
		Pair:            "BTCUSDT",
		ExchangeOrderID: id,
		Status:          status,
		Price:           price,
	}))
}

// armed adopts sim-a at 100 and drops to 94, arming the 95 Long slot.
func armed(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, nil)
	f.tick(t, "BTCUSDT", 100)
	f.clock = f.clock.Add(time.Second)
	f.tick(t, "BTCUSDT", 94)
	require.Len(t, f.exchange.placed, 1)
	return f
}

func TestQuantize(t *testing.T) {
	cases := []struct {
		x, step, want string
	}{
		{"1.23456", "0.01", "1.23"},
		{"5", "0.5", "5"},
		{"0.0009", "0.001", "0"},
		{"101.57", "0.1", "101.5"},
		{"7.77", "0", "7.77"},
	}
	for _, tc := range cases {
		got := Quantize(decimal.RequireFromString(tc.x), decimal.RequireFromString(tc.step))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("Quantize(%s, %s) = %s, want %s", tc.x, tc.step, got, tc.want)
		}
	}
}

func TestQuantizeQtyClamps(t *testing.T) {
	info := instrument.Info{
		QtyStep:     decimal.RequireFromString("0.01"),
		MinOrderQty: decimal.RequireFromString("0.05"),
		MaxOrderQty: decimal.NewFromInt(2),
	}
	require.True(t, quantizeQty(decimal.RequireFromString("0.013"), info).Equal(decimal.RequireFromString("0.05")))
	require.True(t, quantizeQty(decimal.RequireFromString("3.7"), info).Equal(decimal.NewFromInt(2)))
	require.True(t, quantizeQty(decimal.RequireFromString("1.239"), info).Equal(decimal.RequireFromString("1.23")))
	require.True(t, quantizeQty(decimal.Zero, info).IsZero())
}

func TestManagerAdoptsAndPlaces(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, StateIdle, f.m.State())

	f.tick(t, "BTCUSDT", 100)
	require.Equal(t, StateArmed, f.m.State())
	active := f.m.Active()
	require.NotNil(t, active)
	require.Equal(t, "sim-a", active.ID())
	require.True(t, active.Config().ExternalFills)
	require.Equal(t, 1000.0, f.m.ManagedCapital())
	require.Equal(t, 1, f.exchange.leverage["BTCUSDT"])
	require.Empty(t, f.exchange.placed, "the center slot never arms")

	f.clock = f.clock.Add(time.Second)
	f.tick(t, "BTCUSDT", 94)
	require.Len(t, f.exchange.placed, 1)
	req := f.exchange.placed[0]
	require.Equal(t, connectors.SideLong, req.Side)
	require.True(t, req.Price.Equal(decimal.NewFromInt(95)), "price %s", req.Price)
	require.True(t, req.Quantity.Equal(decimal.NewFromInt(2)), "qty %s", req.Quantity)
	require.True(t, req.TakeProfit.Equal(decimal.NewFromInt(100)))
	require.True(t, req.StopLoss.Equal(decimal.NewFromInt(85)))
	require.NotEmpty(t, req.ClientOrderID)

	records := f.m.Records()
	require.Len(t, records, 1)
	require.Equal(t, "ex-1", records[0].ExchangeOrderID)
	require.Equal(t, 1, records[0].SlotIndex)
	require.False(t, records[0].IsFilled)

	f.clock = f.clock.Add(time.Second)
	f.tick(t, "BTCUSDT", 95)
	require.Len(t, f.exchange.placed, 1, "a linked slot is never placed twice")
}

func TestCancelledSlotIsRearmedWithNewOrderID(t *testing.T) {
	f := armed(t)
	first := f.exchange.placed[0]

	f.event(t, "ex-1", model.OrderStatusCancelled, 0)
	require.Empty(t, f.m.Records())
	require.Nil(t, f.m.Active().Slots()[1].Order)

	f.clock = f.clock.Add(time.Second)
	f.tick(t, "BTCUSDT", 96)
	require.Len(t, f.exchange.placed, 2)
	second := f.exchange.placed[1]
	require.NotEqual(t, first.ClientOrderID, second.ClientOrderID)
	require.True(t, second.Price.Equal(first.Price))

	records := f.m.Records()
	require.Len(t, records, 1)
	require.Equal(t, "ex-2", records[0].ExchangeOrderID)
}

func TestFilledThenClosed(t *testing.T) {
	f := armed(t)
	capital := f.m.Active().Capital()

	f.event(t, "ex-1", model.OrderStatusFilled, 95)
	f.event(t, "ex-1", model.OrderStatusFilled, 95)
	slot := f.m.Active().Slots()[1]
	require.NotNil(t, slot.Order)
	require.True(t, slot.Order.Filled)
	require.True(t, f.m.Records()[0].IsFilled)
	require.Len(t, f.m.Active().Positions(), 1)

	f.event(t, "ex-1", model.OrderStatusClosed, 100)
	require.Empty(t, f.m.Records())
	require.Nil(t, f.m.Active().Slots()[1].Order)
	require.Greater(t, f.m.Active().Capital(), capital)
	require.Empty(t, f.m.Active().Positions())
}

func TestUnknownOrderEventIsIgnored(t *testing.T) {
	f := armed(t)
	f.hook.Reset()

	f.event(t, "ex-404", model.OrderStatusFilled, 1)
	require.Len(t, f.m.Records(), 1)

	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["exchangeOrderId"] == "ex-404" {
			warned = true
		}
	}
	require.True(t, warned)
}

func TestFillTimeoutCancels(t *testing.T) {
	f := armed(t)

	f.clock = f.clock.Add(10 * time.Second)
	f.tick(t, "BTCUSDT", 94)
	require.Empty(t, f.exchange.cancelled)

	f.clock = f.clock.Add(31 * time.Second)
	f.tick(t, "BTCUSDT", 94)
	require.Equal(t, []string{"ex-1"}, f.exchange.cancelled)
	require.Empty(t, f.m.Records())
	require.Nil(t, f.m.Active().Slots()[1].Order)

	f.clock = f.clock.Add(time.Second)
	f.tick(t, "BTCUSDT", 96)
	require.Len(t, f.exchange.placed, 2)
}

func TestSwitchFlattensPreviousPair(t *testing.T) {
	f := armed(t)
	f.exchange.positions["BTCUSDT"] = []connectors.ExchangePosition{
		{Pair: "BTCUSDT", Side: connectors.SideLong, Size: decimal.NewFromInt(2)},
	}

	f.tick(t, "ETHUSDT", 10)
	f.picker.set(&fakeSource{id: "sim-b", cfg: gridConfig("sim-b", "ETHUSDT"), wallet: 2000})

	f.clock = f.clock.Add(time.Minute)
	f.tick(t, "BTCUSDT", 94)

	require.Equal(t, []string{"BTCUSDT"}, f.exchange.cancelAll)
	require.Len(t, f.exchange.closed, 1)
	require.Equal(t, connectors.SideLong, f.exchange.closed[0].Side)
	require.Empty(t, f.m.Records(), "records of the swapped out instance are dropped")

	active := f.m.Active()
	require.NotNil(t, active)
	require.Equal(t, "sim-b", active.ID())
	require.Equal(t, "ETHUSDT", active.Pair())
	lo, hi := active.Bounds()
	require.InDelta(t, 9, lo, 1e-9)
	require.InDelta(t, 11, hi, 1e-9)
}

func TestSwitchRespectsMargin(t *testing.T) {
	f := armed(t)
	f.picker.set(&fakeSource{id: "sim-b", cfg: gridConfig("sim-b", "BTCUSDT"), wallet: 1004})

	f.clock = f.clock.Add(time.Minute)
	f.tick(t, "BTCUSDT", 94)
	require.Equal(t, "sim-a", f.m.Active().ID())
	require.Empty(t, f.exchange.cancelAll)

	f.picker.set(&fakeSource{id: "sim-b", cfg: gridConfig("sim-b", "BTCUSDT"), wallet: 1006})
	f.clock = f.clock.Add(time.Minute)
	f.tick(t, "BTCUSDT", 94)
	require.Equal(t, "sim-b", f.m.Active().ID())
}

func TestInvalidSignatureSurfaces(t *testing.T) {
	f := newFixture(t, nil)
	f.tick(t, "BTCUSDT", 100)

	f.exchange.createErr = fmt.Errorf("fake: %w", connectors.ErrInvalidSignature)
	f.clock = f.clock.Add(time.Second)
	err := f.m.OnPriceTick(context.Background(), "BTCUSDT", 94)
	require.ErrorIs(t, err, connectors.ErrInvalidSignature)
	require.Empty(t, f.m.Records())

	f.exchange.createErr = nil
	f.clock = f.clock.Add(time.Second)
	f.tick(t, "BTCUSDT", 94)
	require.Len(t, f.exchange.placed, 1, "the released slot is retried")
}

func TestInsufficientBalanceIsSwallowed(t *testing.T) {
	f := newFixture(t, nil)
	f.tick(t, "BTCUSDT", 100)

	f.exchange.createErr = fmt.Errorf("fake: %w", connectors.ErrInsufficientBalance)
	f.clock = f.clock.Add(time.Second)
	f.tick(t, "BTCUSDT", 94)
	require.Empty(t, f.m.Records())

	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["method"] == "placeOrder" {
			warned = true
		}
	}
	require.True(t, warned)
}

func TestNoTradeWindowBlocksPlacement(t *testing.T) {
	m := risk.NeutralMultipliers()
	m.EnableNoTradeWindow = true
	f := newFixture(t, risk.NewSessionGate(m))
	f.clock = time.Date(2025, time.March, 8, 17, 0, 0, 0, time.UTC) // Saturday

	f.tick(t, "BTCUSDT", 100)
	f.clock = f.clock.Add(time.Second)
	f.tick(t, "BTCUSDT", 94)
	require.Empty(t, f.exchange.placed)
	require.Len(t, f.m.Active().PendingOrders(), 1)

	f.clock = time.Date(2025, time.March, 11, 15, 0, 0, 0, time.UTC) // Tuesday
	f.tick(t, "BTCUSDT", 94)
	require.Len(t, f.exchange.placed, 1)
}

func TestRecenterFlattensAndDropsStaleEvents(t *testing.T) {
	f := newFixture(t, nil)
	cfg := gridConfig("sim-a", "BTCUSDT")
	cfg.RecenterInterval = time.Hour
	f.picker.set(&fakeSource{id: "sim-a", cfg: cfg, wallet: 1000})

	f.tick(t, "BTCUSDT", 100)
	f.clock = f.clock.Add(time.Second)
	f.tick(t, "BTCUSDT", 94)
	gen := f.m.Active().Generation()

	f.clock = f.clock.Add(time.Hour)
	f.tick(t, "BTCUSDT", 94)
	require.Equal(t, gen+1, f.m.Active().Generation())
	require.Equal(t, []string{"BTCUSDT"}, f.exchange.cancelAll)
	require.Equal(t, StateArmed, f.m.State())

	records := f.m.Records()
	require.Len(t, records, 1)
	require.False(t, records[0].DetachedAt.IsZero())

	f.event(t, "ex-1", model.OrderStatusFilled, 95)
	require.Empty(t, f.m.Records())
	require.Empty(t, f.m.Active().Positions(), "a fill of the old lattice never reaches the new one")
}

func TestReconcileAppliesQueriedStatus(t *testing.T) {
	f := armed(t)
	f.exchange.queried["ex-1"] = model.OrderEvent{ExchangeOrderID: "ex-1", Status: model.OrderStatusFilled, Price: 95}

	require.NoError(t, f.m.Reconcile(context.Background()))
	require.True(t, f.m.Active().Slots()[1].Order.Filled)

	f.exchange.queried["ex-1"] = model.OrderEvent{ExchangeOrderID: "ex-1", Status: model.OrderStatusClosed, Price: 100}
	require.NoError(t, f.m.Reconcile(context.Background()))
	require.Empty(t, f.m.Records())
}

func TestJournalRecordsLifecycle(t *testing.T) {
	f := armed(t)
	require.Len(t, f.journal.saved, 1)
	saved := f.journal.saved[0]
	require.Equal(t, "ex-1", saved.ExchangeOrderID)
	require.Equal(t, "fake", saved.Exchange)
	require.Equal(t, "Long", saved.Trend)
	require.Equal(t, string(model.OrderStatusNew), saved.Status)

	f.event(t, "ex-1", model.OrderStatusFilled, 95)
	f.event(t, "ex-1", model.OrderStatusClosed, 100)
	require.Equal(t, []model.OrderStatus{model.OrderStatusFilled, model.OrderStatusClosed}, f.journal.updates)
}
