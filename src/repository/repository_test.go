package repository

// Test index:
//  1. TestFetchOHLCV1mQuery checks the SQL shape of the candle window query.
//  2. TestFetchTicksAggregates replays aggregated candles as close-price ticks.
//  3. TestAggregateOHLCVFrom1mRejectsInterval guards unsupported intervals.
//  4. TestLiveOrderRepositoryLifecycle covers save, status updates and open listing.
//  5. TestBacktestResultRepositoryFindByRequest scopes results to one request.
//  6. TestAnalyzerSnapshotRepositoryLatest returns the newest snapshot or nil.
//  7. TestCapturePersistsException stores the error with its context.

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"gridexecutor/src/model"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

func newTestDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in memory db: %v", err)
	}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to automigrate: %v", err)
	}
	return db
}

func TestFetchOHLCV1mQuery(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOHLCVRepositoryWithDB(db, time.Minute)

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(2 * time.Minute)

	rows := sqlmock.NewRows([]string{"id", "symbol", "datetime", "open", "high", "low", "close", "volume"}).
		AddRow(1, "BTCUSDT", from, 100.0, 101.0, 99.0, 100.5, 3.0).
		AddRow(2, "BTCUSDT", from.Add(time.Minute), 100.5, 102.0, 100.0, 101.5, 2.0)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "ohlcv_crypto_1m" WHERE symbol = $1 AND datetime >= $2 AND datetime < $3 ORDER BY datetime ASC`)).
		WithArgs("BTCUSDT", from, to).
		WillReturnRows(rows)

	ticks, err := repo.FetchTicks(context.Background(), "BTCUSDT", from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ticks) != 2 || ticks[0].Price != 100.5 || ticks[1].Price != 101.5 {
		t.Fatalf("unexpected ticks: %+v", ticks)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFetchTicksAggregates(t *testing.T) {
	db := newTestDB(t, &model.OHLCVCrypto1m{})
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		p := decimal.NewFromInt(int64(100 + i))
		require.NoError(t, db.Create(&model.OHLCVCrypto1m{
			Symbol: "ETHUSDT", Datetime: start.Add(time.Duration(i) * time.Minute),
			Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(1),
		}).Error)
	}

	repo := NewOHLCVRepositoryWithDB(db, 5*time.Minute)
	ticks, err := repo.FetchTicks(context.Background(), "ETHUSDT", start, start.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	require.Equal(t, 104.0, ticks[0].Price)
	require.Equal(t, 109.0, ticks[1].Price)
	require.True(t, ticks[1].At.Equal(start.Add(5*time.Minute)))

	none, err := repo.FetchTicks(context.Background(), "XRPUSDT", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestAggregateOHLCVFrom1mRejectsInterval(t *testing.T) {
	_, err := AggregateOHLCVFrom1m(nil, 7*time.Minute)
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestLiveOrderRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewLiveOrderRepositoryWithDB(newTestDB(t, &model.LiveOrder{}))

	placedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveOrder(ctx, &model.LiveOrder{
		ExchangeOrderID: "ex-1", ClientOrderID: "cl-1", Exchange: "phemex", Pair: "BTCUSDT",
		SlotIndex: 1, Generation: 1, Trend: "long", Price: 95, Quantity: 0.5,
		Status: string(model.OrderStatusNew), PlacedAt: placedAt,
	}))
	require.NoError(t, repo.SaveOrder(ctx, &model.LiveOrder{
		ExchangeOrderID: "ex-2", ClientOrderID: "cl-2", Exchange: "phemex", Pair: "BTCUSDT",
		Status: string(model.OrderStatusNew), PlacedAt: placedAt.Add(time.Second),
	}))

	require.NoError(t, repo.UpdateStatus(ctx, "ex-1", model.OrderStatusFilled, 94.9))
	require.NoError(t, repo.UpdateStatus(ctx, "ex-2", model.OrderStatusCancelled, 0))

	got, err := repo.FindByExchangeOrderID(ctx, "ex-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, string(model.OrderStatusFilled), got.Status)
	require.Equal(t, 94.9, got.FillPrice)

	open, err := repo.ListOpen(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "ex-1", open[0].ExchangeOrderID)

	missing, err := repo.FindByExchangeOrderID(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestBacktestResultRepositoryFindByRequest(t *testing.T) {
	ctx := context.Background()
	repo := NewBacktestResultRepositoryWithDB(newTestDB(t, &model.BacktestResult{}))

	for _, r := range []*model.BacktestResult{
		{RequestID: "req-1", ConfigID: "b", FinalCapital: 1100},
		{RequestID: "req-1", ConfigID: "a", Failed: true, Error: "no ticks"},
		{RequestID: "req-2", ConfigID: "c"},
	} {
		require.NoError(t, repo.Create(ctx, r))
	}

	rows, err := repo.FindByRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "a", rows[0].ConfigID)
	require.True(t, rows[0].Failed)
	require.Equal(t, 1100.0, rows[1].FinalCapital)
}

func TestAnalyzerSnapshotRepositoryLatest(t *testing.T) {
	ctx := context.Background()
	repo := NewAnalyzerSnapshotRepositoryWithDB(newTestDB(t, &model.AnalyzerSnapshot{}))

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := model.NewAnalyzerSnapshot("inst-1", "BTCUSDT", t0, model.CapitalPercentDocument{
		GridState: model.GridState{Capital: 1000}, TakeProfitPercent: 5,
	})
	require.NoError(t, err)
	second, err := model.NewAnalyzerSnapshot("inst-1", "BTCUSDT", t0.Add(time.Minute), model.CapitalPercentDocument{
		GridState: model.GridState{Capital: 1010}, TakeProfitPercent: 5,
	})
	require.NoError(t, err)
	require.NoError(t, repo.CreateBatch(ctx, []*model.AnalyzerSnapshot{first, second}))

	latest, err := repo.Latest(ctx, "inst-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	doc, err := latest.Document()
	require.NoError(t, err)
	require.Equal(t, 1010.0, doc.(model.CapitalPercentDocument).Capital)

	none, err := repo.Latest(ctx, "inst-2")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestCapturePersistsException(t *testing.T) {
	ctx := context.Background()
	repo := NewExceptionRepositoryWithDB(newTestDB(t, &model.Exception{}))

	Capture(ctx, repo, "execution_manager", "placeOrder", "BTCUSDT", "error",
		errors.New("phemex: unknown return code 77777"), map[string]interface{}{"slot": 3})
	Capture(ctx, repo, "execution_manager", "placeOrder", "BTCUSDT", "error", nil, nil)

	rows, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, ServiceName, rows[0].Service)
	require.Equal(t, "BTCUSDT", rows[0].Pair)
	require.JSONEq(t, `{"slot":3}`, rows[0].Context)
	require.NotEmpty(t, rows[0].Stack)
}
