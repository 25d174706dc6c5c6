package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"gridexecutor/src/database/migrations"
	"gridexecutor/src/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in memory db: %v", err)
	}
	return db
}

func candle(symbol string, at time.Time, closePrice int64) *model.OHLCVCrypto1m {
	p := decimal.NewFromInt(closePrice)
	return &model.OHLCVCrypto1m{Symbol: symbol, Datetime: at, Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(1)}
}

func TestMigrateCreatesSchema(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, Migrate(db))

	for _, m := range []interface{}{
		&model.Exception{},
		&model.LiveOrder{},
		&model.BacktestResult{},
		&model.AnalyzerSnapshot{},
		&model.OHLCVCrypto1m{},
		&model.OHLCVCrypto1h{},
	} {
		require.True(t, db.Migrator().HasTable(m), "missing table for %T", m)
	}

	var applied []migrations.DataMigration
	require.NoError(t, db.Find(&applied).Error)
	require.Len(t, applied, 1)
	require.Equal(t, "00001_normalize_ohlcv_symbols", applied[0].ID)

	// a second run is a no-op
	require.NoError(t, Migrate(db))
	require.NoError(t, db.Find(&applied).Error)
	require.Len(t, applied, 1)
}

func TestMigrateNormalizesLegacySymbols(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.AutoMigrate(&model.OHLCVCrypto1m{}))

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(candle("BTC_USDT", t0, 100)).Error)
	require.NoError(t, db.Create(candle("BTC_USDT", t0.Add(time.Minute), 101)).Error)
	require.NoError(t, db.Create(candle("BTCUSDT", t0.Add(time.Minute), 102)).Error)

	require.NoError(t, Migrate(db))

	var rows []model.OHLCVCrypto1m
	require.NoError(t, db.Order("datetime ASC").Find(&rows).Error)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.Equal(t, "BTCUSDT", r.Symbol)
	}
	require.True(t, rows[1].Close.Equal(decimal.NewFromInt(102)), "normalized candle must win over the legacy duplicate")
}
