package ohlcvcrypto

import (
	"testing"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// Test fetching OHLCV data directly from Binance without mocks.
func TestFetchOHLCVFromBinance(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping test in short mode")
		return
	}
	db, _ := setupDBMock(t)

	config := &Config{
		Quote:       "USDT",
		DurationStr: Duration1h,
		Limit:       1000,
	}

	ohlcv := OHLCVCrypto{
		Log:    logrus.NewEntry(logrus.New()),
		DB:     db,
		Config: config,
	}
	ohlcv.exchange = ohlcv.newBinanceInstance()

	ticker, err := ohlcv.exchange.GetTicker(goex.NewCurrencyPair(goex.Currency{Symbol: "BTC"}, goex.Currency{Symbol: config.Quote}))
	require.NoError(t, err)
	require.Equal(t, "BTC_USDT", ticker.Pair.String())
	require.Equal(t, "BTCUSDT", ohlcv.pairSymbol("BTC"))

	klines, err := ohlcv.fetchOHLCVSeries("BTC", time.Now().Add(-24*time.Hour), time.Now())
	require.NoError(t, err, "Should fetch OHLCV data without error")
	require.NotEmpty(t, klines, "Should return non-empty OHLCV data")

	for _, k := range klines {
		t.Logf("Time: %v, Open: %v, High: %v, Low: %v, Close: %v, Volume: %v",
			time.Unix(k.Timestamp, 0).UTC(), k.Open, k.High, k.Low, k.Close, k.Vol)
	}
}
