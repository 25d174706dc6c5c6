package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordTick("BTCUSDT")
	m.RecordExchangeCall("phemex", "create_order", time.Now(), errors.New("boom"))
	m.SetManagedCapital(10)
}

func TestMetricsRecordAndServe(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTick("BTCUSDT")
	m.RecordTick("BTCUSDT")
	m.RecordOrderFailed("BTCUSDT", "insufficient_balance")
	m.RecordBacktestConfig("failed")

	require.Equal(t, 2.0, testutil.ToFloat64(m.TicksProcessed.WithLabelValues("BTCUSDT")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.OrdersFailed.WithLabelValues("BTCUSDT", "insufficient_balance")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "grid_executor_backtest_configs_total"))
}
