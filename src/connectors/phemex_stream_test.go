package connectors

// Test index:
//  1. TestPhemexOrderStreamEmitsOrders logs in with a signed request and maps pushed orders.
//  2. TestPhemexOrderStreamRejectedLogin stops with ErrInvalidSignature when login fails.
//  3. TestPhemexOrderStreamReconnects redials after the server drops the connection.

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"gridexecutor/src/model"
	"gridexecutor/src/observability"
)

type wsCall struct {
	ID     int64             `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// phemexWSServer upgrades every request and hands the connection and its
// 1-based sequence number to session.
func phemexWSServer(t *testing.T, session func(conn *websocket.Conn, n int)) (*httptest.Server, func() int) {
	t.Helper()
	var (
		mu    sync.Mutex
		count int
	)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		session(conn, n)
	}))
	t.Cleanup(server.Close)
	return server, func() int {
		mu.Lock()
		defer mu.Unlock()
		return count
	}
}

func readCall(conn *websocket.Conn) (wsCall, error) {
	var call wsCall
	err := conn.ReadJSON(&call)
	return call, err
}

func reply(conn *websocket.Conn, id int64) {
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":null,"id":`+jsonInt(id)+`,"result":{"status":"success"}}`))
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// handshake answers login and subscribe and reports whether both arrived.
func handshake(t *testing.T, conn *websocket.Conn) bool {
	auth, err := readCall(conn)
	if err != nil || auth.Method != "user.auth" || len(auth.Params) != 4 {
		return false
	}
	var key, sig string
	var expiry int64
	_ = json.Unmarshal(auth.Params[1], &key)
	_ = json.Unmarshal(auth.Params[2], &sig)
	_ = json.Unmarshal(auth.Params[3], &expiry)
	if key != "ws-key" || sig != signWSAuth("ws-key", "ws-secret", expiry) {
		t.Errorf("unexpected login params key=%q sig=%q", key, sig)
		return false
	}
	reply(conn, auth.ID)

	sub, err := readCall(conn)
	if err != nil || sub.Method != "aop_p.subscribe" {
		return false
	}
	reply(conn, sub.ID)
	return true
}

func pushOrder(conn *websocket.Conn, id, status, price string) {
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"orders_p":[{"orderID":"`+id+`","clOrdID":"c-`+id+
		`","symbol":"BTCUSDT","ordStatus":"`+status+`","priceRp":"`+price+`"}],"type":"incremental"}`))
}

// drain answers pings until the client goes away.
func drain(conn *websocket.Conn) {
	for {
		call, err := readCall(conn)
		if err != nil {
			return
		}
		if call.Method == "server.ping" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":null,"id":`+jsonInt(call.ID)+`,"result":"pong"}`))
		}
	}
}

func newTestStream(url string) (*PhemexOrderStream, *observability.Metrics) {
	log, _ := logrustest.NewNullLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	conn := Config{
		PhemexWSURL:      "ws" + strings.TrimPrefix(url, "http"),
		WSPingInterval:   200 * time.Millisecond,
		WSReconnectDelay: 10 * time.Millisecond,
	}
	return NewPhemexOrderStream("ws-key", "ws-secret", conn, metrics, logrus.NewEntry(log)), metrics
}

func runStream(ctx context.Context, s *PhemexOrderStream) (chan model.OrderEvent, <-chan error) {
	out := make(chan model.OrderEvent, 4)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, out) }()
	return out, done
}

func TestPhemexOrderStreamEmitsOrders(t *testing.T) {
	server, _ := phemexWSServer(t, func(conn *websocket.Conn, _ int) {
		if !handshake(t, conn) {
			return
		}
		pushOrder(conn, "o-1", "Filled", "95.5")
		drain(conn)
	})

	stream, _ := newTestStream(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	out, done := runStream(ctx, stream)

	select {
	case ev := <-out:
		require.Equal(t, "o-1", ev.ExchangeOrderID)
		require.Equal(t, "c-o-1", ev.ClientOrderID)
		require.Equal(t, "BTCUSDT", ev.Pair)
		require.Equal(t, model.OrderStatusFilled, ev.Status)
		require.InDelta(t, 95.5, ev.Price, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("no order event received")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
	_, open := <-out
	require.False(t, open)
}

func TestPhemexOrderStreamRejectedLogin(t *testing.T) {
	server, connections := phemexWSServer(t, func(conn *websocket.Conn, _ int) {
		auth, err := readCall(conn)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"error":{"code":6012,"message":"invalid login token"},"id":`+jsonInt(auth.ID)+`,"result":null}`))
		drain(conn)
	})

	stream, _ := newTestStream(server.URL)
	out, done := runStream(context.Background(), stream)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrInvalidSignature)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on a rejected login")
	}
	_, open := <-out
	require.False(t, open)
	require.Equal(t, 1, connections())
}

func TestPhemexOrderStreamReconnects(t *testing.T) {
	server, connections := phemexWSServer(t, func(conn *websocket.Conn, n int) {
		if !handshake(t, conn) {
			return
		}
		if n == 1 {
			return
		}
		pushOrder(conn, "o-2", "Canceled", "0")
		drain(conn)
	})

	stream, metrics := newTestStream(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, _ := runStream(ctx, stream)

	select {
	case ev := <-out:
		require.Equal(t, "o-2", ev.ExchangeOrderID)
		require.Equal(t, model.OrderStatusCancelled, ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no order event after reconnect")
	}
	require.Equal(t, 2, connections())
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ExchangeRetries.WithLabelValues("phemex", "order_stream")))
}
