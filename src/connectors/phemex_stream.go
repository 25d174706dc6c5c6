package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"gridexecutor/src/mapper"
	"gridexecutor/src/model"
	"gridexecutor/src/observability"
)

const (
	wsAuthID      = 1
	wsSubscribeID = 2
	wsPingID      = 3

	defaultWSPingInterval   = 15 * time.Second
	defaultWSReconnectDelay = 5 * time.Second
)

// OrderStream pushes exchange order status changes until ctx ends. Run closes
// out when it returns.
type OrderStream interface {
	Run(ctx context.Context, out chan<- model.OrderEvent) error
}

type wsRequest struct {
	ID     int64         `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wsMessage covers both call replies (id set) and account pushes (orders_p set).
type wsMessage struct {
	ID     *int64                      `json:"id"`
	Error  *wsError                    `json:"error"`
	Result json.RawMessage             `json:"result"`
	Orders []model.PhemexOrderResponse `json:"orders_p"`
}

// PhemexOrderStream follows the USDT-M account-order-position channel over a
// websocket and emits every order update. Dropped connections are redialed;
// a rejected login stops the stream with ErrInvalidSignature.
type PhemexOrderStream struct {
	apiKey         string
	apiSecret      string
	url            string
	pingInterval   time.Duration
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	metrics        *observability.Metrics
	log            *logger.Entry
}

var _ OrderStream = (*PhemexOrderStream)(nil)

func NewPhemexOrderStream(apiKey, apiSecret string, conn Config, metrics *observability.Metrics, log *logger.Entry) *PhemexOrderStream {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	ping := conn.WSPingInterval
	if ping <= 0 {
		ping = defaultWSPingInterval
	}
	reconnect := conn.WSReconnectDelay
	if reconnect <= 0 {
		reconnect = defaultWSReconnectDelay
	}
	return &PhemexOrderStream{
		apiKey:         apiKey,
		apiSecret:      apiSecret,
		url:            conn.PhemexWSURL,
		pingInterval:   ping,
		reconnectDelay: reconnect,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
		metrics: metrics,
		log:     log.WithFields(logger.Fields{"component": "order_stream", "exchange": "phemex"}),
	}
}

// signWSAuth signs the user.auth call: HMAC-SHA256 over apiKey followed by expiry.
func signWSAuth(apiKey, secret string, expiry int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%s%d", apiKey, expiry)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *PhemexOrderStream) Run(ctx context.Context, out chan<- model.OrderEvent) error {
	defer close(out)
	for {
		err := s.session(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		if IsFatal(err) {
			s.log.WithError(err).Error("Order stream login rejected")
			return err
		}
		s.metrics.RecordRetry("phemex", "order_stream")
		s.log.WithError(err).Warn("Order stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

// session runs one connection: login, subscribe, then read pushes until the
// connection fails or ctx ends.
func (s *PhemexOrderStream) session(ctx context.Context, out chan<- model.OrderEvent) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("phemex ws dial: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	expiry := time.Now().Add(time.Minute).Unix()
	auth := wsRequest{
		ID:     wsAuthID,
		Method: "user.auth",
		Params: []interface{}{"API", s.apiKey, signWSAuth(s.apiKey, s.apiSecret, expiry), expiry},
	}
	if err := s.call(conn, auth); err != nil {
		var werr *wsCallError
		if errors.As(err, &werr) {
			return fmt.Errorf("phemex ws auth: %w: %s", ErrInvalidSignature, werr.Error())
		}
		return err
	}
	if err := s.call(conn, wsRequest{ID: wsSubscribeID, Method: "aop_p.subscribe", Params: []interface{}{}}); err != nil {
		return fmt.Errorf("phemex ws subscribe: %w", err)
	}
	s.log.Info("Order stream subscribed")

	go s.keepAlive(conn, stop)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(3 * s.pingInterval))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("phemex ws read: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.WithError(err).WithField("raw", string(raw)).Warn("Undecodable order stream message")
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("phemex ws error %d: %s", msg.Error.Code, msg.Error.Message)
		}
		for i := range msg.Orders {
			ev, ok := mapper.MapPhemexOrderToEvent(&msg.Orders[i])
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

type wsCallError struct {
	method string
	err    wsError
}

func (e *wsCallError) Error() string {
	return fmt.Sprintf("%s failed with code %d: %s", e.method, e.err.Code, e.err.Message)
}

// call writes req and waits for the reply carrying its id. Only used before
// keepAlive starts, so writes never overlap.
func (s *PhemexOrderStream) call(conn *websocket.Conn, req wsRequest) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.pingInterval))
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("%s write: %w", req.Method, err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.pingInterval))
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("%s read: %w", req.Method, err)
		}
		if msg.ID == nil || *msg.ID != req.ID {
			continue
		}
		if msg.Error != nil {
			return &wsCallError{method: req.Method, err: *msg.Error}
		}
		return nil
	}
}

func (s *PhemexOrderStream) keepAlive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.pingInterval))
			if err := conn.WriteJSON(wsRequest{ID: wsPingID, Method: "server.ping", Params: []interface{}{}}); err != nil {
				s.log.WithError(err).Debug("Order stream ping failed")
				return
			}
		}
	}
}
