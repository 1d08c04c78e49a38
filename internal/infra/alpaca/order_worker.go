package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danehansen3/algo-trading/internal/domain"
	"github.com/danehansen3/algo-trading/internal/event"
	"github.com/danehansen3/algo-trading/internal/infra"
)

// OrderWorker runs the trading stream session carrying order-status pushes.
// Decoded updates go to the reconciliation engine inbox; the worker never
// applies state itself.
type OrderWorker struct {
	base   *infra.StreamWorker
	url    string
	key    string
	secret string

	inbox chan<- event.Event
}

// NewOrderWorker creates the trading-stream worker. inbox is the
// reconciliation engine's event channel; sends block so no order update is
// ever dropped.
func NewOrderWorker(cfg *infra.Config, inbox chan<- event.Event) *OrderWorker {
	w := &OrderWorker{
		url:    cfg.API.Alpaca.StreamURL,
		key:    cfg.API.Alpaca.Key,
		secret: cfg.API.Alpaca.Secret,
		inbox:  inbox,
	}

	w.base = infra.NewStreamWorker(w, infra.NewBackoff(cfg.BackoffBase(), cfg.BackoffMax()))
	w.base.ReadTimeout = cfg.HeartbeatTimeout()
	w.base.PingInterval = cfg.PingInterval()
	w.base.Stability = cfg.Stability()
	return w
}

func (w *OrderWorker) ID() string  { return "ALPACA_TRADING" }
func (w *OrderWorker) URL() string { return w.url }

// Start launches the session lifecycle.
func (w *OrderWorker) Start(ctx context.Context) {
	w.base.Start(ctx)
}

// Stop shuts the session down.
func (w *OrderWorker) Stop() {
	w.base.Stop()
}

// State exposes the session state for monitoring.
func (w *OrderWorker) State() infra.SessionState {
	return w.base.State()
}

// Err returns the terminal session error, if any.
func (w *OrderWorker) Err() error {
	return w.base.Err()
}

// Done is closed when the session terminates.
func (w *OrderWorker) Done() <-chan struct{} {
	return w.base.Done()
}

// SetOnStreaming registers the reconnect hook. Must be called before Start.
func (w *OrderWorker) SetOnStreaming(fn func()) {
	w.base.OnStreaming = fn
}

// Authenticate sends credentials and waits for the authorization reply. An
// "unauthorized" status is fatal to the session.
func (w *OrderWorker) Authenticate(ctx context.Context, conn *websocket.Conn) error {
	req := tradingAuthRequest{
		Action: "authenticate",
		Data:   tradingAuthData{KeyID: w.key, SecretKey: w.secret},
	}
	b, _ := json.Marshal(req)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("auth handshake read: %w", err)
	}

	var frame tradingFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return fmt.Errorf("decode auth reply: %w", err)
	}
	if frame.Stream != "authorization" {
		return fmt.Errorf("unexpected auth reply stream %q", frame.Stream)
	}

	var auth authorizationData
	if err := json.Unmarshal(frame.Data, &auth); err != nil {
		return fmt.Errorf("decode authorization data: %w", err)
	}
	if auth.Status != "authorized" {
		return fmt.Errorf("trading auth rejected (%s): %w", auth.Status, infra.ErrFatal)
	}
	return nil
}

// Resubscribe re-requests the trade_updates stream on a fresh connection.
func (w *OrderWorker) Resubscribe(ctx context.Context, conn *websocket.Conn) error {
	req := listenRequest{
		Action: "listen",
		Data:   listenData{Streams: []string{tradeUpdatesStream}},
	}
	b, _ := json.Marshal(req)
	return conn.WriteMessage(websocket.TextMessage, b)
}

// OnMessage decodes one trading-stream envelope. Only trade_updates carry
// order state; listening acks and other envelopes are ignored.
func (w *OrderWorker) OnMessage(ctx context.Context, msg []byte) {
	var frame tradingFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		slog.Warn("Skipping undecodable message", "id", w.ID(), "err", err)
		return
	}

	if frame.Stream != tradeUpdatesStream {
		return
	}

	var tu tradeUpdateData
	if err := json.Unmarshal(frame.Data, &tu); err != nil {
		slog.Warn("Skipping undecodable trade update", "id", w.ID(), "err", err)
		return
	}

	state, ok := mapTradeEvent(tu.Event, tu.Order)
	if !ok {
		slog.Warn("Skipping trade update with unknown state",
			"id", w.ID(), "event", tu.Event, "status", tu.Order.Status)
		return
	}

	u := domain.OrderUpdate{
		ClientOrderID: tu.Order.ClientOrderID,
		VenueOrderID:  tu.Order.ID,
		Symbol:        tu.Order.Symbol,
		State:         state,
		FilledQty:     tu.Order.FilledQty,
		Ts:            tu.Timestamp,
	}
	if tu.Order.FilledAvgPrice != nil {
		u.AvgFillPrice = *tu.Order.FilledAvgPrice
	}
	if u.Ts.IsZero() {
		u.Ts = tu.Order.UpdatedAt
	}

	ev := event.OrderEvent{BaseEvent: event.BaseEvent{Ts: u.Ts}, Update: u}
	select {
	case w.inbox <- ev:
	case <-ctx.Done():
	}
}

// OnPing keeps the connection alive between order events.
func (w *OrderWorker) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return w.base.Write(websocket.PingMessage, nil)
}
