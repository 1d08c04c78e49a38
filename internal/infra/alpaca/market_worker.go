package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danehansen3/algo-trading/internal/domain"
	"github.com/danehansen3/algo-trading/internal/event"
	"github.com/danehansen3/algo-trading/internal/infra"
)

// Channel is a market-data subscription kind.
type Channel string

const (
	ChannelQuotes Channel = "quotes"
	ChannelTrades Channel = "trades"
	ChannelBars   Channel = "bars"
)

type subKey struct {
	symbol  string
	channel Channel
}

// MarketWorker runs the market-data stream session. It owns the
// SubscriptionSet: Subscribe/Unsubscribe mutate it immediately and, while
// streaming, push an incremental update on the live connection; otherwise
// the change is picked up on the next resubscribe after (re)connect.
type MarketWorker struct {
	base        *infra.StreamWorker
	url         string
	key         string
	secret      string
	instruments *domain.InstrumentCache

	subMu sync.RWMutex
	subs  map[subKey]struct{}

	events chan event.Event
}

// NewMarketWorker creates the market-data session worker. Events dropped on
// a full consumer buffer are logged; the stream itself is never torn down
// for a slow consumer.
func NewMarketWorker(cfg *infra.Config, instruments *domain.InstrumentCache) *MarketWorker {
	w := &MarketWorker{
		url:         cfg.API.Alpaca.DataURL,
		key:         cfg.API.Alpaca.Key,
		secret:      cfg.API.Alpaca.Secret,
		instruments: instruments,
		subs:        make(map[subKey]struct{}),
		events:      make(chan event.Event, 1024),
	}

	w.base = infra.NewStreamWorker(w, infra.NewBackoff(cfg.BackoffBase(), cfg.BackoffMax()))
	w.base.ReadTimeout = cfg.HeartbeatTimeout()
	w.base.PingInterval = cfg.PingInterval()
	w.base.Stability = cfg.Stability()
	return w
}

func (w *MarketWorker) ID() string  { return "ALPACA_DATA" }
func (w *MarketWorker) URL() string { return w.url }

// Start launches the session lifecycle.
func (w *MarketWorker) Start(ctx context.Context) {
	w.base.Start(ctx)
}

// Stop shuts the session down.
func (w *MarketWorker) Stop() {
	w.base.Stop()
}

// Events returns the normalized market-data event sequence. It stays open
// across reconnects.
func (w *MarketWorker) Events() <-chan event.Event {
	return w.events
}

// State exposes the session state for monitoring.
func (w *MarketWorker) State() infra.SessionState {
	return w.base.State()
}

// Err returns the terminal session error, if any.
func (w *MarketWorker) Err() error {
	return w.base.Err()
}

// Done is closed when the session terminates.
func (w *MarketWorker) Done() <-chan struct{} {
	return w.base.Done()
}

// SetOnStreaming registers the reconnect hook. Must be called before Start.
func (w *MarketWorker) SetOnStreaming(fn func()) {
	w.base.OnStreaming = fn
}

// Subscribe adds (instrument, channel) to the desired set and, if streaming,
// sends an incremental subscribe on the live connection.
func (w *MarketWorker) Subscribe(venueSymbol string, ch Channel) error {
	w.subMu.Lock()
	w.subs[subKey{venueSymbol, ch}] = struct{}{}
	w.subMu.Unlock()

	if !w.base.IsStreaming() {
		return nil
	}
	return w.sendSubscription("subscribe", venueSymbol, ch)
}

// Unsubscribe removes (instrument, channel) from the desired set and, if
// streaming, sends an incremental unsubscribe.
func (w *MarketWorker) Unsubscribe(venueSymbol string, ch Channel) error {
	w.subMu.Lock()
	delete(w.subs, subKey{venueSymbol, ch})
	w.subMu.Unlock()

	if !w.base.IsStreaming() {
		return nil
	}
	return w.sendSubscription("unsubscribe", venueSymbol, ch)
}

func (w *MarketWorker) sendSubscription(action, venueSymbol string, ch Channel) error {
	frame := subscribeFrame{Action: action}
	switch ch {
	case ChannelTrades:
		frame.Trades = []string{venueSymbol}
	case ChannelQuotes:
		frame.Quotes = []string{venueSymbol}
	case ChannelBars:
		frame.Bars = []string{venueSymbol}
	default:
		return fmt.Errorf("unknown channel %q", ch)
	}

	b, _ := json.Marshal(frame)
	return w.base.Write(websocket.TextMessage, b)
}

// Authenticate runs the data-stream handshake: the server greets with
// "connected", we send credentials, the server answers "authenticated" or
// an error frame. Credential rejection is fatal to the session.
func (w *MarketWorker) Authenticate(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(10 * time.Second)

	for i := 0; i < 8; i++ {
		conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("auth handshake read: %w", err)
		}

		var frames []dataFrame
		if err := json.Unmarshal(msg, &frames); err != nil {
			slog.Warn("Skipping undecodable handshake frame", "id", w.ID(), "err", err)
			continue
		}

		for _, f := range frames {
			switch {
			case f.T == "success" && f.Msg == "connected":
				b, _ := json.Marshal(authFrame{Action: "auth", Key: w.key, Secret: w.secret})
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return fmt.Errorf("send auth: %w", err)
				}
			case f.T == "success" && f.Msg == "authenticated":
				return nil
			case f.T == "error":
				if f.Code == codeAuthFailed {
					return fmt.Errorf("auth rejected (%d %s): %w", f.Code, f.Msg, infra.ErrFatal)
				}
				return fmt.Errorf("auth error (%d): %s", f.Code, f.Msg)
			}
		}
	}
	return fmt.Errorf("auth handshake did not complete")
}

// Resubscribe replays the full current subscription set on a fresh
// connection. Nothing is assumed to survive a reconnect.
func (w *MarketWorker) Resubscribe(ctx context.Context, conn *websocket.Conn) error {
	w.subMu.RLock()
	frame := subscribeFrame{Action: "subscribe"}
	for k := range w.subs {
		switch k.channel {
		case ChannelTrades:
			frame.Trades = append(frame.Trades, k.symbol)
		case ChannelQuotes:
			frame.Quotes = append(frame.Quotes, k.symbol)
		case ChannelBars:
			frame.Bars = append(frame.Bars, k.symbol)
		}
	}
	w.subMu.RUnlock()

	if len(frame.Trades) == 0 && len(frame.Quotes) == 0 && len(frame.Bars) == 0 {
		return nil
	}

	b, _ := json.Marshal(frame)
	return conn.WriteMessage(websocket.TextMessage, b)
}

// OnMessage decodes one wire message into normalized events. Decode failures
// and instrument-cache misses are logged and skipped; they never tear the
// session down.
func (w *MarketWorker) OnMessage(ctx context.Context, msg []byte) {
	var frames []dataFrame
	if err := json.Unmarshal(msg, &frames); err != nil {
		slog.Warn("Skipping undecodable message", "id", w.ID(), "err", err)
		return
	}

	for _, f := range frames {
		switch f.T {
		case "q", "t", "b":
			w.emitData(f)
		case "success", "subscription":
			w.emit(event.HeartbeatEvent{BaseEvent: event.BaseEvent{Ts: time.Now()}})
		case "error":
			slog.Warn("Stream error frame", "id", w.ID(), "code", f.Code, "msg", f.Msg)
		default:
			// Unknown frame kind: skip.
		}
	}
}

func (w *MarketWorker) emitData(f dataFrame) {
	ref, ok := w.instruments.Lookup(f.S)
	if !ok {
		slog.Debug("Skipping frame for unknown instrument", "id", w.ID(), "symbol", f.S)
		return
	}

	base := event.BaseEvent{Ts: f.Ts}
	switch f.T {
	case "q":
		w.emit(event.QuoteEvent{
			BaseEvent: base,
			Symbol:    ref.Symbol,
			BidPrice:  f.BidPrice,
			BidSize:   f.BidSize,
			AskPrice:  f.AskPrice,
			AskSize:   f.AskSize,
		})
	case "t":
		w.emit(event.TradeEvent{
			BaseEvent: base,
			Symbol:    ref.Symbol,
			Price:     f.Price,
			Size:      f.Size,
		})
	case "b":
		w.emit(event.BarEvent{
			BaseEvent: base,
			Symbol:    ref.Symbol,
			Open:      f.Open,
			High:      f.High,
			Low:       f.Low,
			Close:     f.Close,
			Volume:    f.Volume,
		})
	}
}

func (w *MarketWorker) emit(ev event.Event) {
	select {
	case w.events <- ev:
	default:
		slog.Warn("Dropping market event, consumer too slow", "id", w.ID())
	}
}

// OnPing keeps the connection alive through quiet markets.
func (w *MarketWorker) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return w.base.Write(websocket.PingMessage, nil)
}
