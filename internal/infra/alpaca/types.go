// Package alpaca implements the venue wire layer: REST order management and
// the two websocket streams (market data, trade updates).
package alpaca

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/danehansen3/algo-trading/internal/domain"
)

// ---- market-data stream frames ----

// authFrame authenticates the data stream.
type authFrame struct {
	Action string `json:"action"` // "auth"
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// subscribeFrame adds or removes symbols per channel.
type subscribeFrame struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Trades []string `json:"trades,omitempty"`
	Quotes []string `json:"quotes,omitempty"`
	Bars   []string `json:"bars,omitempty"`
}

// dataFrame is one element of the JSON array the data stream sends. The "T"
// tag discriminates quotes, trades, bars and control messages.
type dataFrame struct {
	T string `json:"T"`
	S string `json:"S"` // venue-native symbol

	// quote ("q")
	BidPrice decimal.Decimal `json:"bp"`
	BidSize  decimal.Decimal `json:"bs"`
	AskPrice decimal.Decimal `json:"ap"`
	AskSize  decimal.Decimal `json:"as"`

	// trade ("t")
	Price decimal.Decimal `json:"p"`
	Size  decimal.Decimal `json:"s"`

	// bar ("b")
	Open   decimal.Decimal `json:"o"`
	High   decimal.Decimal `json:"h"`
	Low    decimal.Decimal `json:"l"`
	Close  decimal.Decimal `json:"c"`
	Volume decimal.Decimal `json:"v"`

	Ts time.Time `json:"t"`

	// control ("success", "error", "subscription")
	Msg  string `json:"msg"`
	Code int    `json:"code"`
}

// Data stream error codes that are fatal rather than retryable.
const (
	codeAuthFailed  = 402
	codeAuthTimeout = 404
)

// ---- trading stream frames ----

type tradingAuthRequest struct {
	Action string          `json:"action"` // "authenticate"
	Data   tradingAuthData `json:"data"`
}

type tradingAuthData struct {
	KeyID     string `json:"key_id"`
	SecretKey string `json:"secret_key"`
}

type listenRequest struct {
	Action string     `json:"action"` // "listen"
	Data   listenData `json:"data"`
}

type listenData struct {
	Streams []string `json:"streams"`
}

// tradingFrame is the envelope for every trading-stream message.
type tradingFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type authorizationData struct {
	Status string `json:"status"` // "authorized" or "unauthorized"
	Action string `json:"action"`
}

// tradeUpdateData is one order-status push.
type tradeUpdateData struct {
	Event     string          `json:"event"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	Timestamp time.Time       `json:"timestamp"`
	Order     orderJSON       `json:"order"`
}

const tradeUpdatesStream = "trade_updates"

// ---- REST payloads ----

// orderJSON is the venue order representation, shared by the REST API and
// trade_updates pushes. Numeric fields arrive as JSON strings.
type orderJSON struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	TimeInForce    string           `json:"time_in_force"`
	Qty            decimal.Decimal  `json:"qty"`
	FilledQty      decimal.Decimal  `json:"filled_qty"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price"` // null until first fill
	LimitPrice     *decimal.Decimal `json:"limit_price"`
	StopPrice      *decimal.Decimal `json:"stop_price"`
	Status         string           `json:"status"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// toUpdate converts the venue order into a local update. Snapshot updates
// are authoritative and may correct local state.
func (o orderJSON) toUpdate(snapshot bool) domain.OrderUpdate {
	state, _ := mapOrderStatus(o.Status)
	u := domain.OrderUpdate{
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  o.ID,
		Symbol:        o.Symbol,
		State:         state,
		FilledQty:     o.FilledQty,
		Snapshot:      snapshot,
		Ts:            o.UpdatedAt,
	}
	if o.FilledAvgPrice != nil {
		u.AvgFillPrice = *o.FilledAvgPrice
	}
	return u
}

// submitOrderRequest is the POST /v2/orders body. All numbers are strings on
// the wire.
type submitOrderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

func newSubmitOrderRequest(intent domain.OrderIntent) submitOrderRequest {
	req := submitOrderRequest{
		Symbol:        intent.Symbol,
		Qty:           intent.Qty.String(),
		Side:          string(intent.Side),
		Type:          string(intent.Type),
		TimeInForce:   string(intent.TIF),
		ClientOrderID: intent.ClientOrderID,
	}
	if intent.LimitPrice.IsPositive() {
		req.LimitPrice = intent.LimitPrice.String()
	}
	if intent.StopPrice.IsPositive() {
		req.StopPrice = intent.StopPrice.String()
	}
	return req
}

// apiError is the venue REST error body.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// assetJSON is one entry of GET /v2/assets.
type assetJSON struct {
	ID             string           `json:"id"`
	Class          string           `json:"class"`
	Symbol         string           `json:"symbol"`
	Status         string           `json:"status"`
	Tradable       bool             `json:"tradable"`
	MinOrderSize   *decimal.Decimal `json:"min_order_size"`
	PriceIncrement *decimal.Decimal `json:"price_increment"`
}

func (a assetJSON) toInstrument() domain.InstrumentRef {
	ref := domain.InstrumentRef{
		VenueSymbol: a.Symbol,
		Symbol:      a.Symbol,
		Class:       domain.AssetClass(a.Class),
		TickSize:    decimal.NewFromFloat(0.01),
		LotSize:     decimal.NewFromInt(1),
		Tradable:    a.Tradable && a.Status == "active",
	}
	if a.PriceIncrement != nil && a.PriceIncrement.IsPositive() {
		ref.TickSize = *a.PriceIncrement
	}
	if a.MinOrderSize != nil && a.MinOrderSize.IsPositive() {
		ref.LotSize = *a.MinOrderSize
	}
	return ref
}

// positionJSON is one entry of GET /v2/positions. Qty is signed: negative
// for short.
type positionJSON struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
}

func (p positionJSON) toSnapshot() domain.PositionSnapshot {
	return domain.PositionSnapshot{
		Symbol:    p.Symbol,
		Qty:       p.Qty,
		AvgCost:   p.AvgEntryPrice,
		UpdatedAt: time.Now(),
	}
}

// mapOrderStatus translates a venue order status into the local state
// machine. Unknown statuses report ok=false so callers can skip them.
func mapOrderStatus(status string) (domain.OrderState, bool) {
	switch status {
	case "new", "accepted", "pending_new", "accepted_for_bidding", "pending_cancel", "pending_replace":
		return domain.StateAccepted, true
	case "partially_filled":
		return domain.StatePartiallyFilled, true
	case "filled":
		return domain.StateFilled, true
	case "canceled", "done_for_day", "stopped", "suspended", "replaced":
		return domain.StateCanceled, true
	case "expired":
		return domain.StateExpired, true
	case "rejected":
		return domain.StateRejected, true
	default:
		return domain.StateAccepted, false
	}
}

// mapTradeEvent resolves the state for one trade_updates push. The event
// name wins where it is specific; otherwise the order status decides.
func mapTradeEvent(eventName string, order orderJSON) (domain.OrderState, bool) {
	switch eventName {
	case "new", "pending_new":
		return domain.StateAccepted, true
	case "fill":
		if order.FilledQty.GreaterThanOrEqual(order.Qty) {
			return domain.StateFilled, true
		}
		return domain.StatePartiallyFilled, true
	case "partial_fill":
		return domain.StatePartiallyFilled, true
	case "canceled":
		return domain.StateCanceled, true
	case "expired":
		return domain.StateExpired, true
	case "rejected":
		return domain.StateRejected, true
	default:
		return mapOrderStatus(order.Status)
	}
}
