package event

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/danehansen3/algo-trading/internal/domain"
)

// Type tags the event variant, enabling exhaustive switches instead of
// type-hierarchy dispatch.
type Type uint16

const (
	EvQuote Type = iota + 1
	EvTrade
	EvBar
	EvHeartbeat
	EvOrderUpdate
)

// Event is the interface for all normalized events emitted by the adapter.
type Event interface {
	GetType() Type
	GetTs() time.Time
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Ts time.Time `json:"ts"`
}

func (e BaseEvent) GetTs() time.Time { return e.Ts }

// QuoteEvent is a top-of-book quote for one instrument.
type QuoteEvent struct {
	BaseEvent
	Symbol   string          `json:"symbol"`
	BidPrice decimal.Decimal `json:"bid_price"`
	BidSize  decimal.Decimal `json:"bid_size"`
	AskPrice decimal.Decimal `json:"ask_price"`
	AskSize  decimal.Decimal `json:"ask_size"`
}

func (e QuoteEvent) GetType() Type { return EvQuote }

// TradeEvent is a single printed trade.
type TradeEvent struct {
	BaseEvent
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
}

func (e TradeEvent) GetType() Type { return EvTrade }

// BarEvent is an aggregated OHLCV bar.
type BarEvent struct {
	BaseEvent
	Symbol string          `json:"symbol"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

func (e BarEvent) GetType() Type { return EvBar }

// HeartbeatEvent signals the stream is alive during quiet periods.
type HeartbeatEvent struct {
	BaseEvent
}

func (e HeartbeatEvent) GetType() Type { return EvHeartbeat }

// OrderEvent carries one venue order-status update into the reconciliation
// engine.
type OrderEvent struct {
	BaseEvent
	Update domain.OrderUpdate `json:"update"`
}

func (e OrderEvent) GetType() Type { return EvOrderUpdate }
