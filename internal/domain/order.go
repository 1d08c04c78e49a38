package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType is the venue order type.
type OrderType string

const (
	TypeMarket    OrderType = "market"
	TypeLimit     OrderType = "limit"
	TypeStop      OrderType = "stop"
	TypeStopLimit OrderType = "stop_limit"
)

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// OrderState is the local order lifecycle state. Transitions are monotonic:
// PendingSubmit -> Accepted -> PartiallyFilled (re-entrant) -> terminal.
// Only reconciliation snapshots may override a state out of order.
type OrderState int

const (
	StatePendingSubmit OrderState = iota + 1
	StateAccepted
	StatePartiallyFilled
	StateFilled
	StateCanceled
	StateRejected
	StateExpired
)

func (s OrderState) String() string {
	switch s {
	case StatePendingSubmit:
		return "PENDING_SUBMIT"
	case StateAccepted:
		return "ACCEPTED"
	case StatePartiallyFilled:
		return "PARTIALLY_FILLED"
	case StateFilled:
		return "FILLED"
	case StateCanceled:
		return "CANCELED"
	case StateRejected:
		return "REJECTED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transitions are permitted.
func (s OrderState) IsTerminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateRejected, StateExpired:
		return true
	default:
		return false
	}
}

// rank orders states along the lifecycle. All terminal states share a rank.
func (s OrderState) rank() int {
	switch s {
	case StatePendingSubmit:
		return 1
	case StateAccepted:
		return 2
	case StatePartiallyFilled:
		return 3
	case StateFilled, StateCanceled, StateRejected, StateExpired:
		return 4
	default:
		return 0
	}
}

// CanTransitionTo reports whether the state machine permits s -> next.
// PartiallyFilled may re-enter itself with a larger filled quantity.
func (s OrderState) CanTransitionTo(next OrderState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == s {
		return s == StatePartiallyFilled
	}
	return next.rank() > s.rank()
}

// OrderIntent is an immutable request to create an order. ClientOrderID is
// the client-generated idempotency key.
type OrderIntent struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Qty           decimal.Decimal
	Type          OrderType
	TIF           TimeInForce
	LimitPrice    decimal.Decimal // required for limit and stop_limit
	StopPrice     decimal.Decimal // required for stop and stop_limit
}

// Validate checks intent parameters locally, before any network call.
func (i OrderIntent) Validate() error {
	if i.Symbol == "" {
		return &ValidationError{Reason: "symbol is required"}
	}
	if i.Side != SideBuy && i.Side != SideSell {
		return &ValidationError{Reason: fmt.Sprintf("invalid side %q", i.Side)}
	}
	if !i.Qty.IsPositive() {
		return &ValidationError{Reason: "quantity must be positive"}
	}
	switch i.Type {
	case TypeMarket:
	case TypeLimit:
		if !i.LimitPrice.IsPositive() {
			return &ValidationError{Reason: "limit order requires a limit price"}
		}
	case TypeStop:
		if !i.StopPrice.IsPositive() {
			return &ValidationError{Reason: "stop order requires a stop price"}
		}
	case TypeStopLimit:
		if !i.LimitPrice.IsPositive() || !i.StopPrice.IsPositive() {
			return &ValidationError{Reason: "stop_limit order requires limit and stop prices"}
		}
	default:
		return &ValidationError{Reason: fmt.Sprintf("invalid order type %q", i.Type)}
	}
	switch i.TIF {
	case TIFDay, TIFGTC, TIFIOC, TIFFOK:
	default:
		return &ValidationError{Reason: fmt.Sprintf("invalid time in force %q", i.TIF)}
	}
	return nil
}

// OrderUpdate is one versioned lifecycle update from any source (push event,
// gateway result, or reconciliation snapshot). FilledQty is cumulative.
type OrderUpdate struct {
	ClientOrderID string
	VenueOrderID  string
	Symbol        string
	State         OrderState
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	Version       uint64
	Snapshot      bool // authoritative venue snapshot, may correct state
	Ts            time.Time
}

// OrderRecord is the mutable lifecycle record for one idempotency key.
// Exactly one exists per key; the reconciliation engine is its only writer
// after creation.
type OrderRecord struct {
	Intent       OrderIntent
	VenueOrderID string // assigned once, on acceptance
	State        OrderState
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
	Version      uint64
	UpdatedAt    time.Time
}

// NewOrderRecord creates the record for a freshly submitted intent.
func NewOrderRecord(intent OrderIntent) *OrderRecord {
	return &OrderRecord{
		Intent:    intent,
		State:     StatePendingSubmit,
		FilledQty: decimal.Zero,
		UpdatedAt: time.Now(),
	}
}

// IsOpen reports whether the order is still working at the venue.
func (r *OrderRecord) IsOpen() bool {
	return !r.State.IsTerminal()
}

// RemainingQty returns the unfilled quantity.
func (r *OrderRecord) RemainingQty() decimal.Decimal {
	return r.Intent.Qty.Sub(r.FilledQty)
}

// Apply merges a versioned update into the record. Updates with a version
// not newer than the stored one are discarded as stale, which makes
// application idempotent and order-independent. Push updates must follow the
// monotonic state machine; snapshot updates are authoritative and may
// correct the state. Filled quantity never decreases and never exceeds the
// requested quantity.
func (r *OrderRecord) Apply(u OrderUpdate) (bool, error) {
	if u.Version <= r.Version {
		return false, ErrStaleUpdate
	}
	if !u.Snapshot {
		if r.State.IsTerminal() {
			return false, ErrStaleUpdate
		}
		if u.State != r.State && !r.State.CanTransitionTo(u.State) {
			return false, ErrStaleUpdate
		}
	}

	if r.VenueOrderID == "" && u.VenueOrderID != "" {
		r.VenueOrderID = u.VenueOrderID
	}

	filled := u.FilledQty
	if filled.GreaterThan(r.Intent.Qty) {
		filled = r.Intent.Qty
	}
	if !u.Snapshot && filled.LessThan(r.FilledQty) {
		filled = r.FilledQty
	}

	r.State = u.State
	r.FilledQty = filled
	if u.AvgFillPrice.IsPositive() {
		r.AvgFillPrice = u.AvgFillPrice
	}
	r.Version = u.Version
	if !u.Ts.IsZero() {
		r.UpdatedAt = u.Ts
	} else {
		r.UpdatedAt = time.Now()
	}
	return true, nil
}

// Clone returns a copy safe to hand to callbacks and external readers.
func (r *OrderRecord) Clone() OrderRecord {
	return *r
}
