package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func validIntent() OrderIntent {
	return OrderIntent{
		ClientOrderID: "c-1",
		Symbol:        "AAPL",
		Side:          SideBuy,
		Qty:           d("100"),
		Type:          TypeLimit,
		TIF:           TIFDay,
		LimitPrice:    d("187.50"),
	}
}

func TestOrderIntent_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*OrderIntent)
		wantOK bool
	}{
		{"Valid limit", func(i *OrderIntent) {}, true},
		{"Valid market", func(i *OrderIntent) { i.Type = TypeMarket; i.LimitPrice = decimal.Zero }, true},
		{"Missing symbol", func(i *OrderIntent) { i.Symbol = "" }, false},
		{"Bad side", func(i *OrderIntent) { i.Side = "hold" }, false},
		{"Zero qty", func(i *OrderIntent) { i.Qty = decimal.Zero }, false},
		{"Negative qty", func(i *OrderIntent) { i.Qty = d("-5") }, false},
		{"Limit without price", func(i *OrderIntent) { i.LimitPrice = decimal.Zero }, false},
		{"Stop without price", func(i *OrderIntent) { i.Type = TypeStop; i.StopPrice = decimal.Zero }, false},
		{"StopLimit complete", func(i *OrderIntent) { i.Type = TypeStopLimit; i.StopPrice = d("185") }, true},
		{"StopLimit missing stop", func(i *OrderIntent) { i.Type = TypeStopLimit }, false},
		{"Bad TIF", func(i *OrderIntent) { i.TIF = "week" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := validIntent()
			tt.mutate(&intent)
			err := intent.Validate()
			if tt.wantOK && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.wantOK {
				if err == nil {
					t.Fatal("expected validation error")
				}
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("expected ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestOrderState_Transitions(t *testing.T) {
	tests := []struct {
		from OrderState
		to   OrderState
		want bool
	}{
		{StatePendingSubmit, StateAccepted, true},
		{StatePendingSubmit, StateRejected, true},
		{StatePendingSubmit, StateFilled, true},
		{StateAccepted, StatePartiallyFilled, true},
		{StateAccepted, StateFilled, true},
		{StateAccepted, StateCanceled, true},
		{StateAccepted, StatePendingSubmit, false},
		{StatePartiallyFilled, StatePartiallyFilled, true}, // more quantity
		{StatePartiallyFilled, StateFilled, true},
		{StatePartiallyFilled, StateCanceled, true},
		{StatePartiallyFilled, StateAccepted, false},
		{StateFilled, StateCanceled, false},
		{StateCanceled, StateAccepted, false},
		{StateRejected, StateFilled, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"_to_"+tt.to.String(), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%v -> %v: got %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestOrderRecord_ApplyLifecycle(t *testing.T) {
	rec := NewOrderRecord(validIntent())

	applied, err := rec.Apply(OrderUpdate{
		VenueOrderID: "v-1",
		State:        StateAccepted,
		Version:      1,
		Ts:           time.Now(),
	})
	if err != nil || !applied {
		t.Fatalf("accept failed: %v", err)
	}
	if rec.VenueOrderID != "v-1" {
		t.Errorf("venue id not assigned")
	}

	applied, err = rec.Apply(OrderUpdate{
		State:        StatePartiallyFilled,
		FilledQty:    d("60"),
		AvgFillPrice: d("187.40"),
		Version:      2,
	})
	if err != nil || !applied {
		t.Fatalf("partial fill failed: %v", err)
	}
	if !rec.FilledQty.Equal(d("60")) {
		t.Errorf("expected filled 60, got %s", rec.FilledQty)
	}
	if !rec.RemainingQty().Equal(d("40")) {
		t.Errorf("expected remaining 40, got %s", rec.RemainingQty())
	}

	applied, err = rec.Apply(OrderUpdate{
		State:        StateFilled,
		FilledQty:    d("100"),
		AvgFillPrice: d("187.45"),
		Version:      3,
	})
	if err != nil || !applied {
		t.Fatalf("fill failed: %v", err)
	}
	if rec.State != StateFilled || !rec.State.IsTerminal() {
		t.Errorf("expected terminal FILLED, got %v", rec.State)
	}
}

func TestOrderRecord_StaleVersionDiscarded(t *testing.T) {
	rec := NewOrderRecord(validIntent())

	rec.Apply(OrderUpdate{State: StateAccepted, Version: 1})
	rec.Apply(OrderUpdate{State: StatePartiallyFilled, FilledQty: d("60"), Version: 3})

	// A late-arriving earlier update must not regress anything.
	applied, err := rec.Apply(OrderUpdate{State: StatePartiallyFilled, FilledQty: d("30"), Version: 2})
	if applied {
		t.Error("stale update must not apply")
	}
	if !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("expected ErrStaleUpdate, got %v", err)
	}
	if !rec.FilledQty.Equal(d("60")) {
		t.Errorf("filled quantity regressed to %s", rec.FilledQty)
	}

	// Same version replayed: idempotent discard.
	applied, _ = rec.Apply(OrderUpdate{State: StatePartiallyFilled, FilledQty: d("60"), Version: 3})
	if applied {
		t.Error("replayed version must not apply")
	}
}

func TestOrderRecord_TerminalRefusesPush(t *testing.T) {
	rec := NewOrderRecord(validIntent())
	rec.Apply(OrderUpdate{State: StateCanceled, Version: 1})

	applied, err := rec.Apply(OrderUpdate{State: StateFilled, FilledQty: d("100"), Version: 2})
	if applied {
		t.Error("terminal record must refuse push updates")
	}
	if !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("expected ErrStaleUpdate, got %v", err)
	}
}

func TestOrderRecord_SnapshotOverridesState(t *testing.T) {
	rec := NewOrderRecord(validIntent())
	rec.Apply(OrderUpdate{State: StateCanceled, Version: 1})

	// The venue snapshot is authoritative: the order actually filled before
	// the cancel landed.
	applied, err := rec.Apply(OrderUpdate{
		State:     StateFilled,
		FilledQty: d("100"),
		Version:   2,
		Snapshot:  true,
	})
	if err != nil || !applied {
		t.Fatalf("snapshot correction failed: %v", err)
	}
	if rec.State != StateFilled {
		t.Errorf("expected FILLED after snapshot, got %v", rec.State)
	}
}

func TestOrderRecord_FilledQtyBounds(t *testing.T) {
	rec := NewOrderRecord(validIntent())
	rec.Apply(OrderUpdate{State: StateAccepted, Version: 1})

	// Overfill is clamped to the requested quantity.
	rec.Apply(OrderUpdate{State: StatePartiallyFilled, FilledQty: d("150"), Version: 2})
	if !rec.FilledQty.Equal(d("100")) {
		t.Errorf("expected clamp at 100, got %s", rec.FilledQty)
	}

	// A push reporting less than already filled keeps the high-water mark.
	rec.Apply(OrderUpdate{State: StatePartiallyFilled, FilledQty: d("50"), Version: 3})
	if !rec.FilledQty.Equal(d("100")) {
		t.Errorf("filled quantity decreased to %s", rec.FilledQty)
	}
}

func TestOrderRecord_OutOfOrderConvergence(t *testing.T) {
	updates := []OrderUpdate{
		{State: StateAccepted, Version: 1},
		{State: StatePartiallyFilled, FilledQty: d("60"), AvgFillPrice: d("187.40"), Version: 2},
		{State: StateFilled, FilledQty: d("100"), AvgFillPrice: d("187.45"), Version: 3},
	}

	// Apply in the two possible late-arrival orders; the surviving state
	// must be identical.
	permutations := [][]int{{0, 1, 2}, {0, 2, 1}}
	var finals []OrderRecord
	for _, perm := range permutations {
		rec := NewOrderRecord(validIntent())
		for _, idx := range perm {
			rec.Apply(updates[idx])
		}
		finals = append(finals, rec.Clone())
	}

	for i := 1; i < len(finals); i++ {
		if finals[i].State != finals[0].State ||
			!finals[i].FilledQty.Equal(finals[0].FilledQty) {
			t.Errorf("permutation %d diverged: %v/%s vs %v/%s",
				i, finals[i].State, finals[i].FilledQty,
				finals[0].State, finals[0].FilledQty)
		}
	}
}
