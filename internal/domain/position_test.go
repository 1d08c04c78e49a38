package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPosition_Netting(t *testing.T) {
	now := time.Now()
	p := &PositionSnapshot{Symbol: "AAPL"}

	p.ApplyFill(SideBuy, d("100"), d("180"), now)
	if !p.Qty.Equal(d("100")) || !p.AvgCost.Equal(d("180")) {
		t.Fatalf("open long: qty=%s avg=%s", p.Qty, p.AvgCost)
	}

	// Adding reweights the average cost.
	p.ApplyFill(SideBuy, d("100"), d("190"), now)
	if !p.Qty.Equal(d("200")) || !p.AvgCost.Equal(d("185")) {
		t.Fatalf("add long: qty=%s avg=%s", p.Qty, p.AvgCost)
	}

	// Reducing keeps the average cost.
	p.ApplyFill(SideSell, d("150"), d("195"), now)
	if !p.Qty.Equal(d("50")) || !p.AvgCost.Equal(d("185")) {
		t.Fatalf("reduce: qty=%s avg=%s", p.Qty, p.AvgCost)
	}

	// Selling the rest flattens.
	p.ApplyFill(SideSell, d("50"), d("195"), now)
	if !p.IsFlat() {
		t.Fatalf("expected flat, qty=%s", p.Qty)
	}
	if !p.AvgCost.IsZero() {
		t.Errorf("flat position should have zero avg cost, got %s", p.AvgCost)
	}
}

func TestPosition_CrossThroughZero(t *testing.T) {
	now := time.Now()
	p := &PositionSnapshot{Symbol: "AAPL"}

	p.ApplyFill(SideBuy, d("100"), d("180"), now)
	// Sell 150: close the long and open a 50-share short at the fill price.
	p.ApplyFill(SideSell, d("150"), d("175"), now)

	if !p.Qty.Equal(d("-50")) {
		t.Errorf("expected -50, got %s", p.Qty)
	}
	if !p.AvgCost.Equal(d("175")) {
		t.Errorf("residual short should be based at fill price 175, got %s", p.AvgCost)
	}
}

func TestPosition_ShortSide(t *testing.T) {
	now := time.Now()
	p := &PositionSnapshot{Symbol: "TSLA"}

	p.ApplyFill(SideSell, d("30"), d("250"), now)
	if !p.Qty.Equal(d("-30")) || !p.AvgCost.Equal(d("250")) {
		t.Fatalf("open short: qty=%s avg=%s", p.Qty, p.AvgCost)
	}

	p.ApplyFill(SideSell, d("30"), d("260"), now)
	if !p.Qty.Equal(d("-60")) || !p.AvgCost.Equal(d("255")) {
		t.Fatalf("add short: qty=%s avg=%s", p.Qty, p.AvgCost)
	}

	p.ApplyFill(SideBuy, d("60"), d("240"), now)
	if !p.IsFlat() {
		t.Fatalf("expected flat after cover, qty=%s", p.Qty)
	}
}

func TestPosition_ZeroQtyFillIgnored(t *testing.T) {
	p := &PositionSnapshot{Symbol: "AAPL"}
	p.ApplyFill(SideBuy, decimal.Zero, d("180"), time.Now())
	if !p.IsFlat() {
		t.Errorf("zero-quantity fill changed the position: %s", p.Qty)
	}
}

func TestRebuildPositions(t *testing.T) {
	now := time.Now()
	fills := []Fill{
		{Symbol: "AAPL", Side: SideBuy, Qty: d("100"), Price: d("180"), Ts: now},
		{Symbol: "AAPL", Side: SideSell, Qty: d("40"), Price: d("185"), Ts: now},
		{Symbol: "TSLA", Side: SideSell, Qty: d("10"), Price: d("250"), Ts: now},
	}

	positions := RebuildPositions(fills)

	aapl := positions["AAPL"]
	if aapl == nil || !aapl.Qty.Equal(d("60")) {
		t.Errorf("AAPL: expected 60, got %+v", aapl)
	}
	tsla := positions["TSLA"]
	if tsla == nil || !tsla.Qty.Equal(d("-10")) {
		t.Errorf("TSLA: expected -10, got %+v", tsla)
	}
}
