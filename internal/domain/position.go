package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSnapshot is the net position for one instrument. Netting model:
// a buy and a sell on the same instrument always combine into a single net
// quantity, positive for long and negative for short. Derived from fills,
// never hand-edited; venue-reported values win on divergence.
type PositionSnapshot struct {
	Symbol    string
	Qty       decimal.Decimal // signed net quantity
	AvgCost   decimal.Decimal // weighted average entry price
	UpdatedAt time.Time
}

// IsFlat reports whether the position has no exposure.
func (p *PositionSnapshot) IsFlat() bool {
	return p.Qty.IsZero()
}

// ApplyFill nets a fill into the position. Adding to the position reweights
// the average cost; reducing keeps it; crossing through zero re-bases it at
// the fill price.
func (p *PositionSnapshot) ApplyFill(side Side, qty, price decimal.Decimal, ts time.Time) {
	if !qty.IsPositive() {
		return
	}
	signed := qty
	if side == SideSell {
		signed = qty.Neg()
	}

	prev := p.Qty
	next := prev.Add(signed)

	switch {
	case prev.IsZero():
		p.AvgCost = price
	case prev.Sign() == signed.Sign():
		// Increasing exposure: weighted average cost.
		notional := p.AvgCost.Mul(prev.Abs()).Add(price.Mul(qty))
		p.AvgCost = notional.Div(next.Abs())
	case next.IsZero():
		p.AvgCost = decimal.Zero
	case prev.Sign() != next.Sign():
		// Crossed through zero: the residual was opened at the fill price.
		p.AvgCost = price
	}
	// Pure reduction keeps the average cost.

	p.Qty = next
	p.UpdatedAt = ts
}

// Fill is the minimal record needed to rebuild positions.
type Fill struct {
	Symbol string
	Side   Side
	Qty    decimal.Decimal
	Price  decimal.Decimal
	Ts     time.Time
}

// RebuildPositions folds fills into per-instrument positions. Used for
// crash-recovery rebuild from the journal and for checking the invariant
// that positions are always recomputable from fills.
func RebuildPositions(fills []Fill) map[string]*PositionSnapshot {
	positions := make(map[string]*PositionSnapshot)
	for _, f := range fills {
		p, ok := positions[f.Symbol]
		if !ok {
			p = &PositionSnapshot{Symbol: f.Symbol}
			positions[f.Symbol] = p
		}
		p.ApplyFill(f.Side, f.Qty, f.Price, f.Ts)
	}
	return positions
}
