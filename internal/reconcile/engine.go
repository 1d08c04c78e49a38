// Package reconcile maintains the canonical local view of orders and
// positions: versioned updates from the trading stream, the gateway, and
// periodic venue snapshots all converge here.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/danehansen3/algo-trading/internal/domain"
	"github.com/danehansen3/algo-trading/internal/event"
	"github.com/danehansen3/algo-trading/internal/storage"
)

// SnapshotSource supplies the authoritative venue state for a snapshot pass.
type SnapshotSource interface {
	ListOrders(ctx context.Context, status string) ([]domain.OrderUpdate, error)
	ListPositions(ctx context.Context) ([]domain.PositionSnapshot, error)
}

// Engine owns all order records and position state. The venue does not
// version its updates, so the engine synthesizes a per-order version from
// arrival order; snapshot passes are marked authoritative and may correct
// state the monotonic machine would otherwise refuse.
type Engine struct {
	source  SnapshotSource
	journal *storage.Journal

	pollInterval time.Duration

	inbox   chan event.Event
	resyncC chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.RWMutex
	orders    map[string]*domain.OrderRecord // by client order id
	byVenueID map[string]string              // venue order id -> client order id
	positions map[string]*domain.PositionSnapshot

	// OnOrderUpdate and OnPositionUpdate fire after each applied change,
	// outside the engine lock. Set before Start.
	OnOrderUpdate    func(domain.OrderRecord)
	OnPositionUpdate func(domain.PositionSnapshot)
}

// NewEngine creates the reconciliation engine. journal may be nil for
// in-memory operation (tests).
func NewEngine(source SnapshotSource, journal *storage.Journal, pollInterval time.Duration) *Engine {
	return &Engine{
		source:       source,
		journal:      journal,
		pollInterval: pollInterval,
		inbox:        make(chan event.Event, 256),
		resyncC:      make(chan struct{}, 1),
		done:         make(chan struct{}),
		orders:       make(map[string]*domain.OrderRecord),
		byVenueID:    make(map[string]string),
		positions:    make(map[string]*domain.PositionSnapshot),
	}
}

// Inbox is the order-event channel the trading stream feeds.
func (e *Engine) Inbox() chan<- event.Event {
	return e.inbox
}

// RequestResync schedules an immediate snapshot pass. Coalesces: a pending
// request absorbs further ones. Hooked to stream reconnects.
func (e *Engine) RequestResync() {
	select {
	case e.resyncC <- struct{}{}:
	default:
	}
}

// Start launches the reconciliation loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.run(ctx)
}

// Stop shuts the loop down and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Done is closed when the loop has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	defer close(e.done)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.inbox:
			if oe, ok := ev.(event.OrderEvent); ok {
				e.ApplyUpdate(ctx, oe.Update)
			}
		case <-e.resyncC:
			e.snapshotPass(ctx)
		case <-ticker.C:
			e.snapshotPass(ctx)
		}
	}
}

// Recover rebuilds order and position state from the journal. Called once
// before Start; the first snapshot pass then corrects anything that moved
// while the process was down.
func (e *Engine) Recover(ctx context.Context) error {
	if e.journal == nil {
		return nil
	}

	intents, err := e.journal.LoadIntents(ctx)
	if err != nil {
		return err
	}
	updates, err := e.journal.LoadUpdates(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, intent := range intents {
		e.orders[intent.ClientOrderID] = domain.NewOrderRecord(intent)
	}

	var fills []domain.Fill
	for _, u := range updates {
		rec, ok := e.orders[u.ClientOrderID]
		if !ok {
			slog.Warn("Journal update for unknown order", "client_order_id", u.ClientOrderID)
			continue
		}
		prevFilled := rec.FilledQty
		applied, err := rec.Apply(u)
		if err != nil || !applied {
			continue
		}
		if u.VenueOrderID != "" {
			e.byVenueID[u.VenueOrderID] = u.ClientOrderID
		}
		if delta := rec.FilledQty.Sub(prevFilled); delta.IsPositive() {
			fills = append(fills, domain.Fill{
				Symbol: rec.Intent.Symbol,
				Side:   rec.Intent.Side,
				Qty:    delta,
				Price:  rec.AvgFillPrice,
				Ts:     rec.UpdatedAt,
			})
		}
	}

	e.positions = domain.RebuildPositions(fills)

	slog.Info("Recovered state from journal",
		"orders", len(e.orders), "positions", len(e.positions))
	return nil
}

// CreateOrder registers a new intent under its idempotency key. A key that
// already exists is rejected, except when the existing record is still
// PendingSubmit with no venue order id: that means the previous submit never
// confirmably reached the venue, and retrying with the same key is safe
// because the venue deduplicates on it.
func (e *Engine) CreateOrder(ctx context.Context, intent domain.OrderIntent) error {
	e.mu.Lock()
	if existing, ok := e.orders[intent.ClientOrderID]; ok {
		retryable := existing.State == domain.StatePendingSubmit && existing.VenueOrderID == ""
		if !retryable {
			e.mu.Unlock()
			return &domain.ValidationError{
				Reason: "duplicate client order id " + intent.ClientOrderID,
				Err:    domain.ErrDuplicateOrder,
			}
		}
		e.mu.Unlock()
		return nil
	}
	e.orders[intent.ClientOrderID] = domain.NewOrderRecord(intent)
	e.mu.Unlock()

	if e.journal != nil {
		if err := e.journal.SaveIntent(ctx, intent); err != nil {
			slog.Error("Failed to journal intent",
				"client_order_id", intent.ClientOrderID, "err", err)
		}
	}
	return nil
}

// ApplyUpdate merges one venue update into the matching record. Updates
// arrive unversioned; the engine stamps each with the record's next version
// so replay and idempotency checks hold. Stale or out-of-machine updates are
// discarded.
func (e *Engine) ApplyUpdate(ctx context.Context, u domain.OrderUpdate) {
	e.mu.Lock()

	key := u.ClientOrderID
	if key == "" {
		key = e.byVenueID[u.VenueOrderID]
	}
	rec, ok := e.orders[key]
	if !ok {
		e.mu.Unlock()
		slog.Warn("Update for unknown order, skipping",
			"client_order_id", u.ClientOrderID, "venue_order_id", u.VenueOrderID)
		return
	}

	// A snapshot that only echoes what the record already holds is a no-op.
	// Without this check every poll would stamp a new version, append a
	// journal row, and fire a callback for orders that have not moved.
	if u.Snapshot && u.Version == 0 &&
		u.State == rec.State &&
		u.FilledQty.Equal(rec.FilledQty) &&
		(u.VenueOrderID == "" || u.VenueOrderID == rec.VenueOrderID) {
		e.mu.Unlock()
		return
	}

	if u.Version == 0 {
		u.Version = rec.Version + 1
	}

	prevFilled := rec.FilledQty
	applied, err := rec.Apply(u)
	if !applied {
		e.mu.Unlock()
		if errors.Is(err, domain.ErrStaleUpdate) {
			slog.Debug("Discarded stale update",
				"client_order_id", key, "state", u.State, "version", u.Version)
		}
		return
	}

	if u.VenueOrderID != "" {
		e.byVenueID[u.VenueOrderID] = key
	}

	recCopy := rec.Clone()

	var posCopy *domain.PositionSnapshot
	if delta := rec.FilledQty.Sub(prevFilled); delta.IsPositive() {
		pos, ok := e.positions[rec.Intent.Symbol]
		if !ok {
			pos = &domain.PositionSnapshot{Symbol: rec.Intent.Symbol}
			e.positions[rec.Intent.Symbol] = pos
		}
		// The venue reports only the cumulative average; use it as the
		// slice price. The snapshot pass corrects any drift.
		pos.ApplyFill(rec.Intent.Side, delta, rec.AvgFillPrice, rec.UpdatedAt)
		p := *pos
		posCopy = &p
	}
	e.mu.Unlock()

	if e.journal != nil {
		stamped := u
		stamped.Version = recCopy.Version
		if err := e.journal.Append(ctx, stamped); err != nil {
			slog.Error("Failed to journal update", "client_order_id", key, "err", err)
		}
	}

	if e.OnOrderUpdate != nil {
		e.OnOrderUpdate(recCopy)
	}
	if posCopy != nil && e.OnPositionUpdate != nil {
		e.OnPositionUpdate(*posCopy)
	}
}

// snapshotPass pulls the authoritative venue state and corrects local state.
// Orders the venue reports differently get a snapshot update; positions are
// replaced wholesale, since the venue is always authoritative for position.
func (e *Engine) snapshotPass(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	updates, err := e.source.ListOrders(ctx, "all")
	if err != nil {
		slog.Warn("Snapshot pass: order query failed", "err", err)
	} else {
		for _, u := range updates {
			e.ApplyUpdate(ctx, u)
		}
	}

	venuePositions, err := e.source.ListPositions(ctx)
	if err != nil {
		slog.Warn("Snapshot pass: position query failed", "err", err)
		return
	}
	e.reconcilePositions(venuePositions)
}

func (e *Engine) reconcilePositions(venue []domain.PositionSnapshot) {
	next := make(map[string]*domain.PositionSnapshot, len(venue))
	var changed []domain.PositionSnapshot

	e.mu.Lock()
	for i := range venue {
		v := venue[i]
		next[v.Symbol] = &v
		local, ok := e.positions[v.Symbol]
		if !ok || !local.Qty.Equal(v.Qty) {
			var localQty decimal.Decimal
			if ok {
				localQty = local.Qty
			}
			slog.Warn("Position divergence, venue wins",
				"symbol", v.Symbol, "local", localQty, "venue", v.Qty)
			changed = append(changed, v)
		}
	}
	for sym, local := range e.positions {
		if _, ok := next[sym]; !ok && !local.IsFlat() {
			slog.Warn("Position closed at venue, flattening locally",
				"symbol", sym, "local", local.Qty)
			changed = append(changed, domain.PositionSnapshot{
				Symbol: sym, UpdatedAt: time.Now(),
			})
		}
	}
	e.positions = next
	e.mu.Unlock()

	if e.OnPositionUpdate != nil {
		for _, p := range changed {
			e.OnPositionUpdate(p)
		}
	}
}

// Order returns a copy of the record for one client order id.
func (e *Engine) Order(clientOrderID string) (domain.OrderRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.orders[clientOrderID]
	if !ok {
		return domain.OrderRecord{}, false
	}
	return rec.Clone(), true
}

// OpenOrders returns copies of every non-terminal order record.
func (e *Engine) OpenOrders() []domain.OrderRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var open []domain.OrderRecord
	for _, rec := range e.orders {
		if rec.IsOpen() {
			open = append(open, rec.Clone())
		}
	}
	return open
}

// Position returns the net position for one instrument.
func (e *Engine) Position(symbol string) (domain.PositionSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.positions[symbol]
	if !ok {
		return domain.PositionSnapshot{}, false
	}
	return *p, true
}

// Positions returns copies of all non-flat positions.
func (e *Engine) Positions() []domain.PositionSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []domain.PositionSnapshot
	for _, p := range e.positions {
		if !p.IsFlat() {
			out = append(out, *p)
		}
	}
	return out
}
