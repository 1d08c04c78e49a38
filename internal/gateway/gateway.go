// Package gateway is the single entry point for order submission and
// cancellation. It validates locally, enforces idempotency, and maps venue
// failures into the typed rejection taxonomy.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/danehansen3/algo-trading/internal/domain"
	"github.com/danehansen3/algo-trading/internal/reconcile"
)

// VenueClient is the REST surface the gateway drives.
type VenueClient interface {
	SubmitOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderUpdate, error)
	CancelOrder(ctx context.Context, venueOrderID string) error
	CancelAllOrders(ctx context.Context) error
}

// Gateway submits and cancels orders. All state lives in the reconciliation
// engine; the gateway only orchestrates the venue calls around it.
type Gateway struct {
	client VenueClient
	engine *reconcile.Engine
}

// NewGateway creates the order gateway.
func NewGateway(client VenueClient, engine *reconcile.Engine) *Gateway {
	return &Gateway{client: client, engine: engine}
}

// Submit validates and submits one order. A missing ClientOrderID gets a
// generated one; the returned record carries the key the caller must use to
// track the order. Duplicate keys are rejected locally without a network
// call, except when the earlier submit never confirmably reached the venue.
// On a transport failure the record stays PendingSubmit so the caller can
// retry with the same key; the venue deduplicates on it.
func (g *Gateway) Submit(ctx context.Context, intent domain.OrderIntent) (domain.OrderRecord, error) {
	if err := intent.Validate(); err != nil {
		return domain.OrderRecord{}, err
	}
	if intent.ClientOrderID == "" {
		intent.ClientOrderID = uuid.NewString()
	}

	if err := g.engine.CreateOrder(ctx, intent); err != nil {
		return domain.OrderRecord{}, err
	}

	update, err := g.client.SubmitOrder(ctx, intent)
	if err != nil {
		var transport *domain.TransportError
		if errors.As(err, &transport) {
			// Outcome unknown: the order may or may not exist at the venue.
			// Leave the record PendingSubmit; the snapshot pass or a retry
			// with the same key resolves it.
			slog.Warn("Submit outcome unknown, order left pending",
				"client_order_id", intent.ClientOrderID, "err", err)
		} else {
			// Definitive rejection: the venue refused the order.
			g.engine.ApplyUpdate(ctx, domain.OrderUpdate{
				ClientOrderID: intent.ClientOrderID,
				Symbol:        intent.Symbol,
				State:         domain.StateRejected,
				Ts:            time.Now(),
			})
		}
		rec, _ := g.engine.Order(intent.ClientOrderID)
		return rec, err
	}

	g.engine.ApplyUpdate(ctx, update)
	rec, _ := g.engine.Order(intent.ClientOrderID)
	return rec, nil
}

// Cancel requests cancellation of one order by its client order id.
// Cancellation is best-effort: success here means the venue accepted the
// request, not that the order is canceled. The terminal state arrives
// through the trading stream or the snapshot pass.
func (g *Gateway) Cancel(ctx context.Context, clientOrderID string) error {
	rec, ok := g.engine.Order(clientOrderID)
	if !ok {
		return &domain.ValidationError{Reason: "unknown order " + clientOrderID}
	}
	if !rec.IsOpen() {
		return &domain.ValidationError{
			Reason: "order " + clientOrderID + " is already " + rec.State.String(),
		}
	}
	if rec.VenueOrderID == "" {
		return &domain.ValidationError{
			Reason: "order " + clientOrderID + " has no venue id yet",
		}
	}

	return g.client.CancelOrder(ctx, rec.VenueOrderID)
}

// CancelAll requests cancellation of every open order at the venue.
func (g *Gateway) CancelAll(ctx context.Context) error {
	return g.client.CancelAllOrders(ctx)
}
