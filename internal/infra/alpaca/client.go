package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/danehansen3/algo-trading/internal/domain"
	"github.com/danehansen3/algo-trading/internal/infra"
)

// Client handles REST communication: order submit/cancel and the snapshot
// queries the reconciliation engine polls. Every call passes through the
// shared rate limiter before transmission and carries a bounded deadline.
type Client struct {
	rest    *resty.Client
	limiter *infra.RateLimiter
	breaker *infra.CircuitBreaker

	orderCost  int
	cancelCost int
	queryCost  int
}

// NewClient creates a REST client for the configured environment.
func NewClient(cfg *infra.Config, limiter *infra.RateLimiter) *Client {
	rest := resty.New().
		SetBaseURL(cfg.API.Alpaca.RestURL).
		SetTimeout(15 * time.Second).
		SetHeader("APCA-API-KEY-ID", cfg.API.Alpaca.Key).
		SetHeader("APCA-API-SECRET-KEY", cfg.API.Alpaca.Secret).
		SetHeader("Content-Type", "application/json")

	return &Client{
		rest:       rest,
		limiter:    limiter,
		breaker:    infra.NewCircuitBreaker("alpaca-rest", 0, 0, 0),
		orderCost:  cfg.RateLimit.OrderCost,
		cancelCost: cfg.RateLimit.CancelCost,
		queryCost:  cfg.RateLimit.QueryCost,
	}
}

// do runs one REST call: rate-limit gate, breaker gate, request, typed error
// mapping. out, when non-nil, receives the decoded response body.
func (c *Client) do(ctx context.Context, cost int, op, method, path string, body, out any) error {
	if err := c.limiter.Acquire(ctx, cost); err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	if !c.breaker.Allow() {
		return &domain.TransportError{Op: op, Err: errors.New("circuit breaker open")}
	}

	req := c.rest.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		c.breaker.RecordFailure()
		return &domain.TransportError{Op: op, Err: err}
	}
	c.breaker.RecordSuccess()

	if resp.StatusCode() >= 400 {
		return mapAPIError(resp)
	}

	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return &domain.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// mapAPIError translates an HTTP failure into the local error taxonomy.
func mapAPIError(resp *resty.Response) error {
	var body apiError
	_ = json.Unmarshal(resp.Body(), &body)
	if body.Message == "" {
		body.Message = http.StatusText(resp.StatusCode())
	}

	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &domain.AuthError{Message: body.Message}
	case http.StatusTooManyRequests:
		retryAfter := 10 * time.Second
		if h := resp.Header().Get("Retry-After"); h != "" {
			if secs, err := strconv.Atoi(h); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &domain.ThrottledError{RetryAfter: retryAfter}
	default:
		return &domain.VenueError{
			StatusCode: resp.StatusCode(),
			Code:       body.Code,
			Message:    body.Message,
		}
	}
}

// SubmitOrder posts a new order. The intent's client order id is the
// idempotency key; the venue deduplicates on it.
func (c *Client) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderUpdate, error) {
	var out orderJSON
	err := c.do(ctx, c.orderCost, "submit order", http.MethodPost, "/v2/orders",
		newSubmitOrderRequest(intent), &out)
	if err != nil {
		return domain.OrderUpdate{}, err
	}
	return out.toUpdate(false), nil
}

// CancelOrder requests cancellation by venue order id. The venue answers
// 422 when the order is already terminal; that surfaces as a VenueError.
func (c *Client) CancelOrder(ctx context.Context, venueOrderID string) error {
	return c.do(ctx, c.cancelCost, "cancel order", http.MethodDelete,
		"/v2/orders/"+venueOrderID, nil, nil)
}

// CancelAllOrders requests cancellation of every open order.
func (c *Client) CancelAllOrders(ctx context.Context) error {
	return c.do(ctx, c.cancelCost, "cancel all orders", http.MethodDelete,
		"/v2/orders", nil, nil)
}

// ListOrders fetches the authoritative order snapshot for reconciliation.
// status is the venue filter, e.g. "open" or "all".
func (c *Client) ListOrders(ctx context.Context, status string) ([]domain.OrderUpdate, error) {
	var out []orderJSON
	path := fmt.Sprintf("/v2/orders?status=%s&limit=500", status)
	if err := c.do(ctx, c.queryCost, "list orders", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	updates := make([]domain.OrderUpdate, 0, len(out))
	for _, o := range out {
		updates = append(updates, o.toUpdate(true))
	}
	return updates, nil
}

// ListPositions fetches the venue-reported positions. The venue is always
// authoritative for position; local state is a cache.
func (c *Client) ListPositions(ctx context.Context) ([]domain.PositionSnapshot, error) {
	var out []positionJSON
	if err := c.do(ctx, c.queryCost, "list positions", http.MethodGet, "/v2/positions", nil, &out); err != nil {
		return nil, err
	}

	snaps := make([]domain.PositionSnapshot, 0, len(out))
	for _, p := range out {
		snaps = append(snaps, p.toSnapshot())
	}
	return snaps, nil
}

// ListAssets loads tradable instrument definitions for the cache.
func (c *Client) ListAssets(ctx context.Context, class domain.AssetClass) ([]domain.InstrumentRef, error) {
	var out []assetJSON
	path := fmt.Sprintf("/v2/assets?status=active&asset_class=%s", class)
	if err := c.do(ctx, c.queryCost, "list assets", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	refs := make([]domain.InstrumentRef, 0, len(out))
	for _, a := range out {
		if !a.Tradable {
			continue
		}
		refs = append(refs, a.toInstrument())
	}
	return refs, nil
}
