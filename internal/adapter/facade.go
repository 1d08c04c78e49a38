// Package adapter composes the whole connectivity stack behind one facade:
// market data subscription and order execution against a single venue.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/danehansen3/algo-trading/internal/domain"
	"github.com/danehansen3/algo-trading/internal/event"
	"github.com/danehansen3/algo-trading/internal/gateway"
	"github.com/danehansen3/algo-trading/internal/infra"
	"github.com/danehansen3/algo-trading/internal/infra/alpaca"
	"github.com/danehansen3/algo-trading/internal/reconcile"
	"github.com/danehansen3/algo-trading/internal/storage"
)

// Channel aliases keep callers off the venue package.
const (
	ChannelQuotes = alpaca.ChannelQuotes
	ChannelTrades = alpaca.ChannelTrades
	ChannelBars   = alpaca.ChannelBars
)

// Adapter is the single entry point for strategies: subscribe to market
// data, submit and cancel orders, read orders and positions. All venue
// specifics stay behind it.
type Adapter struct {
	cfg *infra.Config

	limiter     *infra.RateLimiter
	client      *alpaca.Client
	instruments *domain.InstrumentCache
	journal     *storage.Journal
	engine      *reconcile.Engine
	gateway     *gateway.Gateway

	market *alpaca.MarketWorker
	orders *alpaca.OrderWorker

	unlock func()
}

// New wires the adapter from configuration. Live mode requires the explicit
// CONFIRM_REAL_MONEY=true safety latch; without it construction fails fast.
func New(cfg *infra.Config) (*Adapter, error) {
	if cfg.Trading.Mode == infra.ModeLive && os.Getenv("CONFIRM_REAL_MONEY") != "true" {
		return nil, fmt.Errorf("SAFETY_GUARD: live trading requires 'CONFIRM_REAL_MONEY=true' environment variable")
	}

	workDir := infra.GetWorkspaceDir()
	dataDir := filepath.Join(workDir, "data", cfg.Trading.Mode)
	if err := infra.EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return nil, err
	}

	journalPath := cfg.Reconcile.JournalPath
	if journalPath == "" {
		journalPath = filepath.Join(dataDir, "journal.db")
	}
	journal, err := storage.NewJournal(journalPath)
	if err != nil {
		unlock()
		return nil, err
	}
	slog.Info("✅ Journal opened (WAL-mode)", "path", journalPath, "mode", cfg.Trading.Mode)

	limiter := infra.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec)
	client := alpaca.NewClient(cfg, limiter)
	instruments := domain.NewInstrumentCache()

	engine := reconcile.NewEngine(client, journal, cfg.PollInterval())
	gw := gateway.NewGateway(client, engine)

	market := alpaca.NewMarketWorker(cfg, instruments)
	orders := alpaca.NewOrderWorker(cfg, engine.Inbox())

	// Every trading-stream reconnect could have dropped pushes; schedule an
	// immediate snapshot pass to close the gap.
	orders.SetOnStreaming(engine.RequestResync)

	return &Adapter{
		cfg:         cfg,
		limiter:     limiter,
		client:      client,
		instruments: instruments,
		journal:     journal,
		engine:      engine,
		gateway:     gw,
		market:      market,
		orders:      orders,
		unlock:      unlock,
	}, nil
}

// Start loads instruments, recovers journaled state, and launches the
// streams and the reconciliation loop.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.ReloadInstruments(ctx); err != nil {
		return fmt.Errorf("failed to load instruments: %w", err)
	}

	if err := a.engine.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover journaled state: %w", err)
	}

	a.engine.Start(ctx)
	a.orders.Start(ctx)
	a.market.Start(ctx)

	slog.Info("✨ Adapter operational",
		"mode", a.cfg.Trading.Mode, "instruments", a.instruments.Len())
	return nil
}

// Close shuts everything down in reverse start order.
func (a *Adapter) Close() {
	a.market.Stop()
	a.orders.Stop()
	a.engine.Stop()
	if err := a.journal.Close(); err != nil {
		slog.Warn("Journal close failed", "err", err)
	}
	if a.unlock != nil {
		a.unlock()
	}
	slog.Info("👋 Adapter stopped")
}

// ReloadInstruments refreshes the instrument cache from the venue.
func (a *Adapter) ReloadInstruments(ctx context.Context) error {
	refs, err := a.client.ListAssets(ctx, domain.AssetEquity)
	if err != nil {
		return err
	}
	a.instruments.Replace(refs)
	slog.Info("Instrument cache loaded", "count", len(refs))
	return nil
}

// Instrument resolves one venue symbol from the cache.
func (a *Adapter) Instrument(symbol string) (domain.InstrumentRef, bool) {
	return a.instruments.Lookup(symbol)
}

// ---- market data role ----

// Subscribe starts delivery of one channel for one instrument. Unknown
// instruments are rejected before touching the stream.
func (a *Adapter) Subscribe(symbol string, ch alpaca.Channel) error {
	ref, ok := a.instruments.Lookup(symbol)
	if !ok {
		return &domain.ValidationError{Reason: "unknown instrument " + symbol}
	}
	return a.market.Subscribe(ref.VenueSymbol, ch)
}

// Unsubscribe stops delivery of one channel for one instrument.
func (a *Adapter) Unsubscribe(symbol string, ch alpaca.Channel) error {
	ref, ok := a.instruments.Lookup(symbol)
	if !ok {
		return &domain.ValidationError{Reason: "unknown instrument " + symbol}
	}
	return a.market.Unsubscribe(ref.VenueSymbol, ch)
}

// Events is the normalized market-data sequence. Stays open across
// reconnects; closes only when the adapter shuts down.
func (a *Adapter) Events() <-chan event.Event {
	return a.market.Events()
}

// MarketState reports the market-data session state.
func (a *Adapter) MarketState() infra.SessionState {
	return a.market.State()
}

// TradingState reports the trading-stream session state.
func (a *Adapter) TradingState() infra.SessionState {
	return a.orders.State()
}

// ---- execution role ----

// Submit submits one order through the gateway.
func (a *Adapter) Submit(ctx context.Context, intent domain.OrderIntent) (domain.OrderRecord, error) {
	return a.gateway.Submit(ctx, intent)
}

// Cancel requests cancellation by client order id.
func (a *Adapter) Cancel(ctx context.Context, clientOrderID string) error {
	return a.gateway.Cancel(ctx, clientOrderID)
}

// CancelAll requests cancellation of every open order.
func (a *Adapter) CancelAll(ctx context.Context) error {
	return a.gateway.CancelAll(ctx)
}

// Order returns the lifecycle record for one client order id.
func (a *Adapter) Order(clientOrderID string) (domain.OrderRecord, bool) {
	return a.engine.Order(clientOrderID)
}

// OpenOrders returns every order still working at the venue.
func (a *Adapter) OpenOrders() []domain.OrderRecord {
	return a.engine.OpenOrders()
}

// Position returns the net position for one instrument.
func (a *Adapter) Position(symbol string) (domain.PositionSnapshot, bool) {
	return a.engine.Position(symbol)
}

// Positions returns all non-flat positions.
func (a *Adapter) Positions() []domain.PositionSnapshot {
	return a.engine.Positions()
}

// OnOrderUpdate registers the order callback. Set before Start.
func (a *Adapter) OnOrderUpdate(fn func(domain.OrderRecord)) {
	a.engine.OnOrderUpdate = fn
}

// OnPositionUpdate registers the position callback. Set before Start.
func (a *Adapter) OnPositionUpdate(fn func(domain.PositionSnapshot)) {
	a.engine.OnPositionUpdate = fn
}

// RequestResync schedules an immediate reconciliation snapshot pass.
func (a *Adapter) RequestResync() {
	a.engine.RequestResync()
}

// WaitStreaming blocks until both streams reach Streaming or the timeout
// expires. Convenience for startup sequencing.
func (a *Adapter) WaitStreaming(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a.market.State() == infra.SessionStreaming &&
			a.orders.State() == infra.SessionStreaming {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("streams not ready after %s (market=%s trading=%s)",
		timeout, a.market.State(), a.orders.State())
}
