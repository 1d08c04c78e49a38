package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/danehansen3/algo-trading/internal/adapter"
	"github.com/danehansen3/algo-trading/internal/domain"
	"github.com/danehansen3/algo-trading/internal/event"
	"github.com/danehansen3/algo-trading/internal/infra"
)

func main() {
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		slog.Error("❌ Configuration failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	infra.PrintBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := adapter.New(cfg)
	if err != nil {
		slog.Error("❌ Adapter construction failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer a.Close()

	a.OnOrderUpdate(func(rec domain.OrderRecord) {
		slog.Info("Order update",
			"client_order_id", rec.Intent.ClientOrderID,
			"state", rec.State,
			"filled", rec.FilledQty)
	})
	a.OnPositionUpdate(func(p domain.PositionSnapshot) {
		slog.Info("Position update", "symbol", p.Symbol, "qty", p.Qty, "avg_cost", p.AvgCost)
	})

	if err := a.Start(ctx); err != nil {
		slog.Error("❌ Adapter startup failed", slog.Any("error", err))
		os.Exit(1)
	}

	for _, sym := range cfg.Trading.Symbols {
		if err := a.Subscribe(sym, adapter.ChannelQuotes); err != nil {
			slog.Warn("Subscribe failed", "symbol", sym, "err", err)
		}
		if err := a.Subscribe(sym, adapter.ChannelTrades); err != nil {
			slog.Warn("Subscribe failed", "symbol", sym, "err", err)
		}
	}

	go drainEvents(ctx, a.Events())

	slog.InfoContext(ctx, "✨ Adapter fully operational. Press Ctrl+C to exit.")

	<-ctx.Done()
	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}

func drainEvents(ctx context.Context, events <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch e := ev.(type) {
			case event.QuoteEvent:
				slog.Debug("quote", "symbol", e.Symbol, "bid", e.BidPrice, "ask", e.AskPrice)
			case event.TradeEvent:
				slog.Debug("trade", "symbol", e.Symbol, "price", e.Price, "size", e.Size)
			case event.BarEvent:
				slog.Debug("bar", "symbol", e.Symbol, "close", e.Close, "volume", e.Volume)
			}
		}
	}
}
