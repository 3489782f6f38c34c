package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dafu-zhu/trading-system-sub000/internal/app"
	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/internal/infra"
	"github.com/dafu-zhu/trading-system-sub000/internal/marketdata"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// Pprof server, localhost only.
	go func() {
		slog.Info("Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := bootstrap.Config
	seq := bootstrap.Sequencer

	// Open the execution window before the hotpath starts; session state is
	// not touched again from this goroutine.
	now := quant.TimeStamp(time.Now().UnixMicro())
	windowEnd := now + quant.TimeStamp(cfg.Trading.WindowMinutes)*60_000_000
	seq.StartSession(now, windowEnd)
	if err := bootstrap.MarkSessionStart(now); err != nil {
		slog.Warn("Failed to record session marker", slog.Any("error", err))
	}

	if target := bootstrap.TargetQuantities(); target != nil {
		if err := seq.ExecutePlan(target); err != nil {
			slog.Error("Rebalance plan failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	go seq.Run(ctx)
	slog.InfoContext(ctx, "Sequencer (Hotpath) started")

	// Bar gateway feeds the inbox.
	if cfg.Marketdata.WSURL != "" {
		gateway := marketdata.NewWSGateway(cfg.Marketdata.WSURL, cfg.Trading.Symbols, func(bar domain.Bar) {
			seq.FeedBar(bar)
		})
		if err := gateway.Start(ctx); err != nil {
			slog.Error("Failed to start market data gateway", slog.Any("error", err))
			os.Exit(1)
		}
		defer gateway.Stop()
		slog.InfoContext(ctx, "Market data gateway started", slog.Int("symbols", len(cfg.Trading.Symbols)))
	}

	// Independent reference prices, used only as a sanity mark against the
	// primary feed.
	refClient := infra.NewReferencePriceClient(cfg.Trading.Symbols, func(symbol string, price decimal.Decimal) {
		slog.Debug("Reference price", slog.String("symbol", symbol), slog.String("price", price.String()))
	})
	if err := refClient.Start(ctx); err != nil {
		slog.Warn("Reference price client failed to start", slog.Any("error", err))
	}
	defer refClient.Stop()

	// Periodic portfolio snapshots for post-mortem and restart context.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := bootstrap.SaveSnapshot(); err != nil {
					slog.Warn("Snapshot failed", slog.Any("error", err))
				}
			}
		}
	}()

	slog.InfoContext(ctx, "Trading system fully operational. Press Ctrl+C to exit.")
	<-ctx.Done()

	slog.Info("Shutting down gracefully...")
	if err := bootstrap.SaveSnapshot(); err != nil {
		slog.Warn("Final snapshot failed", slog.Any("error", err))
	}

	stats := seq.Stats()
	completed, pending, failed := seq.Monitor().CompletionStatus()
	slog.Info("Session summary",
		slog.Int("bars", stats.Bars),
		slog.Int("fills", stats.Fills),
		slog.Int("rejections", stats.Rejections),
		slog.Int("risk_exits", stats.Exits),
		slog.Int64("final_equity_micros", stats.FinalEquityMicros),
		slog.Int64("return_bps", stats.ReturnBps),
		slog.Any("plan_completed", completed),
		slog.Any("plan_pending", pending),
		slog.Any("plan_failed", failed))
}
