package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/danmodyrko/trading-bot-test/internal/app"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// Credentials may come from a local .env instead of the config file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", slog.Any("error", err))
	}

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.SyncExchange(ctx); err != nil {
		slog.Error("exchange sync failed", slog.Any("error", err))
		os.Exit(1)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		bootstrap.Loop.Run(ctx)
	}()
	slog.Info("trading loop started", "symbols", bootstrap.Config.Symbols)

	streams := make([]string, 0, len(bootstrap.Config.Symbols))
	for _, symbol := range bootstrap.Config.Symbols {
		streams = append(streams, strings.ToLower(symbol)+"@aggTrade")
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		bootstrap.Supervisor.Run(ctx, streams)
	}()
	slog.Info("market data streams started", "streams", len(streams))

	<-ctx.Done()
	slog.Info("shutdown requested")
	wg.Wait()
	slog.Info("shutdown complete")
}
