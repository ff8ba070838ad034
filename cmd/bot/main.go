package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wick_go/internal/app"

	"github.com/joho/godotenv"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	flag.Parse()
	os.Exit(run(*configPath))
}

// run owns every deferred cleanup and returns the process exit code.
func run(configPath string) int {
	// Credentials may come from .env; a missing file is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env", slog.Any("error", err))
	}

	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(configPath); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		bootstrap.Close()
		return 1
	}
	defer bootstrap.Close()
	cfg := bootstrap.Config

	// 3. Metrics endpoint
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", bootstrap.Metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("Metrics server started", slog.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
		defer srv.Close()
	}

	// 4. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// REST sanity check before the stream is up
	if tk, err := bootstrap.Gateway.Ticker(ctx); err != nil {
		slog.Warn("REST ticker unavailable", slog.Any("error", err))
	} else {
		slog.Info("REST ticker",
			slog.Float64("ltp", tk.LastTradedPrice),
			slog.Float64("ask", tk.Ask),
			slog.Float64("bid", tk.Bid))
	}

	// 5. Start feed and engine
	bot := bootstrap.Bot
	if err := bot.Start(ctx); err != nil {
		slog.Error("Bot failed to start", slog.Any("error", err))
		bot.Stop(context.Background())
		return 1
	}
	slog.Info("Bot running. Press Ctrl+C to exit.")

	// Wait for shutdown signal, or the engine stopping itself
	select {
	case <-ctx.Done():
		slog.Info("Shutting down gracefully...")
	case <-bot.Done():
		slog.Warn("Engine stopped on its own, shutting down")
	}

	bot.Stop(context.Background())

	slog.Info("Final result", slog.Any("report", bot.Report()))
	if err := bootstrap.SaveReport(context.Background(), time.Now()); err != nil {
		slog.Error("Failed to store report", slog.Any("error", err))
		return 1
	}
	return 0
}
