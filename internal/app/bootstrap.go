package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wick_go/internal/domain"
	"wick_go/internal/feed"
	"wick_go/internal/infra"
	"wick_go/internal/infra/liquid"
	"wick_go/internal/infra/storage"
	"wick_go/internal/market"
	"wick_go/internal/strategy"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Logger  *slog.Logger
	Metrics *infra.Metrics
	Storage *storage.Storage
	Gateway *liquid.Client
	Bot     *Bot
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config and wires every component. Nothing is started.
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)
	b.Logger.Info("Bootstrapping wick",
		slog.String("version", cfg.App.Version),
		slog.Int("product_id", cfg.Liquid.ProductID),
		slog.Int("api_keys", len(cfg.Liquid.APIKeys)))

	b.Metrics = infra.NewMetrics()

	// 3. Initialize Storage (DB)
	if cfg.Storage.Path != "" {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		b.Logger.Info("Database initialized", slog.String("path", cfg.Storage.Path))
	}

	// 4. Exchange gateway
	gw, err := liquid.NewClient(cfg.Liquid, b.Logger, b.Metrics)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	b.Gateway = gw

	// 5. Feed over Liquid Tap, one transport per connection
	newTransport := func() domain.Transport {
		return liquid.NewTap(cfg.Liquid.WSURL, cfg.Feed.PingInterval, b.Logger)
	}
	conn := feed.NewConnection(feed.Config{
		Pair:             cfg.Liquid.Pair,
		ProductID:        cfg.Liquid.ProductID,
		WarmUp:           cfg.Feed.WarmUp,
		CheckInterval:    cfg.Feed.CheckInterval,
		StaleAfter:       cfg.Feed.StaleAfter,
		ReconnectBackoff: cfg.Feed.ReconnectBackoff,
	}, newTransport, market.NewState(), b.Logger, b.Metrics)

	// 6. Quoting engine
	engine := strategy.NewEngine(StrategyParams(cfg.Strategy), conn, gw, b.Logger, b.Metrics)

	b.Bot = NewBot(conn, gw, engine, b.Logger)
	return nil
}

// StrategyParams maps the config section onto engine parameters.
func StrategyParams(c infra.StrategyConfig) strategy.Params {
	return strategy.Params{
		Interval:         c.Interval,
		Alpha:            c.Alpha,
		Beta:             c.Beta,
		Lot:              c.Lot,
		ZeroPosition:     c.ZeroPosition,
		EMASpan:          c.EMASpan,
		TickInterval:     c.TickInterval,
		ForceCancelTicks: c.ForceCancelTicks,
		SweepInterval:    c.SweepInterval,
		LatencyHigh:      c.LatencyHigh,
		LatencyLow:       c.LatencyLow,
		Workers:          c.Workers,
		MaxLoss:          c.MaxLoss,
	}
}

// SaveReport persists the final report when storage is configured.
func (b *Bootstrap) SaveReport(ctx context.Context, endedAt time.Time) error {
	if b.Storage == nil || b.Bot == nil {
		return nil
	}
	row := b.Bot.RunReport(b.Config.Liquid.ProductID, endedAt)
	if err := b.Storage.SaveReport(ctx, row); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// Close releases resources opened by Initialize.
func (b *Bootstrap) Close() {
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			b.Logger.Warn("Failed to close storage", slog.Any("error", err))
		}
	}
}
