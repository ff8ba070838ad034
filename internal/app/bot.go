package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wick_go/internal/accounting"
	"wick_go/internal/domain"
	"wick_go/internal/infra/storage"
	"wick_go/internal/strategy"
)

// MarketFeed is the feed as the bot drives it.
type MarketFeed interface {
	strategy.Feed
	Start(ctx context.Context) error
	Stop()
}

// Bot ties the feed, the gateway and the quoting engine into one start/stop unit.
type Bot struct {
	feed   MarketFeed
	gw     domain.Gateway
	engine *strategy.Engine
	logger *slog.Logger

	mu        sync.Mutex
	startedAt time.Time
	stopped   bool
}

// NewBot wires a bot. The engine must quote through gw.
func NewBot(feed MarketFeed, gw domain.Gateway, engine *strategy.Engine, logger *slog.Logger) *Bot {
	return &Bot{
		feed:   feed,
		gw:     gw,
		engine: engine,
		logger: logger.With("module", "bot"),
	}
}

// Start waits for the first ticker, then starts the engine.
// The engine keeps running after ctx is canceled; only Stop ends it.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.feed.Start(ctx); err != nil {
		return fmt.Errorf("feed start: %w", err)
	}
	if err := b.engine.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	b.mu.Lock()
	b.startedAt = time.Now()
	b.mu.Unlock()
	b.logger.Info("Bot started")
	return nil
}

// Done is closed when the engine exits on its own, e.g. after a loss limit.
func (b *Bot) Done() <-chan struct{} {
	return b.engine.Done()
}

// Stop shuts down in order: feed, exchange-side cancel, engine. No exchange call is
// made after Stop returns.
func (b *Bot) Stop(ctx context.Context) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	b.logger.Info("Stopping bot")
	b.feed.Stop()

	if err := b.gw.CancelAllOrders(ctx); err != nil {
		b.logger.Warn("Cancel all on shutdown failed", slog.Any("error", err))
	}

	b.engine.Stop()
	b.logger.Info("Bot stopped", slog.Any("report", b.engine.Report()))
}

// Report summarizes the run so far.
func (b *Bot) Report() accounting.Report {
	return b.engine.Report()
}

// RunReport converts the run summary into its stored form.
func (b *Bot) RunReport(productID int, endedAt time.Time) *storage.RunReport {
	b.mu.Lock()
	started := b.startedAt
	b.mu.Unlock()
	return NewRunReport(b.engine.Report(), productID, started, endedAt)
}

// NewRunReport maps an accounting report onto a storage row.
func NewRunReport(r accounting.Report, productID int, startedAt, endedAt time.Time) *storage.RunReport {
	row := &storage.RunReport{
		StartedAt:    startedAt,
		EndedAt:      endedAt,
		ProductID:    productID,
		NetPnL:       r.NetPnL,
		ProfitFactor: r.ProfitFactor,
		WinRate:      r.WinRate,
		TradeCount:   r.TradeCount,
		AskEntry:     r.Counters.AskEntry,
		BidEntry:     r.Counters.BidEntry,
		AskCancel:    r.Counters.AskCancel,
		BidCancel:    r.Counters.BidCancel,
		Wins:         r.Counters.Win,
		Losses:       r.Counters.Lose,
	}
	if r.AvgHold != nil {
		hs := r.AvgHold.Seconds()
		row.AvgHoldSec = &hs
	}
	return row
}
