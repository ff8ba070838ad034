// Package feed keeps the market state fed from the exchange stream and reconnects
// when the stream goes quiet.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wick_go/internal/domain"
	"wick_go/internal/infra"
	"wick_go/internal/infra/liquid"
	"wick_go/internal/market"

	"github.com/tidwall/gjson"
)

const (
	eventTickerUpdated    = "updated"
	eventExecutionCreated = "created"
	firstTickerPoll       = 100 * time.Millisecond
)

// Config configures the watchdog. Zero durations fall back to the defaults.
type Config struct {
	Pair             string
	ProductID        int
	WarmUp           time.Duration
	CheckInterval    time.Duration
	StaleAfter       time.Duration
	ReconnectBackoff time.Duration
}

func (c *Config) setDefaults() {
	if c.WarmUp <= 0 {
		c.WarmUp = 30 * time.Second
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 3 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Second
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = time.Second
	}
}

// Connection owns the stream subscription and the watchdog loop.
// A fresh transport is built for every connection attempt.
type Connection struct {
	cfg          Config
	newTransport func() domain.Transport
	state        *market.State
	logger       *slog.Logger
	metrics      *infra.Metrics
	now          func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConnection creates a stopped connection writing into state.
func NewConnection(cfg Config, newTransport func() domain.Transport, state *market.State, logger *slog.Logger, metrics *infra.Metrics) *Connection {
	cfg.setDefaults()
	return &Connection{
		cfg:          cfg,
		newTransport: newTransport,
		state:        state,
		logger:       logger.With("module", "feed"),
		metrics:      metrics,
		now:          time.Now,
	}
}

// Start launches the watchdog loop and blocks until the first ticker is observed.
// Calling Start on a running connection only waits for the ticker.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.running = true
		var loopCtx context.Context
		loopCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
		c.wg.Add(1)
		go c.loop(loopCtx)
		c.logger.Info("Feed started", slog.String("pair", c.cfg.Pair), slog.Int("product_id", c.cfg.ProductID))
	}
	c.mu.Unlock()

	poll := time.NewTicker(firstTickerPoll)
	defer poll.Stop()
	for {
		if _, ok := c.state.Ticker(); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
		}
	}
}

// Stop ends the watchdog loop and closes the current subscription.
// Handlers already running are not waited for.
func (c *Connection) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("Feed stopped")
}

// Ticker returns the latest ticker snapshot.
func (c *Connection) Ticker() (domain.Ticker, bool) {
	return c.state.Ticker()
}

// SecondsSinceLastMessage reports how stale the stream is.
func (c *Connection) SecondsSinceLastMessage() float64 {
	return c.state.SecondsSinceLastMessage()
}

// Candles returns the last n one-minute buckets, oldest first.
func (c *Connection) Candles(n int) []domain.Candle {
	return c.state.Candles(n)
}

// loop connects, watches and reconnects until ctx is canceled.
func (c *Connection) loop(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Feed loop panic recovered", slog.Any("panic", r))
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		tr := c.newTransport()
		tr.Subscribe(domain.Topic{Channel: liquid.ChannelTicker(c.cfg.Pair, c.cfg.ProductID), Event: eventTickerUpdated}, c.onTicker)
		tr.Subscribe(domain.Topic{Channel: liquid.ChannelExecutions(c.cfg.Pair), Event: eventExecutionCreated}, c.onExecution)

		if err := tr.Connect(ctx); err != nil {
			c.logger.Warn("Feed connection failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.ReconnectBackoff):
				continue
			}
		}

		c.watch(ctx)
		tr.Disconnect()

		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordReconnect()
		c.logger.Info("Reconnecting feed")
	}
}

// watch waits out the warm-up period, then returns as soon as the stream is stale
// or ctx is canceled.
func (c *Connection) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(c.cfg.WarmUp):
	}

	check := time.NewTicker(c.cfg.CheckInterval)
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-check.C:
			if since := c.state.SecondsSinceLastMessage(); since > c.cfg.StaleAfter.Seconds() {
				c.logger.Warn("Feed watchdog tripped",
					slog.Any("error", domain.ErrFeedStale),
					slog.Float64("seconds_since_last_message", since))
				return
			}
		}
	}
}

func (c *Connection) onTicker(payload []byte) {
	r := gjson.ParseBytes(payload)
	if !r.Get("last_traded_price").Exists() || !r.Get("timestamp").Exists() {
		c.logger.Debug("Dropping malformed ticker", slog.String("payload", string(payload)))
		return
	}

	c.state.PublishTicker(liquid.ParseTicker(r, c.now()))
	c.metrics.RecordFeedMessage("ticker")
}

func (c *Connection) onExecution(payload []byte) {
	r := gjson.ParseBytes(payload)
	if !r.Get("price").Exists() || !r.Get("timestamp").Exists() {
		c.logger.Debug("Dropping malformed execution", slog.String("payload", string(payload)))
		return
	}

	c.state.ApplyTrade(liquid.ParseExecution(r))
	c.metrics.RecordFeedMessage("execution")
}
