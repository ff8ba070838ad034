package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"wick_go/internal/accounting"
	"wick_go/internal/domain"
	"wick_go/internal/execution"
	"wick_go/internal/infra"
)

// State is the lifecycle phase of the engine.
type State int32

const (
	StateIdle State = iota
	StateWarmingUp
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWarmingUp:
		return "warming_up"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// TickResult tells the loop what to do after a tick.
type TickResult int

const (
	TickContinue TickResult = iota
	TickSkipEntry           // decision made but entries suppressed by latency
	TickStop
)

func (r TickResult) String() string {
	switch r {
	case TickContinue:
		return "continue"
	case TickSkipEntry:
		return "skip_entry"
	case TickStop:
		return "stop"
	}
	return "unknown"
}

// Feed is the read side of the market data connection.
type Feed interface {
	Ticker() (domain.Ticker, bool)
	SecondsSinceLastMessage() float64
}

// FeedState is what a tick reads from the feed, once.
type FeedState struct {
	Ticker  domain.Ticker
	Latency float64 // seconds since the last stream message
}

// QuoteState is the tick loop's own state.
type QuoteState struct {
	EMA        EMA
	Band       Band
	Counter    int // ticks since the last decision
	Ticks      uint64
	Suppressed bool

	lastSweep  time.Time
	lastHourly time.Time
	lastDaily  time.Time
}

// Engine runs the warm-up and the tick loop. All quote state is owned by the
// loop goroutine; other goroutines read the published snapshot.
type Engine struct {
	params  Params
	feed    Feed
	gw      domain.Gateway
	orders  *execution.Manager
	acct    *accounting.Accountant
	hooks   Hooks
	logger  *slog.Logger
	metrics *infra.Metrics
	now     func() time.Time

	state    atomic.Int32
	quote    QuoteState
	snapshot atomic.Pointer[QuoteState]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine wires an engine. A positive MaxLoss installs the loss limit as the hourly hook.
func NewEngine(p Params, feed Feed, gw domain.Gateway, logger *slog.Logger, metrics *infra.Metrics) *Engine {
	logger = logger.With("module", "strategy")
	e := &Engine{
		params:  p,
		feed:    feed,
		gw:      gw,
		orders:  execution.NewManager(gw, p.Workers, p.ForceCancelTicks, logger, metrics),
		acct:    accounting.NewAccountant(p.ZeroPosition),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if p.MaxLoss > 0 {
		e.hooks.Hourly = LossLimit(e.acct, p.MaxLoss)
	}
	return e
}

// SetHooks replaces the maintenance hooks. Call before Start.
func (e *Engine) SetHooks(h Hooks) {
	e.hooks = h
}

// SetClock overrides the wall clock used for maintenance timers and accounting.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Quote returns the quote state published by the last tick.
func (e *Engine) Quote() QuoteState {
	if q := e.snapshot.Load(); q != nil {
		return *q
	}
	return QuoteState{}
}

// Report summarizes the run so far.
func (e *Engine) Report() accounting.Report {
	return e.acct.Report()
}

// Done is closed once the loop has exited and retired its orders.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Start launches warm-up and the tick loop in the background.
func (e *Engine) Start(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateWarmingUp)) {
		return fmt.Errorf("engine already %s", e.State())
	}

	e.mu.Lock()
	ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	go e.run(ctx)
	return nil
}

// Stop requests the loop to exit and waits for it.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-e.done
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	defer func() {
		e.orders.Close(ctx)
		e.state.Store(int32(StateStopped))
		e.logger.Info("Engine stopped", slog.Any("report", e.acct.Report()))
	}()

	if !e.warmUp(ctx) {
		return
	}

	start := e.now()
	e.quote.lastSweep, e.quote.lastHourly, e.quote.lastDaily = start, start, start
	e.publish()
	e.state.Store(int32(StateRunning))
	e.logger.Info("Engine running", slog.Float64("ema", e.quote.EMA.Value))

	t := time.NewTicker(e.params.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if ctx.Err() != nil {
			return
		}
		if e.safeTick(ctx) == TickStop {
			return
		}
	}
}

// warmUp samples the last traded price EMASpan times and seeds the EMA with the mean.
func (e *Engine) warmUp(ctx context.Context) bool {
	e.logger.Info("Warming up", slog.Int("samples", e.params.EMASpan))

	samples := make([]float64, 0, e.params.EMASpan)
	t := time.NewTicker(e.params.TickInterval)
	defer t.Stop()

	for len(samples) < e.params.EMASpan {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
		tk, ok := e.feed.Ticker()
		if !ok {
			e.logger.Warn("Warm-up sample skipped", slog.Any("error", domain.ErrNoTicker))
			continue
		}
		samples = append(samples, tk.LastTradedPrice)
	}

	e.quote.EMA = SeedEMA(samples, e.params.EMASpan)
	return true
}

// safeTick runs one tick, turning errors and panics into logged results.
func (e *Engine) safeTick(ctx context.Context) (res TickResult) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.RecordTickError()
			e.logger.Error("Tick panic recovered",
				slog.Any("panic", r),
				slog.Uint64("tick", e.quote.Ticks),
				slog.Float64("ema", e.quote.EMA.Value),
				slog.Float64("position", e.acct.Position()))
			res = TickContinue
		}
		e.metrics.RecordTickResult(res.String())
		e.publish()
	}()

	res, err := e.tick(ctx)
	stopping := errors.Is(err, domain.ErrStopRequested)
	if err != nil && !stopping {
		e.metrics.RecordTickError()
	}
	if err != nil || res != TickContinue {
		level := slog.LevelInfo
		switch {
		case stopping:
			level = slog.LevelWarn
		case err != nil:
			level = slog.LevelError
		}
		e.logger.Log(ctx, level, "Tick result",
			slog.String("result", res.String()),
			slog.Uint64("tick", e.quote.Ticks),
			slog.Int("counter", e.quote.Counter),
			slog.Float64("ema", e.quote.EMA.Value),
			slog.Float64("position", e.acct.Position()),
			slog.Float64("latency", e.feed.SecondsSinceLastMessage()),
			slog.Any("error", err))
	}
	return res
}

func (e *Engine) tick(ctx context.Context) (TickResult, error) {
	now := e.now()
	q := &e.quote
	q.Ticks++

	e.orders.Drain(ctx)

	if err := e.maintain(ctx, now); err != nil {
		if errors.Is(err, domain.ErrStopRequested) {
			return TickStop, err
		}
		e.logger.Warn("Maintenance failed", slog.Any("error", err))
	}

	fs, ok := e.readFeed()
	if !ok {
		return TickContinue, domain.ErrNoTicker
	}

	q.EMA = q.EMA.Update(fs.Ticker.LastTradedPrice)
	q.Counter++
	e.metrics.ObserveTick(q.EMA.Value, fs.Latency, q.Suppressed)
	e.logSnapshot(fs)

	if q.Counter < e.params.Interval {
		asks, bids := e.orders.Monitor(ctx, q.EMA.Value, q.Counter)
		e.acct.CountCancel(asks, bids)
		return TickContinue, nil
	}

	q.Counter = 0
	return e.decide(ctx, fs, now)
}

func (e *Engine) readFeed() (FeedState, bool) {
	tk, ok := e.feed.Ticker()
	if !ok {
		return FeedState{}, false
	}
	return FeedState{Ticker: tk, Latency: e.feed.SecondsSinceLastMessage()}, true
}

// maintain runs the wall-clock keyed chores: order sweep, hourly and daily hooks.
func (e *Engine) maintain(ctx context.Context, now time.Time) error {
	q := &e.quote

	if e.params.SweepInterval > 0 && now.Sub(q.lastSweep) >= e.params.SweepInterval {
		q.lastSweep = now
		if err := e.gw.CancelAllOrders(ctx); err != nil {
			// tracked orders stay tracked and are retried at the next decision
			e.logger.Warn("Order sweep failed",
				slog.Int("pending", e.orders.Pending()),
				slog.Any("error", err))
		} else {
			e.orders.Forget()
			e.logger.Info("Order sweep done")
		}
	}

	if now.Sub(q.lastHourly) >= time.Hour {
		q.lastHourly = now
		if err := runHook(ctx, e.hooks.Hourly); err != nil {
			return fmt.Errorf("hourly hook: %w", err)
		}
	}
	if now.Sub(q.lastDaily) >= 24*time.Hour {
		q.lastDaily = now
		if err := runHook(ctx, e.hooks.Daily); err != nil {
			return fmt.Errorf("daily hook: %w", err)
		}
	}
	return nil
}

func runHook(ctx context.Context, h Hook) error {
	if h == nil {
		return nil
	}
	return h(ctx)
}

// decide replaces the previous cycle's orders with a fresh set around the EMA.
func (e *Engine) decide(ctx context.Context, fs FeedState, now time.Time) (TickResult, error) {
	q := &e.quote

	e.orders.CancelAll(ctx)

	pp, err := e.gw.PositionAndPnL(ctx)
	if err != nil {
		return TickContinue, fmt.Errorf("position poll: %w", err)
	}
	e.acct.Apply(pp.Position, pp.ClosedPnL, now)
	snap := e.acct.Snapshot()
	e.metrics.ObservePosition(snap.Position, snap.TotalPnL)

	// hysteresis: between the thresholds the previous flag holds
	switch {
	case fs.Latency > e.params.LatencyHigh.Seconds():
		q.Suppressed = true
	case fs.Latency < e.params.LatencyLow.Seconds():
		q.Suppressed = false
	}

	q.Band = NewBand(q.EMA.Value, e.params.Alpha, e.params.Beta)
	orders := e.plan(fs.Ticker.LastTradedPrice, pp.Position)
	e.orders.Submit(ctx, orders)

	prices := make([]float64, 0, len(orders))
	for _, o := range orders {
		prices = append(prices, o.Price)
	}
	slices.Sort(prices)
	e.logger.Info("Decision",
		slog.Float64("position", pp.Position),
		slog.Float64("total_pnl", snap.TotalPnL),
		slog.Float64("ltp", fs.Ticker.LastTradedPrice),
		slog.Any("order_prices", prices),
		slog.Any("counters", snap.Counters),
		slog.Float64("latency", fs.Latency),
		slog.Bool("suppressed", q.Suppressed))

	if len(orders) == 0 && q.Suppressed {
		return TickSkipEntry, nil
	}
	return TickContinue, nil
}

// plan builds the order set for a decision. The accountant must already hold position.
func (e *Engine) plan(ltp, position float64) []domain.Order {
	b := e.quote.Band
	flat := e.acct.Flat()

	switch {
	case flat && !e.quote.Suppressed:
		return []domain.Order{
			{Price: max(ltp, b.Ask), Quantity: -e.params.Lot, Side: domain.QuoteAsk, CancelTrigger: b.AskCancel},
			{Price: min(ltp, b.Bid), Quantity: e.params.Lot, Side: domain.QuoteBid, CancelTrigger: b.BidCancel},
		}
	case !flat:
		return []domain.Order{{Price: b.Close, Quantity: -position, Side: domain.QuoteNone}}
	}
	return nil
}

func (e *Engine) logSnapshot(fs FeedState) {
	if !e.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	snap := e.acct.Snapshot()
	e.logger.Debug("Price",
		slog.Float64("ltp", fs.Ticker.LastTradedPrice),
		slog.Float64("ema", e.quote.EMA.Value),
		slog.Any("band", e.quote.Band),
		slog.Any("orders", e.orders.Prices()),
		slog.Float64("position", snap.Position),
		slog.Float64("pnl", snap.TotalPnL),
		slog.Int("trades", snap.Counters.Trade))
}

func (e *Engine) publish() {
	q := e.quote
	e.snapshot.Store(&q)
}
