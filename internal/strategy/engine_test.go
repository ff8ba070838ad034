package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wick_go/internal/domain"
	"wick_go/internal/infra"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeFeed struct {
	mu      sync.Mutex
	ltp     float64
	latency float64
	noData  bool
}

func (f *fakeFeed) Ticker() (domain.Ticker, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noData {
		return domain.Ticker{}, false
	}
	return domain.Ticker{LastTradedPrice: f.ltp, Ask: f.ltp + 5, Bid: f.ltp - 5}, true
}

func (f *fakeFeed) SecondsSinceLastMessage() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latency
}

func (f *fakeFeed) set(ltp, latency float64) {
	f.mu.Lock()
	f.ltp, f.latency = ltp, latency
	f.mu.Unlock()
}

type fakeGateway struct {
	mu            sync.Mutex
	nextID        atomic.Int64
	placed        []domain.Order
	canceled      []string
	position      float64
	closedPnL     float64
	panicPosition bool
	cancelAll     int
	sweepErr      error
}

func (f *fakeGateway) Ticker(ctx context.Context) (domain.Ticker, error) {
	return domain.Ticker{}, nil
}

func (f *fakeGateway) LimitOrder(ctx context.Context, quantity, price float64) (*domain.Order, error) {
	o := domain.Order{ID: fmt.Sprintf("%d", f.nextID.Add(1)), Price: price, Quantity: quantity, Status: domain.OrderStatusLive}
	f.mu.Lock()
	f.placed = append(f.placed, o)
	f.mu.Unlock()
	return &o, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, id string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	return &domain.Order{ID: id, Status: domain.OrderStatusCancelled}, nil
}

func (f *fakeGateway) CancelAllOrders(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAll++
	return f.sweepErr
}

func (f *fakeGateway) PositionAndPnL(ctx context.Context) (domain.PositionPnL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicPosition {
		panic("position endpoint exploded")
	}
	pnl := f.closedPnL
	f.closedPnL = 0
	return domain.PositionPnL{Position: f.position, ClosedPnL: pnl}, nil
}

func (f *fakeGateway) placedOrders() []domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.placed)
}

func (f *fakeGateway) canceledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.canceled)
}

func (f *fakeGateway) sweeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelAll
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testParams() Params {
	p := DefaultParams()
	p.TickInterval = 5 * time.Millisecond
	return p
}

// newTickEngine builds an engine that is already past warm-up, for driving tick() directly.
func newTickEngine(p Params, feed *fakeFeed, gw *fakeGateway) (*Engine, *fakeClock, *infra.Metrics) {
	metrics := infra.NewMetrics()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(p, feed, gw, logger, metrics)

	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	e.SetClock(clock.Now)
	e.quote.EMA = EMA{Value: 1000000, Span: p.EMASpan}
	start := clock.Now()
	e.quote.lastSweep, e.quote.lastHourly, e.quote.lastDaily = start, start, start
	return e, clock, metrics
}

// settle applies placement reports until every tracked order has an id.
func settle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e.orders.Drain(context.Background())
		ready := true
		for _, o := range e.orders.Tracked() {
			if o.ID == "" {
				ready = false
			}
		}
		if ready {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Placements did not settle in time")
}

func mustTick(t *testing.T, e *Engine, want TickResult) {
	t.Helper()
	got, err := e.tick(context.Background())
	if err != nil {
		t.Fatalf("Unexpected tick error: %v", err)
	}
	if got != want {
		t.Fatalf("Expected tick result %s, got %s", want, got)
	}
}

func TestEngine_DecisionWhenFlat(t *testing.T) {
	tests := []struct {
		name     string
		ltp      float64
		wantAsk  float64
		wantBidF func(Band) float64
	}{
		{"ltp inside band", 1000000, 1002500, func(Band) float64 { return 997500 }},
		{"ltp above ask quotes at ltp", 1010000, 1010000, func(b Band) float64 { return b.Bid }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			p.Interval = 1
			feed := &fakeFeed{ltp: tt.ltp, latency: 0.2}
			gw := &fakeGateway{}
			e, _, _ := newTickEngine(p, feed, gw)

			mustTick(t, e, TickContinue)
			settle(t, e)

			tracked := e.orders.Tracked()
			if len(tracked) != 2 {
				t.Fatalf("Expected 2 quotes, got %d", len(tracked))
			}
			ask, bid := tracked[0], tracked[1]
			if ask.Side != domain.QuoteAsk || ask.Price != tt.wantAsk || ask.Quantity != -p.Lot {
				t.Errorf("Unexpected ask %+v", ask)
			}
			if ask.CancelTrigger != e.quote.Band.AskCancel {
				t.Errorf("Expected ask trigger %v, got %v", e.quote.Band.AskCancel, ask.CancelTrigger)
			}
			if bid.Side != domain.QuoteBid || bid.Price != tt.wantBidF(e.quote.Band) || bid.Quantity != p.Lot {
				t.Errorf("Unexpected bid %+v", bid)
			}
			if bid.CancelTrigger != e.quote.Band.BidCancel {
				t.Errorf("Expected bid trigger %v, got %v", e.quote.Band.BidCancel, bid.CancelTrigger)
			}
		})
	}
}

func TestEngine_DecisionWithPositionCloses(t *testing.T) {
	p := testParams()
	p.Interval = 1
	feed := &fakeFeed{ltp: 1000000}
	gw := &fakeGateway{position: 0.002}
	e, _, _ := newTickEngine(p, feed, gw)

	mustTick(t, e, TickContinue)
	settle(t, e)

	tracked := e.orders.Tracked()
	if len(tracked) != 1 {
		t.Fatalf("Expected a single reduce order, got %d", len(tracked))
	}
	o := tracked[0]
	if o.Side != domain.QuoteNone || o.Quantity != -0.002 || o.Price != 1000000 {
		t.Errorf("Unexpected reduce order %+v", o)
	}
	if got := e.acct.Snapshot().Counters.BidEntry; got != 1 {
		t.Errorf("Expected bid entry counted, got %d", got)
	}
}

func TestEngine_LatencyGateHysteresis(t *testing.T) {
	p := testParams()
	p.Interval = 1
	feed := &fakeFeed{ltp: 1000000, latency: 5}
	gw := &fakeGateway{}
	e, _, _ := newTickEngine(p, feed, gw)

	mustTick(t, e, TickSkipEntry)
	if !e.quote.Suppressed {
		t.Fatal("Expected suppression above the high threshold")
	}
	if n := len(e.orders.Tracked()); n != 0 {
		t.Errorf("Suppressed flat decision must not quote, got %d orders", n)
	}

	feed.set(1000000, 2) // between thresholds
	mustTick(t, e, TickSkipEntry)
	if !e.quote.Suppressed {
		t.Error("Suppression must hold between thresholds")
	}

	feed.set(1000000, 0.5)
	mustTick(t, e, TickContinue)
	if e.quote.Suppressed {
		t.Error("Expected suppression cleared below the low threshold")
	}
	if n := len(e.orders.Tracked()); n != 2 {
		t.Errorf("Expected quotes after clearing, got %d", n)
	}
}

func TestEngine_SuppressionStillCloses(t *testing.T) {
	p := testParams()
	p.Interval = 1
	feed := &fakeFeed{ltp: 1000000, latency: 5}
	gw := &fakeGateway{position: -0.001}
	e, _, _ := newTickEngine(p, feed, gw)

	mustTick(t, e, TickContinue)
	tracked := e.orders.Tracked()
	if len(tracked) != 1 || tracked[0].Quantity != 0.001 {
		t.Errorf("Expected a reduce buy while suppressed, got %+v", tracked)
	}
}

func TestEngine_CancelOnFirstTriggerTick(t *testing.T) {
	p := testParams()
	p.Interval = 10
	feed := &fakeFeed{ltp: 1000000}
	gw := &fakeGateway{}
	e, _, _ := newTickEngine(p, feed, gw)

	e.quote.Counter = p.Interval - 1
	mustTick(t, e, TickContinue) // decision
	settle(t, e)
	askID := e.orders.Tracked()[0].ID

	mustTick(t, e, TickContinue) // ema unchanged, nothing triggers
	if got := gw.canceledIDs(); len(got) != 0 {
		t.Fatalf("Expected no cancels yet, got %v", got)
	}

	feed.set(1001000, 0) // ema -> 1000333 > ask trigger 1000100
	mustTick(t, e, TickContinue)

	if got := gw.canceledIDs(); !slices.Equal(got, []string{askID}) {
		t.Errorf("Expected ask %s canceled, got %v", askID, got)
	}
	c := e.acct.Snapshot().Counters
	if c.AskCancel != 1 || c.BidCancel != 0 {
		t.Errorf("Expected one ask cancel, got %+v", c)
	}
	if n := len(e.orders.Tracked()); n != 1 {
		t.Errorf("Expected only the bid still tracked, got %d", n)
	}
}

func TestEngine_ForceExpire(t *testing.T) {
	p := testParams()
	p.Interval = 10
	p.ForceCancelTicks = 3
	feed := &fakeFeed{ltp: 1000000}
	gw := &fakeGateway{}
	e, _, _ := newTickEngine(p, feed, gw)

	e.quote.Counter = p.Interval - 1
	mustTick(t, e, TickContinue)
	settle(t, e)

	for i := 1; i <= p.ForceCancelTicks; i++ {
		mustTick(t, e, TickContinue)
		if got := gw.canceledIDs(); len(got) != 0 {
			t.Fatalf("Tick %d: expected no cancels, got %v", i, got)
		}
	}

	mustTick(t, e, TickContinue)
	if got := gw.canceledIDs(); len(got) != 2 {
		t.Errorf("Expected both quotes force-canceled, got %v", got)
	}
	if c := e.acct.Snapshot().Counters; c.AskCancel != 0 || c.BidCancel != 0 {
		t.Errorf("Force cancels must not count as trigger cancels, got %+v", c)
	}
}

func TestEngine_Sweep(t *testing.T) {
	p := testParams()
	p.Interval = 100
	feed := &fakeFeed{ltp: 1000000}
	gw := &fakeGateway{}
	e, clock, _ := newTickEngine(p, feed, gw)

	mustTick(t, e, TickContinue)
	if gw.sweeps() != 0 {
		t.Fatal("Sweep ran before its interval")
	}

	clock.Advance(p.SweepInterval)
	mustTick(t, e, TickContinue)
	if gw.sweeps() != 1 {
		t.Fatalf("Expected one sweep, got %d", gw.sweeps())
	}

	clock.Advance(time.Second)
	mustTick(t, e, TickContinue)
	if gw.sweeps() != 1 {
		t.Errorf("Sweep timer must restart after running, got %d sweeps", gw.sweeps())
	}
}

func TestEngine_FailedSweepKeepsTracking(t *testing.T) {
	p := testParams()
	p.Interval = 1
	feed := &fakeFeed{ltp: 1000000}
	gw := &fakeGateway{sweepErr: errors.New("get orders: timeout")}
	e, clock, _ := newTickEngine(p, feed, gw)

	mustTick(t, e, TickContinue)
	settle(t, e)
	first := e.orders.Tracked()
	if len(first) != 2 {
		t.Fatalf("Expected 2 quotes, got %d", len(first))
	}

	clock.Advance(p.SweepInterval)
	mustTick(t, e, TickContinue)
	if gw.sweeps() != 1 {
		t.Fatalf("Expected one sweep attempt, got %d", gw.sweeps())
	}

	canceled := gw.canceledIDs()
	for _, o := range first {
		if !slices.Contains(canceled, o.ID) {
			t.Errorf("Order %s was dropped by the failed sweep and never canceled (canceled %v)", o.ID, canceled)
		}
	}
}

func TestEngine_LossLimitStops(t *testing.T) {
	p := testParams()
	p.Interval = 1
	p.MaxLoss = 1000
	feed := &fakeFeed{ltp: 1000000}
	gw := &fakeGateway{closedPnL: -1500}
	e, clock, _ := newTickEngine(p, feed, gw)

	mustTick(t, e, TickContinue)

	clock.Advance(time.Hour)
	res, err := e.tick(context.Background())
	if res != TickStop {
		t.Fatalf("Expected stop, got %s", res)
	}
	if !errors.Is(err, domain.ErrStopRequested) {
		t.Errorf("Expected ErrStopRequested, got %v", err)
	}
}

func TestEngine_SafeTickRecoversPanic(t *testing.T) {
	p := testParams()
	p.Interval = 1
	feed := &fakeFeed{ltp: 1000000}
	gw := &fakeGateway{panicPosition: true}
	e, _, metrics := newTickEngine(p, feed, gw)

	if res := e.safeTick(context.Background()); res != TickContinue {
		t.Errorf("Expected continue after panic, got %s", res)
	}
	if got := testutil.ToFloat64(metrics.TickErrors); got != 1 {
		t.Errorf("Expected 1 tick error, got %v", got)
	}
}

func TestEngine_NoTickerIsTickError(t *testing.T) {
	feed := &fakeFeed{noData: true}
	e, _, metrics := newTickEngine(testParams(), feed, &fakeGateway{})

	if res := e.safeTick(context.Background()); res != TickContinue {
		t.Errorf("Expected continue, got %s", res)
	}
	if got := testutil.ToFloat64(metrics.TickErrors); got != 1 {
		t.Errorf("Expected 1 tick error, got %v", got)
	}
	if e.quote.Counter != 0 {
		t.Errorf("Counter must not advance without a ticker, got %d", e.quote.Counter)
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	feed := &fakeFeed{ltp: 1000000, latency: 0.1}
	gw := &fakeGateway{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(testParams(), feed, gw, logger, infra.NewMetrics())

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.Start(context.Background()); err == nil {
		t.Error("Expected second Start to fail")
	}

	deadline := time.Now().Add(3 * time.Second)
	for (len(gw.placedOrders()) < 2 || e.Quote().Band.IsZero()) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if e.State() != StateRunning {
		t.Errorf("Expected running, got %s", e.State())
	}

	placed := gw.placedOrders()
	if len(placed) < 2 {
		t.Fatalf("Expected quotes placed, got %d", len(placed))
	}
	prices := []float64{placed[0].Price, placed[1].Price}
	slices.Sort(prices)
	if !slices.Equal(prices, []float64{997500, 1002500}) {
		t.Errorf("Expected quotes at 997500/1002500, got %v", prices)
	}
	want := Band{Ask: 1002500, Bid: 997500, AskCancel: 1000100, BidCancel: 999900, Close: 1000000}
	if got := e.Quote().Band; got != want {
		t.Errorf("Expected band %+v, got %+v", want, got)
	}

	e.Stop()
	if e.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", e.State())
	}

	canceled := gw.canceledIDs()
	for _, o := range gw.placedOrders() {
		if !slices.Contains(canceled, o.ID) {
			t.Errorf("Order %s still resting after Stop", o.ID)
		}
	}
	select {
	case <-e.Done():
	default:
		t.Error("Done must be closed after Stop")
	}
}

func TestEngine_StopDuringWarmUp(t *testing.T) {
	feed := &fakeFeed{noData: true}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(testParams(), feed, &fakeGateway{}, logger, nil)

	e.Stop() // not started

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if e.State() != StateWarmingUp {
		t.Errorf("Expected warming up without ticker, got %s", e.State())
	}
	e.Stop()
	if e.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", e.State())
	}
}

func TestEngine_HooksRunOnWallClock(t *testing.T) {
	p := testParams()
	p.Interval = 100
	e, clock, _ := newTickEngine(p, &fakeFeed{ltp: 1000000}, &fakeGateway{})

	var hourly, daily int
	e.SetHooks(Hooks{
		Hourly: func(context.Context) error { hourly++; return nil },
		Daily:  func(context.Context) error { daily++; return nil },
	})

	mustTick(t, e, TickContinue)
	clock.Advance(time.Hour)
	mustTick(t, e, TickContinue)
	clock.Advance(23 * time.Hour)
	mustTick(t, e, TickContinue)

	if hourly != 2 || daily != 1 {
		t.Errorf("Expected 2 hourly and 1 daily run, got %d and %d", hourly, daily)
	}
}
