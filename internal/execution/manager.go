package execution

import (
	"context"
	"log/slog"
	"slices"

	"wick_go/internal/domain"
	"wick_go/internal/infra"
)

const (
	reasonTrigger  = "trigger"
	reasonForce    = "force"
	reasonDecision = "decision"
	reasonLate     = "late"
	reasonShutdown = "shutdown"
)

// placement is a worker's report for one submitted order.
type placement struct {
	gen   uint64
	slot  int
	order *domain.Order
	err   error
}

// slot is the tick loop's view of one order of the current decision.
type slot struct {
	order      domain.Order
	tombstoned bool // no longer wanted; an id arriving later is canceled on arrival
	canceled   bool // cancel confirmed by the exchange (or order already gone)
}

func (s *slot) live() bool {
	return s.order.ID != "" && !s.canceled
}

// Manager tracks the orders of the latest decision cycle.
//
// Every method except the worker jobs runs on the tick goroutine, which is the only
// writer of slot state. Workers report back over the results channel; a report tagged
// with an older generation, or for a tombstoned slot, is canceled when it is applied.
type Manager struct {
	gw      domain.Gateway
	pool    *Pool
	log     *slog.Logger
	metrics *infra.Metrics

	forceCancelTicks int

	gen     uint64
	slots   []*slot
	retired []*slot // previous cycles whose cancel is not confirmed yet
	results chan placement
}

// NewManager creates a manager placing orders through gw with a pool of the given size.
func NewManager(gw domain.Gateway, workers, forceCancelTicks int, logger *slog.Logger, metrics *infra.Metrics) *Manager {
	return &Manager{
		gw:               gw,
		pool:             NewPool(workers),
		log:              logger.With("module", "execution"),
		metrics:          metrics,
		forceCancelTicks: forceCancelTicks,
		results:          make(chan placement, max(workers, 1)*4),
	}
}

// Submit starts a new generation and places every order concurrently.
// It returns immediately; results are applied by Drain.
func (m *Manager) Submit(ctx context.Context, orders []domain.Order) {
	m.gen++
	gen := m.gen
	m.slots = make([]*slot, len(orders))

	for i, o := range orders {
		m.slots[i] = &slot{order: o}

		qty, price := o.Quantity, o.Price
		m.pool.Go(ctx, func(ctx context.Context) {
			placed, err := m.gw.LimitOrder(ctx, qty, price)
			m.results <- placement{gen: gen, slot: i, order: placed, err: err}
		})
	}
}

// Drain applies every placement report received so far without blocking.
func (m *Manager) Drain(ctx context.Context) {
	for {
		select {
		case p := <-m.results:
			m.apply(ctx, p)
		default:
			return
		}
	}
}

func (m *Manager) apply(ctx context.Context, p placement) {
	current := p.gen == m.gen && p.slot < len(m.slots)

	if p.err != nil || p.order == nil {
		m.metrics.RecordOrderError("limit_order")
		m.log.Warn("Order placement failed",
			slog.Uint64("gen", p.gen),
			slog.Int("slot", p.slot),
			slog.Any("error", p.err))
		if current {
			m.slots[p.slot].tombstoned = true
			m.slots[p.slot].canceled = true
		}
		return
	}

	m.metrics.RecordOrderPlaced(p.order.ExchangeSide())

	if !current {
		m.log.Info("Canceling order from a previous cycle",
			slog.String("id", p.order.ID),
			slog.Uint64("gen", p.gen))
		m.cancel(ctx, p.order.ID, reasonLate)
		return
	}

	s := m.slots[p.slot]
	s.order.ID = p.order.ID
	s.order.Status = p.order.Status
	s.order.CreatedAt = p.order.CreatedAt

	if s.tombstoned {
		m.log.Info("Canceling order tombstoned before placement confirmed", slog.String("id", s.order.ID))
		s.canceled = m.cancel(ctx, s.order.ID, reasonLate) == nil
	}
}

// Monitor runs the per-tick cancel checks against the reference price.
// An ask is canceled once its trigger < ema, a bid once its trigger > ema.
// When more than forceCancelTicks ticks passed since the last decision, every
// remaining side-tagged order is canceled regardless of trigger.
// It returns the number of trigger-driven ask and bid cancels.
func (m *Manager) Monitor(ctx context.Context, ema float64, ticksSinceDecision int) (asks, bids int) {
	force := ticksSinceDecision > m.forceCancelTicks

	for _, s := range m.slots {
		if s.tombstoned || s.order.Side == domain.QuoteNone {
			continue
		}

		triggered := false
		switch s.order.Side {
		case domain.QuoteAsk:
			triggered = s.order.CancelTrigger < ema
		case domain.QuoteBid:
			triggered = s.order.CancelTrigger > ema
		}
		if !triggered && !force {
			continue
		}

		reason := reasonForce
		if triggered {
			reason = reasonTrigger
			if s.order.Side == domain.QuoteAsk {
				asks++
			} else {
				bids++
			}
		}

		s.tombstoned = true
		if s.order.ID == "" {
			continue // canceled when the placement report arrives
		}
		m.log.Debug("Canceling order",
			slog.String("id", s.order.ID),
			slog.String("side", string(s.order.Side)),
			slog.String("reason", reason),
			slog.Float64("trigger", s.order.CancelTrigger),
			slog.Float64("ema", ema))
		s.canceled = m.cancel(ctx, s.order.ID, reason) == nil
	}
	return asks, bids
}

// CancelAll cancels every tracked order that may still rest on the book and
// ends the cycle. Reports still in flight are canceled when they arrive. Orders
// whose cancel failed are retried at the next CancelAll or at Close.
func (m *Manager) CancelAll(ctx context.Context) {
	m.cancelTracked(ctx, reasonDecision)
	m.gen++
	m.retired = slices.DeleteFunc(append(m.retired, m.slots...), func(s *slot) bool { return !s.live() })
	m.slots = nil
}

func (m *Manager) cancelTracked(ctx context.Context, reason string) {
	for _, s := range slices.Concat(m.retired, m.slots) {
		s.tombstoned = true
		if !s.live() {
			continue
		}
		s.canceled = m.cancel(ctx, s.order.ID, reason) == nil
	}
}

// Pending reports how many orders of previous cycles still wait for a confirmed cancel.
func (m *Manager) Pending() int {
	return len(m.retired)
}

// Forget drops tracked orders without touching the exchange. Call it only once
// the exchange side is known to be clear.
func (m *Manager) Forget() {
	m.gen++
	m.slots = nil
	m.retired = nil
}

// cancel issues one cancel. A missing or filled order is a success.
func (m *Manager) cancel(ctx context.Context, id, reason string) error {
	if _, err := m.gw.CancelOrder(ctx, id); err != nil {
		m.metrics.RecordOrderError("cancel")
		m.log.Warn("Cancel failed",
			slog.String("id", id),
			slog.String("reason", reason),
			slog.Any("error", err))
		return err
	}
	m.metrics.RecordOrderCanceled(reason)
	return nil
}

// Tracked returns the orders of the current cycle that are still wanted.
func (m *Manager) Tracked() []domain.Order {
	out := make([]domain.Order, 0, len(m.slots))
	for _, s := range m.slots {
		if !s.tombstoned {
			out = append(out, s.order)
		}
	}
	return out
}

// Prices returns the sorted prices of the orders still wanted.
func (m *Manager) Prices() []float64 {
	prices := make([]float64, 0, len(m.slots))
	for _, s := range m.slots {
		if !s.tombstoned {
			prices = append(prices, s.order.Price)
		}
	}
	slices.Sort(prices)
	return prices
}

// Close waits for in-flight placements, cancels late arrivals and retires every
// tracked order. No exchange call is made after Close returns.
func (m *Manager) Close(ctx context.Context) {
	cctx := context.WithoutCancel(ctx)
	m.cancelTracked(cctx, reasonShutdown)

	done := make(chan struct{})
	go func() {
		m.pool.Wait()
		close(done)
	}()

	for {
		select {
		case p := <-m.results:
			m.apply(cctx, p)
		case <-done:
			m.Drain(cctx)
			m.Forget()
			return
		}
	}
}
