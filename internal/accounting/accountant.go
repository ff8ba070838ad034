// Package accounting tracks position transitions and realized PnL for one run.
package accounting

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// Counters are the cumulative trade statistics of a run.
type Counters struct {
	AskEntry  int `json:"ask_entry"`
	BidEntry  int `json:"bid_entry"`
	AskCancel int `json:"ask_cancel"`
	BidCancel int `json:"bid_cancel"`
	Trade     int `json:"trade"`
	Win       int `json:"win"`
	Lose      int `json:"lose"`
}

// Snapshot is a point-in-time copy of the accountant.
type Snapshot struct {
	Position    float64
	TotalPnL    float64
	TotalProfit float64
	TotalLoss   float64 // absolute value
	HoldSeconds float64
	Counters    Counters
}

// Accountant classifies realized PnL and detects position entries and exits.
// It is written by the tick loop and read by the shutdown path.
type Accountant struct {
	mu   sync.Mutex
	zero float64

	position    float64
	prePosition float64
	entryAt     time.Time

	totalPnL    float64
	totalProfit float64
	totalLoss   float64
	holdSeconds float64
	counters    Counters
}

// NewAccountant creates an accountant. Positions with |pos| < zero count as flat.
func NewAccountant(zero float64) *Accountant {
	return &Accountant{zero: zero}
}

// Flat reports whether the last observed position is below the zero threshold.
func (a *Accountant) Flat() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return math.Abs(a.position) < a.zero
}

// Position returns the last observed signed position.
func (a *Accountant) Position() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

// RecordClosedPnL folds one closed-PnL delta into the totals.
// A zero delta changes nothing.
func (a *Accountant) RecordClosedPnL(delta float64) {
	if delta == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalPnL += delta
	if delta > 0 {
		a.counters.Win++
		a.totalProfit += delta
	} else {
		a.counters.Lose++
		a.totalLoss += -delta
	}
}

// Observe records a new position reading and handles zero-crossings:
// flat to non-flat is an entry, non-flat to flat completes a trade.
func (a *Accountant) Observe(position float64, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.prePosition, a.position = a.position, position
	wasFlat := math.Abs(a.prePosition) < a.zero
	isFlat := math.Abs(a.position) < a.zero

	switch {
	case wasFlat && !isFlat:
		if a.position < 0 {
			a.counters.AskEntry++
		} else {
			a.counters.BidEntry++
		}
		a.entryAt = now
	case !wasFlat && isFlat:
		a.counters.Trade++
		if !a.entryAt.IsZero() {
			a.holdSeconds += now.Sub(a.entryAt).Seconds()
		}
	}
}

// Apply records one account poll: the closed PnL delta first, then the position.
func (a *Accountant) Apply(position, closedPnL float64, now time.Time) {
	a.RecordClosedPnL(closedPnL)
	a.Observe(position, now)
}

// CountCancel increments the cancel counters for trigger-driven cancels.
func (a *Accountant) CountCancel(asks, bids int) {
	if asks == 0 && bids == 0 {
		return
	}
	a.mu.Lock()
	a.counters.AskCancel += asks
	a.counters.BidCancel += bids
	a.mu.Unlock()
}

// Snapshot copies the current state.
func (a *Accountant) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		Position:    a.position,
		TotalPnL:    a.totalPnL,
		TotalProfit: a.totalProfit,
		TotalLoss:   a.totalLoss,
		HoldSeconds: a.holdSeconds,
		Counters:    a.counters,
	}
}

// Report summarizes the run. Ratios are nil when undefined.
type Report struct {
	NetPnL       float64
	ProfitFactor *float64 // profit / |loss|
	WinRate      *float64 // wins / trades
	TradeCount   int
	AvgHold      *time.Duration
	Counters     Counters
}

// Report computes the final result.
func (a *Accountant) Report() Report {
	s := a.Snapshot()
	r := Report{
		NetPnL:     s.TotalPnL,
		TradeCount: s.Counters.Trade,
		Counters:   s.Counters,
	}
	if s.TotalLoss > 0 {
		pf := s.TotalProfit / s.TotalLoss
		r.ProfitFactor = &pf
	}
	if s.Counters.Trade > 0 {
		wr := float64(s.Counters.Win) / float64(s.Counters.Trade)
		r.WinRate = &wr
		hold := time.Duration(s.HoldSeconds / float64(s.Counters.Trade) * float64(time.Second))
		r.AvgHold = &hold
	}
	return r
}

// LogValue implements slog.LogValuer.
func (r Report) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Float64("pnl", r.NetPnL),
		slog.Int("tc", r.TradeCount),
		slog.Any("counters", r.Counters),
	}
	if r.ProfitFactor != nil {
		attrs = append(attrs, slog.Float64("pf", *r.ProfitFactor))
	} else {
		attrs = append(attrs, slog.String("pf", "n/a"))
	}
	if r.WinRate != nil {
		attrs = append(attrs, slog.Float64("wr", *r.WinRate))
	} else {
		attrs = append(attrs, slog.String("wr", "n/a"))
	}
	if r.AvgHold != nil {
		attrs = append(attrs, slog.Duration("hs", *r.AvgHold))
	} else {
		attrs = append(attrs, slog.String("hs", "n/a"))
	}
	return slog.GroupValue(attrs...)
}
