// Package market holds the live market snapshot shared between the feed and the strategy.
package market

import (
	"sync/atomic"
	"time"

	"wick_go/internal/domain"
)

const (
	// Slots is the number of one-minute buckets kept, one per minute of the hour.
	Slots = 60
	// bucketSpan is the gap after which a slot is considered to belong to an older hour.
	bucketSpan = 60 * time.Second
)

// State is the single-writer / multi-reader market snapshot.
// The feed goroutine is the only writer; every read is a lock-free atomic load.
//
// Candles are indexed by minute-of-hour, not by absolute time. A slot that saw no
// trade for a full hour still returns the bucket from the previous hour.
type State struct {
	ticker      atomic.Pointer[domain.Ticker]
	lastMessage atomic.Int64 // unix nanos of the latest message, exchange clock
	candles     [Slots]atomic.Pointer[domain.Candle]

	now func() time.Time
}

// NewState creates an empty market state.
func NewState() *State {
	return &State{now: time.Now}
}

// SetClock overrides the wall clock (tests only).
func (s *State) SetClock(now func() time.Time) {
	s.now = now
}

// Ticker returns the latest ticker and whether one has been observed.
func (s *State) Ticker() (domain.Ticker, bool) {
	t := s.ticker.Load()
	if t == nil {
		return domain.Ticker{}, false
	}
	return *t, true
}

// PublishTicker replaces the ticker snapshot and refreshes the message timestamp.
func (s *State) PublishTicker(t domain.Ticker) {
	s.ticker.Store(&t)
	s.touch(t.Timestamp)
}

// ApplyTrade folds a trade into the snapshot: last traded price, message timestamp and
// the minute bucket. Without a prior ticker only the timestamp and bucket are updated.
func (s *State) ApplyTrade(tr domain.Trade) {
	if cur := s.ticker.Load(); cur != nil {
		next := cur.WithLastTraded(tr.Price)
		s.ticker.Store(&next)
	}
	s.touch(tr.Timestamp)
	s.updateCandle(tr)
}

func (s *State) touch(ts time.Time) {
	s.lastMessage.Store(ts.UnixNano())
}

// updateCandle applies the one-minute bucket rule: a trade more than 60s newer than
// the slot's stored timestamp restarts the slot, otherwise it is merged in.
func (s *State) updateCandle(tr domain.Trade) {
	slot := &s.candles[tr.Timestamp.UTC().Minute()]
	cur := slot.Load()

	var next domain.Candle
	if cur == nil || tr.Timestamp.Sub(cur.Timestamp) > bucketSpan {
		next = domain.NewCandle(tr)
	} else {
		next = cur.Merge(tr)
	}
	slot.Store(&next)
}

// LastMessageAt returns the exchange timestamp of the latest message, zero if none.
func (s *State) LastMessageAt() time.Time {
	ns := s.lastMessage.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// SecondsSinceLastMessage measures feed staleness against the local clock.
// Before the first message it is measured from the unix epoch, i.e. very stale.
func (s *State) SecondsSinceLastMessage() float64 {
	return s.now().Sub(time.Unix(0, s.lastMessage.Load())).Seconds()
}

// Candles returns the last n minute buckets in chronological order, ending with the
// current minute and wrapping across the hour. n is clamped to [1, 60].
// Slots that never saw a trade come back as zero Candles.
func (s *State) Candles(n int) []domain.Candle {
	n = min(max(n, 1), Slots)
	minute := s.now().UTC().Minute()

	out := make([]domain.Candle, 0, n)
	for i := n - 1; i >= 0; i-- {
		idx := (minute - i + Slots) % Slots
		if c := s.candles[idx].Load(); c != nil {
			out = append(out, *c)
		} else {
			out = append(out, domain.Candle{})
		}
	}
	return out
}
