package accounting

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ClosedTrade is one realized position leg as reported by the exchange.
type ClosedTrade struct {
	PnL      decimal.Decimal
	ClosedAt time.Time
}

// Watermark sums closed PnL that has not been counted yet.
// A trade counts only if it closed strictly after the watermark; the watermark then
// advances to the latest close time seen, so no trade is counted twice.
type Watermark struct {
	mu   sync.Mutex
	last time.Time
}

// NewWatermark starts the watermark at the given instant, usually construction time.
func NewWatermark(start time.Time) *Watermark {
	return &Watermark{last: start}
}

// Collect returns the PnL of the trades newer than the watermark and advances it.
func (w *Watermark) Collect(trades []ClosedTrade) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()

	sum := decimal.Zero
	next := w.last
	for _, tr := range trades {
		if !tr.ClosedAt.After(w.last) {
			continue
		}
		sum = sum.Add(tr.PnL)
		if tr.ClosedAt.After(next) {
			next = tr.ClosedAt
		}
	}
	w.last = next
	return sum
}

// Last returns the current watermark.
func (w *Watermark) Last() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
