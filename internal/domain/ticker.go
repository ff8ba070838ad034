package domain

import "time"

// Ticker is the latest top-of-book snapshot for the traded product.
// Values are never mutated after publication; writers build a new Ticker and swap it in.
type Ticker struct {
	Timestamp       time.Time     `json:"timestamp"`
	LastTradedPrice float64       `json:"ltp"`
	Ask             float64       `json:"ask"`
	Bid             float64       `json:"bid"`
	High            float64       `json:"high"`
	Low             float64       `json:"low"`
	Volume          float64       `json:"volume"`  // 24h volume
	Latency         time.Duration `json:"latency"` // local receive time minus exchange timestamp
}

// WithLastTraded returns a copy of the ticker with a new last traded price.
func (t Ticker) WithLastTraded(price float64) Ticker {
	t.LastTradedPrice = price
	return t
}
