package strategy

import "math"

// EMA is the smoothed reference price.
type EMA struct {
	Value float64
	Span  int
}

// SeedEMA starts the average at the mean of the warm-up samples.
func SeedEMA(samples []float64, span int) EMA {
	if len(samples) == 0 {
		return EMA{Span: span}
	}
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return EMA{Value: sum / float64(len(samples)), Span: span}
}

// Update folds one price in: ema' = (ema*(span-1) + 2*ltp) / (span+1).
func (e EMA) Update(ltp float64) EMA {
	n := float64(e.Span)
	e.Value = (e.Value*(n-1) + 2*ltp) / (n + 1)
	return e
}

// Band is the set of integer price levels derived from the EMA.
// For alpha > beta > 0: Bid < BidCancel < Close < AskCancel < Ask, up to rounding.
type Band struct {
	Ask       float64
	Bid       float64
	AskCancel float64
	BidCancel float64
	Close     float64
}

// NewBand computes the quote band around ema. Rounding is half-to-even.
func NewBand(ema, alpha, beta float64) Band {
	return Band{
		Ask:       math.RoundToEven(ema * (1 + alpha)),
		Bid:       math.RoundToEven(ema * (1 - alpha)),
		AskCancel: math.RoundToEven(ema * (1 + beta)),
		BidCancel: math.RoundToEven(ema * (1 - beta)),
		Close:     math.RoundToEven(ema),
	}
}

// IsZero reports whether the band was never computed.
func (b Band) IsZero() bool {
	return b == Band{}
}
