// Package strategy implements the EMA band market-making loop.
package strategy

import "time"

// Params are the quoting parameters. See DefaultParams for the production values.
type Params struct {
	Interval         int     // ticks between decisions
	Alpha            float64 // quote distance from the EMA
	Beta             float64 // cancel trigger distance from the EMA
	Lot              float64
	ZeroPosition     float64 // |position| below this counts as flat
	EMASpan          int
	TickInterval     time.Duration
	ForceCancelTicks int
	SweepInterval    time.Duration
	LatencyHigh      time.Duration // feed silence that suppresses new entries
	LatencyLow       time.Duration // feed silence below which entries resume
	Workers          int
	MaxLoss          float64 // 0 disables the loss limit
}

// DefaultParams returns the production parameters.
func DefaultParams() Params {
	return Params{
		Interval:         5,
		Alpha:            0.0025,
		Beta:             0.0001,
		Lot:              0.001,
		ZeroPosition:     1e-4,
		EMASpan:          5,
		TickInterval:     time.Second,
		ForceCancelTicks: 3,
		SweepInterval:    5 * time.Minute,
		LatencyHigh:      3 * time.Second,
		LatencyLow:       time.Second,
		Workers:          10,
	}
}
