package strategy

import (
	"fmt"
	"testing"
)

func TestEMA_Update(t *testing.T) {
	tests := []struct {
		name string
		ema  float64
		span int
		ltp  float64
		want float64
	}{
		{"flat price", 1000000, 5, 1000000, 1000000},
		{"price up", 100, 5, 110, (100*4 + 2*110) / 6.0},
		{"price down", 100, 5, 94, (100*4 + 2*94) / 6.0},
		{"span 1 doubles weight", 100, 1, 110, 110},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EMA{Value: tt.ema, Span: tt.span}.Update(tt.ltp)
			if got.Value != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got.Value)
			}
			if got.Span != tt.span {
				t.Errorf("Span changed to %d", got.Span)
			}
		})
	}
}

func TestSeedEMA(t *testing.T) {
	got := SeedEMA([]float64{100, 102, 104, 106, 108}, 5)
	if got.Value != 104 || got.Span != 5 {
		t.Errorf("Expected mean 104 span 5, got %+v", got)
	}
	if empty := SeedEMA(nil, 5); empty.Value != 0 {
		t.Errorf("Expected zero seed without samples, got %v", empty.Value)
	}
}

func TestNewBand_ReferencePrices(t *testing.T) {
	b := NewBand(1000000, 0.0025, 0.0001)

	want := Band{Ask: 1002500, Bid: 997500, AskCancel: 1000100, BidCancel: 999900, Close: 1000000}
	if b != want {
		t.Errorf("Expected %+v, got %+v", want, b)
	}
}

func TestNewBand_Ordering(t *testing.T) {
	for _, ema := range []float64{1000000, 4321987.6, 8123456, 999999.5, 250000} {
		t.Run(fmt.Sprintf("ema %.1f", ema), func(t *testing.T) {
			b := NewBand(ema, 0.0025, 0.0001)
			if !(b.Bid <= ema && ema <= b.Ask) {
				t.Errorf("EMA %v outside band [%v, %v]", ema, b.Bid, b.Ask)
			}
			if !(b.Bid < b.BidCancel && b.AskCancel < b.Ask) {
				t.Errorf("Cancel triggers not inside the band: %+v", b)
			}
			if !(b.BidCancel <= b.Close && b.Close <= b.AskCancel) {
				t.Errorf("Close outside the trigger range: %+v", b)
			}
		})
	}
}

func TestNewBand_RoundsHalfToEven(t *testing.T) {
	b := NewBand(1000000.5, 0, 0)
	if b.Close != 1000000 {
		t.Errorf("Expected 1000000.5 to round to 1000000, got %v", b.Close)
	}
	b = NewBand(1000001.5, 0, 0)
	if b.Close != 1000002 {
		t.Errorf("Expected 1000001.5 to round to 1000002, got %v", b.Close)
	}
}
