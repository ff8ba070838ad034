package domain

import "time"

const (
	TakerBuy  = "buy"
	TakerSell = "sell"
)

// Trade is a single execution printed on the public trade stream.
type Trade struct {
	ID        int64     `json:"id"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	TakerSide string    `json:"taker_side"` // "buy" or "sell"
	Timestamp time.Time `json:"timestamp"`
}

// Candle is a one-minute OHLCV bucket built from trades.
type Candle struct {
	Timestamp  time.Time `json:"timestamp"` // time of the latest trade folded into the bucket
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	BuyVolume  float64   `json:"buy_volume"`
	SellVolume float64   `json:"sell_volume"`
}

// NewCandle starts a bucket from a single trade.
func NewCandle(tr Trade) Candle {
	c := Candle{
		Timestamp: tr.Timestamp,
		Open:      tr.Price,
		High:      tr.Price,
		Low:       tr.Price,
		Close:     tr.Price,
		Volume:    tr.Quantity,
	}
	switch tr.TakerSide {
	case TakerBuy:
		c.BuyVolume = tr.Quantity
	case TakerSell:
		c.SellVolume = tr.Quantity
	}
	return c
}

// Merge returns the bucket extended by one more trade.
func (c Candle) Merge(tr Trade) Candle {
	c.Timestamp = tr.Timestamp
	c.High = max(c.High, tr.Price)
	c.Low = min(c.Low, tr.Price)
	c.Close = tr.Price
	c.Volume += tr.Quantity
	switch tr.TakerSide {
	case TakerBuy:
		c.BuyVolume += tr.Quantity
	case TakerSell:
		c.SellVolume += tr.Quantity
	}
	return c
}
