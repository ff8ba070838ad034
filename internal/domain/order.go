package domain

import "time"

// QuoteSide tags an order with the side of the quote band it belongs to.
// Reduce orders carry QuoteNone and are never trigger-canceled.
type QuoteSide string

const (
	QuoteNone QuoteSide = ""
	QuoteAsk  QuoteSide = "ask"
	QuoteBid  QuoteSide = "bid"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderStatusLive      = "live"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
)

// Order is a limit order as the strategy sees it.
// Quantity is signed: negative sells, positive buys.
// ID stays empty until the exchange accepts the order.
type Order struct {
	ID            string
	Price         float64
	CancelTrigger float64 // only meaningful when Side != QuoteNone
	Quantity      float64
	Side          QuoteSide
	Status        string
	CreatedAt     time.Time
}

// ExchangeSide returns "buy" or "sell" from the signed quantity.
func (o *Order) ExchangeSide() string {
	if o.Quantity < 0 {
		return SideSell
	}
	return SideBuy
}

// IsOpen checks if the order is still resting on the book.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusLive
}

// PositionPnL is one poll of the account: signed position, unrealized PnL,
// and realized PnL closed since the previous poll.
type PositionPnL struct {
	Position  float64
	OpenPnL   float64
	ClosedPnL float64
}
