package domain

import "context"

// Gateway is the authenticated exchange surface the strategy consumes.
// Implementations own retries and credential rotation.
type Gateway interface {
	Ticker(ctx context.Context) (Ticker, error)
	// LimitOrder places a limit order; the returned order carries the exchange id.
	LimitOrder(ctx context.Context, quantity, price float64) (*Order, error)
	// CancelOrder returns nil, nil when the order is already filled or gone.
	CancelOrder(ctx context.Context, id string) (*Order, error)
	CancelAllOrders(ctx context.Context) error
	// PositionAndPnL reports the closed PnL accrued since the previous call.
	PositionAndPnL(ctx context.Context) (PositionPnL, error)
}

// Topic addresses one event stream on the market-data transport.
type Topic struct {
	Channel string
	Event   string
}

// Transport is a subscription-based market-data connection.
// Handlers receive the raw event payload and run on the transport's read goroutine.
type Transport interface {
	Subscribe(topic Topic, handler func(payload []byte))
	Connect(ctx context.Context) error
	Disconnect()
}
