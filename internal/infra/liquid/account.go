package liquid

import (
	"context"
	"fmt"
	"net/http"

	"wick_go/internal/accounting"
	"wick_go/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	tradeStatusOpen   = "open"
	tradeStatusClosed = "closed"
	tradeSideLong     = "long"
	tradeSideShort    = "short"
)

// PositionAndPnL sums the open margin trades of the product into a signed position
// and unrealized PnL, and returns the realized PnL closed since the previous call.
func (c *Client) PositionAndPnL(ctx context.Context) (domain.PositionPnL, error) {
	body, err := c.do(ctx, "get_trades", http.MethodGet, "/trades/", nil, true)
	if err != nil {
		return domain.PositionPnL{}, fmt.Errorf("liquid get trades failed: %w", err)
	}

	position, openPnL := decimal.Zero, decimal.Zero
	var closed []accounting.ClosedTrade

	gjson.GetBytes(body, "models").ForEach(func(_, t gjson.Result) bool {
		if t.Get("product_id").Int() != int64(c.cfg.ProductID) {
			return true
		}
		switch t.Get("status").Str {
		case tradeStatusOpen:
			openPnL = openPnL.Add(decimalOf(t.Get("open_pnl")))
			qty := decimalOf(t.Get("open_quantity"))
			switch t.Get("side").Str {
			case tradeSideLong:
				position = position.Add(qty)
			case tradeSideShort:
				position = position.Sub(qty)
			}
		case tradeStatusClosed:
			closed = append(closed, accounting.ClosedTrade{
				PnL:      decimalOf(t.Get("pnl")),
				ClosedAt: unixTime(t.Get("updated_at").Float()),
			})
		}
		return true
	})

	return domain.PositionPnL{
		Position:  position.InexactFloat64(),
		OpenPnL:   openPnL.InexactFloat64(),
		ClosedPnL: c.watermark.Collect(closed).InexactFloat64(),
	}, nil
}

// decimalOf reads a numeric field that Liquid may send as a string or a number.
func decimalOf(r gjson.Result) decimal.Decimal {
	d, err := decimal.NewFromString(r.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
