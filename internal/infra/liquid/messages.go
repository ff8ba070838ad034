package liquid

import (
	"time"

	"wick_go/internal/domain"

	"github.com/tidwall/gjson"
)

// ParseTicker reads a product payload. REST and the product channel share the format.
// Numeric fields may arrive as strings.
func ParseTicker(r gjson.Result, now time.Time) domain.Ticker {
	ts := unixTime(r.Get("timestamp").Float())
	return domain.Ticker{
		Timestamp:       ts,
		LastTradedPrice: r.Get("last_traded_price").Float(),
		Ask:             r.Get("market_ask").Float(),
		Bid:             r.Get("market_bid").Float(),
		High:            r.Get("high_market_ask").Float(),
		Low:             r.Get("low_market_bid").Float(),
		Volume:          r.Get("volume_24h").Float(),
		Latency:         now.Sub(ts),
	}
}

// ParseExecution reads one public execution from the executions channel.
func ParseExecution(r gjson.Result) domain.Trade {
	return domain.Trade{
		ID:        r.Get("id").Int(),
		Price:     r.Get("price").Float(),
		Quantity:  r.Get("quantity").Float(),
		TakerSide: r.Get("taker_side").Str,
		Timestamp: unixTime(r.Get("timestamp").Float()),
	}
}
