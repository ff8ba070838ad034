package liquid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"wick_go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	orderTypeLimit     = "limit"
	marginTypeCross    = "cross"
	orderDirectionNet  = "netout"
	ordersPath         = "/orders/"
	cancelPathTemplate = "/orders/%s/cancel"
)

type orderRequest struct {
	Order orderParams `json:"order"`
}

type orderParams struct {
	OrderType       string `json:"order_type"`
	MarginType      string `json:"margin_type"`
	ProductID       int    `json:"product_id"`
	Side            string `json:"side"`
	Quantity        string `json:"quantity"`
	Price           string `json:"price"`
	LeverageLevel   int    `json:"leverage_level"`
	FundingCurrency string `json:"funding_currency"`
	OrderDirection  string `json:"order_direction"`
	ClientOrderID   string `json:"client_order_id"`
}

// Ticker fetches the product snapshot over REST.
func (c *Client) Ticker(ctx context.Context) (domain.Ticker, error) {
	body, err := c.do(ctx, "ticker", http.MethodGet, "/products/"+strconv.Itoa(c.cfg.ProductID), nil, false)
	if err != nil {
		return domain.Ticker{}, err
	}
	return ParseTicker(gjson.ParseBytes(body), time.Now()), nil
}

// LimitOrder places a limit order; a negative quantity sells.
// The client order id is fixed before the first attempt so retries stay idempotent.
func (c *Client) LimitOrder(ctx context.Context, quantity, price float64) (*domain.Order, error) {
	o := domain.Order{Quantity: quantity}
	req := orderRequest{Order: orderParams{
		OrderType:       orderTypeLimit,
		MarginType:      marginTypeCross,
		ProductID:       c.cfg.ProductID,
		Side:            o.ExchangeSide(),
		Quantity:        decimal.NewFromFloat(math.Abs(quantity)).String(),
		Price:           decimal.NewFromFloat(price).String(),
		LeverageLevel:   c.cfg.LeverageLevel,
		FundingCurrency: c.cfg.FundingCurrency,
		OrderDirection:  orderDirectionNet,
		ClientOrderID:   uuid.NewString(),
	}}

	body, err := c.do(ctx, "limit_order", http.MethodPost, ordersPath, req, true)
	if err != nil {
		return nil, fmt.Errorf("liquid limit order failed: %w", err)
	}

	placed := parseOrder(gjson.ParseBytes(body))
	if placed.ID == "" {
		return nil, fmt.Errorf("liquid limit order: no id in response %s", body)
	}
	c.logger.Debug("Order placed",
		slog.String("id", placed.ID),
		slog.String("client_order_id", req.Order.ClientOrderID),
		slog.Float64("quantity", placed.Quantity),
		slog.Float64("price", placed.Price))
	return placed, nil
}

// CancelOrder cancels an order. An order that is already filled or unknown to the
// exchange yields nil, nil.
func (c *Client) CancelOrder(ctx context.Context, id string) (*domain.Order, error) {
	body, err := c.do(ctx, "cancel_order", http.MethodPut, fmt.Sprintf(cancelPathTemplate, id), nil, true)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.logger.Debug("Cancel skipped, order gone", slog.String("id", id), slog.Any("error", err))
			return nil, nil
		}
		return nil, fmt.Errorf("liquid cancel order %s failed: %w", id, err)
	}

	o := parseOrder(gjson.ParseBytes(body))
	if o.Status == domain.OrderStatusFilled {
		return nil, nil
	}
	return o, nil
}

// GetOrders lists orders of the configured product with the given status
// ("live", "filled", "cancelled"); empty status lists all.
func (c *Client) GetOrders(ctx context.Context, status string) ([]domain.Order, error) {
	path := fmt.Sprintf("%s?product_id=%d", ordersPath, c.cfg.ProductID)
	if status != "" {
		path += "&status=" + status
	}

	body, err := c.do(ctx, "get_orders", http.MethodGet, path, nil, true)
	if err != nil {
		return nil, fmt.Errorf("liquid get orders failed: %w", err)
	}

	var orders []domain.Order
	gjson.GetBytes(body, "models").ForEach(func(_, m gjson.Result) bool {
		o := parseOrder(m)
		if status == "" || o.Status == status {
			orders = append(orders, *o)
		}
		return true
	})
	return orders, nil
}

// CancelAllOrders cancels every live order of the product. It keeps going past
// individual failures and reports them together.
func (c *Client) CancelAllOrders(ctx context.Context) error {
	orders, err := c.GetOrders(ctx, domain.OrderStatusLive)
	if err != nil {
		return err
	}

	var errs []error
	for _, o := range orders {
		if !o.IsOpen() {
			continue
		}
		if _, err := c.CancelOrder(ctx, o.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(orders) > 0 {
		c.logger.Info("Canceled live orders",
			slog.Int("count", len(orders)),
			slog.Int("failed", len(errs)))
	}
	return errors.Join(errs...)
}

func parseOrder(r gjson.Result) *domain.Order {
	qty := math.Abs(r.Get("quantity").Float())
	if r.Get("side").Str == domain.SideSell {
		qty = -qty
	}
	return &domain.Order{
		ID:        r.Get("id").String(),
		Price:     r.Get("price").Float(),
		Quantity:  qty,
		Status:    r.Get("status").Str,
		CreatedAt: unixTime(r.Get("created_at").Float()),
	}
}
