// Package liquid implements the exchange gateway and the market data transport for Liquid.
package liquid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"wick_go/internal/accounting"
	"wick_go/internal/domain"
	"wick_go/internal/infra"

	"github.com/valyala/fasthttp"
)

// Client is the Liquid REST API client (Boundary Layer).
// It implements domain.Gateway.
type Client struct {
	cfg        infra.LiquidConfig
	httpClient *fasthttp.Client
	keys       *KeyRing
	watermark  *accounting.Watermark
	logger     *slog.Logger
	metrics    *infra.Metrics
}

var _ domain.Gateway = (*Client)(nil)

// NewClient creates a new Liquid API client. The closed-PnL watermark starts now.
func NewClient(cfg infra.LiquidConfig, logger *slog.Logger, metrics *infra.Metrics) (*Client, error) {
	keys, err := NewKeyRing(cfg.APIKeys)
	if err != nil {
		return nil, err
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		cfg: cfg,
		httpClient: &fasthttp.Client{
			Name:                "wick",
			MaxConnsPerHost:     32,
			MaxIdleConnDuration: 30 * time.Second,
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
		},
		keys:      keys,
		watermark: accounting.NewWatermark(time.Now()),
		logger:    logger.With("module", "liquid_client"),
		metrics:   metrics,
	}, nil
}

// do runs one request under the retry budget. Only retriable errors are retried,
// with a fixed backoff; exhaustion is reported as domain.ErrRetryExhausted.
func (c *Client) do(ctx context.Context, op, method, path string, body any, auth bool) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("%s: marshal: %w", op, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.Retries; attempt++ {
		if attempt > 0 {
			c.metrics.RecordRetry(op)
			c.logger.Warn("Retrying request",
				slog.String("op", op),
				slog.Int("attempt", attempt+1),
				slog.Any("error", lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.RetryBackoff):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.send(ctx, op, method, path, payload, auth)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !domain.IsRetriable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: %w: %w", op, domain.ErrRetryExhausted, lastErr)
}

// send handles auth headers and serialization for a single attempt.
func (c *Client) send(ctx context.Context, op, method, path string, payload []byte, auth bool) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.cfg.RestURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("X-Quoine-API-Version", "2")
	req.Header.SetContentType("application/json")
	if auth {
		token, err := c.keys.Sign(path)
		if err != nil {
			return nil, domain.NewFatalNetworkError(op, err)
		}
		req.Header.Set("X-Quoine-Auth", token)
	}
	if payload != nil {
		req.SetBody(payload)
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.httpClient.DoDeadline(req, resp, deadline); err != nil {
		return nil, domain.NewNetworkError(op, err)
	}

	// resp is recycled on return
	body := append([]byte(nil), resp.Body()...)
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return nil, &domain.APIError{Op: op, Status: status, Body: string(body)}
	}
	return body, nil
}

// unixTime converts Liquid's fractional unix seconds.
func unixTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}
