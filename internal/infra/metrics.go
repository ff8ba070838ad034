package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "wick"

// Metrics holds the bot's Prometheus collectors on a private registry.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	OrdersPlaced   *prometheus.CounterVec // side
	OrdersCanceled *prometheus.CounterVec // reason
	OrderErrors    *prometheus.CounterVec // op
	FeedMessages   *prometheus.CounterVec // kind
	Reconnects     prometheus.Counter
	TickErrors     prometheus.Counter
	TickResults    *prometheus.CounterVec // result
	GatewayRetries *prometheus.CounterVec // op

	Position    prometheus.Gauge
	TotalPnL    prometheus.Gauge
	EMA         prometheus.Gauge
	FeedLatency prometheus.Gauge
	Suppressed  prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "orders_placed_total", Help: "Limit orders accepted by the exchange",
		}, []string{"side"}),
		OrdersCanceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "orders_canceled_total", Help: "Orders canceled by the bot",
		}, []string{"reason"}),
		OrderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "order_errors_total", Help: "Failed order operations",
		}, []string{"op"}),
		FeedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "feed_messages_total", Help: "Market data messages applied",
		}, []string{"kind"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "feed_reconnects_total", Help: "Feed reconnections",
		}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "tick_errors_total", Help: "Strategy ticks that failed or panicked",
		}),
		TickResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "tick_results_total", Help: "Strategy tick outcomes",
		}, []string{"result"}),
		GatewayRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "gateway_retries_total", Help: "Retried exchange requests",
		}, []string{"op"}),
		Position: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "position", Help: "Signed position in base currency",
		}),
		TotalPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "pnl_total", Help: "Cumulative realized PnL",
		}),
		EMA: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "ema", Help: "Reference price",
		}),
		FeedLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "feed_latency_seconds", Help: "Seconds since the last feed message",
		}),
		Suppressed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "entries_suppressed", Help: "1 while new entries are blocked by latency",
		}),
	}

	m.registry.MustRegister(
		m.OrdersPlaced, m.OrdersCanceled, m.OrderErrors, m.FeedMessages,
		m.Reconnects, m.TickErrors, m.TickResults, m.GatewayRetries,
		m.Position, m.TotalPnL, m.EMA, m.FeedLatency, m.Suppressed,
	)
	return m
}

// Registry exposes the underlying registry (tests and custom exporters).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordOrderPlaced(side string) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(side).Inc()
}

func (m *Metrics) RecordOrderCanceled(reason string) {
	if m == nil {
		return
	}
	m.OrdersCanceled.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordOrderError(op string) {
	if m == nil {
		return
	}
	m.OrderErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordFeedMessage(kind string) {
	if m == nil {
		return
	}
	m.FeedMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) RecordTickError() {
	if m == nil {
		return
	}
	m.TickErrors.Inc()
}

func (m *Metrics) RecordTickResult(result string) {
	if m == nil {
		return
	}
	m.TickResults.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRetry(op string) {
	if m == nil {
		return
	}
	m.GatewayRetries.WithLabelValues(op).Inc()
}

// ObserveTick publishes the per-tick gauges.
func (m *Metrics) ObserveTick(ema, latencySec float64, suppressed bool) {
	if m == nil {
		return
	}
	m.EMA.Set(ema)
	m.FeedLatency.Set(latencySec)
	if suppressed {
		m.Suppressed.Set(1)
	} else {
		m.Suppressed.Set(0)
	}
}

// ObservePosition publishes position and cumulative PnL.
func (m *Metrics) ObservePosition(position, pnl float64) {
	if m == nil {
		return
	}
	m.Position.Set(position)
	m.TotalPnL.Set(pnl)
}
