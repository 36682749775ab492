// Package metrics holds the prometheus collectors of the service. All
// methods are safe on a nil *Metrics so core packages can run without it.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hivemarket"

type Metrics struct {
	registry *prometheus.Registry

	busDeliveries  *prometheus.CounterVec
	busSubscribers *prometheus.GaugeVec
	orderOps       *prometheus.CounterVec
	stockOps       *prometheus.CounterVec
	paymentLatency *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		busDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "deliveries_total",
			Help:      "Handler invocations by bus and result.",
		}, []string{"bus", "result"}),
		busSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "subscribers",
			Help:      "Currently registered handlers per bus.",
		}, []string{"bus"}),
		orderOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "operations_total",
			Help:      "Order lifecycle operations by operation and result code.",
		}, []string{"op", "result"}),
		stockOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "operations_total",
			Help:      "Inventory ledger operations by operation and result code.",
		}, []string{"op", "result"}),
		paymentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "charge_duration_ms",
			Help:      "Payment gateway charge latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"approved"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.busDeliveries,
		m.busSubscribers,
		m.orderOps,
		m.stockOps,
		m.paymentLatency,
		m.httpRequests,
		m.httpLatency,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Delivery(bus string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.busDeliveries.WithLabelValues(bus, result).Inc()
}

func (m *Metrics) Subscribers(bus string, n int) {
	if m == nil {
		return
	}
	m.busSubscribers.WithLabelValues(bus).Set(float64(n))
}

func (m *Metrics) OrderOp(op, result string) {
	if m == nil {
		return
	}
	m.orderOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) StockOp(op, result string) {
	if m == nil {
		return
	}
	m.stockOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Charge(approved bool, d time.Duration) {
	if m == nil {
		return
	}
	m.paymentLatency.WithLabelValues(strconv.FormatBool(approved)).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) HTTPRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(float64(d.Milliseconds()))
}
