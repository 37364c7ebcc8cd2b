// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mtf_orders_total", Help: "Orders by terminal status"},
		[]string{"instrument", "kind", "status"},
	)
	OrderRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mtf_order_retries_total", Help: "Gateway retries after transient failures"},
		[]string{"instrument"},
	)
	RiskDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mtf_risk_decisions_total", Help: "Risk decisions by outcome and code"},
		[]string{"outcome", "code"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "mtf_open_positions", Help: "Positions tracked as open"},
	)
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "mtf_order_queue_depth", Help: "Orders waiting in the execution queue"},
	)
	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mtf_confluence_decisions_total", Help: "Confluence decisions by action"},
		[]string{"instrument", "action"},
	)
)

func init() {
	prometheus.MustRegister(OrdersTotal, OrderRetries, RiskDecisions, OpenPositions, QueueDepth, Signals)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
